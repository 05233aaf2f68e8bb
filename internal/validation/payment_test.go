package validation

import (
	"testing"

	"github.com/mpanganiban/weddingbook-system/internal/model"
)

func TestIsValidPaymentType(t *testing.T) {
	tests := []struct {
		name  string
		pt    model.PaymentType
		valid bool
	}{
		{
			name:  "deposit",
			pt:    model.PaymentTypeDeposit,
			valid: true,
		},
		{
			name:  "balance",
			pt:    model.PaymentTypeBalance,
			valid: true,
		},
		{
			name:  "full",
			pt:    model.PaymentTypeFull,
			valid: true,
		},
		{
			name:  "partial",
			pt:    model.PaymentTypePartial,
			valid: true,
		},
		{
			name:  "unknown",
			pt:    model.PaymentType("refund"),
			valid: false,
		},
		{
			name:  "empty",
			pt:    model.PaymentType(""),
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidPaymentType(tt.pt)
			if got != tt.valid {
				t.Fatalf("IsValidPaymentType(%q) = %v, want %v", tt.pt, got, tt.valid)
			}
		})
	}
}

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "php",
			code:  "PHP",
			valid: true,
		},
		{
			name:  "usd",
			code:  "USD",
			valid: true,
		},
		{
			name:  "lowercase",
			code:  "php",
			valid: false,
		},
		{
			name:  "too short",
			code:  "PH",
			valid: false,
		},
		{
			name:  "too long",
			code:  "PHPX",
			valid: false,
		},
		{
			name:  "digits",
			code:  "PH1",
			valid: false,
		},
		{
			name:  "empty",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCurrency(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidCurrency(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestIsValidAmount(t *testing.T) {
	if !IsValidAmount(1) {
		t.Fatalf("IsValidAmount(1) = false, want true")
	}
	if IsValidAmount(0) {
		t.Fatalf("IsValidAmount(0) = true, want false")
	}
	if IsValidAmount(-30000) {
		t.Fatalf("IsValidAmount(-30000) = true, want false")
	}
}
