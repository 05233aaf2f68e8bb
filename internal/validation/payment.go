// Package validation содержит функции валидации входных данных.
package validation

import (
	"unicode"

	"github.com/mpanganiban/weddingbook-system/internal/model"
)

// IsValidPaymentType проверяет, что тип платежа входит в число поддерживаемых.
func IsValidPaymentType(pt model.PaymentType) bool {
	switch pt {
	case model.PaymentTypeDeposit, model.PaymentTypeBalance, model.PaymentTypeFull, model.PaymentTypePartial:
		return true
	}
	return false
}

// IsValidCurrency проверяет код валюты: ровно три заглавные латинские буквы (ISO 4217).
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}

	for _, ch := range code {
		if !unicode.IsUpper(ch) || ch > 'Z' {
			return false
		}
	}

	return true
}

// IsValidAmount проверяет, что сумма платежа — положительное число сентаво.
func IsValidAmount(amount int64) bool {
	return amount > 0
}
