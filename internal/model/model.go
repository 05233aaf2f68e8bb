// Package model содержит доменные сущности сервиса weddingbook.
package model

import "time"

// PaymentType описывает тип платежа по бронированию.
type PaymentType string

const (
	PaymentTypeDeposit PaymentType = "deposit"
	PaymentTypeBalance PaymentType = "balance"
	PaymentTypeFull    PaymentType = "full"
	PaymentTypePartial PaymentType = "partial"
)

// PaymentStatus описывает платёжный статус бронирования, вычисляемый по квитанциям.
type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "unpaid"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaidInFull    PaymentStatus = "paid_in_full"
)

// UserRole описывает роль пользователя маркетплейса.
type UserRole string

const (
	UserRoleIndividual UserRole = "individual"
	UserRoleVendor     UserRole = "vendor"
)

// Receipt представляет неизменяемую квитанцию об одном платеже по бронированию.
// Суммы хранятся в минимальных денежных единицах (сентаво).
type Receipt struct {
	ReceiptNumber    string
	BookingID        string
	PayerID          string
	VendorID         string
	PaymentType      PaymentType
	PaymentMethod    string
	AmountPaid       int64
	TotalAmount      int64
	RemainingBalance int64
	Currency         string
	PaymentReference string
	Notes            string
	CreatedBy        string
	IdempotencyKey   string
	CreatedAt        time.Time
}

// BookingBalance содержит сводку платежей по бронированию.
// Значения вычисляются по квитанциям при каждом запросе и нигде не хранятся.
type BookingBalance struct {
	BookingID        string `json:"booking_id"`
	TotalAmount      int64  `json:"total_amount"`
	TotalPaid        int64  `json:"total_paid"`
	RemainingBalance int64  `json:"remaining_balance"`
}

// Status возвращает платёжный статус бронирования по текущей сводке.
func (b BookingBalance) Status() PaymentStatus {
	switch {
	case b.TotalPaid <= 0:
		return PaymentStatusUnpaid
	case b.TotalAmount > 0 && b.TotalPaid >= b.TotalAmount:
		return PaymentStatusPaidInFull
	default:
		return PaymentStatusPartiallyPaid
	}
}

// User представляет участника маркетплейса с выданным человекочитаемым идентификатором.
type User struct {
	ID          string
	Role        UserRole
	DisplayName string
	CreatedAt   time.Time
}

// Service представляет услугу поставщика с выданным идентификатором вида SRV-NNNN.
type Service struct {
	ID        string
	VendorID  string
	Name      string
	CreatedAt time.Time
}
