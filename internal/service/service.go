// Package service реализует бизнес-логику сервиса weddingbook.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mpanganiban/weddingbook-system/internal/gateway"
	"github.com/mpanganiban/weddingbook-system/internal/model"
	"github.com/mpanganiban/weddingbook-system/internal/repository"
	"github.com/mpanganiban/weddingbook-system/internal/sequence"
	"github.com/mpanganiban/weddingbook-system/internal/validation"
)

// ErrValidation возвращается при некорректных входных данных; запрос отклоняется до записи.
var (
	ErrValidation = errors.New("validation error")
	// ErrNoPaymentReference возвращается при запросе сверки для квитанции без внешнего референса.
	ErrNoPaymentReference = errors.New("receipt has no payment reference")
	// ErrGatewayUnavailable возвращается, если платёжный шлюз не настроен или недоступен.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// receiptInsertAttempts — число перевыдач номера при конфликте уникальности.
const receiptInsertAttempts = 3

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	NextValue(ctx context.Context, class, prefix, timeBucket string) (int64, error)
	CreateReceipt(ctx context.Context, rec *model.Receipt) (*model.Receipt, error)
	GetReceiptsByBooking(ctx context.Context, bookingID string) ([]model.Receipt, error)
	GetTotalPaid(ctx context.Context, bookingID string) (int64, error)
	GetBookingTotals(ctx context.Context, bookingID string) (int64, int64, error)
	GetReceiptByNumber(ctx context.Context, number string) (*model.Receipt, error)
	GetReceiptByIdempotencyKey(ctx context.Context, key string) (*model.Receipt, error)
	ListBookingTotals(ctx context.Context, limit int) ([]repository.BookingTotals, error)
	CreateUser(ctx context.Context, u *model.User) error
	CreateService(ctx context.Context, s *model.Service) error
}

// Service содержит бизнес-логику платёжного реестра и выдачи идентификаторов.
type Service struct {
	repo          Repository
	allocator     *sequence.Allocator
	gatewayClient *gateway.Client
	logger        *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом платёжного шлюза.
func NewService(repo Repository, gatewayClient *gateway.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		allocator:     sequence.NewAllocator(repo),
		gatewayClient: gatewayClient,
		logger:        logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// PaymentRequest описывает запрос на запись платежа по бронированию.
// Суммы указываются в минимальных денежных единицах.
type PaymentRequest struct {
	BookingID        string
	PayerID          string
	VendorID         string
	PaymentType      model.PaymentType
	PaymentMethod    string
	AmountPaid       int64
	TotalAmount      int64
	Currency         string
	PaymentReference string
	Notes            string
	CreatedBy        string
	IdempotencyKey   string
}

func (s *Service) validatePayment(req *PaymentRequest) error {
	if req.BookingID == "" {
		return fmt.Errorf("%w: booking id is required", ErrValidation)
	}
	if req.PayerID == "" {
		return fmt.Errorf("%w: payer id is required", ErrValidation)
	}
	if req.VendorID == "" {
		return fmt.Errorf("%w: vendor id is required", ErrValidation)
	}
	if !validation.IsValidPaymentType(req.PaymentType) {
		return fmt.Errorf("%w: unknown payment type %q", ErrValidation, req.PaymentType)
	}
	if !validation.IsValidAmount(req.AmountPaid) {
		return fmt.Errorf("%w: amount paid must be positive", ErrValidation)
	}
	if req.TotalAmount < 0 {
		return fmt.Errorf("%w: total amount must not be negative", ErrValidation)
	}

	if req.Currency == "" {
		req.Currency = "PHP"
	}
	if !validation.IsValidCurrency(req.Currency) {
		return fmt.Errorf("%w: invalid currency code %q", ErrValidation, req.Currency)
	}

	return nil
}

// RecordPayment записывает платёж по бронированию и возвращает созданную квитанцию.
// Второе значение равно true, если квитанция с тем же ключом идемпотентности
// уже существовала и была возвращена вместо создания новой.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*model.Receipt, bool, error) {
	if err := s.validatePayment(&req); err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetReceiptByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, repository.ErrReceiptNotFound) {
			return nil, false, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < receiptInsertAttempts; attempt++ {
		number, err := s.allocator.Allocate(ctx, sequence.EntityReceipt, sequence.ReceiptPrefix, sequence.DayBucket(time.Now()))
		if err != nil {
			return nil, false, err
		}

		rec := &model.Receipt{
			ReceiptNumber:    number,
			BookingID:        req.BookingID,
			PayerID:          req.PayerID,
			VendorID:         req.VendorID,
			PaymentType:      req.PaymentType,
			PaymentMethod:    req.PaymentMethod,
			AmountPaid:       req.AmountPaid,
			TotalAmount:      req.TotalAmount,
			Currency:         req.Currency,
			PaymentReference: req.PaymentReference,
			Notes:            req.Notes,
			CreatedBy:        req.CreatedBy,
			IdempotencyKey:   req.IdempotencyKey,
		}

		created, err := s.repo.CreateReceipt(ctx, rec)
		if err == nil {
			return created, false, nil
		}

		// Гонка двух запросов с одним ключом: первая вставка победила, возвращаем её результат.
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			existing, getErr := s.repo.GetReceiptByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, true, nil
		}

		// Занятый номер — перевыдаём следующий, вызывающему конфликт не виден.
		if errors.Is(err, repository.ErrReceiptNumberTaken) {
			s.logger.Warn("receipt number conflict, reallocating",
				zap.String("receiptNumber", number),
				zap.String("bookingID", req.BookingID))
			lastErr = err
			continue
		}

		s.logger.Error("receipt write failed after allocation",
			zap.Error(err),
			zap.String("receiptNumber", number),
			zap.String("bookingID", req.BookingID))
		return nil, false, err
	}

	return nil, false, fmt.Errorf("record payment: %w", lastErr)
}

// RecordDepositPayment записывает платёж-задаток по бронированию.
func (s *Service) RecordDepositPayment(ctx context.Context, req PaymentRequest) (*model.Receipt, bool, error) {
	req.PaymentType = model.PaymentTypeDeposit
	if req.Notes == "" {
		req.Notes = "Deposit payment"
	}
	return s.RecordPayment(ctx, req)
}

// RecordBalancePayment записывает доплату остатка по бронированию.
func (s *Service) RecordBalancePayment(ctx context.Context, req PaymentRequest) (*model.Receipt, bool, error) {
	req.PaymentType = model.PaymentTypeBalance
	if req.Notes == "" {
		req.Notes = "Balance payment"
	}
	return s.RecordPayment(ctx, req)
}

// RecordFullPaymentReceipt записывает платёж на полную сумму бронирования.
func (s *Service) RecordFullPaymentReceipt(ctx context.Context, req PaymentRequest) (*model.Receipt, bool, error) {
	req.PaymentType = model.PaymentTypeFull
	if req.Notes == "" {
		req.Notes = "Full payment"
	}
	return s.RecordPayment(ctx, req)
}

// GetReceipts возвращает квитанции по бронированию, новые первыми.
// При недоступности хранилища возвращает пустой список: путь чтения
// обслуживает витрину и не должен ронять вызывающего.
func (s *Service) GetReceipts(ctx context.Context, bookingID string) []model.Receipt {
	receipts, err := s.repo.GetReceiptsByBooking(ctx, bookingID)
	if err != nil {
		s.logger.Error("get receipts degraded to empty", zap.Error(err), zap.String("bookingID", bookingID))
		return []model.Receipt{}
	}
	if receipts == nil {
		return []model.Receipt{}
	}
	return receipts
}

// GetTotalPaid возвращает сумму всех платежей по бронированию.
// При недоступности хранилища возвращает ноль.
func (s *Service) GetTotalPaid(ctx context.Context, bookingID string) int64 {
	total, err := s.repo.GetTotalPaid(ctx, bookingID)
	if err != nil {
		s.logger.Error("get total paid degraded to zero", zap.Error(err), zap.String("bookingID", bookingID))
		return 0
	}
	return total
}

// GetBalance возвращает сводку платежей по бронированию, пересчитанную по квитанциям.
// При недоступности хранилища возвращает нулевую сводку.
func (s *Service) GetBalance(ctx context.Context, bookingID string) model.BookingBalance {
	totalAmount, totalPaid, err := s.repo.GetBookingTotals(ctx, bookingID)
	if err != nil {
		s.logger.Error("get balance degraded to zero", zap.Error(err), zap.String("bookingID", bookingID))
		return model.BookingBalance{BookingID: bookingID}
	}

	remaining := totalAmount - totalPaid
	if remaining < 0 {
		remaining = 0
	}

	return model.BookingBalance{
		BookingID:        bookingID,
		TotalAmount:      totalAmount,
		TotalPaid:        totalPaid,
		RemainingBalance: remaining,
	}
}

// GetReceipt возвращает квитанцию по её номеру.
func (s *Service) GetReceipt(ctx context.Context, number string) (*model.Receipt, error) {
	return s.repo.GetReceiptByNumber(ctx, number)
}

// RegisterUser выдаёт пользователю идентификатор вида {1|2}-YYYY-NNN и сохраняет его.
func (s *Service) RegisterUser(ctx context.Context, role model.UserRole, displayName string) (*model.User, error) {
	var prefix string
	switch role {
	case model.UserRoleIndividual:
		prefix = "1"
	case model.UserRoleVendor:
		prefix = "2"
	default:
		return nil, fmt.Errorf("%w: unknown user role %q", ErrValidation, role)
	}

	id, err := s.allocator.Allocate(ctx, sequence.EntityUser, prefix, sequence.YearBucket(time.Now()))
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:          id,
		Role:        role,
		DisplayName: displayName,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// RegisterService выдаёт услуге идентификатор вида SRV-NNNN и сохраняет её.
func (s *Service) RegisterService(ctx context.Context, vendorID, name string) (*model.Service, error) {
	if vendorID == "" {
		return nil, fmt.Errorf("%w: vendor id is required", ErrValidation)
	}

	id, err := s.allocator.Allocate(ctx, sequence.EntityService, "SRV", "")
	if err != nil {
		return nil, err
	}

	svc := &model.Service{
		ID:       id,
		VendorID: vendorID,
		Name:     name,
	}
	if err := s.repo.CreateService(ctx, svc); err != nil {
		return nil, err
	}

	return svc, nil
}

// VerificationResult описывает итог сверки квитанции с платёжным шлюзом.
type VerificationResult struct {
	ReceiptNumber    string `json:"receipt_number"`
	PaymentReference string `json:"payment_reference"`
	GatewayStatus    string `json:"gateway_status"`
	AmountMatches    *bool  `json:"amount_matches,omitempty"`
}

// VerifyPaymentReference сверяет квитанцию с данными платёжного шлюза по внешнему референсу.
// Расхождение сумм фиксируется в логе как информационный сигнал и не блокирует квитанцию.
func (s *Service) VerifyPaymentReference(ctx context.Context, receiptNumber string) (*VerificationResult, error) {
	rec, err := s.repo.GetReceiptByNumber(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}

	if rec.PaymentReference == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPaymentReference, receiptNumber)
	}

	if s.gatewayClient == nil {
		return nil, ErrGatewayUnavailable
	}

	status, statusCode, _, err := s.gatewayClient.GetPaymentStatus(ctx, rec.PaymentReference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if status == nil {
		return &VerificationResult{
			ReceiptNumber:    rec.ReceiptNumber,
			PaymentReference: rec.PaymentReference,
			GatewayStatus:    fmt.Sprintf("unknown (%d)", statusCode),
		}, nil
	}

	res := &VerificationResult{
		ReceiptNumber:    rec.ReceiptNumber,
		PaymentReference: rec.PaymentReference,
		GatewayStatus:    status.Status,
	}

	if status.Amount != nil {
		matches := *status.Amount == rec.AmountPaid
		res.AmountMatches = &matches
		if !matches {
			s.logger.Warn("integrity mismatch between receipt and gateway",
				zap.String("receiptNumber", rec.ReceiptNumber),
				zap.String("reference", rec.PaymentReference),
				zap.Int64("receiptAmount", rec.AmountPaid),
				zap.Int64("gatewayAmount", *status.Amount))
		}
	}

	return res, nil
}

// StartIntegritySweep запускает фоновую сверку агрегатов по бронированиям.
// Переплаты фиксируются в логе; запись платежей сверка никогда не блокирует.
func (s *Service) StartIntegritySweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepBookingTotals(ctx)
			}
		}
	}()
}

func (s *Service) sweepBookingTotals(ctx context.Context) {
	totals, err := s.repo.ListBookingTotals(ctx, 100)
	if err != nil {
		return
	}

	for _, bt := range totals {
		if bt.TotalAmount > 0 && bt.TotalPaid > bt.TotalAmount {
			s.logger.Warn("integrity mismatch: booking overpaid",
				zap.String("bookingID", bt.BookingID),
				zap.Int64("totalAmount", bt.TotalAmount),
				zap.Int64("totalPaid", bt.TotalPaid))
		}
	}
}
