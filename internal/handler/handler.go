// Package handler содержит HTTP-обработчики API сервиса weddingbook.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mpanganiban/weddingbook-system/internal/model"
	"github.com/mpanganiban/weddingbook-system/internal/repository"
	"github.com/mpanganiban/weddingbook-system/internal/sequence"
	"github.com/mpanganiban/weddingbook-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RecordPayment(ctx context.Context, req service.PaymentRequest) (*model.Receipt, bool, error)
	GetReceipts(ctx context.Context, bookingID string) []model.Receipt
	GetBalance(ctx context.Context, bookingID string) model.BookingBalance
	GetReceipt(ctx context.Context, number string) (*model.Receipt, error)
	VerifyPaymentReference(ctx context.Context, number string) (*service.VerificationResult, error)
	RegisterUser(ctx context.Context, role model.UserRole, displayName string) (*model.User, error)
	RegisterService(ctx context.Context, vendorID, name string) (*model.Service, error)
}

// Handler реализует HTTP-обработчики API сервиса weddingbook.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type paymentRequest struct {
	PayerID          string `json:"payer_id"`
	VendorID         string `json:"vendor_id"`
	PaymentType      string `json:"payment_type"`
	PaymentMethod    string `json:"payment_method"`
	AmountPaid       int64  `json:"amount_paid"`
	TotalAmount      int64  `json:"total_amount"`
	Currency         string `json:"currency,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Notes            string `json:"notes,omitempty"`
	CreatedBy        string `json:"created_by,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

type receiptResponse struct {
	ReceiptNumber    string `json:"receipt_number"`
	BookingID        string `json:"booking_id"`
	PayerID          string `json:"payer_id"`
	VendorID         string `json:"vendor_id"`
	PaymentType      string `json:"payment_type"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	AmountPaid       int64  `json:"amount_paid"`
	TotalAmount      int64  `json:"total_amount"`
	RemainingBalance int64  `json:"remaining_balance"`
	Currency         string `json:"currency"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Notes            string `json:"notes,omitempty"`
	CreatedBy        string `json:"created_by,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func toReceiptResponse(rec *model.Receipt) receiptResponse {
	return receiptResponse{
		ReceiptNumber:    rec.ReceiptNumber,
		BookingID:        rec.BookingID,
		PayerID:          rec.PayerID,
		VendorID:         rec.VendorID,
		PaymentType:      string(rec.PaymentType),
		PaymentMethod:    rec.PaymentMethod,
		AmountPaid:       rec.AmountPaid,
		TotalAmount:      rec.TotalAmount,
		RemainingBalance: rec.RemainingBalance,
		Currency:         rec.Currency,
		PaymentReference: rec.PaymentReference,
		Notes:            rec.Notes,
		CreatedBy:        rec.CreatedBy,
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// RecordPayment записывает платёж по бронированию и возвращает созданную квитанцию.
// Повтор с тем же ключом идемпотентности возвращает существующую квитанцию со статусом 200.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}

	rec, replay, err := h.service.RecordPayment(r.Context(), service.PaymentRequest{
		BookingID:        bookingID,
		PayerID:          req.PayerID,
		VendorID:         req.VendorID,
		PaymentType:      model.PaymentType(req.PaymentType),
		PaymentMethod:    req.PaymentMethod,
		AmountPaid:       req.AmountPaid,
		TotalAmount:      req.TotalAmount,
		Currency:         req.Currency,
		PaymentReference: req.PaymentReference,
		Notes:            req.Notes,
		CreatedBy:        req.CreatedBy,
		IdempotencyKey:   idempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrTransientStore):
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		case errors.Is(err, sequence.ErrAllocationExhausted):
			h.logger.Error("receipt sequence exhausted", zap.Error(err), zap.String("bookingID", bookingID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		default:
			h.logger.Error("record payment error", zap.Error(err), zap.String("bookingID", bookingID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	}

	h.writeJSON(w, status, toReceiptResponse(rec))
}

// GetReceipts возвращает квитанции по бронированию, новые первыми.
func (h *Handler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	receipts := h.service.GetReceipts(r.Context(), bookingID)
	if len(receipts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]receiptResponse, 0, len(receipts))
	for i := range receipts {
		resp = append(resp, toReceiptResponse(&receipts[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	model.BookingBalance
	Status string `json:"status"`
}

// GetBalance возвращает платёжную сводку бронирования, пересчитанную по квитанциям.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	balance := h.service.GetBalance(r.Context(), bookingID)

	h.writeJSON(w, http.StatusOK, balanceResponse{
		BookingBalance: balance,
		Status:         string(balance.Status()),
	})
}

// GetReceipt возвращает одну квитанцию по её номеру.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	rec, err := h.service.GetReceipt(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrReceiptNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get receipt error", zap.Error(err), zap.String("number", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(rec))
}

// VerifyReceipt сверяет квитанцию с платёжным шлюзом по её внешнему референсу.
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	res, err := h.service.VerifyPaymentReference(r.Context(), number)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrReceiptNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNoPaymentReference):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrGatewayUnavailable):
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		default:
			h.logger.Error("verify receipt error", zap.Error(err), zap.String("number", number))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

type registerUserRequest struct {
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type userResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RegisterUser создаёт пользователя с выданным человекочитаемым идентификатором.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), model.UserRole(req.Role), req.DisplayName)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, userResponse{
		ID:          u.ID,
		Role:        string(u.Role),
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	})
}

type registerServiceRequest struct {
	VendorID string `json:"vendor_id"`
	Name     string `json:"name"`
}

type serviceResponse struct {
	ID        string `json:"id"`
	VendorID  string `json:"vendor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

// RegisterService создаёт услугу поставщика с выданным идентификатором.
func (h *Handler) RegisterService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	svc, err := h.service.RegisterService(r.Context(), req.VendorID, req.Name)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("register service error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, serviceResponse{
		ID:        svc.ID,
		VendorID:  svc.VendorID,
		Name:      svc.Name,
		CreatedAt: svc.CreatedAt.Format(time.RFC3339),
	})
}
