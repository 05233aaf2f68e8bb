// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mpanganiban/weddingbook-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrReceiptNumberTaken возвращается, если выданный номер квитанции уже занят.
// Сервис обязан перевыдать номер, а не отдавать ошибку вызывающему.
var (
	ErrReceiptNumberTaken = errors.New("receipt number already taken")
	// ErrDuplicateIdempotencyKey возвращается при вставке квитанции с уже использованным ключом идемпотентности.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrReceiptNotFound возвращается, если квитанция не найдена.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrUserExists возвращается при попытке создать пользователя с уже занятым идентификатором.
	ErrUserExists = errors.New("user already exists")
	// ErrServiceExists возвращается при попытке создать услугу с уже занятым идентификатором.
	ErrServiceExists = errors.New("service already exists")
	// ErrTransientStore возвращается при временной недоступности хранилища; вызывающий может повторить запрос.
	ErrTransientStore = errors.New("storage temporarily unavailable")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure и Deadlocks.
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// classifyStoreError помечает сетевые ошибки как временные, чтобы вызывающий мог повторить запрос.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsConnectionException(pgErr.Code) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}

	return err
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// NextValue атомарно увеличивает счётчик области выдачи и возвращает новое значение.
// Upsert с RETURNING сериализует параллельные вызовы в одной области на уровне строки,
// не мешая параллелизму между разными областями.
func (r *PostgresRepository) NextValue(ctx context.Context, class, prefix, timeBucket string) (int64, error) {
	var next int64

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO sequence_counters (entity_class, prefix, time_bucket, last_value)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (entity_class, prefix, time_bucket) DO UPDATE
			 SET last_value = sequence_counters.last_value + 1,
			     updated_at = now()
			 RETURNING last_value`,
			class, prefix, timeBucket,
		).Scan(&next)
	})
	if err != nil {
		return 0, classifyStoreError(fmt.Errorf("next sequence value: %w", err))
	}

	return next, nil
}

// CreateReceipt сохраняет новую квитанцию, вычислив остаток по бронированию
// внутри той же транзакции. Параллельные записи по одному бронированию
// сериализуются advisory-блокировкой, чтобы снимок остатка не разъезжался.
func (r *PostgresRepository) CreateReceipt(ctx context.Context, rec *model.Receipt) (*model.Receipt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.BookingID); err != nil {
		return nil, classifyStoreError(fmt.Errorf("lock booking: %w", err))
	}

	var priorPaid int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_paid), 0) FROM receipts WHERE booking_id = $1`,
		rec.BookingID,
	).Scan(&priorPaid)
	if err != nil {
		return nil, classifyStoreError(fmt.Errorf("sum prior receipts: %w", err))
	}

	remaining := rec.TotalAmount - priorPaid - rec.AmountPaid
	if remaining < 0 {
		remaining = 0
	}

	created := *rec
	created.RemainingBalance = remaining

	err = tx.QueryRow(ctx,
		`INSERT INTO receipts (receipt_number, booking_id, payer_id, vendor_id,
		                       payment_type, payment_method, amount_paid, total_amount,
		                       remaining_balance, currency, payment_reference, notes,
		                       created_by, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''))
		 RETURNING created_at`,
		created.ReceiptNumber, created.BookingID, created.PayerID, created.VendorID,
		string(created.PaymentType), created.PaymentMethod, created.AmountPaid, created.TotalAmount,
		created.RemainingBalance, created.Currency, created.PaymentReference, created.Notes,
		created.CreatedBy, created.IdempotencyKey,
	).Scan(&created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "idempotency") {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, created.IdempotencyKey)
			}
			return nil, fmt.Errorf("%w: %s", ErrReceiptNumberTaken, created.ReceiptNumber)
		}
		return nil, classifyStoreError(fmt.Errorf("insert receipt: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError(fmt.Errorf("commit tx: %w", err))
	}

	return &created, nil
}

const receiptColumns = `receipt_number, booking_id, payer_id, vendor_id,
	payment_type, payment_method, amount_paid, total_amount,
	remaining_balance, currency, payment_reference, notes,
	created_by, COALESCE(idempotency_key, ''), created_at`

func scanReceipt(row pgx.Row) (*model.Receipt, error) {
	var rec model.Receipt
	var paymentType string

	err := row.Scan(
		&rec.ReceiptNumber, &rec.BookingID, &rec.PayerID, &rec.VendorID,
		&paymentType, &rec.PaymentMethod, &rec.AmountPaid, &rec.TotalAmount,
		&rec.RemainingBalance, &rec.Currency, &rec.PaymentReference, &rec.Notes,
		&rec.CreatedBy, &rec.IdempotencyKey, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PaymentType = model.PaymentType(paymentType)
	return &rec, nil
}

// GetReceiptsByBooking возвращает все квитанции по бронированию, новые первыми.
func (r *PostgresRepository) GetReceiptsByBooking(ctx context.Context, bookingID string) ([]model.Receipt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+receiptColumns+`
		 FROM receipts
		 WHERE booking_id = $1
		 ORDER BY created_at DESC, id DESC`,
		bookingID,
	)
	if err != nil {
		return nil, classifyStoreError(fmt.Errorf("select receipts: %w", err))
	}
	defer rows.Close()

	var res []model.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		res = append(res, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(fmt.Errorf("rows error: %w", err))
	}

	return res, nil
}

// GetTotalPaid возвращает сумму всех платежей по бронированию в сентаво.
func (r *PostgresRepository) GetTotalPaid(ctx context.Context, bookingID string) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_paid), 0) FROM receipts WHERE booking_id = $1`,
		bookingID,
	).Scan(&total)
	if err != nil {
		return 0, classifyStoreError(fmt.Errorf("sum receipts: %w", err))
	}

	return total, nil
}

// GetBookingTotals возвращает сумму бронирования по последней квитанции и сумму всех платежей.
// Если квитанций нет, обе суммы равны нулю.
func (r *PostgresRepository) GetBookingTotals(ctx context.Context, bookingID string) (int64, int64, error) {
	var totalAmount, totalPaid int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT total_amount FROM receipts
		                  WHERE booking_id = $1
		                  ORDER BY created_at DESC, id DESC
		                  LIMIT 1), 0),
		        COALESCE(SUM(amount_paid), 0)
		 FROM receipts
		 WHERE booking_id = $1`,
		bookingID,
	).Scan(&totalAmount, &totalPaid)
	if err != nil {
		return 0, 0, classifyStoreError(fmt.Errorf("booking totals: %w", err))
	}

	return totalAmount, totalPaid, nil
}

// GetReceiptByNumber возвращает квитанцию по её номеру.
func (r *PostgresRepository) GetReceiptByNumber(ctx context.Context, number string) (*model.Receipt, error) {
	rec, err := scanReceipt(r.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE receipt_number = $1`,
		number,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, classifyStoreError(fmt.Errorf("get receipt: %w", err))
	}

	return rec, nil
}

// GetReceiptByIdempotencyKey возвращает квитанцию, созданную с указанным ключом идемпотентности.
func (r *PostgresRepository) GetReceiptByIdempotencyKey(ctx context.Context, key string) (*model.Receipt, error) {
	rec, err := scanReceipt(r.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE idempotency_key = $1`,
		key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, classifyStoreError(fmt.Errorf("get receipt by key: %w", err))
	}

	return rec, nil
}

// BookingTotals описывает агрегат платежей одного бронирования для сверки.
type BookingTotals struct {
	BookingID   string
	TotalAmount int64
	TotalPaid   int64
}

// ListBookingTotals возвращает агрегаты по бронированиям с недавними платежами, новые первыми.
func (r *PostgresRepository) ListBookingTotals(ctx context.Context, limit int) ([]BookingTotals, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.booking_id,
		        COALESCE((SELECT r2.total_amount FROM receipts r2
		                  WHERE r2.booking_id = r.booking_id
		                  ORDER BY r2.created_at DESC, r2.id DESC
		                  LIMIT 1), 0),
		        SUM(r.amount_paid)
		 FROM receipts r
		 GROUP BY r.booking_id
		 ORDER BY MAX(r.created_at) DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, classifyStoreError(fmt.Errorf("select booking totals: %w", err))
	}
	defer rows.Close()

	var res []BookingTotals
	for rows.Next() {
		var bt BookingTotals
		if err := rows.Scan(&bt.BookingID, &bt.TotalAmount, &bt.TotalPaid); err != nil {
			return nil, fmt.Errorf("scan booking totals: %w", err)
		}
		res = append(res, bt)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(fmt.Errorf("rows error: %w", err))
	}

	return res, nil
}

// CreateUser сохраняет пользователя с уже выданным идентификатором.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, role, display_name) VALUES ($1, $2, $3) RETURNING created_at`,
		u.ID, string(u.Role), u.DisplayName,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
		}
		return classifyStoreError(fmt.Errorf("create user: %w", err))
	}

	return nil
}

// CreateService сохраняет услугу поставщика с уже выданным идентификатором.
func (r *PostgresRepository) CreateService(ctx context.Context, s *model.Service) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO services (id, vendor_id, name) VALUES ($1, $2, $3) RETURNING created_at`,
		s.ID, s.VendorID, s.Name,
	).Scan(&s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrServiceExists, s.ID)
		}
		return classifyStoreError(fmt.Errorf("create service: %w", err))
	}

	return nil
}
