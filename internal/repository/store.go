package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reward_platform/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleStatus - CAS по статусу не прошел, статус уже изменился
	ErrStaleStatus = errors.New("status changed concurrently")
)

// DuplicateError - нарушение уникальности, Field - какое поле
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return "duplicate " + e.Field
}

// Store - единица работы. Все изменения баланса идут через InTx
type Store interface {
	// InTx выполняет fn в одной транзакции: ошибка fn откатывает всё
	InTx(ctx context.Context, fn func(q Querier) error) error
	// View выполняет fn вне транзакции, только чтение
	View(ctx context.Context, fn func(q Querier) error) error
}

// Querier - все операции с данными, нужные ядру
type Querier interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// GetUserForUpdate блокирует строку пользователя до конца транзакции
	GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error)
	GetUserByTelegramID(ctx context.Context, tgID int64) (*domain.User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	UpdateBalance(ctx context.Context, u *domain.User) error
	UpdateDailyBonus(ctx context.Context, userID int64, streak int, at time.Time) error
	UpdateLoginState(ctx context.Context, userID int64, attempts int, lockUntil, lastLogin *time.Time) error
	SetTelegramID(ctx context.Context, userID, tgID int64) error
	ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	TopEarners(ctx context.Context, limit int) ([]domain.User, error)

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	CountTransactions(ctx context.Context, f domain.TransactionFilter) (int64, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.Transaction, error)
	SumByType(ctx context.Context, userID int64, from, to time.Time) (map[domain.TransactionType]int64, error)
	LastTransaction(ctx context.Context, userID int64) (*domain.Transaction, error)
	SumCompleted(ctx context.Context, userID int64) (int64, error)

	CreatePayout(ctx context.Context, p *domain.Payout) error
	GetPayout(ctx context.Context, id int64) (*domain.Payout, error)
	ListPayouts(ctx context.Context, f domain.PayoutFilter) ([]domain.Payout, error)
	// TransitionPayout - compare-and-set: меняет статус, только если текущий в from
	TransitionPayout(ctx context.Context, id int64, from []domain.PayoutStatus, upd PayoutUpdate) (*domain.Payout, error)
	PayoutStats(ctx context.Context) (*domain.PayoutStats, error)

	CreateOffer(ctx context.Context, o *domain.Offer) error
	GetOffer(ctx context.Context, id int64) (*domain.Offer, error)
	// GetOfferForUpdate блокирует строку оффера до конца транзакции (общие лимиты)
	GetOfferForUpdate(ctx context.Context, id int64) (*domain.Offer, error)
	IncrementOfferCounter(ctx context.Context, id int64, field OfferCounter) (OfferCounters, error)
	SetOfferStats(ctx context.Context, id int64, c OfferCounters) error

	InsertAudit(ctx context.Context, l *domain.AuditLog) error
	ListAudit(ctx context.Context, userID int64, limit int) ([]domain.AuditLog, error)
}

// PayoutUpdate - поля, которые пишутся при переходе. nil/пустые не трогаются
type PayoutUpdate struct {
	Status                domain.PayoutStatus
	ProcessedBy           *int64
	ProcessedAt           *time.Time
	RejectedBy            *int64
	RejectedAt            *time.Time
	RejectionReason       string
	ExternalTransactionID string
	AdminNotes            string
	AutoProcessed         bool
	At                    time.Time
}

type OfferCounter string

const (
	CounterImpressions OfferCounter = "impressions"
	CounterClicks      OfferCounter = "clicks"
	CounterConversions OfferCounter = "conversions"
)

type OfferCounters struct {
	Impressions int64
	Clicks      int64
	Conversions int64
}

func (c OfferCounters) Rate() float64 {
	return domain.ConversionRatePercent(c.Conversions, c.Clicks)
}

// DBTX - общее для pgxpool.Pool и pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore - Store поверх Postgres
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

type pgQuerier struct {
	*UserRepository
	*TransactionRepository
	*PayoutRepository
	*OfferRepository
	*AuditRepository
}

func newQuerier(db DBTX) *pgQuerier {
	return &pgQuerier{
		UserRepository:        NewUserRepository(db),
		TransactionRepository: NewTransactionRepository(db),
		PayoutRepository:      NewPayoutRepository(db),
		OfferRepository:       NewOfferRepository(db),
		AuditRepository:       NewAuditRepository(db),
	}
}

func (s *PgStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrap("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(newQuerier(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

func (s *PgStore) View(ctx context.Context, fn func(q Querier) error) error {
	return fn(newQuerier(s.pool))
}

// коды Postgres
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

var constraintFields = map[string]string{
	"users_email_key":              "email",
	"users_username_key":           "username",
	"users_referral_code_key":      "referral_code",
	"users_telegram_id_key":        "telegram_id",
	"transactions_external_id_key": "external_id",
	"transactions_referral_once":   "referred_user_id",
	"transactions_payout_once":     "payout_id",
}

// wrap приводит ошибки pgx к ошибкам пакета
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			field, ok := constraintFields[pgErr.ConstraintName]
			if !ok {
				field = pgErr.ConstraintName
			}
			return &DuplicateError{Field: field}
		case pgSerializationFailure, pgDeadlockDetected:
			return domain.Conflict(fmt.Errorf("%s: %w", op, err))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
