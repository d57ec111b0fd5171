package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reward_platform/internal/domain"

	"github.com/jackc/pgx/v5"
)

// TransactionRepository - леджер. Только вставка, записи не меняются
type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, user_id, type, points, previous_balance, new_balance, description, status,
	offer_id, referred_user_id, payout_id, external_id, details, ip, user_agent, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var details []byte
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Points, &t.PreviousBalance, &t.NewBalance, &t.Description, &t.Status,
		&t.OfferID, &t.ReferredUserID, &t.PayoutID, &t.ExternalID, &details, &t.IP, &t.UserAgent, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &t.Details); err != nil {
			t.Details = nil
		}
	}
	return &t, nil
}

func (r *TransactionRepository) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	var details []byte
	if len(t.Details) > 0 {
		var err error
		if details, err = json.Marshal(t.Details); err != nil {
			return fmt.Errorf("marshal transaction details: %w", err)
		}
	}
	if t.Status == "" {
		t.Status = domain.TxStatusCompleted
	}

	// created_at берется из clock_timestamp(), порядок совпадает с порядком применения под блокировкой
	err := r.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, type, points, previous_balance, new_balance, description, status,
		                          offer_id, referred_user_id, payout_id, external_id, details, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`, t.UserID, t.Type, t.Points, t.PreviousBalance, t.NewBalance, t.Description, t.Status,
		t.OfferID, t.ReferredUserID, t.PayoutID, t.ExternalID, details, t.IP, t.UserAgent).Scan(&t.ID, &t.CreatedAt)
	return wrap("insert transaction", err)
}

// CountTransactions - производные счетчики (дневные лимиты, лимиты офферов)
func (r *TransactionRepository) CountTransactions(ctx context.Context, f domain.TransactionFilter) (int64, error) {
	where, args := transactionWhere(f)
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&n)
	return n, wrap("count transactions", err)
}

func transactionWhere(f domain.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.OfferID != nil {
		add("offer_id = $%d", *f.OfferID)
	}
	if f.ReferredUserID != nil {
		add("referred_user_id = $%d", *f.ReferredUserID)
	}
	if f.PayoutID != nil {
		add("payout_id = $%d", *f.PayoutID)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at < $%d", *f.Until)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// новые сверху; id как тай-брейкер
func (r *TransactionRepository) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	defer rows.Close()

	var items []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, wrap("scan transaction", err)
		}
		items = append(items, *t)
	}
	return items, wrap("list transactions", rows.Err())
}

// SumByType суммирует только completed записи в [from, to)
func (r *TransactionRepository) SumByType(ctx context.Context, userID int64, from, to time.Time) (map[domain.TransactionType]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT type, COALESCE(SUM(points), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'completed' AND created_at >= $2 AND created_at < $3
		GROUP BY type
	`, userID, from, to)
	if err != nil {
		return nil, wrap("sum transactions", err)
	}
	defer rows.Close()

	sums := make(map[domain.TransactionType]int64)
	for rows.Next() {
		var typ domain.TransactionType
		var sum int64
		if err := rows.Scan(&typ, &sum); err != nil {
			return nil, wrap("scan sum", err)
		}
		sums[typ] = sum
	}
	return sums, wrap("sum transactions", rows.Err())
}

func (r *TransactionRepository) LastTransaction(ctx context.Context, userID int64) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID))
	return t, wrap("last transaction", err)
}

func (r *TransactionRepository) SumCompleted(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM transactions WHERE user_id = $1 AND status = 'completed'
	`, userID).Scan(&sum)
	return sum, wrap("sum completed", err)
}
