package repository

import (
	"context"
	"fmt"
	"strings"

	"reward_platform/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type PayoutRepository struct {
	db DBTX
}

func NewPayoutRepository(db DBTX) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// numeric читаем как text, чтобы не терять точность
const payoutColumns = `id, user_id, points, usd_value::text, local_value::text, local_currency,
	method_type, account_id, account_name, status, processing_fee::text, net_amount::text,
	processed_by, processed_at, rejected_by, rejected_at, rejection_reason,
	external_transaction_id, admin_notes, auto_processed, created_at, updated_at`

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	var usd, local, fee, net string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Amount.Points, &usd, &local, &p.Amount.LocalCurrency,
		&p.Method.Type, &p.Method.AccountID, &p.Method.AccountName, &p.Status, &fee, &net,
		&p.ProcessedBy, &p.ProcessedAt, &p.RejectedBy, &p.RejectedAt, &p.RejectionReason,
		&p.ExternalTransactionID, &p.AdminNotes, &p.AutoProcessed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{usd, &p.Amount.USDValue},
		{local, &p.Amount.LocalValue},
		{fee, &p.ProcessingFee},
		{net, &p.NetAmount},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse payout amount %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return &p, nil
}

func (r *PayoutRepository) CreatePayout(ctx context.Context, p *domain.Payout) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO payouts (user_id, points, usd_value, local_value, local_currency,
		                     method_type, account_id, account_name, status, processing_fee, net_amount)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, $10::numeric, $11::numeric)
		RETURNING id, created_at, updated_at
	`, p.UserID, p.Amount.Points, p.Amount.USDValue.String(), p.Amount.LocalValue.String(), p.Amount.LocalCurrency,
		p.Method.Type, p.Method.AccountID, p.Method.AccountName, p.Status,
		p.ProcessingFee.String(), p.NetAmount.String()).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return wrap("create payout", err)
}

func (r *PayoutRepository) GetPayout(ctx context.Context, id int64) (*domain.Payout, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	return p, wrap("get payout", err)
}

func (r *PayoutRepository) ListPayouts(ctx context.Context, f domain.PayoutFilter) ([]domain.Payout, error) {
	var conds []string
	var args []any
	if f.UserID != nil {
		args = append(args, *f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM payouts%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, payoutColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, wrap("list payouts", err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, wrap("scan payout", err)
		}
		payouts = append(payouts, *p)
	}
	return payouts, wrap("list payouts", rows.Err())
}

// CAS по статусу: 0 строк - статус уже сменился (или выплаты нет)
func (r *PayoutRepository) TransitionPayout(ctx context.Context, id int64, from []domain.PayoutStatus, upd PayoutUpdate) (*domain.Payout, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	p, err := scanPayout(r.db.QueryRow(ctx, `
		UPDATE payouts
		SET status = $3,
		    processed_by = COALESCE($4, processed_by),
		    processed_at = COALESCE($5, processed_at),
		    rejected_by = COALESCE($6, rejected_by),
		    rejected_at = COALESCE($7, rejected_at),
		    rejection_reason = CASE WHEN $8 = '' THEN rejection_reason ELSE $8 END,
		    external_transaction_id = CASE WHEN $9 = '' THEN external_transaction_id ELSE $9 END,
		    admin_notes = CASE WHEN $10 = '' THEN admin_notes ELSE $10 END,
		    auto_processed = auto_processed OR $11,
		    updated_at = $12
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+payoutColumns,
		id, statuses, upd.Status, upd.ProcessedBy, upd.ProcessedAt, upd.RejectedBy, upd.RejectedAt,
		upd.RejectionReason, upd.ExternalTransactionID, upd.AdminNotes, upd.AutoProcessed, upd.At))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrStaleStatus
		}
		return nil, wrap("transition payout", err)
	}
	return p, nil
}

func (r *PayoutRepository) PayoutStats(ctx context.Context) (*domain.PayoutStats, error) {
	stats := &domain.PayoutStats{
		ByStatus: make(map[domain.PayoutStatus]domain.PayoutBucket),
		ByMethod: make(map[domain.PaymentMethodType]domain.PayoutBucket),
	}

	rows, err := r.db.Query(ctx, `
		SELECT status, method_type, COUNT(*), COALESCE(SUM(points), 0), COALESCE(SUM(usd_value), 0)::text
		FROM payouts
		GROUP BY status, method_type
	`)
	if err != nil {
		return nil, wrap("payout stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.PayoutStatus
		var method domain.PaymentMethodType
		var b domain.PayoutBucket
		var usd string
		if err := rows.Scan(&status, &method, &b.Count, &b.Points, &usd); err != nil {
			return nil, wrap("scan payout stats", err)
		}
		if b.USD, err = decimal.NewFromString(usd); err != nil {
			return nil, fmt.Errorf("parse payout stats usd %q: %w", usd, err)
		}
		stats.ByStatus[status] = stats.ByStatus[status].Add(b)
		// по методам считаем только то, что реально ушло или уйдет
		if !status.Refunded() {
			stats.ByMethod[method] = stats.ByMethod[method].Add(b)
		}
	}
	return stats, wrap("payout stats", rows.Err())
}
