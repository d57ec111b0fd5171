package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/repository"
)

func (q *querier) InsertTransaction(_ context.Context, t *domain.Transaction) error {
	if err := q.write(); err != nil {
		return err
	}
	if t.Points == 0 {
		return errors.New("memory store: zero-delta transaction")
	}
	if t.NewBalance != t.PreviousBalance+t.Points {
		return fmt.Errorf("memory store: balance snapshot mismatch %d + %d != %d", t.PreviousBalance, t.Points, t.NewBalance)
	}
	for _, ex := range q.st.transactions {
		if t.ExternalID != nil && ex.ExternalID != nil && *ex.ExternalID == *t.ExternalID {
			return &repository.DuplicateError{Field: "external_id"}
		}
		if t.Type == domain.TxReferralBonus && ex.Type == domain.TxReferralBonus &&
			ex.UserID == t.UserID && sameID(ex.ReferredUserID, t.ReferredUserID) {
			return &repository.DuplicateError{Field: "referred_user_id"}
		}
		if t.PayoutID != nil && sameID(ex.PayoutID, t.PayoutID) && ex.Type == t.Type {
			return &repository.DuplicateError{Field: "payout_id"}
		}
	}
	if t.Status == "" {
		t.Status = domain.TxStatusCompleted
	}
	q.st.nextTxID++
	t.ID = q.st.nextTxID
	t.CreatedAt = q.now()
	q.st.transactions = append(q.st.transactions, *t)
	return nil
}

func sameID(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func matches(t *domain.Transaction, f domain.TransactionFilter) bool {
	switch {
	case f.UserID != nil && t.UserID != *f.UserID:
		return false
	case f.Type != "" && t.Type != f.Type:
		return false
	case f.OfferID != nil && !sameID(t.OfferID, f.OfferID):
		return false
	case f.ReferredUserID != nil && !sameID(t.ReferredUserID, f.ReferredUserID):
		return false
	case f.PayoutID != nil && !sameID(t.PayoutID, f.PayoutID):
		return false
	case f.Since != nil && t.CreatedAt.Before(*f.Since):
		return false
	case f.Until != nil && !t.CreatedAt.Before(*f.Until):
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	}
	return true
}

func (q *querier) CountTransactions(_ context.Context, f domain.TransactionFilter) (int64, error) {
	var n int64
	for i := range q.st.transactions {
		if matches(&q.st.transactions[i], f) {
			n++
		}
	}
	return n, nil
}

// записи хранятся в порядке вставки, новые сверху = обход с конца
func (q *querier) ListTransactions(_ context.Context, userID int64, limit, offset int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	skipped := 0
	for i := len(q.st.transactions) - 1; i >= 0 && len(items) < limit; i-- {
		t := q.st.transactions[i]
		if t.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		items = append(items, t)
	}
	return items, nil
}

func (q *querier) SumByType(_ context.Context, userID int64, from, to time.Time) (map[domain.TransactionType]int64, error) {
	sums := make(map[domain.TransactionType]int64)
	for _, t := range q.st.transactions {
		if t.UserID != userID || t.Status != domain.TxStatusCompleted {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		sums[t.Type] += t.Points
	}
	return sums, nil
}

func (q *querier) LastTransaction(_ context.Context, userID int64) (*domain.Transaction, error) {
	for i := len(q.st.transactions) - 1; i >= 0; i-- {
		if t := q.st.transactions[i]; t.UserID == userID {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) SumCompleted(_ context.Context, userID int64) (int64, error) {
	var sum int64
	for _, t := range q.st.transactions {
		if t.UserID == userID && t.Status == domain.TxStatusCompleted {
			sum += t.Points
		}
	}
	return sum, nil
}

// payouts

func (q *querier) CreatePayout(_ context.Context, p *domain.Payout) error {
	if err := q.write(); err != nil {
		return err
	}
	if _, ok := q.st.users[p.UserID]; !ok {
		return repository.ErrNotFound
	}
	q.st.nextPayoutID++
	p.ID = q.st.nextPayoutID
	p.CreatedAt = q.now()
	p.UpdatedAt = p.CreatedAt
	q.st.payouts[p.ID] = *p
	return nil
}

func (q *querier) GetPayout(_ context.Context, id int64) (*domain.Payout, error) {
	p, ok := q.st.payouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (q *querier) ListPayouts(_ context.Context, f domain.PayoutFilter) ([]domain.Payout, error) {
	var all []domain.Payout
	for _, p := range q.st.payouts {
		if f.UserID != nil && p.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (q *querier) TransitionPayout(_ context.Context, id int64, from []domain.PayoutStatus, upd repository.PayoutUpdate) (*domain.Payout, error) {
	if err := q.write(); err != nil {
		return nil, err
	}
	p, ok := q.st.payouts[id]
	if !ok {
		return nil, repository.ErrStaleStatus
	}
	allowed := false
	for _, s := range from {
		if p.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, repository.ErrStaleStatus
	}

	p.Status = upd.Status
	if upd.ProcessedBy != nil {
		p.ProcessedBy = upd.ProcessedBy
	}
	if upd.ProcessedAt != nil {
		p.ProcessedAt = upd.ProcessedAt
	}
	if upd.RejectedBy != nil {
		p.RejectedBy = upd.RejectedBy
	}
	if upd.RejectedAt != nil {
		p.RejectedAt = upd.RejectedAt
	}
	if upd.RejectionReason != "" {
		p.RejectionReason = upd.RejectionReason
	}
	if upd.ExternalTransactionID != "" {
		p.ExternalTransactionID = upd.ExternalTransactionID
	}
	if upd.AdminNotes != "" {
		p.AdminNotes = upd.AdminNotes
	}
	p.AutoProcessed = p.AutoProcessed || upd.AutoProcessed
	p.UpdatedAt = upd.At
	q.st.payouts[id] = p
	return &p, nil
}

func (q *querier) PayoutStats(_ context.Context) (*domain.PayoutStats, error) {
	stats := &domain.PayoutStats{
		ByStatus: make(map[domain.PayoutStatus]domain.PayoutBucket),
		ByMethod: make(map[domain.PaymentMethodType]domain.PayoutBucket),
	}
	for _, p := range q.st.payouts {
		b := domain.PayoutBucket{Count: 1, Points: p.Amount.Points, USD: p.Amount.USDValue}
		stats.ByStatus[p.Status] = stats.ByStatus[p.Status].Add(b)
		if !p.Status.Refunded() {
			stats.ByMethod[p.Method.Type] = stats.ByMethod[p.Method.Type].Add(b)
		}
	}
	return stats, nil
}

// offers

func (q *querier) CreateOffer(_ context.Context, o *domain.Offer) error {
	if err := q.write(); err != nil {
		return err
	}
	q.st.nextOfferID++
	o.ID = q.st.nextOfferID
	o.CreatedAt = q.now()
	q.st.offers[o.ID] = *o
	return nil
}

func (q *querier) GetOffer(_ context.Context, id int64) (*domain.Offer, error) {
	o, ok := q.st.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

// InTx и так под глобальной блокировкой
func (q *querier) GetOfferForUpdate(ctx context.Context, id int64) (*domain.Offer, error) {
	return q.GetOffer(ctx, id)
}

func (q *querier) IncrementOfferCounter(_ context.Context, id int64, field repository.OfferCounter) (repository.OfferCounters, error) {
	if err := q.write(); err != nil {
		return repository.OfferCounters{}, err
	}
	o, ok := q.st.offers[id]
	if !ok {
		return repository.OfferCounters{}, repository.ErrNotFound
	}
	switch field {
	case repository.CounterImpressions:
		o.Impressions++
	case repository.CounterClicks:
		o.Clicks++
	case repository.CounterConversions:
		o.Conversions++
	default:
		return repository.OfferCounters{}, fmt.Errorf("unknown offer counter %q", field)
	}
	q.st.offers[id] = o
	return repository.OfferCounters{Impressions: o.Impressions, Clicks: o.Clicks, Conversions: o.Conversions}, nil
}

func (q *querier) SetOfferStats(_ context.Context, id int64, c repository.OfferCounters) error {
	if err := q.write(); err != nil {
		return err
	}
	o, ok := q.st.offers[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Impressions = max(o.Impressions, c.Impressions)
	o.Clicks = max(o.Clicks, c.Clicks)
	o.Conversions = max(o.Conversions, c.Conversions)
	o.ConversionRate = domain.ConversionRatePercent(o.Conversions, o.Clicks)
	q.st.offers[id] = o
	return nil
}

// audit

func (q *querier) InsertAudit(_ context.Context, l *domain.AuditLog) error {
	if err := q.write(); err != nil {
		return err
	}
	q.st.nextAuditID++
	l.ID = q.st.nextAuditID
	l.CreatedAt = q.now()
	q.st.audit = append(q.st.audit, *l)
	return nil
}

func (q *querier) ListAudit(_ context.Context, userID int64, limit int) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	for i := len(q.st.audit) - 1; i >= 0 && len(logs) < limit; i-- {
		if q.st.audit[i].UserID == userID {
			logs = append(logs, q.st.audit[i])
		}
	}
	return logs, nil
}
