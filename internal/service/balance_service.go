package service

import (
	"context"
	"errors"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/repository"

	"github.com/cenkalti/backoff/v5"
)

const (
	mutationAttempts       = 3
	mutationInitialBackoff = 20 * time.Millisecond
)

// DeltaRequest - одно изменение баланса
type DeltaRequest struct {
	UserID         int64
	Points         int64
	Type           domain.TransactionType
	Description    string
	OfferID        *int64
	ReferredUserID *int64
	PayoutID       *int64
	ExternalID     *string
	Details        map[string]any
	Meta           RequestMeta
}

// RequestMeta - данные о запросе, которые попадают в леджер и аудит
type RequestMeta struct {
	IP        string
	UserAgent string
	Country   domain.Country
}

// BalanceService - единственный путь изменения баланса.
// Баланс и запись леджера пишутся в одной транзакции под блокировкой строки пользователя
type BalanceService struct {
	store   repository.Store
	metrics *metrics.Metrics

	attempts       uint
	initialBackoff time.Duration
}

func NewBalanceService(store repository.Store, m *metrics.Metrics) *BalanceService {
	return &BalanceService{
		store:          store,
		metrics:        m,
		attempts:       mutationAttempts,
		initialBackoff: mutationInitialBackoff,
	}
}

// Mutation - состояние одной попытки транзакции
type Mutation struct {
	Q       repository.Querier
	applied []domain.Transaction
}

// Lock блокирует пользователя до конца транзакции
func (m *Mutation) Lock(ctx context.Context, userID int64) (*domain.User, error) {
	u, err := m.Q.GetUserForUpdate(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("user %d not found", userID)
	}
	return u, err
}

// Apply меняет баланс u и пишет запись леджера. u должен быть заблокирован
// в этой же транзакции (Lock) или создан в ней.
// Все балансовые поля u (включая referral_*) сохраняются одной записью
func (m *Mutation) Apply(ctx context.Context, u *domain.User, req DeltaRequest) (*domain.Transaction, error) {
	if req.Points == 0 {
		return nil, domain.Validation("points delta must be nonzero")
	}
	if !req.Type.Valid() {
		return nil, domain.Validation("unknown transaction type %q", req.Type)
	}
	if req.UserID != 0 && req.UserID != u.ID {
		return nil, domain.Validation("delta for user %d applied to user %d", req.UserID, u.ID)
	}

	prev := u.Points
	next := prev + req.Points
	if next < 0 {
		return nil, domain.InsufficientBalance("balance %d is less than %d", prev, -req.Points)
	}

	u.Points = next
	if req.Points > 0 && (req.Type.IsEarning() || req.Type == domain.TxAdminAdjustment) {
		u.TotalEarned += req.Points
	}
	switch req.Type {
	case domain.TxWithdrawal:
		u.TotalWithdrawn -= req.Points
	case domain.TxRefund:
		if req.PayoutID != nil {
			u.TotalWithdrawn = max(u.TotalWithdrawn-req.Points, 0)
		}
	}

	if err := m.Q.UpdateBalance(ctx, u); err != nil {
		return nil, err
	}

	entry := &domain.Transaction{
		UserID:          u.ID,
		Type:            req.Type,
		Points:          req.Points,
		PreviousBalance: prev,
		NewBalance:      next,
		Description:     req.Description,
		Status:          domain.TxStatusCompleted,
		OfferID:         req.OfferID,
		ReferredUserID:  req.ReferredUserID,
		PayoutID:        req.PayoutID,
		ExternalID:      req.ExternalID,
		Details:         req.Details,
		IP:              req.Meta.IP,
		UserAgent:       req.Meta.UserAgent,
	}
	if err := m.Q.InsertTransaction(ctx, entry); err != nil {
		return nil, err
	}

	m.applied = append(m.applied, *entry)
	return entry, nil
}

// Atomic выполняет fn в транзакции. Конфликты хранилища повторяются с backoff,
// бизнес-ошибки возвращаются сразу
func (s *BalanceService) Atomic(ctx context.Context, fn func(m *Mutation) error) error {
	var committed []domain.Transaction

	op := func() (struct{}, error) {
		m := &Mutation{}
		err := s.store.InTx(ctx, func(q repository.Querier) error {
			m.Q = q
			return fn(m)
		})
		if err == nil {
			committed = m.applied
			return struct{}{}, nil
		}
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.BalanceConflict()
			logger.WithContext(ctx).Warn("balance mutation conflict, retrying", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.attempts),
	)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			var de *domain.Error
			if errors.As(err, &de) {
				return de
			}
			return domain.Conflict(err)
		}
		return err
	}

	log := logger.WithContext(ctx)
	for _, e := range committed {
		s.metrics.LedgerEntry(string(e.Type), e.Points)
		log.Debug("balance mutated", "user_id", e.UserID, "type", e.Type, "points", e.Points, "new_balance", e.NewBalance)
	}
	return nil
}

// WithUserLock - Atomic с уже заблокированным пользователем.
// Проверки и изменения внутри fn видят последний закоммиченный баланс
func (s *BalanceService) WithUserLock(ctx context.Context, userID int64, fn func(m *Mutation, u *domain.User) error) error {
	return s.Atomic(ctx, func(m *Mutation) error {
		u, err := m.Lock(ctx, userID)
		if err != nil {
			return err
		}
		return fn(m, u)
	})
}

// ApplyDelta - одиночное изменение баланса
func (s *BalanceService) ApplyDelta(ctx context.Context, req DeltaRequest) (*domain.Transaction, error) {
	var entry *domain.Transaction
	err := s.WithUserLock(ctx, req.UserID, func(m *Mutation, u *domain.User) error {
		e, err := m.Apply(ctx, u, req)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetBalance возвращает текущий баланс пользователя
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.store.View(ctx, func(q repository.Querier) error {
		u, err := q.GetUser(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFound("user %d not found", userID)
		}
		if err != nil {
			return err
		}
		balance = u.Points
		return nil
	})
	return balance, err
}
