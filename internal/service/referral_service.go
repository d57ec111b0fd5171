package service

import (
	"context"
	"errors"
	"fmt"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/notify"
	"reward_platform/internal/repository"
)

// errReferralSettled - бонус уже выплачен или выплачивать некому, транзакцию откатываем
var errReferralSettled = errors.New("referral bonus settled")

// ReferralService начисляет рефереру бонус за регистрацию приглашенного.
// Бонус = floor(начальный баланс приглашенного * percent / 100), один раз на пару
type ReferralService struct {
	store    repository.Store
	balance  *BalanceService
	audit    *AuditService
	notifier notify.Notifier
	percent  int64
}

func NewReferralService(store repository.Store, balance *BalanceService, audit *AuditService, n notify.Notifier, percent int64) *ReferralService {
	if n == nil {
		n = notify.Nop{}
	}
	return &ReferralService{
		store:    store,
		balance:  balance,
		audit:    audit,
		notifier: n,
		percent:  percent,
	}
}

// Bonus - сумма бонуса для начального баланса initial
func (s *ReferralService) Bonus(initial int64) int64 {
	if initial <= 0 {
		return 0
	}
	return initial * s.percent / 100
}

// PaySignupBonus выплачивает бонус рефереру пользователя referredID.
// Повторный вызов ничего не делает. nil без ошибки - бонуса нет
// (нет реферера, бонус нулевой, уже выплачен или реферер заблокирован)
func (s *ReferralService) PaySignupBonus(ctx context.Context, referredID, initialPoints int64) (*domain.Transaction, error) {
	var referred *domain.User
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		referred, err = q.GetUser(ctx, referredID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("user %d not found", referredID)
	}
	if err != nil {
		return nil, err
	}
	if referred.ReferredBy == nil {
		return nil, nil
	}

	log := logger.WithContext(ctx).With("referrer_id", *referred.ReferredBy, "referred_id", referredID)

	bonus := s.Bonus(initialPoints)
	if bonus == 0 {
		log.Debug("referral bonus is zero, nothing to credit", "initial_points", initialPoints)
		return nil, nil
	}

	var (
		entry    *domain.Transaction
		referrer domain.User
	)
	err = s.balance.WithUserLock(ctx, *referred.ReferredBy, func(m *Mutation, u *domain.User) error {
		if !u.CanAct() {
			return errReferralSettled
		}
		paid, err := m.Q.CountTransactions(ctx, domain.TransactionFilter{
			UserID:         &u.ID,
			Type:           domain.TxReferralBonus,
			ReferredUserID: &referredID,
		})
		if err != nil {
			return err
		}
		if paid > 0 {
			return errReferralSettled
		}

		u.ReferralEarnings += bonus
		u.ReferralCount++
		e, err := m.Apply(ctx, u, DeltaRequest{
			Points:         bonus,
			Type:           domain.TxReferralBonus,
			Description:    fmt.Sprintf("Referral bonus for %s", referred.Username),
			ReferredUserID: &referredID,
		})
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			return errReferralSettled
		}
		if err != nil {
			return err
		}
		entry, referrer = e, *u
		return nil
	})
	if errors.Is(err, errReferralSettled) {
		log.Debug("referral bonus already settled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("referral bonus credited", "points", bonus)
	s.audit.Log(ctx, referrer.ID, domain.AuditActionReferralBonus, domain.AuditCategoryEarning, map[string]any{
		"referred_user_id": referredID,
		"points":           bonus,
	})
	s.notifier.Notify(ctx, referrer, notify.BalanceEvent(entry, "Referral bonus"))
	return entry, nil
}
