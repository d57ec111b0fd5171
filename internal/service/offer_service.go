package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/notify"
	"reward_platform/internal/repository"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// OfferCounters - атомарные счетчики офферов во внешнем хранилище
type OfferCounters interface {
	Incr(ctx context.Context, offerID int64, field repository.OfferCounter) (repository.OfferCounters, error)
}

// ProofStorage сохраняет скриншот-подтверждение и возвращает ссылку на него
type ProofStorage interface {
	PutProof(ctx context.Context, userID, offerID int64, body []byte, contentType string) (string, error)
}

const (
	offerCacheSize = 1024
	offerCacheTTL  = time.Minute
)

type OfferService struct {
	store    repository.Store
	balance  *BalanceService
	counters OfferCounters
	proofs   ProofStorage
	audit    *AuditService
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cache    *expirable.LRU[int64, domain.Offer]

	now func() time.Time
}

func NewOfferService(store repository.Store, balance *BalanceService, counters OfferCounters, proofs ProofStorage, audit *AuditService, n notify.Notifier, m *metrics.Metrics) *OfferService {
	if n == nil {
		n = notify.Nop{}
	}
	return &OfferService{
		store:    store,
		balance:  balance,
		counters: counters,
		proofs:   proofs,
		audit:    audit,
		notifier: n,
		metrics:  m,
		cache:    expirable.NewLRU[int64, domain.Offer](offerCacheSize, nil, offerCacheTTL),
		now:      time.Now,
	}
}

// SetClock подменяет часы (тесты)
func (s *OfferService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateOffer проверяет и сохраняет оффер
func (s *OfferService) CreateOffer(ctx context.Context, adminID int64, o *domain.Offer) error {
	switch {
	case o.Title == "":
		return domain.Validation("title is required")
	case o.PointsReward <= 0:
		return domain.Validation("points reward must be positive")
	case len(o.Countries) == 0:
		return domain.Validation("at least one country is required")
	case o.StartDate != nil && o.EndDate != nil && o.EndDate.Before(*o.StartDate):
		return domain.Validation("end date is before start date")
	}
	for _, lim := range []int64{o.DailyLimit, o.TotalLimit, o.UserDailyLimit, o.UserTotalLimit} {
		if lim < domain.Unlimited {
			return domain.Validation("limits must be -1 (unlimited) or non-negative")
		}
	}
	if err := o.ExternalData.Validate(); err != nil {
		return domain.Validation("external data: %v", err)
	}

	err := s.store.InTx(ctx, func(q repository.Querier) error {
		return q.CreateOffer(ctx, o)
	})
	if err != nil {
		return err
	}
	s.cache.Add(o.ID, *o)
	s.audit.LogAdminAction(ctx, adminID, domain.AuditActionOfferCreate, adminID, map[string]any{
		"offer_id": o.ID,
		"title":    o.Title,
		"reward":   o.PointsReward,
	})
	return nil
}

// GetOffer отдает оффер и учитывает показ
func (s *OfferService) GetOffer(ctx context.Context, offerID int64) (*domain.Offer, error) {
	o, err := s.lookup(ctx, offerID)
	if err != nil {
		return nil, err
	}
	s.bump(ctx, offerID, repository.CounterImpressions)
	return o, nil
}

// RecordOfferClick учитывает переход пользователя по офферу
func (s *OfferService) RecordOfferClick(ctx context.Context, userID, offerID int64) (repository.OfferCounters, error) {
	o, err := s.lookup(ctx, offerID)
	if err != nil {
		return repository.OfferCounters{}, err
	}
	if !o.Available(s.now()) {
		return repository.OfferCounters{}, domain.OfferUnavailable("offer %d is not available", offerID)
	}
	c, err := s.counters.Incr(ctx, offerID, repository.CounterClicks)
	if err != nil {
		return repository.OfferCounters{}, fmt.Errorf("count click: %w", err)
	}
	s.writeStats(ctx, offerID, c)
	logger.WithContext(ctx).Debug("offer click", "user_id", userID, "offer_id", offerID, "clicks", c.Clicks)
	return c, nil
}

// CompleteOffer начисляет награду за оффер.
// Скриншот (если нужен) загружается до транзакции, ссылка пишется в details записи
func (s *OfferService) CompleteOffer(ctx context.Context, userID, offerID int64, proof domain.OfferProof, meta RequestMeta) (*domain.Transaction, error) {
	pre, err := s.lookup(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if pre.RequiresScreenshot && len(proof.Screenshot) == 0 {
		return nil, domain.Validation("offer %d requires a screenshot", offerID)
	}

	details := map[string]any{"offer_title": pre.Title, "provider": pre.Provider}
	if len(proof.Screenshot) > 0 {
		if s.proofs == nil {
			return nil, errors.New("proof storage is not configured")
		}
		url, err := s.proofs.PutProof(ctx, userID, offerID, proof.Screenshot, proof.ContentType)
		if err != nil {
			return nil, fmt.Errorf("upload proof: %w", err)
		}
		details["screenshot_url"] = url
	}
	var externalID *string
	if proof.ExternalID != "" {
		externalID = &proof.ExternalID
		details["external_id"] = proof.ExternalID
	}

	var (
		entry *domain.Transaction
		user  domain.User
	)
	err = s.balance.WithUserLock(ctx, userID, func(m *Mutation, u *domain.User) error {
		if err := checkActive(u); err != nil {
			return err
		}
		// общие лимиты считаются по всем пользователям: без блокировки оффера
		// две параллельные транзакции увидят одинаковый счетчик
		get := m.Q.GetOffer
		if pre.SharedLimits() {
			get = m.Q.GetOfferForUpdate
		}
		o, err := get(ctx, offerID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFound("offer %d not found", offerID)
		}
		if err != nil {
			return err
		}

		country := u.Country
		if country == "" {
			country = meta.Country
		}
		if err := s.checkEligible(ctx, m, o, u.ID, country); err != nil {
			return err
		}

		e, err := m.Apply(ctx, u, DeltaRequest{
			Points:      o.PointsReward,
			Type:        domain.TxOfferCompletion,
			Description: "Offer completed: " + o.Title,
			OfferID:     &o.ID,
			ExternalID:  externalID,
			Details:     details,
			Meta:        meta,
		})
		var dup *repository.DuplicateError
		if errors.As(err, &dup) && dup.Field == "external_id" {
			return domain.NotEligible("completion %q was already credited", proof.ExternalID)
		}
		if err != nil {
			return err
		}
		entry, user = e, *u
		return nil
	})
	if err != nil {
		return nil, recordRejection(ctx, s.metrics, "offer", err)
	}

	s.bump(ctx, offerID, repository.CounterConversions)
	s.audit.LogWithRequest(ctx, userID, domain.AuditActionOfferComplete, domain.AuditCategoryEarning, meta, map[string]any{
		"offer_id": offerID,
		"points":   entry.Points,
	})
	s.notifier.Notify(ctx, user, notify.BalanceEvent(entry, "Offer completed"))
	return entry, nil
}

// checkEligible: активность и даты, страна, лимиты пользователя и общие лимиты оффера.
// Все счетчики берутся из леджера
func (s *OfferService) checkEligible(ctx context.Context, m *Mutation, o *domain.Offer, userID int64, country domain.Country) error {
	now := s.now()
	if !o.Available(now) {
		return domain.OfferUnavailable("offer %d is not available", o.ID)
	}
	if !o.TargetsCountry(country) {
		return domain.OfferUnavailable("offer %d is not available in %s", o.ID, country)
	}

	dayStart, _ := domain.DayWindow(now)
	count := func(user *int64, since *time.Time) (int64, error) {
		return m.Q.CountTransactions(ctx, domain.TransactionFilter{
			UserID:  user,
			OfferID: &o.ID,
			Type:    domain.TxOfferCompletion,
			Since:   since,
		})
	}

	checks := []struct {
		limit    int64
		user     *int64
		since    *time.Time
		exceeded func() error
	}{
		{o.UserTotalLimit, &userID, nil, func() error {
			return domain.LimitExceeded("offer %d already completed %d times", o.ID, o.UserTotalLimit)
		}},
		{o.UserDailyLimit, &userID, &dayStart, func() error {
			return domain.LimitExceeded("offer %d daily limit of %d reached", o.ID, o.UserDailyLimit)
		}},
		{o.TotalLimit, nil, nil, func() error {
			return domain.OfferUnavailable("offer %d has no completions left", o.ID)
		}},
		{o.DailyLimit, nil, &dayStart, func() error {
			return domain.OfferUnavailable("offer %d has no completions left today", o.ID)
		}},
	}
	for _, c := range checks {
		if c.limit == domain.Unlimited {
			continue
		}
		n, err := count(c.user, c.since)
		if err != nil {
			return err
		}
		if n >= c.limit {
			return c.exceeded()
		}
	}
	return nil
}

func (s *OfferService) lookup(ctx context.Context, offerID int64) (*domain.Offer, error) {
	if o, ok := s.cache.Get(offerID); ok {
		return &o, nil
	}
	var o *domain.Offer
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		o, err = q.GetOffer(ctx, offerID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("offer %d not found", offerID)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Add(offerID, *o)
	return o, nil
}

// bump - инкремент счетчика без влияния на результат операции
func (s *OfferService) bump(ctx context.Context, offerID int64, field repository.OfferCounter) {
	c, err := s.counters.Incr(ctx, offerID, field)
	if err != nil {
		logger.WithContext(ctx).Error("offer counter failed", "offer_id", offerID, "field", field, "error", err)
		return
	}
	s.writeStats(ctx, offerID, c)
}

// writeStats переносит счетчики в строку оффера и пересчитывает conversion rate
func (s *OfferService) writeStats(ctx context.Context, offerID int64, c repository.OfferCounters) {
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		return q.SetOfferStats(ctx, offerID, c)
	})
	if err != nil {
		logger.WithContext(ctx).Error("offer stats write failed", "offer_id", offerID, "error", err)
	}
}
