package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"reward_platform/internal/config"
	"reward_platform/internal/counters"
	"reward_platform/internal/domain"
	"reward_platform/internal/repository"
	"reward_platform/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctx   context.Context
	clock *testClock
	store *memory.Store

	balance   *BalanceService
	audit     *AuditService
	earnings  *EarningService
	referrals *ReferralService
	auth      *AuthService
	offers    *OfferService
	payouts   *PayoutService
	ledger    *LedgerService
	admin     *AdminService
	tokens    *TokenManager

	seq int
}

func testEarningConfig() config.EarningConfig {
	return config.EarningConfig{
		DailyBonusBase:       10,
		DailyBonusStep:       5,
		DailyBonusCap:        30,
		VideoReward:          5,
		VideoDailyLimit:      3,
		QuizPointsPerCorrect: 2,
		QuizDailyLimit:       2,
		QuizQuestions:        5,
		ReferralPercent:      10,
	}
}

func newFixture(t *testing.T, opts ...func(*config.EarningConfig)) *fixture {
	t.Helper()
	cfg := testEarningConfig()
	for _, o := range opts {
		o(&cfg)
	}

	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := memory.New()
	store.SetClock(clock.Now)

	bank, err := LoadQuizBank()
	require.NoError(t, err)

	f := &fixture{ctx: context.Background(), clock: clock, store: store}
	f.balance = NewBalanceService(store, nil)
	f.audit = NewAuditService(store)
	f.earnings = NewEarningService(f.balance, nil, nil, cfg, bank)
	f.earnings.SetClock(clock.Now)
	f.referrals = NewReferralService(store, f.balance, f.audit, nil, cfg.ReferralPercent)
	f.tokens = NewTokenManager("test-secret", time.Hour)
	f.auth = NewAuthService(store, f.balance, f.referrals, f.tokens, f.audit, "", cfg.SignupBonus)
	f.auth.SetClock(clock.Now)
	f.auth.SetBcryptCost(bcrypt.MinCost)
	f.offers = NewOfferService(store, f.balance, counters.NewStore(store), nil, f.audit, nil, nil)
	f.offers.SetClock(clock.Now)
	f.payouts = NewPayoutService(store, f.balance, f.audit, nil, nil, config.PayoutConfig{
		FeePercent:    decimal.NewFromInt(2),
		ExchangeRates: map[string]decimal.Decimal{"BDT": decimal.NewFromInt(110)},
	})
	f.payouts.SetClock(clock.Now)
	f.ledger = NewLedgerService(store)
	f.admin = NewAdminService(store, f.balance, f.audit, nil)
	return f
}

// user создает активного пользователя и начисляет points через admin_adjustment
func (f *fixture) user(t *testing.T, country domain.Country, points int64) *domain.User {
	t.Helper()
	return f.userWithRole(t, country, domain.RoleUser, points)
}

func (f *fixture) moderator(t *testing.T, role domain.Role) *domain.User {
	t.Helper()
	return f.userWithRole(t, domain.CountryUS, role, 0)
}

func (f *fixture) userWithRole(t *testing.T, country domain.Country, role domain.Role, points int64) *domain.User {
	t.Helper()
	f.seq++
	u := &domain.User{
		Email:        fmt.Sprintf("user%d@example.com", f.seq),
		Username:     fmt.Sprintf("user%d", f.seq),
		Country:      country,
		Role:         role,
		ReferralCode: fmt.Sprintf("CODE%04d", f.seq),
		IsActive:     true,
	}
	require.NoError(t, f.store.InTx(f.ctx, func(q repository.Querier) error {
		return q.CreateUser(f.ctx, u)
	}))
	if points > 0 {
		_, err := f.balance.ApplyDelta(f.ctx, DeltaRequest{
			UserID:      u.ID,
			Points:      points,
			Type:        domain.TxAdminAdjustment,
			Description: "seed",
		})
		require.NoError(t, err)
	}
	return f.get(t, u.ID)
}

func (f *fixture) get(t *testing.T, id int64) *domain.User {
	t.Helper()
	var u *domain.User
	require.NoError(t, f.store.View(f.ctx, func(q repository.Querier) error {
		var err error
		u, err = q.GetUser(f.ctx, id)
		return err
	}))
	return u
}

func (f *fixture) entries(t *testing.T, userID int64, typ domain.TransactionType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.View(f.ctx, func(q repository.Querier) error {
		var err error
		n, err = q.CountTransactions(f.ctx, domain.TransactionFilter{UserID: &userID, Type: typ})
		return err
	}))
	return n
}

// assertConsistent: баланс равен последней записи и сумме леджера
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	report, err := NewReconciler(f.store, nil).Run(f.ctx)
	require.NoError(t, err)
	require.Empty(t, report.Drifted)
}
