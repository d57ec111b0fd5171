package service

import (
	"context"
	"errors"
	"testing"

	"reward_platform/internal/domain"
	"reward_platform/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestApplyDeltaWritesSnapshot(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 100)

	e, err := f.balance.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: -30, Type: domain.TxPenalty, Description: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), e.PreviousBalance)
	assert.Equal(t, int64(70), e.NewBalance)
	assert.Equal(t, domain.TxStatusCompleted, e.Status)

	got := f.get(t, u.ID)
	assert.Equal(t, int64(70), got.Points)
	assert.Equal(t, int64(100), got.TotalEarned)
	f.assertConsistent(t)
}

func TestApplyDeltaRejectsOverdraft(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 10)

	_, err := f.balance.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: -11, Type: domain.TxPenalty})
	assert.True(t, errors.Is(err, domain.ErrInsufficientBalance))
	assert.Equal(t, int64(10), f.get(t, u.ID).Points)
	assert.Equal(t, int64(0), f.entries(t, u.ID, domain.TxPenalty))
}

func TestApplyDeltaValidation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 10)

	_, err := f.balance.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: 0, Type: domain.TxBonus})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.balance.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: 5, Type: "lottery"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.balance.ApplyDelta(f.ctx, DeltaRequest{UserID: 999, Points: 5, Type: domain.TxBonus})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestAtomicRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 50)

	err := f.balance.WithUserLock(f.ctx, u.ID, func(m *Mutation, locked *domain.User) error {
		if _, err := m.Apply(f.ctx, locked, DeltaRequest{Points: 20, Type: domain.TxBonus}); err != nil {
			return err
		}
		return domain.NotEligible("second step failed")
	})
	require.Error(t, err)
	assert.Equal(t, int64(50), f.get(t, u.ID).Points)
	assert.Equal(t, int64(0), f.entries(t, u.ID, domain.TxBonus))
}

// conflictStore отдает ErrConflict первые n раз
type conflictStore struct {
	repository.Store
	fails int
	calls int
}

func (s *conflictStore) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.calls++
	if s.calls <= s.fails {
		return domain.Conflict(errors.New("serialization failure"))
	}
	return s.Store.InTx(ctx, fn)
}

func TestAtomicRetriesConflicts(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 0)

	cs := &conflictStore{Store: f.store, fails: 2}
	b := NewBalanceService(cs, nil)
	b.initialBackoff = 0

	_, err := b.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: 5, Type: domain.TxBonus})
	require.NoError(t, err)
	assert.Equal(t, 3, cs.calls)
	assert.Equal(t, int64(5), f.get(t, u.ID).Points)
}

func TestAtomicGivesUpAfterAttempts(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 0)

	cs := &conflictStore{Store: f.store, fails: 10}
	b := NewBalanceService(cs, nil)
	b.initialBackoff = 0

	_, err := b.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: 5, Type: domain.TxBonus})
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, mutationAttempts, cs.calls)
}

func TestAtomicDoesNotRetryBusinessErrors(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 0)

	cs := &conflictStore{Store: f.store}
	b := NewBalanceService(cs, nil)

	_, err := b.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: -5, Type: domain.TxPenalty})
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))
	assert.Equal(t, 1, cs.calls)
}

func TestConcurrentDeltasKeepLedgerOrdered(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 0)

	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			_, err := f.balance.ApplyDelta(f.ctx, DeltaRequest{UserID: u.ID, Points: 3, Type: domain.TxBonus})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(150), f.get(t, u.ID).Points)
	page, err := f.ledger.GetUserLedger(f.ctx, u.ID, 1, 100)
	require.NoError(t, err)
	for i := 1; i < len(page.Items); i++ {
		assert.Equal(t, page.Items[i].NewBalance, page.Items[i-1].PreviousBalance)
	}
	f.assertConsistent(t)
}
