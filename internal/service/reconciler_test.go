package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/metrics"
	"reward_platform/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerFindsDrift(t *testing.T) {
	f := newFixture(t)
	clean := f.user(t, domain.CountryBD, 100)
	broken := f.user(t, domain.CountryBD, 100)
	f.user(t, domain.CountryBD, 0)

	// баланс изменен в обход леджера
	require.NoError(t, f.store.InTx(f.ctx, func(q repository.Querier) error {
		u, err := q.GetUser(f.ctx, broken.ID)
		if err != nil {
			return err
		}
		u.Points += 7
		return q.UpdateBalance(f.ctx, u)
	}))

	m := metrics.New(prometheus.NewRegistry())
	report, err := NewReconciler(f.store, m).Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, Drift{UserID: broken.ID, Points: 107, LastBalance: 100, LedgerSum: 100}, report.Drifted[0])
	assert.NotEqual(t, clean.ID, report.Drifted[0].UserID)
}

// lockingStore запоминает, какие строки пользователей брались под блокировку
type lockingStore struct {
	repository.Store
	mu     sync.Mutex
	locked []int64
}

type lockingQuerier struct {
	repository.Querier
	s *lockingStore
}

func (s *lockingStore) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.Store.InTx(ctx, func(q repository.Querier) error {
		return fn(lockingQuerier{Querier: q, s: s})
	})
}

func (q lockingQuerier) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	q.s.mu.Lock()
	q.s.locked = append(q.s.locked, id)
	q.s.mu.Unlock()
	return q.Querier.GetUserForUpdate(ctx, id)
}

func TestReconcilerChecksUnderUserLock(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, domain.CountryBD, 10)
	b := f.user(t, domain.CountryUS, 0)

	store := &lockingStore{Store: f.store}
	report, err := NewReconciler(store, nil).Run(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Drifted)
	assert.Equal(t, []int64{a.ID, b.ID}, store.locked)
}

func TestReconcilerSchedule(t *testing.T) {
	f := newFixture(t)
	f.user(t, domain.CountryBD, 10)

	sched, err := NewReconciler(f.store, nil).Schedule(f.ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.NoError(t, sched.Shutdown())
}
