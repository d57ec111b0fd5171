package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/repository"

	"github.com/go-co-op/gocron/v2"
)

const reconcileBatch = 500

// Drift - пользователь, у которого баланс не сходится с леджером
type Drift struct {
	UserID      int64 `json:"user_id"`
	Points      int64 `json:"points"`
	LastBalance int64 `json:"last_balance"`
	LedgerSum   int64 `json:"ledger_sum"`
}

type ReconcileReport struct {
	Checked  int           `json:"checked"`
	Drifted  []Drift       `json:"drifted"`
	Duration time.Duration `json:"duration"`
}

// Reconciler сверяет баланс каждого пользователя с последней записью
// и с суммой completed записей леджера
type Reconciler struct {
	store   repository.Store
	metrics *metrics.Metrics
}

func NewReconciler(store repository.Store, m *metrics.Metrics) *Reconciler {
	return &Reconciler{store: store, metrics: m}
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	start := time.Now()
	report := &ReconcileReport{}
	log := logger.WithContext(ctx)

	var after int64
	for {
		var ids []int64
		err := r.store.View(ctx, func(q repository.Querier) error {
			var err error
			ids, err = q.ListUserIDs(ctx, after, reconcileBatch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			d, err := r.check(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("check user %d: %w", id, err)
			}
			report.Checked++
			if d != nil {
				report.Drifted = append(report.Drifted, *d)
				log.Error("ledger drift", "user_id", d.UserID, "points", d.Points,
					"last_balance", d.LastBalance, "ledger_sum", d.LedgerSum)
			}
		}
		after = ids[len(ids)-1]
	}

	report.Duration = time.Since(start)
	r.metrics.SetLedgerDrift(len(report.Drifted))
	log.Info("reconciliation finished", "checked", report.Checked, "drifted", len(report.Drifted), "duration", report.Duration)
	return report, nil
}

// check сравнивает points с последней записью и с суммой леджера.
// Строка пользователя блокируется, чтобы мутация не прошла между чтениями
func (r *Reconciler) check(ctx context.Context, userID int64) (*Drift, error) {
	var d *Drift
	err := r.store.InTx(ctx, func(q repository.Querier) error {
		u, err := q.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		var last int64
		entry, err := q.LastTransaction(ctx, userID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		default:
			last = entry.NewBalance
		}
		sum, err := q.SumCompleted(ctx, userID)
		if err != nil {
			return err
		}
		if u.Points != last || u.Points != sum {
			d = &Drift{UserID: userID, Points: u.Points, LastBalance: last, LedgerSum: sum}
		}
		return nil
	})
	return d, err
}

// Schedule запускает сверку каждые interval. Вызывающий останавливает планировщик через Shutdown
func (r *Reconciler) Schedule(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := r.Run(ctx); err != nil {
				logger.Error("scheduled reconciliation failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	return sched, nil
}
