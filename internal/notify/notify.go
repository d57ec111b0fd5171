// Package notify доставляет события пользователю и админам после коммита.
// Доставка асинхронная: ошибки синков только логируются и считаются в метриках.
package notify

import (
	"context"
	"sync"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"

	"golang.org/x/sync/errgroup"
)

type EventType string

const (
	EventBalanceChanged EventType = "balance_changed"
	EventReferralBonus  EventType = "referral_bonus"
	EventPayoutCreated  EventType = "payout_requested"
	EventPayoutUpdated  EventType = "payout_status_changed"
)

// Event - то, что видит пользователь
type Event struct {
	Type      EventType              `json:"type"`
	EntryType domain.TransactionType `json:"entry_type,omitempty"`
	Points    int64                  `json:"points,omitempty"`
	Balance   int64                  `json:"balance"`
	Payout    *domain.Payout         `json:"payout,omitempty"`
	Message   string                 `json:"message,omitempty"`
	At        time.Time              `json:"at"`
}

// BalanceEvent собирает событие по записи леджера
func BalanceEvent(e *domain.Transaction, msg string) Event {
	typ := EventBalanceChanged
	if e.Type == domain.TxReferralBonus {
		typ = EventReferralBonus
	}
	return Event{
		Type:      typ,
		EntryType: e.Type,
		Points:    e.Points,
		Balance:   e.NewBalance,
		Message:   msg,
		At:        e.CreatedAt,
	}
}

// PayoutEvent - событие смены статуса выплаты
func PayoutEvent(typ EventType, p *domain.Payout, balance int64, msg string) Event {
	return Event{
		Type:    typ,
		Balance: balance,
		Payout:  p,
		Message: msg,
		At:      p.UpdatedAt,
	}
}

// Notifier вызывается ядром после успешного коммита
type Notifier interface {
	Notify(ctx context.Context, user domain.User, ev Event)
}

// Sink - один канал доставки
type Sink interface {
	Name() string
	Send(ctx context.Context, user domain.User, ev Event) error
}

const defaultTimeout = 10 * time.Second

type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewDispatcher(m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		timeout: defaultTimeout,
		metrics: m,
	}
}

// Notify не блокирует вызывающего и не зависит от отмены его контекста
func (d *Dispatcher) Notify(ctx context.Context, user domain.User, ev Event) {
	if len(d.sinks) == 0 {
		return
	}
	log := logger.WithContext(ctx)
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		var g errgroup.Group
		for _, s := range d.sinks {
			g.Go(func() error {
				if err := s.Send(sendCtx, user, ev); err != nil {
					d.metrics.NotifyFailed(s.Name())
					log.Error("notify failed", "sink", s.Name(), "event", ev.Type, "user_id", user.ID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait дожидается доставки уже отправленных событий (shutdown, тесты)
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Nop ничего не делает
type Nop struct{}

func (Nop) Notify(context.Context, domain.User, Event) {}

// LogSink пишет события в лог
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(ctx context.Context, user domain.User, ev Event) error {
	args := []any{"event", ev.Type, "user_id", user.ID, "balance", ev.Balance}
	if ev.Points != 0 {
		args = append(args, "points", ev.Points, "entry_type", ev.EntryType)
	}
	if ev.Payout != nil {
		args = append(args, "payout_id", ev.Payout.ID, "status", ev.Payout.Status)
	}
	logger.WithContext(ctx).Info("notify", args...)
	return nil
}
