package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"reward_platform/internal/config"
	"reward_platform/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeProcessor struct {
	mu      sync.Mutex
	sent    []int64
	sendErr error
}

func (p *fakeProcessor) Method() domain.PaymentMethodType { return domain.MethodPaypal }

func (p *fakeProcessor) ValidateAccount(accountID string) error {
	if accountID == "bad" {
		return errors.New("malformed account")
	}
	return nil
}

func (p *fakeProcessor) Send(_ context.Context, payout *domain.Payout) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, payout.ID)
	return "tx-abc", nil
}

func bkash(points int64) PayoutRequest {
	return PayoutRequest{Points: points, Method: domain.PaymentMethod{Type: domain.MethodBkash, AccountID: "01700000000"}}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	amount, fee, net := f.payouts.Quote(300, domain.CountryBD)
	assert.Equal(t, "3", amount.USDValue.String())
	assert.Equal(t, "330", amount.LocalValue.String())
	assert.Equal(t, "BDT", amount.LocalCurrency)
	assert.Equal(t, "0.06", fee.String())
	assert.Equal(t, "2.94", net.String())

	amount, _, _ = f.payouts.Quote(550, domain.CountryUS)
	assert.Equal(t, "USD", amount.LocalCurrency)
	assert.True(t, amount.LocalValue.Equal(decimal.RequireFromString("5.5")))
}

func TestRequestPayoutBelowMinimum(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 250)

	_, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(250), RequestMeta{})
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))
	assert.Equal(t, int64(250), f.get(t, u.ID).Points)
	assert.Equal(t, int64(0), f.entries(t, u.ID, domain.TxWithdrawal))
}

func TestRequestPayoutMoreThanBalance(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 600)

	_, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(601), RequestMeta{})
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))
}

func TestRequestPayoutValidation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 600)

	cases := map[string]PayoutRequest{
		"zero points":    bkash(0),
		"unknown method": {Points: 300, Method: domain.PaymentMethod{Type: "cash", AccountID: "x"}},
		"no account":     {Points: 300, Method: domain.PaymentMethod{Type: domain.MethodBkash, AccountID: "  "}},
		"ton disabled":   {Points: 300, Method: domain.PaymentMethod{Type: domain.MethodTON, AccountID: "x"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.payouts.RequestPayout(f.ctx, u.ID, req, RequestMeta{})
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
	assert.Equal(t, int64(600), f.get(t, u.ID).Points)
}

func TestRejectRefundsOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 600)
	mod := f.moderator(t, domain.RoleModerator)

	p, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(300), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutPending, p.Status)
	assert.Equal(t, int64(300), f.get(t, u.ID).Points)

	_, err = f.payouts.TransitionPayout(f.ctx, TransitionRequest{
		PayoutID: p.ID, ActorID: mod.ID, ActorRole: mod.Role, Action: domain.ActionReject,
	})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err), "reason is required")

	rejected, err := f.payouts.TransitionPayout(f.ctx, TransitionRequest{
		PayoutID: p.ID, ActorID: mod.ID, ActorRole: mod.Role, Action: domain.ActionReject, Note: "wrong number",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutRejected, rejected.Status)
	assert.Equal(t, "wrong number", rejected.RejectionReason)
	require.NotNil(t, rejected.RejectedBy)
	assert.Equal(t, mod.ID, *rejected.RejectedBy)

	_, err = f.payouts.TransitionPayout(f.ctx, TransitionRequest{
		PayoutID: p.ID, ActorID: mod.ID, ActorRole: mod.Role, Action: domain.ActionReject, Note: "again",
	})
	assert.Equal(t, domain.KindStateTransition, domain.KindOf(err))

	assert.Equal(t, int64(600), f.get(t, u.ID).Points)
	assert.Equal(t, int64(1), f.entries(t, u.ID, domain.TxRefund))
	f.assertConsistent(t)
}

func TestConcurrentCancelRefundsOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 600)
	p, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(400), RequestMeta{})
	require.NoError(t, err)

	var (
		g   errgroup.Group
		mu  sync.Mutex
		oks int
	)
	for range 10 {
		g.Go(func() error {
			_, err := f.payouts.CancelPayout(f.ctx, u.ID, p.ID)
			if err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
				return nil
			}
			if domain.KindOf(err) != domain.KindStateTransition {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, oks)
	assert.Equal(t, int64(600), f.get(t, u.ID).Points)
	assert.Equal(t, int64(1), f.entries(t, u.ID, domain.TxRefund))
	f.assertConsistent(t)
}

func TestCancelForeignPayout(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, domain.CountryBD, 600)
	other := f.user(t, domain.CountryBD, 0)
	p, err := f.payouts.RequestPayout(f.ctx, owner.ID, bkash(300), RequestMeta{})
	require.NoError(t, err)

	_, err = f.payouts.CancelPayout(f.ctx, other.ID, p.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestPayoutLifecycle(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 600)
	mod := f.moderator(t, domain.RoleAdmin)
	p, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(300), RequestMeta{})
	require.NoError(t, err)

	step := func(action domain.PayoutAction, ext string) (*domain.Payout, error) {
		return f.payouts.TransitionPayout(f.ctx, TransitionRequest{
			PayoutID: p.ID, ActorID: mod.ID, ActorRole: mod.Role, Action: action, ExternalTransactionID: ext,
		})
	}

	_, err = step(domain.ActionComplete, "")
	assert.Equal(t, domain.KindStateTransition, domain.KindOf(err))
	_, err = step(domain.ActionProcess, "")
	assert.Equal(t, domain.KindStateTransition, domain.KindOf(err))

	got, err := step(domain.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutApproved, got.Status)

	got, err = step(domain.ActionProcess, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutProcessing, got.Status)

	_, err = f.payouts.CancelPayout(f.ctx, u.ID, p.ID)
	assert.Equal(t, domain.KindStateTransition, domain.KindOf(err))

	got, err = step(domain.ActionComplete, "BK123")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCompleted, got.Status)
	assert.Equal(t, "BK123", got.ExternalTransactionID)
	assert.False(t, got.AutoProcessed)

	assert.Equal(t, int64(300), f.get(t, u.ID).Points)
	assert.Equal(t, int64(0), f.entries(t, u.ID, domain.TxRefund))
	f.assertConsistent(t)
}

func TestTransitionRequiresModerator(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 600)
	p, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(300), RequestMeta{})
	require.NoError(t, err)

	_, err = f.payouts.TransitionPayout(f.ctx, TransitionRequest{
		PayoutID: p.ID, ActorID: u.ID, ActorRole: domain.RoleUser, Action: domain.ActionApprove,
	})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = f.payouts.TransitionPayout(f.ctx, TransitionRequest{
		PayoutID: p.ID, ActorID: u.ID, ActorRole: domain.RoleAdmin, Action: domain.ActionCancel,
	})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func newProcessorFixture(t *testing.T, proc *fakeProcessor) *fixture {
	t.Helper()
	f := newFixture(t)
	f.payouts = NewPayoutService(f.store, f.balance, f.audit, nil, nil, config.PayoutConfig{
		FeePercent: decimal.NewFromInt(2),
	}, proc)
	f.payouts.SetClock(f.clock.Now)
	return f
}

func TestProcessSendsAutomatically(t *testing.T) {
	proc := &fakeProcessor{}
	f := newProcessorFixture(t, proc)
	u := f.user(t, domain.CountryUS, 1000)
	mod := f.moderator(t, domain.RoleModerator)

	_, err := f.payouts.RequestPayout(f.ctx, u.ID, PayoutRequest{
		Points: 600, Method: domain.PaymentMethod{Type: domain.MethodPaypal, AccountID: "bad"},
	}, RequestMeta{})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	p, err := f.payouts.RequestPayout(f.ctx, u.ID, PayoutRequest{
		Points: 600, Method: domain.PaymentMethod{Type: domain.MethodPaypal, AccountID: "me@example.com"},
	}, RequestMeta{})
	require.NoError(t, err)

	for _, action := range []domain.PayoutAction{domain.ActionApprove, domain.ActionProcess} {
		p, err = f.payouts.TransitionPayout(f.ctx, TransitionRequest{
			PayoutID: p.ID, ActorID: mod.ID, ActorRole: mod.Role, Action: action,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.PayoutCompleted, p.Status)
	assert.True(t, p.AutoProcessed)
	assert.Equal(t, "tx-abc", p.ExternalTransactionID)
	assert.Equal(t, []int64{p.ID}, proc.sent)
}

func TestProcessSendFailureStaysProcessing(t *testing.T) {
	proc := &fakeProcessor{sendErr: errors.New("node unavailable")}
	f := newProcessorFixture(t, proc)
	u := f.user(t, domain.CountryUS, 1000)
	mod := f.moderator(t, domain.RoleModerator)

	p, err := f.payouts.RequestPayout(f.ctx, u.ID, PayoutRequest{
		Points: 600, Method: domain.PaymentMethod{Type: domain.MethodPaypal, AccountID: "me@example.com"},
	}, RequestMeta{})
	require.NoError(t, err)

	for _, action := range []domain.PayoutAction{domain.ActionApprove, domain.ActionProcess} {
		p, err = f.payouts.TransitionPayout(f.ctx, TransitionRequest{
			PayoutID: p.ID, ActorID: mod.ID, ActorRole: mod.Role, Action: action,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.PayoutProcessing, p.Status)
	assert.Contains(t, p.AdminNotes, "node unavailable")
	assert.Equal(t, int64(400), f.get(t, u.ID).Points)
}

func TestMethods(t *testing.T) {
	f := newFixture(t)
	methods := f.payouts.Methods(domain.CountryBD)
	for _, m := range methods {
		assert.NotEqual(t, domain.MethodTON, m.Type)
		assert.Equal(t, int64(200), m.MinPoints)
		assert.False(t, m.Automatic)
	}
	assert.Len(t, methods, len(domain.PaymentMethodTypes())-1)
}

func TestListPayouts(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 1000)
	for range 3 {
		_, err := f.payouts.RequestPayout(f.ctx, u.ID, bkash(200), RequestMeta{})
		require.NoError(t, err)
	}

	items, err := f.payouts.ListPayouts(f.ctx, domain.PayoutFilter{UserID: &u.ID})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = f.payouts.ListPayouts(f.ctx, domain.PayoutFilter{Status: "lost"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
