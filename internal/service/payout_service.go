package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reward_platform/internal/config"
	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/notify"
	"reward_platform/internal/repository"

	"github.com/shopspring/decimal"
)

// PayoutProcessor отправляет выплату во внешнюю платежную систему
type PayoutProcessor interface {
	Method() domain.PaymentMethodType
	// ValidateAccount проверяет реквизиты до списания
	ValidateAccount(accountID string) error
	// Send возвращает id транзакции во внешней системе
	Send(ctx context.Context, p *domain.Payout) (string, error)
}

type PayoutRequest struct {
	Points int64                `json:"points"`
	Method domain.PaymentMethod `json:"payment_method"`
}

// TransitionRequest - действие модератора над выплатой
type TransitionRequest struct {
	PayoutID              int64
	ActorID               int64
	ActorRole             domain.Role
	Action                domain.PayoutAction
	Note                  string
	ExternalTransactionID string
}

// MethodInfo - способ выплаты, доступный пользователю
type MethodInfo struct {
	Type          domain.PaymentMethodType `json:"type"`
	LocalCurrency string                   `json:"local_currency"`
	MinPoints     int64                    `json:"min_points"`
	Automatic     bool                     `json:"automatic"`
}

type PayoutService struct {
	store      repository.Store
	balance    *BalanceService
	audit      *AuditService
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	cfg        config.PayoutConfig
	processors map[domain.PaymentMethodType]PayoutProcessor

	now func() time.Time
}

func NewPayoutService(store repository.Store, balance *BalanceService, audit *AuditService, n notify.Notifier, m *metrics.Metrics, cfg config.PayoutConfig, processors ...PayoutProcessor) *PayoutService {
	if n == nil {
		n = notify.Nop{}
	}
	byMethod := make(map[domain.PaymentMethodType]PayoutProcessor, len(processors))
	for _, p := range processors {
		byMethod[p.Method()] = p
	}
	return &PayoutService{
		store:      store,
		balance:    balance,
		audit:      audit,
		notifier:   n,
		metrics:    m,
		cfg:        cfg,
		processors: byMethod,
		now:        time.Now,
	}
}

// SetClock подменяет часы (тесты)
func (s *PayoutService) SetClock(now func() time.Time) {
	s.now = now
}

// Quote считает суммы выплаты: usd = points/100, местная валюта по стране, комиссия от usd
func (s *PayoutService) Quote(points int64, country domain.Country) (domain.PayoutAmount, decimal.Decimal, decimal.Decimal) {
	usd := decimal.New(points, 0).Div(decimal.New(domain.PointsPerUSD, 0)).Round(2)

	currency := country.Currency()
	rate, ok := s.cfg.ExchangeRates[currency]
	if currency == "USD" || !ok {
		currency, rate = "USD", decimal.New(1, 0)
	}

	fee := usd.Mul(s.cfg.FeePercent).Div(decimal.New(100, 0)).Round(2)
	amount := domain.PayoutAmount{
		Points:        points,
		USDValue:      usd,
		LocalValue:    usd.Mul(rate).Round(2),
		LocalCurrency: currency,
	}
	return amount, fee, usd.Sub(fee)
}

// Methods - способы выплаты для страны
func (s *PayoutService) Methods(country domain.Country) []MethodInfo {
	var out []MethodInfo
	for _, m := range domain.PaymentMethodTypes() {
		_, auto := s.processors[m]
		if m == domain.MethodTON && !auto {
			continue
		}
		out = append(out, MethodInfo{
			Type:          m,
			LocalCurrency: country.Currency(),
			MinPoints:     domain.MinWithdrawPoints(country),
			Automatic:     auto,
		})
	}
	return out
}

// RequestPayout списывает поинты сразу и создает выплату в pending
func (s *PayoutService) RequestPayout(ctx context.Context, userID int64, req PayoutRequest, meta RequestMeta) (*domain.Payout, error) {
	req.Method.AccountID = strings.TrimSpace(req.Method.AccountID)
	req.Method.AccountName = strings.TrimSpace(req.Method.AccountName)
	switch {
	case req.Points <= 0:
		return nil, domain.Validation("points must be positive")
	case !req.Method.Type.Valid():
		return nil, domain.Validation("unsupported payment method %q", req.Method.Type)
	case req.Method.AccountID == "":
		return nil, domain.Validation("account id is required")
	}
	if proc, ok := s.processors[req.Method.Type]; ok {
		if err := proc.ValidateAccount(req.Method.AccountID); err != nil {
			return nil, domain.Validation("invalid %s account: %v", req.Method.Type, err)
		}
	} else if req.Method.Type == domain.MethodTON {
		return nil, domain.Validation("payment method %q is not available", req.Method.Type)
	}

	var (
		payout *domain.Payout
		user   domain.User
	)
	err := s.balance.WithUserLock(ctx, userID, func(m *Mutation, u *domain.User) error {
		if err := checkActive(u); err != nil {
			return err
		}
		if req.Points > u.Points {
			return domain.InsufficientBalance("balance %d is less than requested %d", u.Points, req.Points)
		}
		if !u.CanWithdraw() {
			return domain.InsufficientBalance("minimum balance for withdrawal is %d points", domain.MinWithdrawPoints(u.Country))
		}

		amount, fee, net := s.Quote(req.Points, u.Country)
		p := &domain.Payout{
			UserID:        u.ID,
			Amount:        amount,
			Method:        req.Method,
			Status:        domain.PayoutPending,
			ProcessingFee: fee,
			NetAmount:     net,
		}
		if err := m.Q.CreatePayout(ctx, p); err != nil {
			return err
		}
		if _, err := m.Apply(ctx, u, DeltaRequest{
			Points:      -req.Points,
			Type:        domain.TxWithdrawal,
			Description: fmt.Sprintf("Payout #%d via %s", p.ID, p.Method.Type),
			PayoutID:    &p.ID,
			Meta:        meta,
		}); err != nil {
			return err
		}
		payout, user = p, *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PayoutTransition("request")
	logger.WithContext(ctx).Info("payout requested", "payout_id", payout.ID, "user_id", userID,
		"points", payout.Amount.Points, "method", payout.Method.Type)
	s.audit.LogPayout(ctx, payout, domain.AuditActionPayoutRequest, nil, map[string]any{
		"method": payout.Method.Type,
		"usd":    payout.Amount.USDValue.String(),
		"ip":     meta.IP,
	})
	s.notifier.Notify(ctx, user, notify.PayoutEvent(notify.EventPayoutCreated, payout, user.Points, ""))
	return payout, nil
}

// TransitionPayout - действие модератора. reject возвращает поинты в той же транзакции,
// process при наличии процессора отправляет выплату и завершает ее
func (s *PayoutService) TransitionPayout(ctx context.Context, req TransitionRequest) (*domain.Payout, error) {
	if !req.Action.AdminAction() {
		return nil, domain.Validation("unknown payout action %q", req.Action)
	}
	if !req.ActorRole.CanModerate() {
		return nil, domain.Forbidden("payout moderation requires moderator role")
	}
	req.Note = strings.TrimSpace(req.Note)
	if req.Action == domain.ActionReject && req.Note == "" {
		return nil, domain.Validation("rejection reason is required")
	}

	if req.Action == domain.ActionReject {
		return s.refund(ctx, req.PayoutID, req.Action, &req.ActorID, req.Note)
	}

	from, to, _ := req.Action.Transition()
	now := s.now()
	upd := repository.PayoutUpdate{
		Status:                to,
		ProcessedBy:           &req.ActorID,
		ProcessedAt:           &now,
		AdminNotes:            req.Note,
		ExternalTransactionID: strings.TrimSpace(req.ExternalTransactionID),
		At:                    now,
	}
	p, err := s.cas(ctx, req.PayoutID, req.Action, from, upd)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, p, req.Action, &req.ActorID)

	if req.Action == domain.ActionProcess {
		if proc, ok := s.processors[p.Method.Type]; ok {
			return s.autoSend(ctx, p, proc, req.ActorID)
		}
	}
	return p, nil
}

// CancelPayout - отмена своей выплаты пользователем из pending или approved
func (s *PayoutService) CancelPayout(ctx context.Context, userID, payoutID int64) (*domain.Payout, error) {
	p, err := s.get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.NotFound("payout %d not found", payoutID)
	}
	return s.refund(ctx, payoutID, domain.ActionCancel, nil, "")
}

// refund: CAS статуса и запись refund под блокировкой пользователя, одной транзакцией.
// Уникальность (payout_id, refund) в хранилище не дает вернуть поинты дважды
func (s *PayoutService) refund(ctx context.Context, payoutID int64, action domain.PayoutAction, actorID *int64, reason string) (*domain.Payout, error) {
	current, err := s.get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	from, to, _ := action.Transition()
	now := s.now()
	upd := repository.PayoutUpdate{Status: to, At: now}
	if action == domain.ActionReject {
		upd.RejectedBy, upd.RejectedAt, upd.RejectionReason = actorID, &now, reason
	}

	var (
		payout *domain.Payout
		user   domain.User
	)
	err = s.balance.WithUserLock(ctx, current.UserID, func(m *Mutation, u *domain.User) error {
		p, err := m.Q.TransitionPayout(ctx, payoutID, from, upd)
		if errors.Is(err, repository.ErrStaleStatus) {
			return s.stale(ctx, m.Q, payoutID, action)
		}
		if err != nil {
			return err
		}
		_, err = m.Apply(ctx, u, DeltaRequest{
			Points:      p.Amount.Points,
			Type:        domain.TxRefund,
			Description: fmt.Sprintf("Payout #%d %s", p.ID, to),
			PayoutID:    &p.ID,
		})
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			return domain.StateTransition("payout %d was already refunded", payoutID)
		}
		if err != nil {
			return err
		}
		payout, user = p, *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, payout, action, actorID)
	s.notifier.Notify(ctx, user, notify.PayoutEvent(notify.EventPayoutUpdated, payout, user.Points, reason))
	return payout, nil
}

func (s *PayoutService) cas(ctx context.Context, payoutID int64, action domain.PayoutAction, from []domain.PayoutStatus, upd repository.PayoutUpdate) (*domain.Payout, error) {
	var p *domain.Payout
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		p, err = q.TransitionPayout(ctx, payoutID, from, upd)
		if errors.Is(err, repository.ErrStaleStatus) {
			return s.stale(ctx, q, payoutID, action)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if action != domain.ActionReject && action != domain.ActionCancel {
		s.notifyOwner(ctx, p)
	}
	return p, nil
}

// stale объясняет, почему CAS не прошел
func (s *PayoutService) stale(ctx context.Context, q repository.Querier, payoutID int64, action domain.PayoutAction) error {
	p, err := q.GetPayout(ctx, payoutID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFound("payout %d not found", payoutID)
	}
	if err != nil {
		return err
	}
	return domain.StateTransition("cannot %s payout %d in status %s", action, payoutID, p.Status)
}

// autoSend: processing -> completed с хэшем транзакции. При ошибке выплата
// остается в processing с пометкой для ручного завершения
func (s *PayoutService) autoSend(ctx context.Context, p *domain.Payout, proc PayoutProcessor, actorID int64) (*domain.Payout, error) {
	log := logger.WithContext(ctx).With("payout_id", p.ID, "method", p.Method.Type)

	txID, sendErr := proc.Send(ctx, p)
	now := s.now()
	if sendErr != nil {
		log.Error("automatic payout failed, left in processing", "error", sendErr)
		noted, err := s.cas(ctx, p.ID, domain.ActionProcess, []domain.PayoutStatus{domain.PayoutProcessing}, repository.PayoutUpdate{
			Status:     domain.PayoutProcessing,
			AdminNotes: "automatic send failed: " + sendErr.Error(),
			At:         now,
		})
		if err != nil {
			return p, nil
		}
		return noted, nil
	}

	done, err := s.cas(ctx, p.ID, domain.ActionComplete, []domain.PayoutStatus{domain.PayoutProcessing}, repository.PayoutUpdate{
		Status:                domain.PayoutCompleted,
		ProcessedBy:           &actorID,
		ProcessedAt:           &now,
		ExternalTransactionID: txID,
		AutoProcessed:         true,
		At:                    now,
	})
	if err != nil {
		// деньги ушли, а статус не записался: нужен ручной complete с этим хэшем
		log.Error("payout sent but completion was not recorded", "tx_id", txID, "error", err)
		return nil, err
	}
	log.Info("payout sent automatically", "tx_id", txID)
	s.afterTransition(ctx, done, domain.ActionComplete, &actorID)
	return done, nil
}

func (s *PayoutService) afterTransition(ctx context.Context, p *domain.Payout, action domain.PayoutAction, actorID *int64) {
	s.metrics.PayoutTransition(string(action))
	args := []any{"payout_id", p.ID, "user_id", p.UserID, "action", action, "status", p.Status}
	if actorID != nil {
		args = append(args, "actor_id", *actorID)
	}
	logger.WithContext(ctx).Info("payout transition", args...)

	details := map[string]any{}
	if p.RejectionReason != "" {
		details["reason"] = p.RejectionReason
	}
	if p.ExternalTransactionID != "" {
		details["external_transaction_id"] = p.ExternalTransactionID
	}
	s.audit.LogPayout(ctx, p, auditAction(action), actorID, details)
}

func (s *PayoutService) notifyOwner(ctx context.Context, p *domain.Payout) {
	var user *domain.User
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		user, err = q.GetUser(ctx, p.UserID)
		return err
	})
	if err != nil {
		logger.WithContext(ctx).Error("payout owner lookup failed", "payout_id", p.ID, "error", err)
		return
	}
	s.notifier.Notify(ctx, *user, notify.PayoutEvent(notify.EventPayoutUpdated, p, user.Points, p.AdminNotes))
}

func auditAction(a domain.PayoutAction) string {
	switch a {
	case domain.ActionApprove:
		return domain.AuditActionPayoutApprove
	case domain.ActionReject:
		return domain.AuditActionPayoutReject
	case domain.ActionProcess:
		return domain.AuditActionPayoutProcess
	case domain.ActionComplete:
		return domain.AuditActionPayoutComplete
	default:
		return domain.AuditActionPayoutCancel
	}
}

func (s *PayoutService) get(ctx context.Context, payoutID int64) (*domain.Payout, error) {
	var p *domain.Payout
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		p, err = q.GetPayout(ctx, payoutID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("payout %d not found", payoutID)
	}
	return p, err
}

// GetPayout - выплата пользователя (чужая = не найдена)
func (s *PayoutService) GetPayout(ctx context.Context, userID, payoutID int64) (*domain.Payout, error) {
	p, err := s.get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.NotFound("payout %d not found", payoutID)
	}
	return p, nil
}

// ListPayouts - выплаты по фильтру, новые сверху
func (s *PayoutService) ListPayouts(ctx context.Context, f domain.PayoutFilter) ([]domain.Payout, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.Validation("unknown payout status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var items []domain.Payout
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		items, err = q.ListPayouts(ctx, f)
		return err
	})
	return items, err
}

// Stats - количество и суммы по статусам и способам
func (s *PayoutService) Stats(ctx context.Context) (*domain.PayoutStats, error) {
	var stats *domain.PayoutStats
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		stats, err = q.PayoutStats(ctx)
		return err
	})
	return stats, err
}
