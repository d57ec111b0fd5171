package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/notify"
	"reward_platform/internal/repository"
)

// предоставляет административные операции над пользователями
type AdminService struct {
	store    repository.Store
	balance  *BalanceService
	audit    *AuditService
	notifier notify.Notifier
}

// создает новый административный сервис
func NewAdminService(store repository.Store, balance *BalanceService, audit *AuditService, n notify.Notifier) *AdminService {
	if n == nil {
		n = notify.Nop{}
	}
	return &AdminService{store: store, balance: balance, audit: audit, notifier: n}
}

// AdjustRequest - ручная корректировка баланса
type AdjustRequest struct {
	AdminID   int64                  `json:"-"`
	AdminRole domain.Role            `json:"-"`
	UserID    int64                  `json:"-"`
	Points    int64                  `json:"points"`
	Type      domain.TransactionType `json:"type"`
	Reason    string                 `json:"reason"`
}

// AdjustBalance: admin_adjustment с любым знаком, bonus только положительный, penalty только отрицательный
func (s *AdminService) AdjustBalance(ctx context.Context, req AdjustRequest) (*domain.Transaction, error) {
	if req.AdminRole != domain.RoleAdmin {
		return nil, domain.Forbidden("balance adjustments require admin role")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Type == "" {
		req.Type = domain.TxAdminAdjustment
	}
	switch {
	case req.Points == 0:
		return nil, domain.Validation("points must be nonzero")
	case req.Reason == "":
		return nil, domain.Validation("reason is required")
	case req.Type == domain.TxBonus && req.Points < 0:
		return nil, domain.Validation("bonus must be positive")
	case req.Type == domain.TxPenalty && req.Points > 0:
		return nil, domain.Validation("penalty must be negative")
	case req.Type != domain.TxAdminAdjustment && req.Type != domain.TxBonus && req.Type != domain.TxPenalty:
		return nil, domain.Validation("type %q cannot be set manually", req.Type)
	}

	var (
		entry *domain.Transaction
		user  domain.User
	)
	err := s.balance.WithUserLock(ctx, req.UserID, func(m *Mutation, u *domain.User) error {
		e, err := m.Apply(ctx, u, DeltaRequest{
			Points:      req.Points,
			Type:        req.Type,
			Description: req.Reason,
			Details:     map[string]any{"admin_id": req.AdminID},
		})
		if err != nil {
			return err
		}
		entry, user = e, *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("balance adjusted by admin", "admin_id", req.AdminID, "user_id", req.UserID,
		"type", req.Type, "points", req.Points)
	s.audit.LogAdminAction(ctx, req.AdminID, domain.AuditActionAdminAdjust, req.UserID, map[string]any{
		"type":        req.Type,
		"points":      req.Points,
		"reason":      req.Reason,
		"new_balance": entry.NewBalance,
	})
	s.notifier.Notify(ctx, user, notify.BalanceEvent(entry, req.Reason))
	return entry, nil
}

// возвращает пользователя по id или telegram id ("tg:123")
func (s *AdminService) GetUser(ctx context.Context, identifier string) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	byTelegram := strings.HasPrefix(identifier, "tg:")
	id, err := strconv.ParseInt(strings.TrimPrefix(identifier, "tg:"), 10, 64)
	if err != nil {
		return nil, domain.Validation("bad user identifier %q", identifier)
	}

	var u *domain.User
	err = s.store.View(ctx, func(q repository.Querier) error {
		var err error
		if byTelegram {
			u, err = q.GetUserByTelegramID(ctx, id)
		} else {
			u, err = q.GetUser(ctx, id)
		}
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("user %s not found", identifier)
	}
	return u, err
}

// ModeratorByTelegram - платформенный модератор или админ, привязанный к чату tgID
func (s *AdminService) ModeratorByTelegram(ctx context.Context, tgID int64) (*domain.User, error) {
	var u *domain.User
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		u, err = q.GetUserByTelegramID(ctx, tgID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Forbidden("telegram account %d is not linked", tgID)
	}
	if err != nil {
		return nil, err
	}
	if !u.Role.CanModerate() || !u.CanAct() {
		return nil, domain.Forbidden("user %d cannot moderate payouts", u.ID)
	}
	return u, nil
}
