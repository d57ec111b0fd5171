package service

import (
	"context"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/repository"
)

// обрабатывает журнал аудита. Ошибки записи только логируются:
// аудит пишется после коммита и не должен ломать операцию
type AuditService struct {
	store repository.Store
}

func NewAuditService(store repository.Store) *AuditService {
	return &AuditService{store: store}
}

// создает новую запись в журнале аудита
func (s *AuditService) Log(ctx context.Context, userID int64, action, category string, details map[string]any) {
	s.write(ctx, &domain.AuditLog{
		UserID:   userID,
		Action:   action,
		Category: category,
		Details:  details,
	})
}

// создает запись аудита с информацией о запросе (ip, user-agent)
func (s *AuditService) LogWithRequest(ctx context.Context, userID int64, action, category string, meta RequestMeta, details map[string]any) {
	s.write(ctx, &domain.AuditLog{
		UserID:    userID,
		Action:    action,
		Category:  category,
		Details:   details,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// логирует действие над выплатой. actorID = nil, если действует сам пользователь
func (s *AuditService) LogPayout(ctx context.Context, p *domain.Payout, action string, actorID *int64, details map[string]any) {
	if details == nil {
		details = make(map[string]any)
	}
	details["payout_id"] = p.ID
	details["points"] = p.Amount.Points
	details["status"] = p.Status

	s.write(ctx, &domain.AuditLog{
		UserID:   p.UserID,
		ActorID:  actorID,
		Action:   action,
		Category: domain.AuditCategoryPayout,
		Details:  details,
	})
}

// логирует действие администратора над пользователем
func (s *AuditService) LogAdminAction(ctx context.Context, adminID int64, action string, targetUserID int64, details map[string]any) {
	if details == nil {
		details = make(map[string]any)
	}
	details["admin_id"] = adminID

	s.write(ctx, &domain.AuditLog{
		UserID:   targetUserID,
		ActorID:  &adminID,
		Action:   action,
		Category: domain.AuditCategoryAdmin,
		Details:  details,
	})
}

// логирует вход пользователя
func (s *AuditService) LogLogin(ctx context.Context, userID int64, ok bool, meta RequestMeta) {
	action := domain.AuditActionLogin
	if !ok {
		action = domain.AuditActionLoginFailed
	}
	s.LogWithRequest(ctx, userID, action, domain.AuditCategoryAuth, meta, nil)
}

// возвращает записи аудита для пользователя, новые сверху
func (s *AuditService) GetUserAuditLogs(ctx context.Context, userID int64, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []domain.AuditLog
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		logs, err = q.ListAudit(ctx, userID, limit)
		return err
	})
	return logs, err
}

func (s *AuditService) write(ctx context.Context, l *domain.AuditLog) {
	if s == nil {
		return
	}
	wctx := context.WithoutCancel(ctx)
	err := s.store.InTx(wctx, func(q repository.Querier) error {
		return q.InsertAudit(wctx, l)
	})
	if err != nil {
		logger.WithContext(ctx).Error("не удалось создать запись аудита", "error", err, "action", l.Action, "user_id", l.UserID)
	}
}
