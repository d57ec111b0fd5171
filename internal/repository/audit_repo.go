package repository

import (
	"context"
	"encoding/json"

	"reward_platform/internal/domain"
)

// отвечает за операции с логами аудита
type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) InsertAudit(ctx context.Context, l *domain.AuditLog) error {
	detailsJSON, err := json.Marshal(l.Details)
	if err != nil || l.Details == nil {
		detailsJSON = []byte("{}")
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO audit_logs (user_id, actor_id, action, category, details, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, l.UserID, l.ActorID, l.Action, l.Category, detailsJSON, l.IP, l.UserAgent).Scan(&l.ID, &l.CreatedAt)
	return wrap("insert audit", err)
}

func (r *AuditRepository) ListAudit(ctx context.Context, userID int64, limit int) ([]domain.AuditLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, actor_id, action, category, details, ip, user_agent, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, wrap("list audit", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		var detailsJSON []byte
		if err := rows.Scan(&l.ID, &l.UserID, &l.ActorID, &l.Action, &l.Category, &detailsJSON, &l.IP, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, wrap("scan audit", err)
		}
		if err := json.Unmarshal(detailsJSON, &l.Details); err != nil {
			l.Details = make(map[string]any)
		}
		logs = append(logs, l)
	}
	return logs, wrap("list audit", rows.Err())
}
