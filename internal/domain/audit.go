package domain

import "time"

// Логирование важных действий
type AuditLog struct {
	ID        int64          `db:"id" json:"id"`
	UserID    int64          `db:"user_id" json:"user_id"`
	ActorID   *int64         `db:"actor_id" json:"actor_id,omitempty"`
	Action    string         `db:"action" json:"action"`
	Category  string         `db:"category" json:"category"`
	Details   map[string]any `db:"details" json:"details"`
	IP        string         `db:"ip" json:"ip,omitempty"`
	UserAgent string         `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Категории
const (
	AuditCategoryAuth    = "auth"
	AuditCategoryEarning = "earning"
	AuditCategoryBalance = "balance"
	AuditCategoryAdmin   = "admin"
	AuditCategoryPayout  = "payout"
)

const (
	// Авторизация
	AuditActionRegister     = "register"
	AuditActionLogin        = "login"
	AuditActionLoginFailed  = "login_failed"
	AuditActionTelegramLink = "telegram_link"

	// Начисления
	AuditActionOfferComplete = "offer_complete"
	AuditActionReferralBonus = "referral_bonus"

	// Выплаты
	AuditActionPayoutRequest  = "payout_request"
	AuditActionPayoutApprove  = "payout_approve"
	AuditActionPayoutReject   = "payout_reject"
	AuditActionPayoutProcess  = "payout_process"
	AuditActionPayoutComplete = "payout_complete"
	AuditActionPayoutCancel   = "payout_cancel"

	// Действия админов
	AuditActionAdminAdjust = "admin_adjust_balance"
	AuditActionOfferCreate = "admin_offer_create"
)
