package domain

import "time"

// Transaction - запись леджера. После записи не меняется, кроме статуса
type Transaction struct {
	ID              int64             `db:"id" json:"id"`
	UserID          int64             `db:"user_id" json:"user_id"`
	Type            TransactionType   `db:"type" json:"type"`
	Points          int64             `db:"points" json:"points"`
	PreviousBalance int64             `db:"previous_balance" json:"previous_balance"`
	NewBalance      int64             `db:"new_balance" json:"new_balance"`
	Description     string            `db:"description" json:"description"`
	Status          TransactionStatus `db:"status" json:"status"`
	OfferID         *int64            `db:"offer_id" json:"offer_id,omitempty"`
	ReferredUserID  *int64            `db:"referred_user_id" json:"referred_user_id,omitempty"`
	PayoutID        *int64            `db:"payout_id" json:"payout_id,omitempty"`
	ExternalID      *string           `db:"external_id" json:"external_id,omitempty"`
	Details         map[string]any    `db:"details" json:"details,omitempty"`
	IP              string            `db:"ip" json:"-"`
	UserAgent       string            `db:"user_agent" json:"-"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
}

type TransactionType string

const (
	TxOfferCompletion TransactionType = "offer_completion"
	TxReferralBonus   TransactionType = "referral_bonus"
	TxDailyBonus      TransactionType = "daily_bonus"
	TxQuizReward      TransactionType = "quiz_reward"
	TxVideoReward     TransactionType = "video_reward"
	TxAdminAdjustment TransactionType = "admin_adjustment"
	TxWithdrawal      TransactionType = "withdrawal"
	TxRefund          TransactionType = "refund"
	TxBonus           TransactionType = "bonus"
	TxPenalty         TransactionType = "penalty"
)

var transactionTypes = []TransactionType{
	TxOfferCompletion, TxReferralBonus, TxDailyBonus, TxQuizReward, TxVideoReward,
	TxAdminAdjustment, TxWithdrawal, TxRefund, TxBonus, TxPenalty,
}

func TransactionTypes() []TransactionType {
	return append([]TransactionType(nil), transactionTypes...)
}

func (t TransactionType) Valid() bool {
	for _, v := range transactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsEarning - типы, которые идут в totalEarned
func (t TransactionType) IsEarning() bool {
	switch t {
	case TxOfferCompletion, TxReferralBonus, TxDailyBonus, TxQuizReward, TxVideoReward, TxBonus:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusCancelled TransactionStatus = "cancelled"
)

// TransactionFilter - фильтр для подсчета записей (дневные лимиты и т.п.)
type TransactionFilter struct {
	UserID         *int64
	Type           TransactionType
	OfferID        *int64
	ReferredUserID *int64
	PayoutID       *int64
	Since          *time.Time
	Until          *time.Time
	Status         TransactionStatus
}

// EarningsSummary - агрегат по типам за период
type EarningsSummary struct {
	UserID      int64                     `json:"user_id"`
	From        time.Time                 `json:"from"`
	To          time.Time                 `json:"to"`
	ByType      map[TransactionType]int64 `json:"by_type"`
	TotalEarned int64                     `json:"total_earned"`
	TotalSpent  int64                     `json:"total_spent"`
	Net         int64                     `json:"net"`
}

// LedgerPage - страница истории, новые сверху
type LedgerPage struct {
	Items    []Transaction `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total"`
}

// DayWindow возвращает начало и конец суток (UTC), в которые попадает t
func DayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
