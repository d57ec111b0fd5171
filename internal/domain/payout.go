package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout - заявка на вывод. Поинты списываются сразу при создании
type Payout struct {
	ID                    int64           `db:"id" json:"id"`
	UserID                int64           `db:"user_id" json:"user_id"`
	Amount                PayoutAmount    `json:"amount"`
	Method                PaymentMethod   `json:"payment_method"`
	Status                PayoutStatus    `db:"status" json:"status"`
	ProcessingFee         decimal.Decimal `db:"processing_fee" json:"processing_fee"`
	NetAmount             decimal.Decimal `db:"net_amount" json:"net_amount"`
	ProcessedBy           *int64          `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt           *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	RejectedBy            *int64          `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt            *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason       string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ExternalTransactionID string          `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	AdminNotes            string          `db:"admin_notes" json:"admin_notes,omitempty"`
	AutoProcessed         bool            `db:"auto_processed" json:"auto_processed"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

type PayoutAmount struct {
	Points        int64           `db:"points" json:"points"`
	USDValue      decimal.Decimal `db:"usd_value" json:"usd_value"`
	LocalValue    decimal.Decimal `db:"local_value" json:"local_value"`
	LocalCurrency string          `db:"local_currency" json:"local_currency"`
}

type PaymentMethod struct {
	Type        PaymentMethodType `db:"method_type" json:"type"`
	AccountID   string            `db:"account_id" json:"account_id"`
	AccountName string            `db:"account_name" json:"account_name,omitempty"`
}

type PaymentMethodType string

const (
	MethodBkash    PaymentMethodType = "bkash"
	MethodNagad    PaymentMethodType = "nagad"
	MethodRocket   PaymentMethodType = "rocket"
	MethodPaypal   PaymentMethodType = "paypal"
	MethodPayoneer PaymentMethodType = "payoneer"
	MethodWise     PaymentMethodType = "wise"
	MethodTON      PaymentMethodType = "ton"
)

var paymentMethods = []PaymentMethodType{
	MethodBkash, MethodNagad, MethodRocket, MethodPaypal, MethodPayoneer, MethodWise, MethodTON,
}

func PaymentMethodTypes() []PaymentMethodType {
	return append([]PaymentMethodType(nil), paymentMethods...)
}

func (m PaymentMethodType) Valid() bool {
	for _, v := range paymentMethods {
		if v == m {
			return true
		}
	}
	return false
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutApproved   PayoutStatus = "approved"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutRejected   PayoutStatus = "rejected"
	PayoutCancelled  PayoutStatus = "cancelled"
)

func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutRejected || s == PayoutCancelled
}

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutPending, PayoutApproved, PayoutProcessing, PayoutCompleted, PayoutRejected, PayoutCancelled:
		return true
	}
	return false
}

// Refunded - статусы, в которых поинты возвращены пользователю
func (s PayoutStatus) Refunded() bool {
	return s == PayoutRejected || s == PayoutCancelled
}

type PayoutAction string

const (
	ActionApprove  PayoutAction = "approve"
	ActionReject   PayoutAction = "reject"
	ActionProcess  PayoutAction = "process"
	ActionComplete PayoutAction = "complete"
	ActionCancel   PayoutAction = "cancel"
)

// переходы: action -> (допустимые исходные статусы, целевой статус)
var payoutTransitions = map[PayoutAction]struct {
	from []PayoutStatus
	to   PayoutStatus
}{
	ActionApprove:  {[]PayoutStatus{PayoutPending}, PayoutApproved},
	ActionReject:   {[]PayoutStatus{PayoutPending, PayoutApproved}, PayoutRejected},
	ActionCancel:   {[]PayoutStatus{PayoutPending, PayoutApproved}, PayoutCancelled},
	ActionProcess:  {[]PayoutStatus{PayoutApproved}, PayoutProcessing},
	ActionComplete: {[]PayoutStatus{PayoutProcessing}, PayoutCompleted},
}

// Transition возвращает исходные статусы и целевой статус для действия
func (a PayoutAction) Transition() (from []PayoutStatus, to PayoutStatus, ok bool) {
	t, ok := payoutTransitions[a]
	if !ok {
		return nil, "", false
	}
	return append([]PayoutStatus(nil), t.from...), t.to, true
}

// AdminAction - действия, доступные только модераторам
func (a PayoutAction) AdminAction() bool {
	return a == ActionApprove || a == ActionReject || a == ActionProcess || a == ActionComplete
}

// CanTransition проверяет, допустим ли переход из текущего статуса
func (p *Payout) CanTransition(a PayoutAction) bool {
	from, _, ok := a.Transition()
	if !ok {
		return false
	}
	for _, s := range from {
		if s == p.Status {
			return true
		}
	}
	return false
}

// PayoutFilter - фильтр для админских списков
type PayoutFilter struct {
	UserID *int64
	Status PayoutStatus
	Limit  int
	Offset int
}

// PayoutStats - агрегаты для админки
type PayoutStats struct {
	ByStatus map[PayoutStatus]PayoutBucket      `json:"by_status"`
	ByMethod map[PaymentMethodType]PayoutBucket `json:"by_method"`
}

type PayoutBucket struct {
	Count  int64           `json:"count"`
	Points int64           `json:"points"`
	USD    decimal.Decimal `json:"usd"`
}

func (b PayoutBucket) Add(o PayoutBucket) PayoutBucket {
	return PayoutBucket{
		Count:  b.Count + o.Count,
		Points: b.Points + o.Points,
		USD:    b.USD.Add(o.USD),
	}
}
