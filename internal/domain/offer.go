package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type Offer struct {
	ID                 int64         `db:"id" json:"id"`
	Title              string        `db:"title" json:"title"`
	Description        string        `db:"description" json:"description"`
	Provider           OfferProvider `db:"provider" json:"provider"`
	Category           OfferCategory `db:"category" json:"category"`
	PointsReward       int64         `db:"points_reward" json:"points_reward"`
	Countries          []Country     `db:"countries" json:"countries"`
	IsActive           bool          `db:"is_active" json:"is_active"`
	RequiresScreenshot bool          `db:"requires_screenshot" json:"requires_screenshot"`
	Impressions        int64         `db:"impressions" json:"impressions"`
	Clicks             int64         `db:"clicks" json:"clicks"`
	Conversions        int64         `db:"conversions" json:"conversions"`
	ConversionRate     float64       `db:"conversion_rate" json:"conversion_rate"`
	DailyLimit         int64         `db:"daily_limit" json:"daily_limit"`
	TotalLimit         int64         `db:"total_limit" json:"total_limit"`
	UserDailyLimit     int64         `db:"user_daily_limit" json:"user_daily_limit"`
	UserTotalLimit     int64         `db:"user_total_limit" json:"user_total_limit"`
	StartDate          *time.Time    `db:"start_date" json:"start_date,omitempty"`
	EndDate            *time.Time    `db:"end_date" json:"end_date,omitempty"`
	ExternalData       *ExternalData `db:"external_data" json:"external_data,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
}

// Unlimited - значение лимита "без ограничений"
const Unlimited = -1

type OfferProvider string

const (
	ProviderAdGateMedia OfferProvider = "adgatemedia"
	ProviderCPALead     OfferProvider = "cpalead"
	ProviderOGAds       OfferProvider = "ogads"
	ProviderInternal    OfferProvider = "internal"
)

type OfferCategory string

const (
	CategorySurvey     OfferCategory = "survey"
	CategoryAppInstall OfferCategory = "app_install"
	CategoryVideo      OfferCategory = "video"
	CategorySignup     OfferCategory = "signup"
	CategoryPurchase   OfferCategory = "purchase"
	CategoryQuiz       OfferCategory = "quiz"
	CategoryGame       OfferCategory = "game"
)

// TargetsCountry: ALL или буквальное совпадение
func (o *Offer) TargetsCountry(c Country) bool {
	for _, oc := range o.Countries {
		if oc == CountryAll || oc == c {
			return true
		}
	}
	return false
}

// SharedLimits - есть ли лимиты на всех пользователей сразу
func (o *Offer) SharedLimits() bool {
	return o.DailyLimit != Unlimited || o.TotalLimit != Unlimited
}

// Available проверяет активность и окно дат
func (o *Offer) Available(now time.Time) bool {
	if !o.IsActive {
		return false
	}
	if o.StartDate != nil && now.Before(*o.StartDate) {
		return false
	}
	if o.EndDate != nil && now.After(*o.EndDate) {
		return false
	}
	return true
}

// ConversionRatePercent = conversions/clicks*100, 0 если кликов нет
func ConversionRatePercent(conversions, clicks int64) float64 {
	if clicks <= 0 {
		return 0
	}
	return float64(conversions) / float64(clicks) * 100
}

// ExternalData - данные провайдера. Payload интерпретируется по Provider и Version
type ExternalData struct {
	Provider OfferProvider   `json:"provider"`
	Version  int             `json:"version"`
	Payload  json.RawMessage `json:"payload"`
}

// AdGateData v1
type AdGateData struct {
	CampaignID  string  `json:"campaign_id"`
	Payout      float64 `json:"payout"`
	TrackingURL string  `json:"tracking_url"`
}

// CPALeadData v1
type CPALeadData struct {
	OfferID  string `json:"offer_id"`
	Link     string `json:"link"`
	DeviceOS string `json:"device_os,omitempty"`
}

// OGAdsData v1
type OGAdsData struct {
	OfferID   string `json:"offer_id"`
	LockerURL string `json:"locker_url"`
}

// InternalData v1
type InternalData struct {
	Instructions string `json:"instructions"`
}

func (e *ExternalData) decode(p OfferProvider, dst any) error {
	if e == nil {
		return fmt.Errorf("external data is empty")
	}
	if e.Provider != p {
		return fmt.Errorf("external data provider is %s, not %s", e.Provider, p)
	}
	if e.Version != 1 {
		return fmt.Errorf("unsupported %s external data version %d", p, e.Version)
	}
	return json.Unmarshal(e.Payload, dst)
}

func (e *ExternalData) AdGate() (*AdGateData, error) {
	var d AdGateData
	if err := e.decode(ProviderAdGateMedia, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *ExternalData) CPALead() (*CPALeadData, error) {
	var d CPALeadData
	if err := e.decode(ProviderCPALead, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *ExternalData) OGAds() (*OGAdsData, error) {
	var d OGAdsData
	if err := e.decode(ProviderOGAds, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *ExternalData) Internal() (*InternalData, error) {
	var d InternalData
	if err := e.decode(ProviderInternal, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate проверяет, что payload разбирается схемой своего провайдера
func (e *ExternalData) Validate() error {
	if e == nil {
		return nil
	}
	var err error
	switch e.Provider {
	case ProviderAdGateMedia:
		_, err = e.AdGate()
	case ProviderCPALead:
		_, err = e.CPALead()
	case ProviderOGAds:
		_, err = e.OGAds()
	case ProviderInternal:
		_, err = e.Internal()
	default:
		err = fmt.Errorf("unknown provider %q", e.Provider)
	}
	return err
}

// OfferProof - подтверждение выполнения оффера
type OfferProof struct {
	ExternalID  string `json:"external_id,omitempty"`
	Screenshot  []byte `json:"-"`
	ContentType string `json:"-"`
}
