package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"reward_platform/internal/domain"

	"github.com/jackc/pgx/v5"
)

type OfferRepository struct {
	db DBTX
}

func NewOfferRepository(db DBTX) *OfferRepository {
	return &OfferRepository{db: db}
}

const offerColumns = `id, title, description, provider, category, points_reward, countries, is_active,
	requires_screenshot, impressions, clicks, conversions, conversion_rate,
	daily_limit, total_limit, user_daily_limit, user_total_limit, start_date, end_date,
	external_data, created_at`

func scanOffer(row pgx.Row) (*domain.Offer, error) {
	var o domain.Offer
	var countries []string
	var external []byte
	err := row.Scan(
		&o.ID, &o.Title, &o.Description, &o.Provider, &o.Category, &o.PointsReward, &countries, &o.IsActive,
		&o.RequiresScreenshot, &o.Impressions, &o.Clicks, &o.Conversions, &o.ConversionRate,
		&o.DailyLimit, &o.TotalLimit, &o.UserDailyLimit, &o.UserTotalLimit, &o.StartDate, &o.EndDate,
		&external, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Countries = make([]domain.Country, len(countries))
	for i, c := range countries {
		o.Countries[i] = domain.Country(c)
	}
	if len(external) > 0 {
		var ed domain.ExternalData
		if err := json.Unmarshal(external, &ed); err != nil {
			return nil, fmt.Errorf("decode offer %d external data: %w", o.ID, err)
		}
		o.ExternalData = &ed
	}
	return &o, nil
}

func (r *OfferRepository) CreateOffer(ctx context.Context, o *domain.Offer) error {
	countries := make([]string, len(o.Countries))
	for i, c := range o.Countries {
		countries[i] = string(c)
	}
	var external []byte
	if o.ExternalData != nil {
		var err error
		if external, err = json.Marshal(o.ExternalData); err != nil {
			return fmt.Errorf("marshal external data: %w", err)
		}
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO offers (title, description, provider, category, points_reward, countries, is_active,
		                    requires_screenshot, daily_limit, total_limit, user_daily_limit, user_total_limit,
		                    start_date, end_date, external_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`, o.Title, o.Description, o.Provider, o.Category, o.PointsReward, countries, o.IsActive,
		o.RequiresScreenshot, o.DailyLimit, o.TotalLimit, o.UserDailyLimit, o.UserTotalLimit,
		o.StartDate, o.EndDate, external).Scan(&o.ID, &o.CreatedAt)
	return wrap("create offer", err)
}

func (r *OfferRepository) GetOffer(ctx context.Context, id int64) (*domain.Offer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
	return o, wrap("get offer", err)
}

func (r *OfferRepository) GetOfferForUpdate(ctx context.Context, id int64) (*domain.Offer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
	return o, wrap("lock offer", err)
}

// атомарный инкремент в базе, используется когда Redis не настроен
func (r *OfferRepository) IncrementOfferCounter(ctx context.Context, id int64, field OfferCounter) (OfferCounters, error) {
	var column string
	switch field {
	case CounterImpressions, CounterClicks, CounterConversions:
		column = string(field)
	default:
		return OfferCounters{}, fmt.Errorf("unknown offer counter %q", field)
	}

	var c OfferCounters
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE offers SET %[1]s = %[1]s + 1 WHERE id = $1
		RETURNING impressions, clicks, conversions
	`, column), id).Scan(&c.Impressions, &c.Clicks, &c.Conversions)
	return c, wrap("increment offer counter", err)
}

// счетчики только растут: берем максимум, чтобы запоздавшая запись не откатила значения
func (r *OfferRepository) SetOfferStats(ctx context.Context, id int64, c OfferCounters) error {
	_, err := r.db.Exec(ctx, `
		UPDATE offers
		SET impressions = GREATEST(impressions, $2),
		    clicks = GREATEST(clicks, $3),
		    conversions = GREATEST(conversions, $4),
		    conversion_rate = CASE WHEN GREATEST(clicks, $3) > 0
		        THEN GREATEST(conversions, $4)::float8 / GREATEST(clicks, $3) * 100 ELSE 0 END
		WHERE id = $1
	`, id, c.Impressions, c.Clicks, c.Conversions)
	return wrap("set offer stats", err)
}
