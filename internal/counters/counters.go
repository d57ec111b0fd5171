// Package counters - счетчики показов, кликов и конверсий офферов.
// Счетчики приблизительные и не участвуют в расчете балансов.
package counters

import (
	"context"
	"fmt"
	"strconv"

	"reward_platform/internal/repository"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "offer:counters:"

var fields = []string{
	string(repository.CounterImpressions),
	string(repository.CounterClicks),
	string(repository.CounterConversions),
}

// Redis держит счетчики оффера в одном hash, инкремент атомарный (HINCRBY в MULTI)
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func key(offerID int64) string {
	return keyPrefix + strconv.FormatInt(offerID, 10)
}

func (r *Redis) Incr(ctx context.Context, offerID int64, field repository.OfferCounter) (repository.OfferCounters, error) {
	k := key(offerID)

	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, k, string(field), 1)
	values := pipe.HMGet(ctx, k, fields...)
	if _, err := pipe.Exec(ctx); err != nil {
		return repository.OfferCounters{}, fmt.Errorf("redis incr %s: %w", field, err)
	}
	return parse(values.Val())
}

// Get читает текущие значения (нет ключа - нули)
func (r *Redis) Get(ctx context.Context, offerID int64) (repository.OfferCounters, error) {
	values, err := r.rdb.HMGet(ctx, key(offerID), fields...).Result()
	if err != nil {
		return repository.OfferCounters{}, fmt.Errorf("redis get counters: %w", err)
	}
	return parse(values)
}

func parse(values []any) (repository.OfferCounters, error) {
	var n [3]int64
	for i, v := range values {
		if i >= len(n) || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return repository.OfferCounters{}, fmt.Errorf("unexpected counter value %T", v)
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return repository.OfferCounters{}, fmt.Errorf("counter %s: %w", fields[i], err)
		}
		n[i] = parsed
	}
	return repository.OfferCounters{Impressions: n[0], Clicks: n[1], Conversions: n[2]}, nil
}

// Store - счетчики прямо в строке оффера (UPDATE col = col + 1), когда Redis нет
type Store struct {
	store repository.Store
}

func NewStore(store repository.Store) *Store {
	return &Store{store: store}
}

func (s *Store) Incr(ctx context.Context, offerID int64, field repository.OfferCounter) (repository.OfferCounters, error) {
	var c repository.OfferCounters
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		c, err = q.IncrementOfferCounter(ctx, offerID, field)
		return err
	})
	return c, err
}
