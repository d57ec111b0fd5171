package service

import (
	"context"
	"math"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/repository"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultLeaderboard = 10
	maxLeaderboard     = 100
)

// LedgerService - чтение леджера: история, сводки, лидерборд
type LedgerService struct {
	store repository.Store
}

func NewLedgerService(store repository.Store) *LedgerService {
	return &LedgerService{store: store}
}

// GetUserLedger - страница истории пользователя, новые сверху. page с 1
func (s *LedgerService) GetUserLedger(ctx context.Context, userID int64, page, pageSize int) (*domain.LedgerPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	result := &domain.LedgerPage{Page: page, PageSize: pageSize}
	err := s.store.View(ctx, func(q repository.Querier) error {
		total, err := q.CountTransactions(ctx, domain.TransactionFilter{UserID: &userID})
		if err != nil {
			return err
		}
		result.Total = int(total)
		// страница за пределами любого offset - заведомо пустая
		if page-1 > math.MaxInt32/pageSize {
			return nil
		}
		items, err := q.ListTransactions(ctx, userID, pageSize, (page-1)*pageSize)
		if err != nil {
			return err
		}
		result.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Items == nil {
		result.Items = []domain.Transaction{}
	}
	return result, nil
}

// GetEarningsSummary суммирует completed записи за [from, to) по типам
func (s *LedgerService) GetEarningsSummary(ctx context.Context, userID int64, from, to time.Time) (*domain.EarningsSummary, error) {
	if !from.Before(to) {
		return nil, domain.Validation("empty date range")
	}
	var sums map[domain.TransactionType]int64
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		sums, err = q.SumByType(ctx, userID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summarize(userID, from, to, sums), nil
}

// GetReferralEarnings - сводка только по referral_bonus
func (s *LedgerService) GetReferralEarnings(ctx context.Context, userID int64, from, to time.Time) (*domain.EarningsSummary, error) {
	all, err := s.GetEarningsSummary(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	sums := map[domain.TransactionType]int64{}
	if v, ok := all.ByType[domain.TxReferralBonus]; ok {
		sums[domain.TxReferralBonus] = v
	}
	return summarize(userID, from, to, sums), nil
}

func summarize(userID int64, from, to time.Time, sums map[domain.TransactionType]int64) *domain.EarningsSummary {
	out := &domain.EarningsSummary{
		UserID: userID,
		From:   from,
		To:     to,
		ByType: make(map[domain.TransactionType]int64, len(sums)),
	}
	for typ, v := range sums {
		out.ByType[typ] = v
		if v > 0 {
			out.TotalEarned += v
		} else {
			out.TotalSpent += -v
		}
	}
	out.Net = out.TotalEarned - out.TotalSpent
	return out
}

// LeaderboardEntry - публичная часть пользователя
type LeaderboardEntry struct {
	Rank        int            `json:"rank"`
	UserID      int64          `json:"user_id"`
	Username    string         `json:"username"`
	Country     domain.Country `json:"country"`
	TotalEarned int64          `json:"total_earned"`
}

// GetLeaderboard - активные пользователи по totalEarned
func (s *LedgerService) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboard
	}
	limit = min(limit, maxLeaderboard)

	var users []domain.User
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		users, err = q.TopEarners(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		out = append(out, LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.ID,
			Username:    u.Username,
			Country:     u.Country,
			TotalEarned: u.TotalEarned,
		})
	}
	return out, nil
}
