// Package memory - Store в памяти процесса: локальный запуск без базы и тесты.
// InTx держит глобальную блокировку и работает с копией состояния,
// которая публикуется только при успешном завершении fn.
package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/repository"
)

var errReadOnly = errors.New("memory store: write inside View")

type state struct {
	users        map[int64]domain.User
	transactions []domain.Transaction
	payouts      map[int64]domain.Payout
	offers       map[int64]domain.Offer
	audit        []domain.AuditLog

	nextUserID   int64
	nextTxID     int64
	nextPayoutID int64
	nextOfferID  int64
	nextAuditID  int64
}

// clone: мапы копируются, слайсы только дописываются, поэтому достаточно обрезать cap
func (s *state) clone() *state {
	c := *s
	c.users = maps.Clone(s.users)
	c.payouts = maps.Clone(s.payouts)
	c.offers = maps.Clone(s.offers)
	c.transactions = s.transactions[:len(s.transactions):len(s.transactions)]
	c.audit = s.audit[:len(s.audit):len(s.audit)]
	return &c
}

type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{
		st: &state{
			users:   make(map[int64]domain.User),
			payouts: make(map[int64]domain.Payout),
			offers:  make(map[int64]domain.Offer),
		},
		now: time.Now,
	}
}

// SetClock подменяет часы для created_at (тесты)
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := s.st.clone()
	if err := fn(&querier{st: next, now: s.now}); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *Store) View(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&querier{st: s.st, now: s.now, readOnly: true})
}

type querier struct {
	st       *state
	now      func() time.Time
	readOnly bool
}

var _ repository.Querier = (*querier)(nil)

func (q *querier) write() error {
	if q.readOnly {
		return errReadOnly
	}
	return nil
}

// users

func (q *querier) CreateUser(_ context.Context, u *domain.User) error {
	if err := q.write(); err != nil {
		return err
	}
	for _, ex := range q.st.users {
		switch {
		case ex.Email == u.Email:
			return &repository.DuplicateError{Field: "email"}
		case ex.Username == u.Username:
			return &repository.DuplicateError{Field: "username"}
		case ex.ReferralCode == u.ReferralCode:
			return &repository.DuplicateError{Field: "referral_code"}
		}
	}
	if u.ReferredBy != nil {
		if _, ok := q.st.users[*u.ReferredBy]; !ok {
			return repository.ErrNotFound
		}
	}
	q.st.nextUserID++
	u.ID = q.st.nextUserID
	u.CreatedAt = q.now()
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	q.st.users[u.ID] = *u
	return nil
}

func (q *querier) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := q.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// блокировка не нужна: InTx уже держит эксклюзивный доступ
func (q *querier) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	return q.GetUser(ctx, id)
}

func (q *querier) findUser(match func(u *domain.User) bool) (*domain.User, error) {
	for _, u := range q.st.users {
		if match(&u) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	return q.findUser(func(u *domain.User) bool { return u.Email == email })
}

func (q *querier) GetUserByReferralCode(_ context.Context, code string) (*domain.User, error) {
	return q.findUser(func(u *domain.User) bool { return u.ReferralCode == code })
}

func (q *querier) GetUserByTelegramID(_ context.Context, tgID int64) (*domain.User, error) {
	return q.findUser(func(u *domain.User) bool { return u.TelegramID != nil && *u.TelegramID == tgID })
}

func (q *querier) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := q.GetUserByReferralCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (q *querier) updateUser(id int64, fn func(u *domain.User)) error {
	if err := q.write(); err != nil {
		return err
	}
	u, ok := q.st.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	q.st.users[id] = u
	return nil
}

func (q *querier) UpdateBalance(_ context.Context, u *domain.User) error {
	if u.Points < 0 {
		return errors.New("memory store: points must be non-negative")
	}
	return q.updateUser(u.ID, func(cur *domain.User) {
		cur.Points = u.Points
		cur.TotalEarned = u.TotalEarned
		cur.TotalWithdrawn = u.TotalWithdrawn
		cur.ReferralEarnings = u.ReferralEarnings
		cur.ReferralCount = u.ReferralCount
	})
}

func (q *querier) UpdateDailyBonus(_ context.Context, userID int64, streak int, at time.Time) error {
	return q.updateUser(userID, func(u *domain.User) {
		u.DailyBonusStreak = streak
		u.LastDailyBonus = &at
	})
}

func (q *querier) UpdateLoginState(_ context.Context, userID int64, attempts int, lockUntil, lastLogin *time.Time) error {
	return q.updateUser(userID, func(u *domain.User) {
		u.LoginAttempts = attempts
		u.LockUntil = lockUntil
		if lastLogin != nil {
			u.LastLogin = lastLogin
		}
	})
}

func (q *querier) SetTelegramID(_ context.Context, userID, tgID int64) error {
	for id, u := range q.st.users {
		if id != userID && u.TelegramID != nil && *u.TelegramID == tgID {
			return &repository.DuplicateError{Field: "telegram_id"}
		}
	}
	return q.updateUser(userID, func(u *domain.User) { u.TelegramID = &tgID })
}

func (q *querier) ListUserIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range q.st.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (q *querier) TopEarners(_ context.Context, limit int) ([]domain.User, error) {
	var users []domain.User
	for _, u := range q.st.users {
		if u.CanAct() {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].TotalEarned != users[j].TotalEarned {
			return users[i].TotalEarned > users[j].TotalEarned
		}
		return users[i].ID < users[j].ID
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
