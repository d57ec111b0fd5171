package repository

import (
	"context"
	"time"

	"reward_platform/internal/domain"

	"github.com/jackc/pgx/v5"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, username, password_hash, country, role, referral_code, referred_by,
	points, total_earned, total_withdrawn, referral_earnings, referral_count,
	daily_bonus_streak, last_daily_bonus, telegram_id, is_active, is_banned, ban_reason,
	login_attempts, lock_until, last_login, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Country, &u.Role, &u.ReferralCode, &u.ReferredBy,
		&u.Points, &u.TotalEarned, &u.TotalWithdrawn, &u.ReferralEarnings, &u.ReferralCount,
		&u.DailyBonusStreak, &u.LastDailyBonus, &u.TelegramID, &u.IsActive, &u.IsBanned, &u.BanReason,
		&u.LoginAttempts, &u.LockUntil, &u.LastLogin, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// создает пользователя, заполняет id и created_at
func (r *UserRepository) CreateUser(ctx context.Context, u *domain.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, country, role, referral_code, referred_by,
		                   points, total_earned, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, u.Email, u.Username, u.PasswordHash, u.Country, u.Role, u.ReferralCode, u.ReferredBy,
		u.Points, u.TotalEarned, u.IsActive).Scan(&u.ID, &u.CreatedAt)
	return wrap("create user", err)
}

func (r *UserRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, wrap("get user", err)
}

// строка блокируется до конца транзакции, параллельные изменения баланса ждут
func (r *UserRepository) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	return u, wrap("lock user", err)
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	return u, wrap("get user by email", err)
}

func (r *UserRepository) GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
	return u, wrap("get user by referral code", err)
}

func (r *UserRepository) GetUserByTelegramID(ctx context.Context, tgID int64) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, tgID))
	return u, wrap("get user by telegram id", err)
}

func (r *UserRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE referral_code = $1)`, code).Scan(&exists)
	return exists, wrap("check referral code", err)
}

// пишет все балансовые поля разом, вызывается только из BalanceService
func (r *UserRepository) UpdateBalance(ctx context.Context, u *domain.User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET points = $2, total_earned = $3, total_withdrawn = $4,
		    referral_earnings = $5, referral_count = $6
		WHERE id = $1
	`, u.ID, u.Points, u.TotalEarned, u.TotalWithdrawn, u.ReferralEarnings, u.ReferralCount)
	if err != nil {
		return wrap("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateDailyBonus(ctx context.Context, userID int64, streak int, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET daily_bonus_streak = $2, last_daily_bonus = $3 WHERE id = $1
	`, userID, streak, at)
	return wrap("update daily bonus", err)
}

func (r *UserRepository) UpdateLoginState(ctx context.Context, userID int64, attempts int, lockUntil, lastLogin *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET login_attempts = $2, lock_until = $3, last_login = COALESCE($4, last_login)
		WHERE id = $1
	`, userID, attempts, lockUntil, lastLogin)
	return wrap("update login state", err)
}

func (r *UserRepository) SetTelegramID(ctx context.Context, userID, tgID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET telegram_id = $2 WHERE id = $1`, userID, tgID)
	return wrap("set telegram id", err)
}

// постранично по id, для сверки
func (r *UserRepository) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, wrap("list user ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan user id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("list user ids", rows.Err())
}

func (r *UserRepository) TopEarners(ctx context.Context, limit int) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active AND NOT is_banned
		ORDER BY total_earned DESC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrap("top earners", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrap("scan user", err)
		}
		users = append(users, *u)
	}
	return users, wrap("top earners", rows.Err())
}
