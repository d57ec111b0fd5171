package domain

import "time"

type User struct {
	ID               int64      `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	Username         string     `db:"username" json:"username"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	Country          Country    `db:"country" json:"country"`
	Role             Role       `db:"role" json:"role"`
	ReferralCode     string     `db:"referral_code" json:"referral_code"`
	ReferredBy       *int64     `db:"referred_by" json:"referred_by,omitempty"`
	Points           int64      `db:"points" json:"points"`
	TotalEarned      int64      `db:"total_earned" json:"total_earned"`
	TotalWithdrawn   int64      `db:"total_withdrawn" json:"total_withdrawn"`
	ReferralEarnings int64      `db:"referral_earnings" json:"referral_earnings"`
	ReferralCount    int64      `db:"referral_count" json:"referral_count"`
	DailyBonusStreak int        `db:"daily_bonus_streak" json:"daily_bonus_streak"`
	LastDailyBonus   *time.Time `db:"last_daily_bonus" json:"last_daily_bonus,omitempty"`
	TelegramID       *int64     `db:"telegram_id" json:"telegram_id,omitempty"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	IsBanned         bool       `db:"is_banned" json:"is_banned"`
	BanReason        string     `db:"ban_reason" json:"ban_reason,omitempty"`
	LoginAttempts    int        `db:"login_attempts" json:"-"`
	LockUntil        *time.Time `db:"lock_until" json:"-"`
	LastLogin        *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// CanModerate: модерация выплат доступна модераторам и админам
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

// 100 поинтов = $1
const PointsPerUSD = 100

const (
	MaxLoginAttempts = 5
	LoginLockTime    = 30 * time.Minute
	ReferralCodeLen  = 8
)

// MinWithdrawPoints минимальный баланс для вывода
func MinWithdrawPoints(c Country) int64 {
	if c == CountryBD {
		return 200
	}
	return 500
}

// CanWithdraw проверяет порог по стране
func (u *User) CanWithdraw() bool {
	return u.Points >= MinWithdrawPoints(u.Country)
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// CanAct - неактивные и забаненные не могут ничего делать
func (u *User) CanAct() bool {
	return u.IsActive && !u.IsBanned
}
