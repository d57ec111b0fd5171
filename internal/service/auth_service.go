package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen      = 6
	referralCodeAlpha   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeRetries = 5
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

type RegisterInput struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Country      string `json:"country"`
	ReferralCode string `json:"referral_code"`
}

// AuthResult - пользователь, токен и записи леджера, появившиеся при регистрации
type AuthResult struct {
	User      *domain.User         `json:"user"`
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expires_at"`
	Effects   []domain.Transaction `json:"ledger_effects,omitempty"`
}

type AuthService struct {
	store       repository.Store
	balance     *BalanceService
	referrals   *ReferralService
	tokens      *TokenManager
	audit       *AuditService
	botToken    string
	signupBonus int64
	bcryptCost  int

	now func() time.Time
}

func NewAuthService(store repository.Store, balance *BalanceService, referrals *ReferralService, tokens *TokenManager, audit *AuditService, botToken string, signupBonus int64) *AuthService {
	return &AuthService{
		store:       store,
		balance:     balance,
		referrals:   referrals,
		tokens:      tokens,
		audit:       audit,
		botToken:    botToken,
		signupBonus: signupBonus,
		bcryptCost:  bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// SetClock подменяет часы (тесты)
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// SetBcryptCost - для тестов, DefaultCost слишком медленный
func (s *AuthService) SetBcryptCost(cost int) {
	s.bcryptCost = cost
}

// Register создает пользователя, начисляет стартовый бонус и запускает
// реферальный бонус отдельной транзакцией после коммита регистрации
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, domain.Validation("invalid email")
	}
	if !usernameRe.MatchString(in.Username) {
		return nil, domain.Validation("username must be 3-30 letters, digits or underscores")
	}
	if len(in.Password) < minPasswordLen {
		return nil, domain.Validation("password must be at least %d characters", minPasswordLen)
	}

	country := domain.CountryOther
	switch {
	case in.Country != "":
		c, ok := domain.ParseCountry(in.Country)
		if !ok {
			return nil, domain.Validation("unsupported country %q", in.Country)
		}
		country = c
	case meta.Country != "":
		country = meta.Country
	}

	var referrerID *int64
	if code := strings.ToUpper(strings.TrimSpace(in.ReferralCode)); code != "" {
		err := s.store.View(ctx, func(q repository.Querier) error {
			ref, err := q.GetUserByReferralCode(ctx, code)
			if err != nil {
				return err
			}
			referrerID = &ref.ID
			return nil
		})
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Validation("unknown referral code")
		}
		if err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var (
		user    *domain.User
		effects []domain.Transaction
	)
	for attempt := 0; ; attempt++ {
		code, err := newReferralCode()
		if err != nil {
			return nil, err
		}
		user = &domain.User{
			Email:        in.Email,
			Username:     in.Username,
			PasswordHash: string(hash),
			Country:      country,
			Role:         domain.RoleUser,
			ReferralCode: code,
			ReferredBy:   referrerID,
			IsActive:     true,
		}
		effects = nil

		err = s.balance.Atomic(ctx, func(m *Mutation) error {
			if err := m.Q.CreateUser(ctx, user); err != nil {
				return err
			}
			if s.signupBonus <= 0 {
				return nil
			}
			e, err := m.Apply(ctx, user, DeltaRequest{
				Points:      s.signupBonus,
				Type:        domain.TxBonus,
				Description: "Welcome bonus",
				Meta:        meta,
			})
			if err != nil {
				return err
			}
			effects = append(effects, *e)
			return nil
		})

		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			switch dup.Field {
			case "referral_code":
				if attempt < referralCodeRetries {
					continue
				}
				return nil, fmt.Errorf("could not allocate a unique referral code")
			case "email":
				return nil, domain.Validation("email is already registered")
			case "username":
				return nil, domain.Validation("username is taken")
			}
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Validation("unknown referral code")
		}
		if err != nil {
			return nil, err
		}
		break
	}

	log := logger.WithContext(ctx)
	log.Info("user registered", "user_id", user.ID, "country", user.Country, "referred", referrerID != nil)
	s.audit.LogWithRequest(ctx, user.ID, domain.AuditActionRegister, domain.AuditCategoryAuth, meta, map[string]any{
		"country":     user.Country,
		"referred_by": referrerID,
	})

	if referrerID != nil {
		// каскад идемпотентен, упавший можно повторить позже
		entry, err := s.referrals.PaySignupBonus(ctx, user.ID, user.Points)
		if err != nil {
			log.Error("referral bonus failed", "user_id", user.ID, "referrer_id", *referrerID, "error", err)
		} else if entry != nil {
			effects = append(effects, *entry)
		}
	}

	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp, Effects: effects}, nil
}

// Login проверяет пароль. После MaxLoginAttempts неудач подряд аккаунт блокируется на LoginLockTime
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	invalid := domain.NewError(domain.KindUnauthorized, "invalid email or password")

	var user *domain.User
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		user, err = q.GetUserByEmail(ctx, email)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if user.IsLocked(now) {
		return nil, domain.Forbidden("account is locked until %s", user.LockUntil.UTC().Format(time.RFC3339))
	}
	if !user.CanAct() {
		return nil, domain.Forbidden("account is disabled")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		attempts := user.LoginAttempts + 1
		if user.LockUntil != nil {
			// прошлая блокировка истекла, считаем заново
			attempts = 1
		}
		var lockUntil *time.Time
		if attempts >= domain.MaxLoginAttempts {
			t := now.Add(domain.LoginLockTime)
			lockUntil = &t
		}
		err := s.store.InTx(ctx, func(q repository.Querier) error {
			return q.UpdateLoginState(ctx, user.ID, attempts, lockUntil, user.LastLogin)
		})
		if err != nil {
			return nil, err
		}
		s.audit.LogLogin(ctx, user.ID, false, meta)
		if lockUntil != nil {
			logger.WithContext(ctx).Warn("account locked after failed logins", "user_id", user.ID, "attempts", attempts)
		}
		return nil, invalid
	}

	err = s.store.InTx(ctx, func(q repository.Querier) error {
		return q.UpdateLoginState(ctx, user.ID, 0, nil, &now)
	})
	if err != nil {
		return nil, err
	}
	user.LoginAttempts, user.LockUntil, user.LastLogin = 0, nil, &now
	s.audit.LogLogin(ctx, user.ID, true, meta)

	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

// ActiveUser загружает пользователя по токену и проверяет, что он может действовать
func (s *AuthService) ActiveUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user *domain.User
	err := s.store.View(ctx, func(q repository.Querier) error {
		var err error
		user, err = q.GetUser(ctx, userID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NewError(domain.KindUnauthorized, "user no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !user.CanAct() {
		return nil, domain.Forbidden("account is disabled")
	}
	return user, nil
}

// LinkTelegram привязывает чат Telegram для уведомлений
func (s *AuthService) LinkTelegram(ctx context.Context, userID int64, initData string, meta RequestMeta) (*domain.User, error) {
	if s.botToken == "" {
		return nil, domain.Validation("telegram linking is not configured")
	}
	tg, err := ValidateTelegramInitData(initData, s.botToken, s.now())
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindUnauthorized, Message: "invalid telegram init data", Err: err}
	}

	err = s.store.InTx(ctx, func(q repository.Querier) error {
		return q.SetTelegramID(ctx, userID, tg.ID)
	})
	var dup *repository.DuplicateError
	if errors.As(err, &dup) {
		return nil, domain.Validation("telegram account is linked to another user")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}

	s.audit.LogWithRequest(ctx, userID, domain.AuditActionTelegramLink, domain.AuditCategoryAuth, meta, map[string]any{
		"telegram_id": tg.ID,
	})
	return s.ActiveUser(ctx, userID)
}

// newReferralCode - 8 символов A-Z0-9 из crypto/rand
func newReferralCode() (string, error) {
	var b strings.Builder
	alphabet := big.NewInt(int64(len(referralCodeAlpha)))
	for range domain.ReferralCodeLen {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("referral code: %w", err)
		}
		b.WriteByte(referralCodeAlpha[n.Int64()])
	}
	return b.String(), nil
}
