package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	AppPort       string
	AllowedOrigin string
	DatabaseURL   string
	StorageDriver string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration

	BotToken         string
	AdminBotEnabled  bool
	AdminTelegramIDs []int64

	LogLevel  string
	LogFormat string

	RateLimitRPS   float64
	RateLimitBurst int

	Earning EarningConfig
	Payout  PayoutConfig
	S3      S3Config
	TON     TONConfig

	ReconcileInterval time.Duration
}

type EarningConfig struct {
	DailyBonusBase       int64
	DailyBonusStep       int64
	DailyBonusCap        int64
	VideoReward          int64
	VideoDailyLimit      int64
	QuizPointsPerCorrect int64
	QuizDailyLimit       int64
	QuizQuestions        int
	SignupBonus          int64
	ReferralPercent      int64
}

type PayoutConfig struct {
	FeePercent    decimal.Decimal
	ExchangeRates map[string]decimal.Decimal
}

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != ""
}

type TONConfig struct {
	Mnemonic string
	Network  string
	USDRate  decimal.Decimal
}

func (c TONConfig) Enabled() bool {
	return c.Mnemonic != "" && c.USDRate.IsPositive()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("STORAGE_DRIVER", StoragePostgres)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_TTL", "72h")
	v.SetDefault("ADMIN_BOT_ENABLED", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("DAILY_BONUS_BASE", 10)
	v.SetDefault("DAILY_BONUS_STEP", 5)
	v.SetDefault("DAILY_BONUS_CAP", 50)
	v.SetDefault("VIDEO_REWARD", 5)
	v.SetDefault("VIDEO_DAILY_LIMIT", 10)
	v.SetDefault("QUIZ_POINTS_PER_CORRECT", 2)
	v.SetDefault("QUIZ_DAILY_LIMIT", 5)
	v.SetDefault("QUIZ_QUESTIONS", 5)
	v.SetDefault("SIGNUP_BONUS", 0)
	v.SetDefault("REFERRAL_PERCENT", 10)

	v.SetDefault("PAYOUT_FEE_PERCENT", "0")
	v.SetDefault("EXCHANGE_RATES", "BDT=110,INR=83,PKR=278,GBP=0.79,CAD=1.36,AUD=1.52,EUR=0.92")
	v.SetDefault("S3_REGION", "auto")
	v.SetDefault("TON_NETWORK", "mainnet")
	v.SetDefault("RECONCILE_INTERVAL", "1h")
}

// Load читает .env (если есть) и переменные окружения
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:       v.GetString("APP_PORT"),
		AllowedOrigin: v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		StorageDriver: v.GetString("STORAGE_DRIVER"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTTTL:    v.GetDuration("JWT_TTL"),

		BotToken:        v.GetString("BOT_TOKEN"),
		AdminBotEnabled: v.GetBool("ADMIN_BOT_ENABLED"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		Earning: EarningConfig{
			DailyBonusBase:       v.GetInt64("DAILY_BONUS_BASE"),
			DailyBonusStep:       v.GetInt64("DAILY_BONUS_STEP"),
			DailyBonusCap:        v.GetInt64("DAILY_BONUS_CAP"),
			VideoReward:          v.GetInt64("VIDEO_REWARD"),
			VideoDailyLimit:      v.GetInt64("VIDEO_DAILY_LIMIT"),
			QuizPointsPerCorrect: v.GetInt64("QUIZ_POINTS_PER_CORRECT"),
			QuizDailyLimit:       v.GetInt64("QUIZ_DAILY_LIMIT"),
			QuizQuestions:        v.GetInt("QUIZ_QUESTIONS"),
			SignupBonus:          v.GetInt64("SIGNUP_BONUS"),
			ReferralPercent:      v.GetInt64("REFERRAL_PERCENT"),
		},

		S3: S3Config{
			Endpoint:  v.GetString("S3_ENDPOINT"),
			Region:    v.GetString("S3_REGION"),
			Bucket:    v.GetString("S3_BUCKET"),
			AccessKey: v.GetString("S3_ACCESS_KEY"),
			SecretKey: v.GetString("S3_SECRET_KEY"),
			PublicURL: v.GetString("S3_PUBLIC_URL"),
		},

		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
	}

	ids, err := parseIDs(v.GetString("ADMIN_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_IDS: %w", err)
	}
	cfg.AdminTelegramIDs = ids

	if cfg.Payout.FeePercent, err = decimal.NewFromString(v.GetString("PAYOUT_FEE_PERCENT")); err != nil {
		return nil, fmt.Errorf("PAYOUT_FEE_PERCENT: %w", err)
	}
	if cfg.Payout.ExchangeRates, err = ParseRates(v.GetString("EXCHANGE_RATES")); err != nil {
		return nil, fmt.Errorf("EXCHANGE_RATES: %w", err)
	}

	cfg.TON = TONConfig{
		Mnemonic: v.GetString("TON_WALLET_MNEMONIC"),
		Network:  v.GetString("TON_NETWORK"),
	}
	if s := v.GetString("TON_USD_RATE"); s != "" {
		if cfg.TON.USDRate, err = decimal.NewFromString(s); err != nil {
			return nil, fmt.Errorf("TON_USD_RATE: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	e := c.Earning
	if e.VideoDailyLimit < 0 || e.QuizDailyLimit < 0 {
		return fmt.Errorf("daily limits must be non-negative")
	}
	if e.VideoReward <= 0 || e.QuizPointsPerCorrect <= 0 {
		return fmt.Errorf("VIDEO_REWARD and QUIZ_POINTS_PER_CORRECT must be positive")
	}
	if e.DailyBonusBase <= 0 || e.DailyBonusStep < 0 || e.DailyBonusCap < e.DailyBonusBase {
		return fmt.Errorf("daily bonus needs base > 0, step >= 0 and cap >= base")
	}
	if e.QuizQuestions <= 0 {
		return fmt.Errorf("QUIZ_QUESTIONS must be positive")
	}
	if e.SignupBonus < 0 {
		return fmt.Errorf("SIGNUP_BONUS must be non-negative")
	}
	if c.Earning.ReferralPercent < 0 || c.Earning.ReferralPercent > 100 {
		return fmt.Errorf("REFERRAL_PERCENT must be within 0..100")
	}
	return nil
}

// ParseRates разбирает "BDT=110,INR=83"
func ParseRates(s string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cur, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("bad pair %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("bad rate for %s", cur)
		}
		rates[strings.ToUpper(strings.TrimSpace(cur))] = rate
	}
	return rates, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
