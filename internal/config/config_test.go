package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.Set("JWT_SECRET", "secret")
	v.Set("STORAGE_DRIVER", "memory")
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(testViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 72*time.Hour, cfg.JWTTTL)
	assert.Equal(t, int64(10), cfg.Earning.DailyBonusBase)
	assert.Equal(t, int64(10), cfg.Earning.ReferralPercent)
	assert.True(t, cfg.Payout.FeePercent.IsZero())
	assert.True(t, cfg.Payout.ExchangeRates["BDT"].Equal(decimal.NewFromInt(110)))
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.False(t, cfg.S3.Enabled())
	assert.False(t, cfg.TON.Enabled())
}

func TestOverrides(t *testing.T) {
	cfg, err := fromViper(testViper(map[string]any{
		"ADMIN_TELEGRAM_IDS":  "1, 2,,3",
		"PAYOUT_FEE_PERCENT":  "2.5",
		"TON_WALLET_MNEMONIC": "word word",
		"TON_USD_RATE":        "5.2",
		"VIDEO_DAILY_LIMIT":   0,
		"S3_BUCKET":           "proofs",
		"S3_ACCESS_KEY":       "key",
	}))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, cfg.AdminTelegramIDs)
	assert.Equal(t, "2.5", cfg.Payout.FeePercent.String())
	assert.True(t, cfg.TON.Enabled())
	assert.Equal(t, "mainnet", cfg.TON.Network)
	assert.Zero(t, cfg.Earning.VideoDailyLimit)
	assert.True(t, cfg.S3.Enabled())
}

func TestValidation(t *testing.T) {
	cases := map[string]map[string]any{
		"no secret":         {"JWT_SECRET": ""},
		"postgres no url":   {"STORAGE_DRIVER": "postgres"},
		"unknown driver":    {"STORAGE_DRIVER": "sqlite"},
		"negative limit":    {"QUIZ_DAILY_LIMIT": -1},
		"zero video reward": {"VIDEO_REWARD": 0},
		"zero quiz points":  {"QUIZ_POINTS_PER_CORRECT": 0},
		"negative cap":      {"DAILY_BONUS_CAP": -5},
		"cap below base":    {"DAILY_BONUS_BASE": 20, "DAILY_BONUS_CAP": 10},
		"negative step":     {"DAILY_BONUS_STEP": -1},
		"no questions":      {"QUIZ_QUESTIONS": -1},
		"negative signup":   {"SIGNUP_BONUS": -10},
		"referral too high": {"REFERRAL_PERCENT": 150},
		"bad fee":           {"PAYOUT_FEE_PERCENT": "abc"},
		"bad ids":           {"ADMIN_TELEGRAM_IDS": "1,x"},
		"bad ton rate":      {"TON_USD_RATE": "five"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fromViper(testViper(values))
			assert.Error(t, err)
		})
	}
}

func TestParseRates(t *testing.T) {
	rates, err := ParseRates(" bdt = 110 , INR=83,")
	require.NoError(t, err)
	assert.Len(t, rates, 2)
	assert.True(t, rates["BDT"].Equal(decimal.NewFromInt(110)))

	_, err = ParseRates("BDT")
	assert.Error(t, err)
	_, err = ParseRates("BDT=-1")
	assert.Error(t, err)
}
