package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

// собирает init_data так же, как это делает клиент Telegram
func buildInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()
	var parts []string
	for k, v := range fields {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(parts, "\n")))

	vals := url.Values{}
	for k, v := range fields {
		vals.Add(k, v)
	}
	vals.Add("hash", hex.EncodeToString(h.Sum(nil)))
	return vals.Encode()
}

func initFields(authDate time.Time) map[string]string {
	return map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"user":      `{"id":4242,"username":"u","first_name":"F"}`,
	}
}

func TestValidateTelegramInitData_Valid(t *testing.T) {
	now := time.Now()
	initData := buildInitData(t, "test-bot-token", initFields(now))

	user, err := ValidateTelegramInitData(initData, "test-bot-token", now)
	if err != nil {
		t.Fatalf("ожидалась валидная init data: %v", err)
	}
	if user.ID != 4242 || user.Username != "u" {
		t.Fatalf("неверный пользователь: %+v", user)
	}
}

func TestValidateTelegramInitData_Tampered(t *testing.T) {
	now := time.Now()
	initData := buildInitData(t, "test-bot-token", initFields(now))

	// дополнительное поле ломает подпись
	_, err := ValidateTelegramInitData(initData+"&x=1", "test-bot-token", now)
	if !errors.Is(err, ErrInitDataSignature) {
		t.Fatalf("ожидалась ошибка подписи, получено %v", err)
	}
}

func TestValidateTelegramInitData_WrongToken(t *testing.T) {
	now := time.Now()
	initData := buildInitData(t, "test-bot-token", initFields(now))

	if _, err := ValidateTelegramInitData(initData, "other-token", now); !errors.Is(err, ErrInitDataSignature) {
		t.Fatalf("ожидалась ошибка подписи, получено %v", err)
	}
}

func TestValidateTelegramInitData_Expired(t *testing.T) {
	now := time.Now()
	initData := buildInitData(t, "test-bot-token", initFields(now.Add(-2*time.Hour)))

	if _, err := ValidateTelegramInitData(initData, "test-bot-token", now); !errors.Is(err, ErrInitDataExpired) {
		t.Fatalf("ожидалась ошибка устаревшей init data, получено %v", err)
	}
}

func TestValidateTelegramInitData_NoHash(t *testing.T) {
	if _, err := ValidateTelegramInitData("auth_date=1&user=%7B%7D", "test-bot-token", time.Now()); !errors.Is(err, ErrInitDataMalformed) {
		t.Fatalf("ожидалась ошибка формата, получено %v", err)
	}
}
