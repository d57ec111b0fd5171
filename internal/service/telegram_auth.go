package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataSignature = errors.New("init data signature mismatch")
	ErrInitDataExpired   = errors.New("init data is too old")
	ErrInitDataMalformed = errors.New("init data is malformed")
)

const (
	initDataMaxAge    = time.Hour
	initDataMaxFuture = 5 * time.Minute
)

// TelegramUser - поле user из init_data
type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// ValidateTelegramInitData проверяет HMAC init_data Telegram WebApp
// и свежесть auth_date (не старше часа), возвращает пользователя Telegram
func ValidateTelegramInitData(initData, botToken string, now time.Time) (*TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrInitDataMalformed
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrInitDataMalformed
	}
	values.Del("hash")

	provided, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrInitDataMalformed
	}
	if !hmac.Equal(initDataSignature(values, botToken), provided) {
		return nil, ErrInitDataSignature
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, ErrInitDataMalformed
	}
	age := now.Sub(time.Unix(authDate, 0))
	if age > initDataMaxAge || age < -initDataMaxFuture {
		return nil, ErrInitDataExpired
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, ErrInitDataMalformed
	}
	return &user, nil
}

// initDataSignature: ключ = HMAC("WebAppData", token), подписывается "k=v" через \n по возрастанию ключей
func initDataSignature(values url.Values, botToken string) []byte {
	pairs := make([]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, k+"="+strings.Join(v, ""))
	}
	sort.Strings(pairs)

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(botToken))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))
	return h.Sum(nil)
}
