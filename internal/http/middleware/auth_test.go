package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"reward_platform/internal/domain"
	"reward_platform/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct{}

func (fakeTokens) Parse(token string) (*service.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &service.Claims{UserID: 7, Role: domain.RoleUser}, nil
}

type fakeUsers struct {
	err error
}

func (f fakeUsers) ActiveUser(_ context.Context, userID int64) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.User{ID: userID, Role: domain.RoleUser, IsActive: true}, nil
}

func authRequest(t *testing.T, users UserLoader, header string) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Auth(fakeTokens{}, users), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": u.ID})
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestAuth(t *testing.T) {
	code, body := authRequest(t, fakeUsers{}, "Bearer good")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), body["id"])

	code, body = authRequest(t, fakeUsers{}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing bearer token", body["message"])

	code, _ = authRequest(t, fakeUsers{}, "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = authRequest(t, fakeUsers{err: domain.NotFound("user 7 not found")}, "Bearer good")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestAuthDisabledAccountMessage(t *testing.T) {
	code, body := authRequest(t, fakeUsers{err: domain.Forbidden("account is disabled")}, "Bearer good")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["error"])
	assert.Equal(t, "account is disabled", body["message"])
}
