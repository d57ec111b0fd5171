package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/service"

	"github.com/gin-gonic/gin"
)

const userKey = "user"

var (
	kindUnauthorized = string(domain.KindUnauthorized)
	kindForbidden    = string(domain.KindForbidden)
)

// TokenParser проверяет подпись и срок JWT
type TokenParser interface {
	Parse(token string) (*service.Claims, error)
}

// UserLoader отдает пользователя, которому разрешено действовать
type UserLoader interface {
	ActiveUser(ctx context.Context, userID int64) (*domain.User, error)
}

// Auth требует Authorization: Bearer <jwt>. Пользователь перечитывается из хранилища,
// поэтому бан и смена роли действуют сразу, без перевыпуска токена
func Auth(tokens TokenParser, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abort(c, http.StatusUnauthorized, kindUnauthorized, "missing bearer token")
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			abort(c, http.StatusUnauthorized, kindUnauthorized, "invalid or expired token")
			return
		}

		u, err := users.ActiveUser(c.Request.Context(), claims.UserID)
		switch domain.KindOf(err) {
		case "":
			if err != nil {
				logger.WithContext(c.Request.Context()).Error("auth user lookup failed", "user_id", claims.UserID, "error", err)
				abort(c, http.StatusInternalServerError, "internal_error", "internal error")
				return
			}
		case domain.KindForbidden:
			msg := "forbidden"
			var de *domain.Error
			if errors.As(err, &de) {
				msg = de.Message
			}
			abort(c, http.StatusForbidden, kindForbidden, msg)
			return
		default:
			abort(c, http.StatusUnauthorized, kindUnauthorized, "user not found")
			return
		}

		c.Set(userKey, u)
		c.Request = c.Request.WithContext(logger.ContextWithUserID(c.Request.Context(), u.ID))
		c.Next()
	}
}

// RequireModerator пропускает только модераторов и админов
func RequireModerator() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok || !u.Role.CanModerate() {
			abort(c, http.StatusForbidden, kindForbidden, "moderator role required")
			return
		}
		c.Next()
	}
}

// CurrentUser - пользователь, установленный Auth
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*domain.User)
	return u, ok && u != nil
}

// SetUser кладет пользователя в контекст запроса (тесты и внутренние маршруты)
func SetUser(c *gin.Context, u *domain.User) {
	c.Set(userKey, u)
}

func abort(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": msg})
}
