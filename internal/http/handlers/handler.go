package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"reward_platform/internal/domain"
	"reward_platform/internal/http/middleware"
	"reward_platform/internal/logger"
	"reward_platform/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler - HTTP обработчики API поверх сервисного слоя
type Handler struct {
	Auth     *service.AuthService
	Earnings *service.EarningService
	Offers   *service.OfferService
	Ledger   *service.LedgerService
	Payouts  *service.PayoutService
	Admin    *service.AdminService
	Audit    *service.AuditService
}

var statusByKind = map[domain.ErrorKind]int{
	domain.KindValidation:          http.StatusBadRequest,
	domain.KindUnauthorized:        http.StatusUnauthorized,
	domain.KindForbidden:           http.StatusForbidden,
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindNotEligible:         http.StatusConflict,
	domain.KindStateTransition:     http.StatusConflict,
	domain.KindInsufficientBalance: http.StatusUnprocessableEntity,
	domain.KindOfferUnavailable:    http.StatusUnprocessableEntity,
	domain.KindLimitExceeded:       http.StatusTooManyRequests,
	domain.KindConflict:            http.StatusServiceUnavailable,
}

// respondError: доменные ошибки отдаются как {"error": kind, "message": msg}, остальное - 500
func respondError(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := statusByKind[de.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		if de.Kind == domain.KindConflict {
			c.Header("Retry-After", "1")
		}
		c.JSON(status, gin.H{"error": de.Kind, "message": de.Message})
		return
	}
	logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": domain.KindValidation, "message": msg})
}

// currentUser: маршрут без Auth - ошибка конфигурации роутера
func currentUser(c *gin.Context) *domain.User {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		panic("handlers: route is not behind auth middleware")
	}
	return u
}

// requestMeta собирает IP, User-Agent и страну из заголовков CDN
func requestMeta(c *gin.Context) service.RequestMeta {
	meta := service.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	for _, h := range []string{"CF-IPCountry", "X-Country-Code"} {
		v := c.GetHeader(h)
		if v == "" || v == "XX" {
			continue
		}
		meta.Country = domain.CountryOther
		if country, ok := domain.ParseCountry(v); ok {
			meta.Country = country
		}
		break
	}
	return meta
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if err != nil {
		return def
	}
	return v
}
