package http

import (
	nethttp "net/http"

	"reward_platform/internal/http/handlers"
	"reward_platform/internal/http/middleware"
	"reward_platform/internal/metrics"
	"reward_platform/internal/service"
	"reward_platform/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps - все, что нужно роутеру
type Deps struct {
	Handlers      *handlers.Handler
	Tokens        *service.TokenManager
	WS            *ws.Handler
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	RateLimiter   *middleware.RateLimiter
	AllowedOrigin string
	Version       string
}

// NewRouter собирает gin engine со всеми маршрутами API
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Observe(d.Metrics), middleware.CORS(d.AllowedOrigin))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "version": d.Version})
	})
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if d.WS != nil {
		r.GET("/ws", d.WS.Serve)
	}

	h := d.Handlers
	api := r.Group("/api/v1")

	public := api.Group("", middleware.RateLimit(d.RateLimiter))
	public.POST("/auth/register", h.Register)
	public.POST("/auth/login", h.Login)
	public.GET("/leaderboard", h.Leaderboard)

	user := api.Group("", middleware.Auth(d.Tokens, h.Auth), middleware.RateLimit(d.RateLimiter))
	user.GET("/me", h.Me)
	user.POST("/me/telegram", h.LinkTelegram)

	user.POST("/earnings/daily-bonus", h.DailyBonus)
	user.POST("/earnings/video", h.WatchVideo)
	user.GET("/earnings/quiz", h.GetQuiz)
	user.POST("/earnings/quiz", h.SubmitQuiz)
	user.GET("/earnings/summary", h.EarningsSummary)
	user.GET("/earnings/referrals", h.ReferralEarnings)

	user.GET("/offers/:id", h.GetOffer)
	user.POST("/offers/:id/click", h.OfferClick)
	user.POST("/offers/:id/complete", h.CompleteOffer)

	user.GET("/ledger", h.History)

	user.POST("/payouts", h.RequestPayout)
	user.GET("/payouts", h.ListMyPayouts)
	user.GET("/payouts/methods", h.PayoutMethods)
	user.POST("/payouts/:id/cancel", h.CancelPayout)

	admin := user.Group("/admin", middleware.RequireModerator())
	admin.GET("/payouts", h.AdminListPayouts)
	admin.GET("/payouts/stats", h.AdminPayoutStats)
	admin.POST("/payouts/:id/:action", h.AdminTransitionPayout)
	admin.POST("/users/:id/adjust", h.AdjustBalance)
	admin.GET("/users/:id/audit", h.UserAudit)
	admin.POST("/offers", h.CreateOffer)

	return r
}
