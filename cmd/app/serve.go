package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reward_platform/internal/bot"
	"reward_platform/internal/config"
	"reward_platform/internal/counters"
	"reward_platform/internal/db"
	apphttp "reward_platform/internal/http"
	"reward_platform/internal/http/handlers"
	"reward_platform/internal/http/middleware"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/notify"
	"reward_platform/internal/payment"
	"reward_platform/internal/repository"
	"reward_platform/internal/repository/memory"
	"reward_platform/internal/service"
	"reward_platform/internal/storage"
	"reward_platform/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

// openStore выбирает хранилище по STORAGE_DRIVER
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repository.NewPgStore(pool), pool.Close, nil
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting reward platform", "version", Version, "storage", cfg.StorageDriver)
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.Default()

	// redis: счетчики офферов и общий rate limit; без него все локально
	var (
		rdb           redis.UniversalClient
		offerCounters service.OfferCounters = counters.NewStore(store)
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to local counters", "addr", cfg.RedisAddr, "error", err)
			_ = client.Close()
		} else {
			rdb = client
			offerCounters = counters.NewRedis(client)
			defer client.Close()
			logger.Info("redis connected", "addr", cfg.RedisAddr)
		}
	}

	var proofs service.ProofStorage
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3(ctx, cfg.S3)
		if err != nil {
			return err
		}
		proofs = s3
	} else {
		logger.Warn("S3 is not configured, offers requiring screenshots cannot be completed")
	}

	var processors []service.PayoutProcessor
	if cfg.TON.Enabled() {
		ton, err := payment.NewTonProcessorFromConfig(ctx, cfg.TON)
		if err != nil {
			logger.Error("failed to init TON wallet, ton payouts stay manual", "error", err)
		} else {
			processors = append(processors, ton)
		}
	}

	hub := ws.NewHub()
	defer hub.Close()

	sinks := []notify.Sink{notify.LogSink{}, notify.NewWSSink(hub)}
	var tgBot *tgbotapi.BotAPI
	if cfg.BotToken != "" {
		tgBot, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			logger.Error("failed to init telegram bot", "error", err)
		} else {
			sinks = append(sinks, notify.NewTelegramSink(tgBot, cfg.AdminTelegramIDs))
		}
	}
	dispatcher := notify.NewDispatcher(m, sinks...)

	bank, err := service.LoadQuizBank()
	if err != nil {
		return err
	}

	tokens := service.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	balance := service.NewBalanceService(store, m)
	audit := service.NewAuditService(store)
	referrals := service.NewReferralService(store, balance, audit, dispatcher, cfg.Earning.ReferralPercent)
	payouts := service.NewPayoutService(store, balance, audit, dispatcher, m, cfg.Payout, processors...)
	admin := service.NewAdminService(store, balance, audit, dispatcher)

	h := &handlers.Handler{
		Auth:     service.NewAuthService(store, balance, referrals, tokens, audit, cfg.BotToken, cfg.Earning.SignupBonus),
		Earnings: service.NewEarningService(balance, dispatcher, m, cfg.Earning, bank),
		Offers:   service.NewOfferService(store, balance, offerCounters, proofs, audit, dispatcher, m),
		Ledger:   service.NewLedgerService(store),
		Payouts:  payouts,
		Admin:    admin,
		Audit:    audit,
	}

	router := apphttp.NewRouter(apphttp.Deps{
		Handlers: h,
		Tokens:   tokens,
		WS:       ws.NewHandler(hub, tokens, cfg.AllowedOrigin),
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		}, rdb),
		AllowedOrigin: cfg.AllowedOrigin,
		Version:       Version,
	})

	var adminBot *bot.AdminBot
	if cfg.AdminBotEnabled && tgBot != nil {
		adminBot = bot.NewAdminBot(tgBot, admin, payouts)
		go adminBot.Start()
	}

	var sched gocron.Scheduler
	if cfg.ReconcileInterval > 0 {
		sched, err = service.NewReconciler(store, m).Schedule(ctx, cfg.ReconcileInterval)
		if err != nil {
			return err
		}
		logger.Info("ledger reconciliation scheduled", "interval", cfg.ReconcileInterval)
	}

	srv := &nethttp.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}

	logger.Info("shutting down server...")

	if adminBot != nil {
		adminBot.Stop()
	}
	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			logger.Error("scheduler shutdown failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	dispatcher.Wait()

	logger.Info("server exited")
	return serveErr
}
