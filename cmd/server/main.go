package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chequemate/backend/internal/api"
	"github.com/chequemate/backend/internal/challenge"
	"github.com/chequemate/backend/internal/checker"
	"github.com/chequemate/backend/internal/chessapi"
	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/database"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/migrations"
	"github.com/chequemate/backend/internal/notify"
	"github.com/chequemate/backend/internal/payment"
	"github.com/chequemate/backend/internal/redis"
	"github.com/chequemate/backend/internal/report"
	"github.com/chequemate/backend/internal/settlement"
	"github.com/chequemate/backend/internal/sms"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load reads .env, so it runs before the logger picks up LOG_LEVEL.
	cfg := config.Load()

	if err := logger.InitFromEnv(); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	lg := logger.L()
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 15*time.Second)
	db, err := database.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		lg.Info("running DB migrations on startup")
		if err := migrations.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
			lg.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rdb, err := redis.Connect(connectCtx, cfg.RedisURL)
	cancelConnect()
	if err != nil {
		lg.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	matches := match.NewPostgresStore(db)
	challenges := challenge.NewStore(db)
	ledger := payment.NewLedger(db)
	publisher := notify.NewPublisher(rdb)

	// Optional collaborators are only assigned when configured so that the
	// interfaces stay nil rather than holding a nil pointer.
	var (
		payouter  settlement.Payouter
		depositor payment.Depositor
		messenger settlement.Messenger
	)
	if gateway := payment.NewClient(cfg, rdb); gateway != nil {
		payouter, depositor = gateway, gateway
		lg.Info("payment gateway configured", zap.String("host", cfg.OnitHost))
	}
	if smsClient := sms.NewClient(cfg, rdb); smsClient != nil {
		messenger = smsClient
		lg.Info("sms receipts enabled", zap.String("base", cfg.SMSServiceBaseURL))
	} else {
		lg.Info("sms is not configured, payout receipts disabled")
	}

	engine := settlement.NewEngine(settlement.Config{
		Repo:       matches,
		Challenges: challenges,
		Ledger:     ledger,
		Payouter:   payouter,
		Notifier:   publisher,
		Messenger:  messenger,
		MinPayout:  decimal.NewFromInt(int64(cfg.MinPayoutAmount)),
	})

	chess := chessapi.FromConfig(cfg)
	sched := checker.NewScheduler(chess, engine, checker.OptionsFromConfig(cfg))

	barrier := match.NewBarrier(match.BarrierConfig{
		Repo:       matches,
		Challenges: challenges,
		Armer:      sched,
		Notifier:   publisher,
		Stakes:     payment.NewStakeCollector(depositor, ledger),
	})
	reporter := report.NewService(matches, chess, engine, sched, time.Duration(cfg.VerifyTimeoutSeconds)*time.Second)

	hub := notify.NewHub()
	if err := notify.Subscribe(ctx, rdb, hub); err != nil {
		lg.Fatal("failed to subscribe to match events", zap.Error(err))
	}

	if _, err := sched.Recover(ctx, matches); err != nil {
		lg.Error("recovery sweep failed", zap.Error(err))
	}

	sweep, err := payment.StartPendingSweep(ctx, ledger,
		time.Duration(cfg.PayoutStaleMinutes)*time.Minute,
		time.Duration(cfg.PayoutSweepMinutes)*time.Minute)
	if err != nil {
		lg.Fatal("failed to start payout sweep", zap.Error(err))
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, cfg, api.Deps{
		Barrier:  barrier,
		Matches:  matches,
		Checker:  sched,
		Reporter: reporter,
		Payments: ledger,
		Notifier: publisher,
		Hub:      hub,
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("starting chequemate server", zap.String("port", port), zap.String("env", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	lg.Info("shutting down")

	sched.Cleanup()
	if err := sweep.Shutdown(); err != nil {
		lg.Warn("payout sweep shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http server shutdown", zap.Error(err))
	}
	lg.Info("server stopped")
}
