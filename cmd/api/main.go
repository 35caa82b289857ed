package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sales-pipeline/internal/auth"
	"sales-pipeline/internal/config"
	"sales-pipeline/internal/database"
	"sales-pipeline/internal/httpapi"
	"sales-pipeline/internal/leads"
	"sales-pipeline/internal/metrics"
	"sales-pipeline/internal/notify"
	"sales-pipeline/pkg/logger"
	"sales-pipeline/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	m := metrics.New()

	store, publisher, closeInfra, err := openInfra(rootCtx, cfg, log)
	if err != nil {
		log.Error("infrastructure init failed", "err", err)
		os.Exit(1)
	}
	defer closeInfra()

	notifier := notify.NewService(publisher, log,
		notify.WithTimeout(cfg.Leads.NotifyTimeout),
		notify.WithFailureHook(m.RecordNotificationDropped),
	)
	leadService := leads.NewService(store, leads.NewTicketGenerator(cfg.Leads.Location),
		leads.WithNotifier(notifier),
		leads.WithObserver(m),
	)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, httpapi.Handlers{Auth: authManager, Leads: leadService}, auth.RequireAccessToken(authManager), m.Handler(), !cfg.IsProduction())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Leads.Store, "ticket_tz", cfg.Leads.TicketTimezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Let in-flight notifications finish before the broker connection closes.
	notifier.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// openInfra builds the lead store and notification publisher for the
// configured store mode.
func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (leads.Store, notify.Publisher, func(), error) {
	if cfg.Leads.Store == config.StoreMemory {
		log.Warn("using in-memory lead store; data is lost on restart")
		return leads.NewMemoryStore(), notify.NewLogPublisher(log), func() {}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, db, log); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	closeAll := func() {
		_ = rdb.Close()
		closeDB(db, log)
	}
	return leads.NewPostgresStore(db), notify.NewRedisPublisher(rdb, cfg.Leads.NotifyStream, cfg.Leads.NotifyStreamMaxLen), closeAll, nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Error("postgres close failed", "err", err)
	}
}
