// Command server runs the Telegram bridge: the bot dispatcher, the
// notification scheduler, and the HTTP surface (SSO login, configuration
// page collaborators, library webhooks) in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-telejelly-backend/internal/accounts"
	"github.com/tbourn/go-telejelly-backend/internal/bot"
	"github.com/tbourn/go-telejelly-backend/internal/config"
	"github.com/tbourn/go-telejelly-backend/internal/groups"
	httpapi "github.com/tbourn/go-telejelly-backend/internal/http"
	"github.com/tbourn/go-telejelly-backend/internal/media"
	"github.com/tbourn/go-telejelly-backend/internal/notify"
	"github.com/tbourn/go-telejelly-backend/internal/observability"
	"github.com/tbourn/go-telejelly-backend/internal/requests"
	"github.com/tbourn/go-telejelly-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// pendingFunc adapts a closure to bot.PendingCounter so the bot manager
// can be constructed before the scheduler it reports on.
type pendingFunc func() int

func (f pendingFunc) PendingCount() int { return f() }

func main() {
	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", "telejelly").Logger()

	otelShutdown, err := observability.Setup(context.Background(), cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("create data dir")
	}

	store, err := groups.NewFileStore(groups.FilePath(cfg.DataDir), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load group configuration")
	}

	reqStore := requests.New(requests.FilePath(cfg.DataDir), cfg.RequestsMaxPerUser, logger)

	db, err := accounts.OpenSQLite(accounts.FilePath(cfg.DataDir))
	if err != nil {
		logger.Fatal().Err(err).Msg("open account database")
	}
	if err := accounts.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate account database")
	}
	provisioner := accounts.NewProvisioner(db, store.Snapshot, logger)

	catalog := media.NewClient(cfg.MediaServer.URL, cfg.MediaServer.Token, logger)

	var sched *notify.Scheduler
	manager := bot.NewManager(bot.Deps{
		Groups:   store,
		Requests: reqStore,
		Catalog:  catalog,
		Pending: pendingFunc(func() int {
			if sched == nil {
				return 0
			}
			return sched.PendingCount()
		}),
		DataDir:   cfg.DataDir,
		StartedAt: time.Now(),
	}, logger)
	sched = notify.New(store.Snapshot, manager, cfg.Notify.SweepInterval, cfg.Notify.Timeout, logger)

	if err := manager.Apply(store.Snapshot()); err != nil {
		logger.Warn().Err(err).Msg("bot not started; commands are unavailable until the token is fixed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, cfg, httpapi.Deps{
		Snapshot:  store.Snapshot,
		Provision: provisioner,
		Validate:  bot.ValidateBotToken,
		Queue:     reqStore,
		Catalog:   catalog,
		Directory: accounts.NewDirectory(db),
		Library:   sched,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	manager.Stop()
	if err := otelShutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
}
