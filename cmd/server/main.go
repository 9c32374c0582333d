// Package main is the entry point for the fair dice server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fairdice/internal/api"
	"fairdice/internal/audit"
	"fairdice/internal/auth"
	"fairdice/internal/bot"
	"fairdice/internal/config"
	"fairdice/internal/pkg/db"
	"fairdice/internal/refdata"
	"fairdice/internal/repository"
	"fairdice/internal/service"
)

// stores groups the persistence backends selected by storage.driver.
type stores struct {
	games  service.GameStore
	users  service.UserStore
	refs   refdata.Source
	health api.HealthFunc
	close  func()
}

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Log)
	log.Info().Str("storage", cfg.Storage.Driver).Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.close()

	refs, err := refdata.Load(ctx, st.refs)
	if err != nil {
		log.Fatal().Err(err).Msg("Reference data is incomplete")
	}

	var publisher service.Publisher
	checks := []api.HealthFunc{st.health}
	if cfg.Redis.Enabled() {
		feed, err := audit.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to audit feed")
		}
		defer feed.Close()
		publisher = feed
		checks = append(checks, feed.Ping)
		log.Info().Str("addr", cfg.Redis.Addr).Str("queue", cfg.Redis.Queue).Msg("Audit feed enabled")
	}

	var tokens api.Tokens
	if cfg.Auth.Enabled() {
		tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure authentication")
		}
		tokens = tm
	} else {
		log.Warn().Msg("AUTH_JWT_SECRET is not set, HTTP game routes are disabled")
	}

	games := service.NewGameService(st.games, refs, publisher, cfg.Game.Expiration, cfg.Game.HistoryLimit)
	accounts := service.NewAccountService(st.users)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(games, accounts, tokens, api.AllHealthy(checks...)).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	var telegramBot *bot.Bot
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:   cfg,
			Games:    games,
			Accounts: accounts,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go telegramBot.Start()
	} else {
		log.Info().Msg("No bot token configured, Telegram bot disabled")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if telegramBot != nil {
		telegramBot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped gracefully")
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage, games are lost on restart")
		return &stores{
			games: repository.NewMemoryGameStore(),
			users: repository.NewMemoryUserStore(),
			refs:  repository.NewMemoryReferenceStore(),
			close: func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx, pool.Pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		games:  repository.NewGameRepository(pool.Pool),
		users:  repository.NewUserRepository(pool.Pool),
		refs:   repository.NewReferenceRepository(pool.Pool),
		health: pool.HealthCheck,
		close:  pool.Close,
	}, nil
}
