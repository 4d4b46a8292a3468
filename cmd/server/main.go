package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"verseroom/internal/api"
	"verseroom/internal/auth"
	"verseroom/internal/bot"
	"verseroom/internal/bot/deepseek"
	"verseroom/internal/config"
	"verseroom/internal/hub"
	"verseroom/internal/ledger"
	"verseroom/internal/limit"
	"verseroom/internal/metrics"
	"verseroom/internal/presence"
	"verseroom/internal/roster"
	"verseroom/internal/store"
	"verseroom/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("addr", cfg.HTTP.ListenAddr).
		Str("db_driver", cfg.DB.Driver).
		Str("bot_model", cfg.Bot.Model).
		Msg("starting verseroom")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	m := metrics.Global()
	docs := store.NewDocStore(st)
	accounts := roster.New(docs)
	messages := ledger.New(docs)
	tracker := presence.NewTracker(docs)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	created, err := accounts.EnsureSuperAdmin(ctx, cfg.Auth.SuperAdminUsername, cfg.Auth.SuperAdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed super admin")
	}
	if created {
		log.Info().Str("username", cfg.Auth.SuperAdminUsername).Msg("super admin account created")
	}

	var provider bot.Provider
	if cfg.Bot.APIKey != "" {
		provider = deepseek.New(deepseek.Config{
			BaseURL:     cfg.Bot.BaseURL,
			APIKey:      cfg.Bot.APIKey,
			HTTPClient:  &http.Client{Timeout: cfg.Bot.Timeout},
			MaxRetries:  cfg.Bot.MaxRetries,
			BackoffBase: cfg.Bot.BackoffBase,
		})
	} else {
		log.Warn().Msg("no bot api key configured, using mock responses")
		provider = bot.MockProvider{}
	}
	gateway := bot.NewGateway(bot.GatewayConfig{
		Provider: provider,
		Store:    st,
		Model:    cfg.Bot.Model,
		Logger:   log.Logger,
		Metrics:  m,
	})

	h := hub.New(log.Logger)
	go h.Run(ctx)

	wsServer := ws.NewServer(ws.Config{
		Hub:            h,
		Presence:       tracker,
		Ledger:         messages,
		Logger:         log.Logger,
		Metrics:        m,
		ReadTimeout:    cfg.WS.ReadTimeout,
		WriteTimeout:   cfg.WS.WriteTimeout,
		PingInterval:   cfg.WS.PingInterval,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
	})

	apiServer := api.NewServer(api.Config{
		Roster:   accounts,
		Messages: messages,
		Tokens:   tokens,
		Gateway:  gateway,
		Store:    st,
		Rate:     limit.NewRateLimiter(rdb, cfg.Rate.PerHour),
		Inflight: limit.NewInflightGuard(rdb, 2*time.Minute),
		Hub:      h,
		Logger:   log.Logger,
	})

	router := mux.NewRouter()
	router.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle(cfg.HTTP.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ws", wsServer.HandleWebSocket)
	apiServer.Register(router)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
