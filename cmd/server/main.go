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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llmexplorer/internal/config"
	"llmexplorer/internal/httpapi"
	"llmexplorer/internal/limits"
	"llmexplorer/internal/metrics"
	"llmexplorer/internal/ollama"
	"llmexplorer/internal/session"
	"llmexplorer/internal/storage"
	"llmexplorer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("ollama_base_url", cfg.Ollama.BaseURL).
		Str("model", cfg.Ollama.DefaultModel).
		Bool("audit", cfg.Audit.Enabled).
		Msg("starting llmexplorer")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	var audit *storage.Store
	if cfg.Audit.Enabled {
		audit, err = storage.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN, cfg.Audit.AutoMigrate, "migrations")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize audit storage")
		}
		defer audit.Close()
	}

	model := ollama.New(ollama.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Logger:  log.Logger,
	})
	tagsCtx, tagsCancel := context.WithTimeout(ctx, cfg.Ollama.TagsTimeout)
	defer tagsCancel()
	if models, err := model.Models(tagsCtx); err != nil {
		log.Warn().Err(err).Msg("model server not reachable at startup")
	} else {
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		log.Info().Strs("models", names).Msg("model server reachable")
	}

	m := metrics.Global()
	manager := session.NewManager(session.Config{
		Users:        store.NewUsers(rdb),
		Chats:        store.NewChats(rdb),
		Embeddings:   store.NewEmbeddings(rdb),
		Model:        model,
		Sessions:     session.NewTokenStore(rdb, cfg.Session.TTL),
		Audit:        audit,
		RateLimiter:  limits.NewRateLimiter(rdb, cfg.Rate.PerHour),
		Logger:       log.Logger,
		Metrics:      m,
		DefaultModel: cfg.Ollama.DefaultModel,
		Options: ollama.Options{
			Temperature: cfg.Ollama.Temperature,
			TopP:        cfg.Ollama.TopP,
			NumPredict:  cfg.Ollama.NumPredict,
		},
	})

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers:    httpapi.NewHandlers(manager, log.Logger),
		CORSOrigins: cfg.Server.CORSOrigins,
		HealthPath:  cfg.Server.HealthPath,
		MetricsPath: cfg.Server.MetricsPath,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
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
