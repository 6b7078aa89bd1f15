// Command gatewayd runs the provider request gateway: an HTTP facade that
// fans prompts out to configured AI providers, retries transient failures,
// and parses prompt-improvement responses.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chatlist/gateway/pkg/api"
	"github.com/chatlist/gateway/pkg/cache"
	"github.com/chatlist/gateway/pkg/dispatch"
	"github.com/chatlist/gateway/pkg/improve"
	"github.com/chatlist/gateway/pkg/provider"
	"github.com/chatlist/gateway/pkg/resilience"
	"github.com/chatlist/gateway/pkg/secrets"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger()

	addr := envOrDefault("GATEWAY_ADDR", ":8080")
	metricsAddr := envOrDefault("METRICS_ADDR", ":9090")

	store := secrets.NewEnv()
	factory := provider.NewFactory(store, logger)

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithConcurrency(envIntOrDefault("DISPATCH_CONCURRENCY", 4)),
		dispatch.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: envIntOrDefault("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         envDurationOrDefault("BREAKER_COOLDOWN", 30*time.Second),
		}),
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		responseCache := cache.NewRedis(
			redisAddr,
			os.Getenv("REDIS_PASSWORD"),
			envIntOrDefault("REDIS_DB", 0),
			envDurationOrDefault("CACHE_TTL", time.Hour),
		)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := responseCache.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", redisAddr).Msg("redis unreachable, running without response cache")
		} else {
			logger.Info().Str("addr", redisAddr).Msg("response cache enabled")
			dispatchOpts = append(dispatchOpts, dispatch.WithCache(responseCache))
			defer responseCache.Close()
		}
	}

	dispatcher := dispatch.New(factory, dispatchOpts...)
	improver := improve.NewImprover(factory,
		improve.WithTimeout(envDurationOrDefault("IMPROVE_TIMEOUT", 60*time.Second)),
		improve.WithImproverLogger(logger),
	)

	mux := http.NewServeMux()
	api.NewHandler(dispatcher, improver, logger).Register(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway shutdown failed")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if envOrDefault("LOG_FORMAT", "console") == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
