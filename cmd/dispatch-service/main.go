package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"qms/dispatch-service/internal/config"
	"qms/dispatch-service/internal/dispatch"
	"qms/dispatch-service/internal/httpapi"
	"qms/dispatch-service/internal/hub"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/notify/redisbus"
	"qms/dispatch-service/internal/store"
	"qms/dispatch-service/internal/store/memory"
	"qms/dispatch-service/internal/store/postgres"
	"qms/dispatch-service/internal/telemetry"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("dispatch-service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry := telemetry.Setup("dispatch-service", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	h := hub.New(logger)
	publishers := notify.Fanout{h}
	if cfg.RedisAddr != "" {
		rdb, err := redisbus.New(ctx, redisbus.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		publishers = append(publishers, redisbus.NewBus(rdb, cfg.RedisChannel, logger))
		logger.Info("publishing changes to redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}

	engine := dispatch.New(st, dispatch.Options{
		Location:    cfg.Location,
		Publisher:   publishers,
		Logger:      logger,
		RecentLimit: cfg.RecentTicketLimit,
	})

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		CallerPerMinute: cfg.CallerRateLimitPerMinute,
		CallerBurst:     cfg.CallerRateLimitBurst,
	})

	mux := httpapi.NewHandler(engine, logger).Routes()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle(hub.Prefix+"/", hub.Handler(h))

	handler := httpapi.LoggingMiddleware(logger, limiter.Middleware(httpapi.CallerMiddleware(mux)))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler, "dispatch-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatch-service listening", "addr", server.Addr, "store", cfg.StoreDriver, "timezone", cfg.Location.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				limiter.Sweep(10 * time.Minute)
			}
		}
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		var seed memory.Seed
		if cfg.SeedFile != "" {
			loaded, err := memory.LoadSeed(cfg.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			seed = loaded
		}
		logger.Warn("using in-memory store, state is lost on restart", "services", len(seed.Services), "counters", len(seed.Counters))
		return memory.New(seed), func() {}, nil
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
