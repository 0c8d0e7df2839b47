package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"qms/dispatch-service/internal/announce"
	"qms/dispatch-service/internal/config"
	"qms/dispatch-service/internal/httpclient"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/notify/redisbus"
	"qms/dispatch-service/internal/telemetry"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadObserver()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	bindFlags(&cfg, pflag.CommandLine)
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("queue-display stopped", "error", err)
		os.Exit(1)
	}
}

// bindFlags lets command-line flags override the environment.
func bindFlags(cfg *config.ObserverConfig, fs *pflag.FlagSet) {
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "dispatch service base URL")
	fs.StringVar(&cfg.CallerToken, "token", cfg.CallerToken, "caller token sent as a bearer credential")
	fs.StringVar(&cfg.ChangeSource, "source", cfg.ChangeSource, "change source: poll or push")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "refresh interval in poll mode")
	fs.DurationVar(&cfg.ResubscribeDelay, "resubscribe-delay", cfg.ResubscribeDelay, "wait before resubscribing in push mode")
	fs.IntVar(&cfg.FetchAttempts, "fetch-attempts", cfg.FetchAttempts, "attempts per fetch before giving up")
	fs.DurationVar(&cfg.FetchBackoff, "fetch-backoff", cfg.FetchBackoff, "delay before the first fetch retry")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for push mode")
	fs.StringVar(&cfg.RedisChannel, "redis-channel", cfg.RedisChannel, "redis channel carrying change events")
	fs.StringVar(&cfg.AnnounceProvider, "announce", cfg.AnnounceProvider, "announcement provider: log, noop or a webhook URL")
	fs.StringVar(&cfg.AnnounceLang, "lang", cfg.AnnounceLang, "announcement language: en or id")
}

func run(cfg config.ObserverConfig, logger *slog.Logger) error {
	shutdownTelemetry := telemetry.Setup("queue-display", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := httpclient.New(httpclient.Config{BaseURL: cfg.APIURL, CallerToken: cfg.CallerToken})
	if err != nil {
		return err
	}

	source, closeSource, err := changeSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	announcer := announce.New(announce.Config{
		Provider: announce.NewProvider(cfg.AnnounceProvider, cfg.AnnounceToken, logger),
		Lang:     cfg.AnnounceLang,
		Logger:   logger,
	})

	observer := notify.NewObserver(notify.ObserverConfig{
		Source:   source,
		Fetcher:  client,
		Retry:    notify.RetryPolicy{Attempts: cfg.FetchAttempts, InitialDelay: cfg.FetchBackoff},
		Location: cfg.Location,
		Logger:   logger,
		OnUpdate: func(v notify.View) {
			logger.Info("now serving", "day", v.Day.String(), "tickets_today", len(v.Today()), "board", board(v))
		},
		OnAnnounce: func(a notify.Announcement) {
			_ = announcer.Announce(ctx, a)
		},
		OnError: func(err error) {
			logger.Error("display out of date", "error", err)
		},
	})

	observer.Start(ctx)
	logger.Info("queue-display started", "api", cfg.APIURL, "source", cfg.ChangeSource)
	<-ctx.Done()
	observer.Stop()
	return nil
}

func changeSource(ctx context.Context, cfg config.ObserverConfig, logger *slog.Logger) (notify.ChangeSource, func(), error) {
	if cfg.ChangeSource != config.SourcePush {
		return notify.PollSource{Interval: cfg.PollInterval}, func() {}, nil
	}
	if cfg.RedisAddr == "" {
		return nil, nil, fmt.Errorf("push mode needs REDIS_ADDR")
	}
	rdb, err := redisbus.New(ctx, redisbus.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return nil, nil, err
	}
	source := notify.PushSource{
		Subscriber:       redisbus.NewBus(rdb, cfg.RedisChannel, logger),
		ResubscribeDelay: cfg.ResubscribeDelay,
		Logger:           logger,
	}
	return source, func() { _ = rdb.Close() }, nil
}

// board renders "counter=ticket" pairs in a stable order.
func board(v notify.View) []string {
	names := make(map[string]string, len(v.Counters))
	for _, c := range v.Counters {
		names[c.CounterID] = c.Name
	}
	out := make([]string, 0, len(v.Current))
	for counterID, ticket := range v.Current {
		name := names[counterID]
		if name == "" {
			name = counterID
		}
		out = append(out, name+"="+ticket.TicketNumber)
	}
	sort.Strings(out)
	return out
}
