package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	DatabaseURL              string
	StoreDriver              string
	SeedFile                 string
	Location                 *time.Location
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	RedisChannel             string
	RateLimitPerMinute       int
	RateLimitBurst           int
	CallerRateLimitPerMinute int
	CallerRateLimitBurst     int
	RecentTicketLimit        int
	LogLevel                 slog.Level
}

// ObserverConfig drives a display or terminal process.
type ObserverConfig struct {
	APIURL           string
	CallerToken      string
	ChangeSource     string
	PollInterval     time.Duration
	ResubscribeDelay time.Duration
	FetchAttempts    int
	FetchBackoff     time.Duration
	Location         *time.Location
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisChannel     string
	AnnounceProvider string
	AnnounceToken    string
	AnnounceLang     string
	LogLevel         slog.Level
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	SourcePoll = "poll"
	SourcePush = "push"
)

// LoadDotEnv reads .env files into the environment when present. Values
// already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

func Load() (Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverMemory {
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, driver)
	}
	loc, err := readLocation("TIMEZONE")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		StoreDriver:              driver,
		SeedFile:                 os.Getenv("SEED_FILE"),
		Location:                 loc,
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  readInt("REDIS_DB", 0),
		RedisChannel:             readString("REDIS_CHANNEL", "dispatch:changes"),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		CallerRateLimitPerMinute: readInt("CALLER_RATE_LIMIT_PER_MIN", 600),
		CallerRateLimitBurst:     readInt("CALLER_RATE_LIMIT_BURST", 120),
		RecentTicketLimit:        readInt("RECENT_TICKET_LIMIT", 100),
		LogLevel:                 readLevel("LOG_LEVEL"),
	}
	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DB_DSN is required for the %s driver", DriverPostgres)
	}
	return cfg, nil
}

func LoadObserver() (ObserverConfig, error) {
	source := strings.ToLower(readString("CHANGE_SOURCE", SourcePoll))
	if source != SourcePoll && source != SourcePush {
		return ObserverConfig{}, fmt.Errorf("CHANGE_SOURCE must be %q or %q, got %q", SourcePoll, SourcePush, source)
	}
	loc, err := readLocation("TIMEZONE")
	if err != nil {
		return ObserverConfig{}, err
	}
	return ObserverConfig{
		APIURL:           readString("API_URL", "http://localhost:8080"),
		CallerToken:      os.Getenv("CALLER_TOKEN"),
		ChangeSource:     source,
		PollInterval:     readDurationMillis("POLL_INTERVAL_MS", 2000),
		ResubscribeDelay: readDurationSeconds("RESUBSCRIBE_DELAY_SECONDS", 5),
		FetchAttempts:    readInt("FETCH_ATTEMPTS", 3),
		FetchBackoff:     readDurationMillis("FETCH_BACKOFF_MS", 1000),
		Location:         loc,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          readInt("REDIS_DB", 0),
		RedisChannel:     readString("REDIS_CHANNEL", "dispatch:changes"),
		AnnounceProvider: readString("ANNOUNCE_PROVIDER", "log"),
		AnnounceToken:    os.Getenv("ANNOUNCE_WEBHOOK_TOKEN"),
		AnnounceLang:     readString("ANNOUNCE_LANG", "en"),
		LogLevel:         readLevel("LOG_LEVEL"),
	}, nil
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readLocation(key string) (*time.Location, error) {
	name := strings.TrimSpace(os.Getenv(key))
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return loc, nil
}

func readLevel(key string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(readString(key, "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
