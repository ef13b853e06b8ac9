package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreModeLocked = "locked"
	StoreModeActor  = "actor"
)

type Config struct {
	Port               string
	StoreMode          string
	QueueCapacity      int
	EventBuffer        int
	DatabaseURL        string
	EventSink          string
	EventSinkToken     string
	RateLimitPerMinute int
	RateLimitBurst     int
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
}

func Load() Config {
	port := os.Getenv("TICKET_PORT")
	if port == "" {
		port = "8080"
	}
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_MODE")))
	if mode == "" {
		mode = StoreModeLocked
	}

	return Config{
		Port:               port,
		StoreMode:          mode,
		QueueCapacity:      readInt("STORE_QUEUE_CAPACITY", 128),
		EventBuffer:        readInt("EVENT_BUFFER", 256),
		DatabaseURL:        os.Getenv("DB_DSN"),
		EventSink:          strings.TrimSpace(os.Getenv("EVENT_SINK")),
		EventSinkToken:     os.Getenv("EVENT_SINK_TOKEN"),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 600),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 100),
		RequestTimeout:     readDurationSeconds("REQUEST_TIMEOUT_SECONDS", 5),
		ShutdownTimeout:    readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreMode {
	case StoreModeLocked, StoreModeActor:
	default:
		errs = append(errs, fmt.Errorf("unknown store mode %q", c.StoreMode))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event buffer must be positive, got %d", c.EventBuffer))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	return errors.Join(errs...)
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
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
