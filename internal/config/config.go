package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultReminderText = "Van is leaving in 5 minutes! Hurry up."

type Config struct {
	BotToken    string         `validate:"required"`
	DatabaseURL string         `validate:"required"`
	Location    *time.Location `validate:"-"`
	HTTPAddr    string         `validate:"required"`
	LogLevel    string         `validate:"oneof=debug info warn error"`
	Env         string         `validate:"oneof=dev prod"` // dev|prod
	SentryDSN   string

	// VanCapacity — количество мест в фургоне, показывается в списке водителя.
	VanCapacity  int    `validate:"min=1"`
	ReminderText string `validate:"required,max=500"`

	NotifyInterval   time.Duration `validate:"min=1s"`
	NotifyBatch      int           `validate:"min=1,max=1000"`
	ChatHistoryLimit int           `validate:"min=1,max=200"`
}

var validate = validator.New()

func Load() (*Config, error) {
	tz := getenv("TZ", "Asia/Karachi")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	capacity, err := getInt("VAN_CAPACITY", 12)
	if err != nil {
		return nil, err
	}
	batch, err := getInt("NOTIFY_BATCH", 50)
	if err != nil {
		return nil, err
	}
	history, err := getInt("CHAT_HISTORY_LIMIT", 20)
	if err != nil {
		return nil, err
	}
	interval, err := time.ParseDuration(getenv("NOTIFY_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("NOTIFY_INTERVAL: %w", err)
	}

	cfg := &Config{
		BotToken:         os.Getenv("BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		Location:         loc,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		Env:              getenv("ENV", "dev"),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		VanCapacity:      capacity,
		ReminderText:     getenv("REMINDER_TEXT", DefaultReminderText),
		NotifyInterval:   interval,
		NotifyBatch:      batch,
		ChatHistoryLimit: history,
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: bad number %q: %w", k, v, err)
	}
	return n, nil
}
