package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/app"
	"github.com/Spok95/shuttle-van-bot/internal/attendance"
	"github.com/Spok95/shuttle-van-bot/internal/bot"
	"github.com/Spok95/shuttle-van-bot/internal/config"
	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/jobs"
	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/messaging"
	"github.com/Spok95/shuttle-van-bot/internal/observability"
	"github.com/Spok95/shuttle-van-bot/internal/realtime"
	"github.com/Spok95/shuttle-van-bot/internal/tg"
)

// version подставляется через -ldflags "-X main.version=..."
var version = "dev"

func main() {
	envFile := pflag.String("env-file", ".env", "path to .env file")
	migrateOnly := pflag.Bool("migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	// Загрузка переменных окружения
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("no %s file, using process environment", *envFile)
	}

	if err := run(*migrateOnly); err != nil {
		log.Fatal(err)
	}
}

func run(migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer lg.Closer()
	logger := lg.Base

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer func() { _ = database.Close() }()

	if err := db.Migrate(database, logger); err != nil {
		observability.CaptureErr(err)
		return fmt.Errorf("migrate: %w", err)
	}
	if migrateOnly {
		return nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	logger.Info("bot started", zap.String("username", api.Self.UserName), zap.String("version", version))

	hub := realtime.NewHub(db.Listener(cfg.DatabaseURL), lg.Component("realtime"))
	go func() {
		if err := hub.Run(ctx); err != nil {
			observability.CaptureErr(err)
			logger.Error("feed stopped", zap.Error(err))
		}
	}()
	defer hub.Close()

	svc := attendance.New(database, lg.Component("attendance"), attendance.Options{
		ReminderText: cfg.ReminderText,
		VanCapacity:  cfg.VanCapacity,
	})

	// новые уведомления доставляются сразу по вставке, тикер дочищает хвост
	inserted := hub.Subscribe(realtime.Filter{Table: "notifications"})
	runner := jobs.New(ctx, lg.Component("jobs"))
	runner.EveryOr(cfg.NotifyInterval, inserted.Signal(), "notifications",
		jobs.DeliverNotifications(database, tg.Client{Bot: api}, cfg.NotifyBatch, lg.Component("notifications")))

	app.StartHTTP(ctx, cfg.HTTPAddr, database, lg.Component("http"))

	b := bot.New(api, database, svc, bot.ChatDeps{
		Directory:    messaging.PGDirectory{DB: database},
		Store:        messaging.PGStore{DB: database},
		Feed:         messaging.HubFeed{Hub: hub, Log: lg.Component("feed")},
		HistoryLimit: cfg.ChatHistoryLimit,
	}, cfg.Location, cfg.VanCapacity, lg.Component("bot"))
	b.Run(ctx)

	logger.Info("shutting down")
	return nil
}
