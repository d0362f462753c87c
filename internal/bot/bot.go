// Package bot — телеграм-фронтенд: меню по роли, команды водителя и
// студента, режим группового чата.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/app"
	"github.com/Spok95/shuttle-van-bot/internal/attendance"
	"github.com/Spok95/shuttle-van-bot/internal/ctxutil"
	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/messaging"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
	"github.com/Spok95/shuttle-van-bot/internal/models"
	"github.com/Spok95/shuttle-van-bot/internal/observability"
	"github.com/Spok95/shuttle-van-bot/internal/tg"
)

// Sender — исходящие сообщения; в проде tg.Client.
type Sender interface {
	SendText(chatID int64, text string) error
	SendFile(chatID int64, name string, data []byte, caption string) error
	SendMarkup(chatID int64, text string, markup any) error
}

// ChatDeps — источники данных для синхронизаторов чата.
type ChatDeps struct {
	Directory    messaging.Directory
	Store        messaging.Store
	Feed         messaging.Feed
	HistoryLimit int
}

type Bot struct {
	api      *tgbotapi.BotAPI
	db       *sql.DB
	att      *attendance.Service
	chats    *messaging.Registry
	out      Sender
	queue    *app.ChatQueue
	log      *zap.Logger
	loc      *time.Location
	capacity int
}

func New(api *tgbotapi.BotAPI, database *sql.DB, att *attendance.Service, deps ChatDeps, loc *time.Location, capacity int, log *zap.Logger) *Bot {
	b := &Bot{
		api:      api,
		db:       database,
		att:      att,
		out:      tg.Client{Bot: api},
		queue:    app.NewChatQueue(),
		log:      logging.OrNop(log),
		loc:      loc,
		capacity: capacity,
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	b.chats = messaging.NewRegistry(func(u models.User) *messaging.Synchronizer {
		chatID := u.Base().TelegramID
		self := u.Base().ID
		return messaging.New(u, deps.Directory, deps.Store, deps.Feed, b.log.Named("chat"),
			messaging.WithHistoryLimit(deps.HistoryLimit),
			messaging.WithOnEntry(func(e messaging.Entry) {
				// своё сообщение пользователь уже видит
				if e.SenderID == self || e.Local() {
					return
				}
				if err := b.out.SendText(chatID, formatEntry(e, b.loc)); err != nil {
					b.log.Warn("chat forward failed", zap.Int64("chat_id", chatID), zap.Error(err))
				}
			}),
		)
	})
	return b
}

// Run читает апдейты до отмены ctx. Апдейты одного чата обрабатываются
// по одному и в порядке поступления.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.chats.CloseAll()
	defer b.queue.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.Message == nil {
				continue
			}
			metrics.BotUpdates.Inc()
			msg := upd.Message
			b.queue.Enqueue(msg.Chat.ID, func() { b.HandleMessage(ctx, msg.Chat.ID, msg.Text) })
		}
	}
}

// HandleMessage — один входящий текст из чата chatID.
func (b *Bot) HandleMessage(ctx context.Context, chatID int64, text string) {
	ctx = ctxutil.WithChatID(ctx, chatID)

	user, err := db.GetUserByTelegramID(ctx, b.db, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		b.reply(chatID, "⚠️ You are not registered. Please contact the transport office to link this Telegram account.")
		return
	}
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	ctx = ctxutil.WithUserID(ctx, user.Base().ID)

	cmd := parseCommand(text)
	ctx = ctxutil.WithOp(ctx, string(cmd))

	switch u := user.(type) {
	case models.Driver:
		b.handleDriver(ctx, chatID, u, cmd, text)
	case models.Student:
		b.handleStudent(ctx, chatID, u, cmd, text)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.out.SendText(chatID, text); err != nil {
		metrics.HandlerErrors.Inc()
		b.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) replyMenu(chatID int64, text string, markup any) {
	if err := b.out.SendMarkup(chatID, text, markup); err != nil {
		metrics.HandlerErrors.Inc()
		b.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// fail показывает ошибку одной строкой; системные уходят в Sentry.
func (b *Bot) fail(ctx context.Context, chatID int64, err error) {
	metrics.HandlerErrors.Inc()
	if !expected(err) {
		observability.CaptureErrCtx(ctx, err)
		op, _ := ctxutil.Op(ctx)
		b.log.Error("handler failed", zap.Int64("chat_id", chatID), zap.String("op", op), zap.Error(err))
	}
	b.reply(chatID, userError(err))
}
