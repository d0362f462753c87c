package jobs

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
	"github.com/Spok95/shuttle-van-bot/internal/models"
	"github.com/Spok95/shuttle-van-bot/internal/observability"
	"github.com/Spok95/shuttle-van-bot/internal/tg"
)

// Sender — доставка текста в telegram-чат.
type Sender interface {
	SendText(chatID int64, text string) error
}

// DeliverNotifications — джоб доставки: берёт пачку недоставленных
// уведомлений, шлёт каждое получателю и помечает доставленными.
// С очереди уведомление снимают только доставка или окончательный отказ
// телеграма (чат не найден, бот заблокирован). Сеть, 429, 5xx и прочие
// сбои оставляют его на следующий запуск.
func DeliverNotifications(database *sql.DB, send Sender, batch int, log *zap.Logger) Job {
	log = logging.OrNop(log)
	return func(ctx context.Context) error {
		pending, err := db.PendingDeliveries(ctx, database, batch)
		if err != nil {
			observability.CaptureErr(err)
			return fmt.Errorf("pending deliveries: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		done := make([]int64, 0, len(pending))
		for _, p := range pending {
			if err := send.SendText(p.RecipientChat, FormatNotification(p)); err != nil {
				if !tg.IsPermanentErr(err) {
					log.Debug("notification delivery deferred",
						zap.Int64("notification_id", p.ID),
						zap.Error(err),
					)
					continue
				}
				log.Warn("notification dropped",
					zap.Int64("notification_id", p.ID),
					zap.Int64("recipient_id", p.RecipientID),
					zap.Error(err),
				)
			} else {
				metrics.NotificationsDelivered.Inc()
			}
			done = append(done, p.ID)
		}

		if err := db.MarkDelivered(ctx, database, done); err != nil {
			observability.CaptureErr(err)
			return fmt.Errorf("mark delivered: %w", err)
		}
		return nil
	}
}

// FormatNotification — текст уведомления в телеграме.
func FormatNotification(p db.PendingDelivery) string {
	return fmt.Sprintf("🔔 %s: %s", models.DriverDisplayName(p.SenderName), p.Message)
}
