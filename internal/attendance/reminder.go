package attendance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// ReminderResult — итог по одному получателю финального напоминания.
type ReminderResult struct {
	StudentID      int64
	Status         models.Status
	NotificationID int64 // 0, если вставка не удалась
	Err            error
}

// SendFinalReminder создаёт по уведомлению каждому студенту сессии, который
// ещё не отметился present. Вставки идут по одной и без транзакции: при сбое
// посередине уже созданные уведомления остаются, а результат по каждому
// получателю возвращается в слайсе. Ошибка возвращается, только если не
// удалось прочитать леджер или не прошла ни одна вставка.
func (s *Service) SendFinalReminder(ctx context.Context, driverID, sessionID int64) ([]ReminderResult, error) {
	if driverID <= 0 {
		return nil, ErrNoDriver
	}
	if _, err := s.sessionOf(ctx, driverID, sessionID); err != nil {
		return nil, err
	}

	pending, err := db.ListNotPresent(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list not present: %w", err)
	}

	results := make([]ReminderResult, 0, len(pending))
	var errs []error
	for _, rec := range pending {
		res := ReminderResult{StudentID: rec.StudentID, Status: rec.Status}
		sid := sessionID
		id, err := db.InsertNotification(ctx, s.db, models.Notification{
			SenderID:    driverID,
			RecipientID: rec.StudentID,
			SessionID:   &sid,
			Message:     s.opts.ReminderText,
		})
		if err != nil {
			res.Err = err
			errs = append(errs, fmt.Errorf("student %d: %w", rec.StudentID, err))
			metrics.Reminders.WithLabelValues("failed").Inc()
			s.log.Warn("reminder insert failed",
				zap.Int64("session_id", sessionID),
				zap.Int64("student_id", rec.StudentID),
				zap.Error(err),
			)
		} else {
			res.NotificationID = id
			metrics.Reminders.WithLabelValues("sent").Inc()
		}
		results = append(results, res)
	}

	s.log.Info("final reminder",
		zap.Int64("session_id", sessionID),
		zap.Int("recipients", len(results)),
		zap.Int("failed", len(errs)),
	)
	if len(errs) > 0 && len(errs) == len(results) {
		return results, fmt.Errorf("final reminder: %w", errors.Join(errs...))
	}
	return results, nil
}

// Sent — сколько уведомлений реально создано.
func Sent(results []ReminderResult) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}
