// Package attendance — окно посещаемости водителя: старт и закрытие сессии,
// отметки студентов, финальное напоминание и список для водителя.
package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/config"
	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

var (
	ErrNotFound        = errors.New("attendance record not found")
	ErrInvalidStatus   = errors.New("status must be present or coming")
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrForeignSession  = errors.New("session belongs to another driver")
	ErrNoDriver        = errors.New("driver id is required")
	ErrNoAssignedVan   = errors.New("no driver assigned to this student")
	ErrSessionClosed   = errors.New("session is closed, its attendance is read-only")
)

type Options struct {
	ReminderText string
	VanCapacity  int
}

type Service struct {
	db   *sql.DB
	log  *zap.Logger
	opts Options
}

func New(database *sql.DB, log *zap.Logger, opts Options) *Service {
	if opts.ReminderText == "" {
		opts.ReminderText = config.DefaultReminderText
	}
	if opts.VanCapacity <= 0 {
		opts.VanCapacity = 12
	}
	return &Service{db: database, log: logging.OrNop(log), opts: opts}
}

// StartSession открывает новую сессию водителя вместе с полным леджером.
// Предыдущая активная сессия водителя закрывается в той же транзакции.
func (s *Service) StartSession(ctx context.Context, driverID int64) (models.Session, error) {
	if driverID <= 0 {
		return models.Session{}, ErrNoDriver
	}
	sess, seeded, err := db.StartSession(ctx, s.db, driverID)
	if err != nil {
		s.log.Warn("start session failed", zap.Int64("driver_id", driverID), zap.Error(err))
		return models.Session{}, fmt.Errorf("start session: %w", err)
	}
	metrics.SessionsStarted.Inc()
	s.log.Info("session started",
		zap.Int64("driver_id", driverID),
		zap.Int64("session_id", sess.ID),
		zap.Int("students", seeded),
	)
	return sess, nil
}

// ActiveSession — самая свежая активная сессия водителя.
func (s *Service) ActiveSession(ctx context.Context, driverID int64) (*models.Session, error) {
	sess, err := db.GetActiveSession(ctx, s.db, driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return sess, nil
}

// CloseSession снимает флаг active с сессии водителя.
func (s *Service) CloseSession(ctx context.Context, driverID, sessionID int64) error {
	ok, err := db.CloseSession(ctx, s.db, driverID, sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if !ok {
		return ErrNoActiveSession
	}
	s.log.Info("session closed", zap.Int64("driver_id", driverID), zap.Int64("session_id", sessionID))
	return nil
}

// RepairLedger повторно вызывает сброс леджера для сессии. Процедура
// идемпотентна: существующие записи не трогаются, недостающие добавляются.
func (s *Service) RepairLedger(ctx context.Context, sessionID int64) (int, error) {
	n, err := db.ResetAttendance(ctx, s.db, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reset attendance: %w", err)
	}
	return n, nil
}
