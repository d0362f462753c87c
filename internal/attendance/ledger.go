package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// MarkStatus перезаписывает статус студента в сессии. Последняя запись
// побеждает; история не хранится. absent студент выставить не может,
// записи закрытой или заменённой сессии не меняются.
func (s *Service) MarkStatus(ctx context.Context, studentID, sessionID int64, status models.Status) (models.AttendanceRecord, error) {
	if !status.StudentSettable() {
		return models.AttendanceRecord{}, ErrInvalidStatus
	}
	rec, err := db.SetStatus(ctx, s.db, studentID, sessionID, status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.AttendanceRecord{}, fmt.Errorf("student %d, session %d: %w", studentID, sessionID, ErrNotFound)
	case errors.Is(err, db.ErrSessionInactive):
		return models.AttendanceRecord{}, fmt.Errorf("session %d: %w", sessionID, ErrSessionClosed)
	case err != nil:
		return models.AttendanceRecord{}, fmt.Errorf("mark status: %w", err)
	}
	metrics.StatusMarks.WithLabelValues(string(status)).Inc()
	s.log.Debug("status marked",
		zap.Int64("student_id", studentID),
		zap.Int64("session_id", sessionID),
		zap.String("status", string(status)),
	)
	return rec, nil
}

// MarkStatusForActive — отметка в текущей активной сессии водителя студента.
// Активная сессия каждый раз берётся из БД, а не из кэша клиента.
func (s *Service) MarkStatusForActive(ctx context.Context, student models.Student, status models.Status) (models.AttendanceRecord, error) {
	if student.DriverID == nil {
		return models.AttendanceRecord{}, ErrNoAssignedVan
	}
	sess, err := s.ActiveSession(ctx, *student.DriverID)
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	return s.MarkStatus(ctx, student.ID, sess.ID, status)
}

// Record — одна запись леджера.
func (s *Service) Record(ctx context.Context, sessionID, studentID int64) (models.AttendanceRecord, error) {
	rec, err := db.GetRecord(ctx, s.db, sessionID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AttendanceRecord{}, ErrNotFound
	}
	if err != nil {
		return models.AttendanceRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Ledger — все записи сессии.
func (s *Service) Ledger(ctx context.Context, sessionID int64) ([]models.AttendanceRecord, error) {
	recs, err := db.ListRecords(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}
