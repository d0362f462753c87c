package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// FetchViewList — леджер сессии с полями ростера. Пустая сессия — пустой
// список, не ошибка.
func (s *Service) FetchViewList(ctx context.Context, sessionID int64) ([]models.ViewRow, error) {
	rows, err := db.ViewList(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("view list: %w", err)
	}
	return rows, nil
}

// View — список водителя: только его студенты плюс сводка.
type View struct {
	Session  models.Session
	Rows     []models.ViewRow
	Present  int
	Coming   int
	Absent   int
	Capacity int
}

// DriverView — FetchViewList, отфильтрованный по водителю, со счётчиками.
func (s *Service) DriverView(ctx context.Context, driverID, sessionID int64) (View, error) {
	sess, err := s.sessionOf(ctx, driverID, sessionID)
	if err != nil {
		return View{}, err
	}
	rows, err := s.FetchViewList(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	v := Summarize(FilterByDriver(rows, driverID))
	v.Session = *sess
	v.Capacity = s.opts.VanCapacity
	return v, nil
}

func (s *Service) sessionOf(ctx context.Context, driverID, sessionID int64) (*models.Session, error) {
	sess, err := db.GetSession(ctx, s.db, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", sessionID, err)
	}
	if sess.DriverID != driverID {
		return nil, ErrForeignSession
	}
	return sess, nil
}

// FilterByDriver оставляет строки студентов, закреплённых за водителем.
func FilterByDriver(rows []models.ViewRow, driverID int64) []models.ViewRow {
	out := make([]models.ViewRow, 0, len(rows))
	for _, r := range rows {
		if r.DriverID != nil && *r.DriverID == driverID {
			out = append(out, r)
		}
	}
	return out
}

// Summarize считает статусы по строкам.
func Summarize(rows []models.ViewRow) View {
	v := View{Rows: rows}
	for _, r := range rows {
		switch r.Status {
		case models.StatusPresent:
			v.Present++
		case models.StatusComing:
			v.Coming++
		default:
			v.Absent++
		}
	}
	return v
}
