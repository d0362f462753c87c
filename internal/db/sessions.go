package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spok95/shuttle-van-bot/internal/ctxutil"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// StartSession — одна транзакция: гасим прежние активные сессии водителя,
// создаём новую и заполняем леджер через create_attendance_for_all.
// Любая ошибка откатывает всё целиком, сессия без леджера не остаётся.
// Возвращает сессию и число созданных записей посещаемости.
func StartSession(ctx context.Context, database *sql.DB, driverID int64) (models.Session, int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	tx, err := database.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return models.Session{}, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// блокируем строку водителя: два параллельных старта одного водителя идут по очереди
	var lockedID int64
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM users WHERE id = $1 AND user_type = 'driver' FOR UPDATE
	`, driverID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, 0, fmt.Errorf("driver %d: %w", driverID, err)
		}
		return models.Session{}, 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET active = FALSE WHERE driver_id = $1 AND active
	`, driverID); err != nil {
		return models.Session{}, 0, fmt.Errorf("deactivate previous: %w", err)
	}

	s := models.Session{DriverID: driverID, Active: true}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO sessions (driver_id, active) VALUES ($1, TRUE)
		RETURNING id, created_at
	`, driverID).Scan(&s.ID, &s.CreatedAt); err != nil {
		return models.Session{}, 0, fmt.Errorf("insert session: %w", err)
	}

	var seeded int
	if err := tx.QueryRowContext(ctx, `SELECT create_attendance_for_all($1)`, s.ID).Scan(&seeded); err != nil {
		return models.Session{}, 0, fmt.Errorf("create attendance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Session{}, 0, err
	}
	return s, seeded, nil
}

// ResetAttendance — повторный (идемпотентный) вызов процедуры сброса для сессии.
func ResetAttendance(ctx context.Context, database *sql.DB, sessionID int64) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var n int
	err := database.QueryRowContext(ctx, `SELECT create_attendance_for_all($1)`, sessionID).Scan(&n)
	return n, err
}

func GetSession(ctx context.Context, database *sql.DB, id int64) (*models.Session, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var s models.Session
	err := database.QueryRowContext(ctx, `
		SELECT id, driver_id, active, created_at FROM sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.DriverID, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveSession — самая свежая активная сессия водителя; sql.ErrNoRows, если нет.
func GetActiveSession(ctx context.Context, database *sql.DB, driverID int64) (*models.Session, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var s models.Session
	err := database.QueryRowContext(ctx, `
		SELECT id, driver_id, active, created_at
		FROM sessions
		WHERE driver_id = $1 AND active
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, driverID).Scan(&s.ID, &s.DriverID, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CloseSession снимает флаг active; false, если активной сессии с таким id у водителя не было.
func CloseSession(ctx context.Context, database *sql.DB, driverID, sessionID int64) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := database.ExecContext(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE id = $1 AND driver_id = $2 AND active
	`, sessionID, driverID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
