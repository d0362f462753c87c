package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Spok95/shuttle-van-bot/internal/ctxutil"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// ErrSessionInactive: запись есть, но сессия закрыта или заменена новой.
// Леджер прошлых сессий только для чтения.
var ErrSessionInactive = errors.New("session is no longer active")

// SetStatus — перезапись статуса одной строки (last-write-wins), только пока
// сессия активна. sql.ErrNoRows, если записи (session_id, student_id) нет;
// ErrSessionInactive, если сессия уже неактивна.
func SetStatus(ctx context.Context, database *sql.DB, studentID, sessionID int64, status models.Status) (models.AttendanceRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	r := models.AttendanceRecord{SessionID: sessionID, StudentID: studentID}
	var st string
	err := database.QueryRowContext(ctx, `
		UPDATE attendance a SET status = $1, updated_at = now()
		WHERE a.student_id = $2 AND a.session_id = $3
		  AND EXISTS (SELECT 1 FROM sessions s WHERE s.id = $3 AND s.active)
		RETURNING a.status, a.updated_at
	`, string(status), studentID, sessionID).Scan(&st, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qerr := database.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM attendance WHERE student_id = $1 AND session_id = $2)
		`, studentID, sessionID).Scan(&exists); qerr != nil {
			return models.AttendanceRecord{}, qerr
		}
		if exists {
			return models.AttendanceRecord{}, ErrSessionInactive
		}
		return models.AttendanceRecord{}, sql.ErrNoRows
	}
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	r.Status = models.Status(st)
	return r, nil
}

func GetRecord(ctx context.Context, database *sql.DB, sessionID, studentID int64) (models.AttendanceRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	r := models.AttendanceRecord{SessionID: sessionID, StudentID: studentID}
	var st string
	err := database.QueryRowContext(ctx, `
		SELECT status, updated_at FROM attendance WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID).Scan(&st, &r.UpdatedAt)
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	r.Status = models.Status(st)
	return r, nil
}

// ListRecords — весь леджер сессии.
func ListRecords(ctx context.Context, database *sql.DB, sessionID int64) ([]models.AttendanceRecord, error) {
	return listRecords(ctx, database, `
		SELECT session_id, student_id, status, updated_at
		FROM attendance WHERE session_id = $1
		ORDER BY student_id
	`, sessionID)
}

// ListNotPresent — записи, по которым студент ещё не отметился как present.
func ListNotPresent(ctx context.Context, database *sql.DB, sessionID int64) ([]models.AttendanceRecord, error) {
	return listRecords(ctx, database, `
		SELECT session_id, student_id, status, updated_at
		FROM attendance WHERE session_id = $1 AND status <> 'present'
		ORDER BY student_id
	`, sessionID)
}

func listRecords(ctx context.Context, database *sql.DB, q string, args ...any) ([]models.AttendanceRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.AttendanceRecord
	for rows.Next() {
		var (
			r  models.AttendanceRecord
			st string
		)
		if err := rows.Scan(&r.SessionID, &r.StudentID, &st, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = models.Status(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ViewList — леджер сессии с полями ростера (имя, рег. номер, водитель).
func ViewList(ctx context.Context, database *sql.DB, sessionID int64) ([]models.ViewRow, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT a.session_id, a.student_id, a.status, u.name, COALESCE(u.reg_no, ''), u.driver_id
		FROM attendance a
		JOIN users u ON u.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY u.name, a.student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.ViewRow, 0)
	for rows.Next() {
		var (
			v        models.ViewRow
			st       string
			driverID sql.NullInt64
		)
		if err := rows.Scan(&v.SessionID, &v.StudentID, &st, &v.Name, &v.RegNo, &driverID); err != nil {
			return nil, err
		}
		v.Status = models.Status(st)
		if driverID.Valid {
			id := driverID.Int64
			v.DriverID = &id
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
