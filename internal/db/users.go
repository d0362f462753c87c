package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spok95/shuttle-van-bot/internal/ctxutil"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

var ErrUnknownUserType = errors.New("unknown user type")

const userColumns = `id, telegram_id, name, email, user_type, reg_no, department, cnic, driver_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser собирает Student или Driver по дискриминатору user_type.
func scanUser(row rowScanner) (models.User, error) {
	var (
		acc        models.Account
		telegramID sql.NullInt64
		userType   string
		regNo      sql.NullString
		department sql.NullString
		cnic       sql.NullString
		driverID   sql.NullInt64
	)
	if err := row.Scan(&acc.ID, &telegramID, &acc.Name, &acc.Email, &userType, &regNo, &department, &cnic, &driverID, &acc.CreatedAt); err != nil {
		return nil, err
	}
	acc.TelegramID = telegramID.Int64

	switch models.UserType(userType) {
	case models.StudentType:
		s := models.Student{Account: acc, RegNo: regNo.String, Department: department.String}
		if driverID.Valid {
			id := driverID.Int64
			s.DriverID = &id
		}
		return s, nil
	case models.DriverType:
		return models.Driver{Account: acc, CNIC: cnic.String}, nil
	}
	return nil, fmt.Errorf("%w %q for user %d", ErrUnknownUserType, userType, acc.ID)
}

func GetUserByID(ctx context.Context, database *sql.DB, id int64) (models.User, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := database.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func GetUserByTelegramID(ctx context.Context, database *sql.DB, telegramID int64) (models.User, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := database.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}

// ListStudentsByDriver — ростер водителя, по имени.
func ListStudentsByDriver(ctx context.Context, database *sql.DB, driverID int64) ([]models.RosterEntry, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT id, name, COALESCE(reg_no, '')
		FROM users
		WHERE driver_id = $1 AND user_type = 'student'
		ORDER BY name, id
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.RosterEntry
	for rows.Next() {
		var r models.RosterEntry
		if err := rows.Scan(&r.ID, &r.Name, &r.RegNo); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateDriver / CreateStudent — заведение профилей оператором (учётки выдаёт внешний провайдер).
func CreateDriver(ctx context.Context, database *sql.DB, d models.Driver) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id int64
	err := database.QueryRowContext(ctx, `
		INSERT INTO users (telegram_id, name, email, user_type, cnic)
		VALUES ($1, $2, $3, 'driver', $4)
		RETURNING id
	`, nullInt64(d.TelegramID), d.Name, d.Email, d.CNIC).Scan(&id)
	return id, err
}

func CreateStudent(ctx context.Context, database *sql.DB, s models.Student) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id int64
	err := database.QueryRowContext(ctx, `
		INSERT INTO users (telegram_id, name, email, user_type, reg_no, department, driver_id)
		VALUES ($1, $2, $3, 'student', $4, $5, $6)
		RETURNING id
	`, nullInt64(s.TelegramID), s.Name, s.Email, s.RegNo, s.Department, s.DriverID).Scan(&id)
	return id, err
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
