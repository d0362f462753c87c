package db

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/Spok95/shuttle-van-bot/internal/ctxutil"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

func InsertMessage(ctx context.Context, database *sql.DB, m models.Message) (models.Message, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	err := database.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, message_text, client_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, m.SenderID, m.ReceiverID, m.MessageText, m.ClientRef).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

// RoomHistory — сообщения комнаты водителя: адресованные ему или отправленные
// кем-то из участников. Дубликаты и «чужие» строки не фильтруются.
// limit > 0 — только последние limit сообщений; порядок всегда по created_at.
func RoomHistory(ctx context.Context, database *sql.DB, driverID int64, members []int64, limit int) ([]models.Message, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	q := `
		SELECT id, sender_id, receiver_id, message_text, client_ref::text, created_at
		FROM messages
		WHERE receiver_id = $1 OR sender_id = ANY($2)
		ORDER BY created_at, id
	`
	args := []any{driverID, pq.Array(members)}
	if limit > 0 {
		q = `
		SELECT * FROM (
			SELECT id, sender_id, receiver_id, message_text, client_ref::text, created_at
			FROM messages
			WHERE receiver_id = $1 OR sender_id = ANY($2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) last ORDER BY created_at, id
		`
		args = append(args, limit)
	}

	rows, err := database.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.Message, 0)
	for rows.Next() {
		var (
			m   models.Message
			ref sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.MessageText, &ref, &m.CreatedAt); err != nil {
			return nil, err
		}
		if ref.Valid {
			r := ref.String
			m.ClientRef = &r
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
