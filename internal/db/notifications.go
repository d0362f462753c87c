package db

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/Spok95/shuttle-van-bot/internal/ctxutil"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

func InsertNotification(ctx context.Context, database *sql.DB, n models.Notification) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id int64
	err := database.QueryRowContext(ctx, `
		INSERT INTO notifications (sender_id, recipient_id, session_id, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, n.SenderID, n.RecipientID, n.SessionID, n.Message).Scan(&id)
	return id, err
}

// PendingDelivery — недоставленное уведомление вместе с telegram-чатом получателя.
type PendingDelivery struct {
	models.Notification
	RecipientChat int64
	SenderName    string
}

// PendingDeliveries — пачка недоставленных уведомлений, старые первыми.
// Получатели без привязанного чата ждут привязки и в выборку не попадают.
func PendingDeliveries(ctx context.Context, database *sql.DB, batch int) ([]PendingDelivery, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT n.id, n.sender_id, n.recipient_id, n.session_id, n.message, n.created_at,
		       r.telegram_id, s.name
		FROM notifications n
		JOIN users r ON r.id = n.recipient_id
		JOIN users s ON s.id = n.sender_id
		WHERE n.delivered_at IS NULL AND r.telegram_id IS NOT NULL
		ORDER BY n.created_at, n.id
		LIMIT $1
	`, batch)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingDelivery
	for rows.Next() {
		var (
			p         PendingDelivery
			sessionID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.SenderID, &p.RecipientID, &sessionID, &p.Message, &p.CreatedAt, &p.RecipientChat, &p.SenderName); err != nil {
			return nil, err
		}
		if sessionID.Valid {
			id := sessionID.Int64
			p.SessionID = &id
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkDelivered — пометить уведомления доставленными.
func MarkDelivered(ctx context.Context, database *sql.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := database.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = now()
		WHERE id = ANY($1) AND delivered_at IS NULL
	`, pq.Array(ids))
	return err
}

// CountNotifications — уведомления по сессии (для проверок и отчётов).
func CountNotifications(ctx context.Context, database *sql.DB, sessionID int64) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var n int
	err := database.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}
