package models

import "time"

type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	ReceiverID  int64     `json:"receiver_id"`
	MessageText string    `json:"message_text"`
	ClientRef   *string   `json:"client_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notification struct {
	ID          int64      `json:"id"`
	SenderID    int64      `json:"sender_id"`
	RecipientID int64      `json:"recipient_id"`
	SessionID   *int64     `json:"session_id"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
}
