//go:build testutil
// +build testutil

package realtime_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/models"
	"github.com/Spok95/shuttle-van-bot/internal/realtime"
	"github.com/Spok95/shuttle-van-bot/internal/testutil/testdb"
)

func TestHub_DeliversInsertedMessages(t *testing.T) {
	h := testdb.MustStart(t)
	d := testdb.SeedDriver(t, h.DB, "D")
	a := testdb.SeedStudent(t, h.DB, "A", testdb.Ptr(d))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub(db.Listener(h.DSN), nil)
	sub := hub.Subscribe(realtime.Filter{Table: "messages", Column: "receiver_id", Value: "0"})
	defer sub.Close()
	room := hub.Subscribe(realtime.Filter{Table: "messages", Column: "receiver_id", Value: itoa(d)})
	defer room.Close()

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	// LISTEN поднимается асинхронно: пишем, пока событие не придёт
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-room.Events():
			var m models.Message
			if err := ev.Decode(&m); err != nil {
				t.Fatal(err)
			}
			if m.SenderID != a || m.ReceiverID != d || m.MessageText != "hello" {
				t.Fatalf("unexpected row %+v", m)
			}
			select {
			case ev := <-sub.Events():
				t.Fatalf("foreign room got %+v", ev)
			default:
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("run: %v", err)
			}
			return
		case <-tick.C:
			if _, err := db.InsertMessage(ctx, h.DB, models.Message{SenderID: a, ReceiverID: d, MessageText: "hello"}); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no feed event")
		}
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
