package messaging

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/models"
	"github.com/Spok95/shuttle-van-bot/internal/realtime"
)

// PGDirectory — пользователи и ростер из таблицы users.
type PGDirectory struct{ DB *sql.DB }

func (d PGDirectory) User(ctx context.Context, id int64) (models.User, error) {
	return db.GetUserByID(ctx, d.DB, id)
}

func (d PGDirectory) Roster(ctx context.Context, driverID int64) ([]models.RosterEntry, error) {
	return db.ListStudentsByDriver(ctx, d.DB, driverID)
}

// PGStore — таблица messages.
type PGStore struct{ DB *sql.DB }

func (s PGStore) History(ctx context.Context, driverID int64, members []int64, limit int) ([]models.Message, error) {
	return db.RoomHistory(ctx, s.DB, driverID, members, limit)
}

func (s PGStore) Insert(ctx context.Context, m models.Message) (models.Message, error) {
	return db.InsertMessage(ctx, s.DB, m)
}

// HubFeed — подписка на вставки в messages с receiver_id = комната.
type HubFeed struct {
	Hub *realtime.Hub
	Log *zap.Logger
}

func (f HubFeed) SubscribeRoom(driverID int64) (Stream, error) {
	sub := f.Hub.Subscribe(realtime.Filter{
		Table:  "messages",
		Column: "receiver_id",
		Value:  strconv.FormatInt(driverID, 10),
	})
	st := &hubStream{
		sub:  sub,
		out:  make(chan models.Message),
		done: make(chan struct{}),
		log:  logging.OrNop(f.Log),
	}
	go st.run()
	return st, nil
}

type hubStream struct {
	sub  *realtime.Subscription
	out  chan models.Message
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

func (h *hubStream) Messages() <-chan models.Message { return h.out }

func (h *hubStream) Close() {
	h.once.Do(func() {
		close(h.done)
		h.sub.Close()
	})
}

func (h *hubStream) run() {
	defer close(h.out)
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.sub.Events():
			if !ok {
				return
			}
			var m models.Message
			if err := ev.Decode(&m); err != nil {
				h.log.Warn("bad message row", zap.Error(err))
				continue
			}
			select {
			case h.out <- m:
			case <-h.done:
				return
			}
		}
	}
}
