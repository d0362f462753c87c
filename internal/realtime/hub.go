// Package realtime раздаёт вставки строк из Postgres (LISTEN row_inserts)
// подписчикам, отфильтрованным по таблице и значению колонки.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
)

// Channel — канал pg_notify, в который пишет триггер notify_row_insert.
const Channel = "row_inserts"

const (
	subBuffer  = 64
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Event — одна вставленная строка.
type Event struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Row, v)
}

// Filter: пустой Column — все вставки таблицы.
type Filter struct {
	Table  string
	Column string
	Value  string
}

func (f Filter) match(ev Event, cols map[string]json.RawMessage) bool {
	if f.Table != ev.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	raw, ok := cols[f.Column]
	if !ok {
		return false
	}
	return rawValue(raw) == f.Value
}

// rawValue — значение JSON-скаляра как строка: 42 → "42", "abc" → "abc".
func rawValue(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(raw, &out); err == nil {
			return out
		}
	}
	return s
}

type Connector func(ctx context.Context) (*pgx.Conn, error)

type Hub struct {
	connect Connector
	log     *zap.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub(connect Connector, log *zap.Logger) *Hub {
	return &Hub{
		connect: connect,
		log:     logging.OrNop(log),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Run слушает канал до отмены ctx. При обрыве соединения старое закрывается
// и открывается новое с экспоненциальной паузой.
func (h *Hub) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := h.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		h.log.Warn("feed connection lost", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (h *Hub) listen(ctx context.Context) error {
	conn, err := h.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	h.log.Info("feed listening", zap.String("channel", Channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		h.dispatch(n.Payload)
	}
}

func (h *Hub) dispatch(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		h.log.Warn("bad feed payload", zap.Error(err))
		return
	}
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(ev.Row, &cols); err != nil {
		h.log.Warn("bad feed row", zap.String("table", ev.Table), zap.Error(err))
		return
	}
	metrics.FeedEvents.WithLabelValues(ev.Table).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.filter.match(ev, cols) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.FeedDropped.Inc()
			h.log.Warn("feed subscriber is slow, event dropped",
				zap.String("table", ev.Table),
				zap.String("column", s.filter.Column),
				zap.String("value", s.filter.Value),
			)
		}
	}
}

// Subscribe регистрирует подписку; события идут в Events() до Close.
func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{hub: h, filter: f, ch: make(chan Event, subBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	metrics.Subscriptions.Inc()
	return s
}

// Len — число открытых подписок.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close закрывает все подписки (при остановке процесса).
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Close()
	}
}

type Subscription struct {
	hub    *Hub
	filter Filter
	ch     chan Event
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Signal сворачивает события подписки в сигнал «была вставка»: пока
// получатель занят, сигналы склеиваются в один. Канал закрывается вместе
// с подпиской.
func (s *Subscription) Signal() <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range s.ch {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// Close идемпотентен. После него канал Events закрыт.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
		metrics.Subscriptions.Dec()
	})
}
