// Package messaging — групповой чат водителя и его студентов: комната,
// история, живая подписка и оптимистичная отправка.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// MaxMessageLen — предел в рунах; строка целиком уходит в pg_notify (лимит 8000 байт).
const MaxMessageLen = 1500

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = fmt.Errorf("message is longer than %d characters", MaxMessageLen)
)

type State int

const (
	Unresolved State = iota
	RoomResolved
	Subscribed
)

func (s State) String() string {
	switch s {
	case RoomResolved:
		return "ROOM_RESOLVED"
	case Subscribed:
		return "SUBSCRIBED"
	default:
		return "UNRESOLVED"
	}
}

// Entry — строка лога чата. Оптимистичная запись имеет LocalID и Pending
// до прихода строки из БД с тем же ClientRef.
type Entry struct {
	ID         int64
	LocalID    string
	ClientRef  string
	SenderID   int64
	SenderName string
	Text       string
	CreatedAt  time.Time
	Pending    bool
	Failed     bool
}

// Local — запись создана этим клиентом и ещё не сверена с БД.
func (e Entry) Local() bool { return e.LocalID != "" }

type Directory interface {
	User(ctx context.Context, id int64) (models.User, error)
	Roster(ctx context.Context, driverID int64) ([]models.RosterEntry, error)
}

type Store interface {
	History(ctx context.Context, driverID int64, members []int64, limit int) ([]models.Message, error)
	Insert(ctx context.Context, m models.Message) (models.Message, error)
}

// Stream — живая подписка на сообщения одной комнаты.
type Stream interface {
	Messages() <-chan models.Message
	Close()
}

type Feed interface {
	SubscribeRoom(driverID int64) (Stream, error)
}

type options struct {
	reconcile    bool
	onEntry      func(Entry)
	historyLimit int
}

type Option func(*options)

// WithoutReconcile — событие из ленты всегда дописывается в хвост, даже если
// это эхо собственной оптимистичной записи.
func WithoutReconcile() Option { return func(o *options) { o.reconcile = false } }

// WithOnEntry вызывается на каждую новую запись в хвосте лога (не на сверку).
func WithOnEntry(fn func(Entry)) Option { return func(o *options) { o.onEntry = fn } }

// WithHistoryLimit — сколько последних сообщений грузить; 0 — все.
func WithHistoryLimit(n int) Option { return func(o *options) { o.historyLimit = n } }

type Synchronizer struct {
	dir   Directory
	store Store
	feed  Feed
	log   *zap.Logger
	opts  options

	// life сериализует Resolve/Subscribe/Start/Switch/Close
	life sync.Mutex

	mu      sync.Mutex
	user    models.User
	state   State
	room    int64
	members []int64
	names   map[int64]string
	entries []Entry
	seq     int
	stream  Stream
	pumped  chan struct{}
}

func New(user models.User, dir Directory, store Store, feed Feed, log *zap.Logger, opts ...Option) *Synchronizer {
	o := options{reconcile: true}
	for _, fn := range opts {
		fn(&o)
	}
	return &Synchronizer{
		dir:   dir,
		store: store,
		feed:  feed,
		log:   logging.OrNop(log),
		opts:  o,
		user:  user,
	}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room — id водителя-комнаты; false, пока комната не определена.
func (s *Synchronizer) Room() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.state != Unresolved
}

func (s *Synchronizer) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Entries — копия лога.
func (s *Synchronizer) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// SenderName — имя из снимка ростера.
func (s *Synchronizer) SenderName(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nameOf(id)
}

// Resolve определяет комнату и снимает снимок ростера. Открытая подписка
// закрывается. Студент без водителя остаётся в Unresolved с пустым логом,
// это не ошибка.
func (s *Synchronizer) Resolve(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	return s.resolve(ctx)
}

func (s *Synchronizer) resolve(ctx context.Context) error {
	s.teardown()

	s.mu.Lock()
	user := s.user
	s.mu.Unlock()

	room, ok := models.RoomOf(user)
	if !ok {
		s.mu.Lock()
		s.state, s.room, s.members, s.names, s.entries = Unresolved, 0, nil, nil, nil
		s.mu.Unlock()
		return nil
	}

	roster, err := s.dir.Roster(ctx, room)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	names := make(map[int64]string, len(roster)+1)
	members := make([]int64, 0, len(roster)+1)
	members = append(members, room)
	for _, r := range roster {
		names[r.ID] = r.Name
		members = append(members, r.ID)
	}

	driverName := models.DriverDisplayName("")
	du, err := s.dir.User(ctx, room)
	switch {
	case err == nil:
		if d, ok := du.(models.Driver); ok {
			driverName = d.DisplayName()
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("driver %d: %w", room, err)
	}
	names[room] = driverName

	s.mu.Lock()
	s.state, s.room, s.members, s.names = RoomResolved, room, members, names
	s.mu.Unlock()
	return nil
}

// Load заменяет лог историей комнаты по возрастанию created_at.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Unresolved {
		s.entries = nil
		s.mu.Unlock()
		return nil
	}
	room, members := s.room, s.members
	s.mu.Unlock()

	msgs, err := s.store.History(ctx, room, members, s.opts.historyLimit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		s.entries = append(s.entries, s.entryOf(m))
	}
	return nil
}

// Subscribe открывает живую подписку на комнату. При открытой подписке
// ничего не делает.
func (s *Synchronizer) Subscribe(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()

	stream, done, err := s.open()
	if err != nil || stream == nil {
		return err
	}
	go s.pump(stream, done)
	return nil
}

// open подписывается на комнату, но не запускает pump: события копятся
// в буфере потока.
func (s *Synchronizer) open() (Stream, chan struct{}, error) {
	s.mu.Lock()
	if s.state != RoomResolved || s.stream != nil {
		s.mu.Unlock()
		return nil, nil, nil
	}
	room := s.room
	s.mu.Unlock()

	stream, err := s.feed.SubscribeRoom(room)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe room %d: %w", room, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.stream, s.pumped, s.state = stream, done, Subscribed
	s.mu.Unlock()
	s.log.Debug("room subscribed", zap.Int64("room", room))
	return stream, done, nil
}

// Start — Resolve, подписка и Load. Подписка открывается до запроса истории,
// поэтому строка, вставленная между ними, придёт из ленты; повтор строки
// из истории отсеивается по id.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	return s.start(ctx)
}

func (s *Synchronizer) start(ctx context.Context) error {
	if err := s.resolve(ctx); err != nil {
		return err
	}
	stream, done, err := s.open()
	if err != nil {
		return err
	}
	if err := s.Load(ctx); err != nil {
		if stream != nil {
			close(done)
			s.teardown()
		}
		return err
	}
	if stream != nil {
		go s.pump(stream, done)
	}
	return nil
}

// Switch закрывает подписку старой комнаты и запускается заново для user.
func (s *Synchronizer) Switch(ctx context.Context, user models.User) error {
	s.life.Lock()
	defer s.life.Unlock()

	s.teardown()
	s.mu.Lock()
	s.user = user
	s.state, s.room, s.members, s.names, s.entries = Unresolved, 0, nil, nil, nil
	s.mu.Unlock()
	return s.start(ctx)
}

// Close отписывается; лог остаётся доступен.
func (s *Synchronizer) Close() {
	s.life.Lock()
	defer s.life.Unlock()

	s.teardown()
}

// teardown закрывает поток и ждёт выхода pump; Subscribed → RoomResolved.
func (s *Synchronizer) teardown() {
	s.mu.Lock()
	stream, done := s.stream, s.pumped
	s.stream, s.pumped = nil, nil
	if s.state == Subscribed {
		s.state = RoomResolved
	}
	s.mu.Unlock()
	if stream == nil {
		return
	}
	stream.Close()
	<-done
}

func (s *Synchronizer) pump(stream Stream, done chan struct{}) {
	defer close(done)
	for m := range stream.Messages() {
		s.apply(m)
	}
}

// Send дописывает оптимистичную запись и пишет сообщение в БД. Ошибка записи
// возвращается, но запись из лога не убирается (помечается Failed).
// Без комнаты Send ничего не делает.
func (s *Synchronizer) Send(ctx context.Context, text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return Entry{}, ErrMessageTooLong
	}

	s.mu.Lock()
	if s.state == Unresolved {
		s.mu.Unlock()
		return Entry{}, nil
	}
	me := s.user.Base()
	s.seq++
	e := Entry{
		LocalID:    fmt.Sprintf("temp-%d", s.seq),
		SenderID:   me.ID,
		SenderName: s.selfName(me),
		Text:       text,
		CreatedAt:  time.Now(),
		Pending:    true,
	}
	msg := models.Message{SenderID: me.ID, ReceiverID: s.room, MessageText: text}
	if s.opts.reconcile {
		e.ClientRef = uuid.NewString()
		ref := e.ClientRef
		msg.ClientRef = &ref
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.notify(e)

	saved, err := s.store.Insert(ctx, msg)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		s.log.Warn("send message failed",
			zap.Int64("room", msg.ReceiverID),
			zap.Int64("sender_id", msg.SenderID),
			zap.Error(err),
		)
		s.mu.Lock()
		if i := s.indexLocal(e.LocalID); i >= 0 {
			s.entries[i].Failed = true
			e = s.entries[i]
		}
		s.mu.Unlock()
		return e, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues("ok").Inc()

	if s.opts.reconcile {
		s.mu.Lock()
		if i := s.indexOf(saved); i >= 0 {
			s.entries[i] = s.entryOf(saved)
			e = s.entries[i]
		}
		s.mu.Unlock()
	}
	return e, nil
}

// apply — событие ленты: сверка с уже известной записью либо хвост.
// Строка с известным id (например, уже пришедшая в истории) не дублируется
// в любом режиме; по client_ref сверяется только с включённой сверкой.
func (s *Synchronizer) apply(m models.Message) {
	s.mu.Lock()
	e := s.entryOf(m)
	if i := s.indexOf(m); i >= 0 {
		s.entries[i] = e
		s.mu.Unlock()
		return
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.notify(e)
}

func (s *Synchronizer) notify(e Entry) {
	if s.opts.onEntry != nil {
		s.opts.onEntry(e)
	}
}

func (s *Synchronizer) indexOf(m models.Message) int {
	for i, e := range s.entries {
		if m.ID != 0 && e.ID == m.ID {
			return i
		}
		if s.opts.reconcile && m.ClientRef != nil && e.ClientRef != "" && e.ClientRef == *m.ClientRef {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) indexLocal(localID string) int {
	for i, e := range s.entries {
		if e.LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) entryOf(m models.Message) Entry {
	e := Entry{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: s.nameOf(m.SenderID),
		Text:       m.MessageText,
		CreatedAt:  m.CreatedAt,
	}
	if m.ClientRef != nil {
		e.ClientRef = *m.ClientRef
	}
	return e
}

func (s *Synchronizer) nameOf(id int64) string {
	if n, ok := s.names[id]; ok && n != "" {
		return n
	}
	return "Unknown"
}

func (s *Synchronizer) selfName(me models.Account) string {
	if n, ok := s.names[me.ID]; ok && n != "" {
		return n
	}
	if me.Name != "" {
		return me.Name
	}
	return "Me"
}
