package messaging

import (
	"context"
	"sync"

	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// Registry держит по одному синхронизатору на пользователя (режим чата в боте).
type Registry struct {
	mu    sync.Mutex
	syncs map[int64]*Synchronizer
	build func(models.User) *Synchronizer
}

func NewRegistry(build func(models.User) *Synchronizer) *Registry {
	return &Registry{syncs: make(map[int64]*Synchronizer), build: build}
}

// Open запускает синхронизатор пользователя. Уже открытый переключается
// заново: водитель студента мог смениться.
func (r *Registry) Open(ctx context.Context, u models.User) (*Synchronizer, error) {
	id := u.Base().ID

	r.mu.Lock()
	s, ok := r.syncs[id]
	if !ok {
		s = r.build(u)
		r.syncs[id] = s
	}
	r.mu.Unlock()

	var err error
	if ok {
		err = s.Switch(ctx, u)
	} else {
		err = s.Start(ctx)
	}
	if err != nil {
		r.Close(id)
		return nil, err
	}
	return s, nil
}

func (r *Registry) Get(userID int64) (*Synchronizer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.syncs[userID]
	return s, ok
}

func (r *Registry) Close(userID int64) {
	r.mu.Lock()
	s, ok := r.syncs[userID]
	delete(r.syncs, userID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.syncs
	r.syncs = make(map[int64]*Synchronizer)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.syncs)
}
