package app

import "sync"

// ChatQueue выполняет задачи одного чата строго в порядке постановки,
// по одной за раз. Разные чаты идут параллельно.
type ChatQueue struct {
	mu     sync.Mutex
	byChat map[int64][]func()
	wg     sync.WaitGroup
}

func NewChatQueue() *ChatQueue {
	return &ChatQueue{byChat: make(map[int64][]func())}
}

// Enqueue ставит fn в хвост очереди чата и не ждёт выполнения.
func (q *ChatQueue) Enqueue(chatID int64, fn func()) {
	q.mu.Lock()
	pending, draining := q.byChat[chatID]
	q.byChat[chatID] = append(pending, fn)
	if !draining {
		q.wg.Add(1)
		go q.drain(chatID)
	}
	q.mu.Unlock()
}

// drain живёт, пока у чата есть задачи; ключ в byChat означает, что он запущен.
func (q *ChatQueue) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		pending := q.byChat[chatID]
		if len(pending) == 0 {
			delete(q.byChat, chatID)
			q.mu.Unlock()
			return
		}
		fn := pending[0]
		pending[0] = nil
		q.byChat[chatID] = pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait ждёт, пока опустеют все очереди.
func (q *ChatQueue) Wait() {
	q.wg.Wait()
}
