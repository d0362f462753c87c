package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestChatQueue_KeepsOrderPerChat(t *testing.T) {
	q := NewChatQueue()
	var (
		mu      sync.Mutex
		got     []int
		inside  int
		maxSeen int
	)
	for i := 0; i < 200; i++ {
		i := i
		q.Enqueue(42, func() {
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			got = append(got, i)
			mu.Unlock()
			if i%50 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			inside--
			mu.Unlock()
		})
	}
	q.Wait()

	if maxSeen != 1 {
		t.Fatalf("handlers overlapped: %d", maxSeen)
	}
	if len(got) != 200 {
		t.Fatalf("ran %d of 200", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran task %d", i, v)
		}
	}
}

func TestChatQueue_IndependentChats(t *testing.T) {
	q := NewChatQueue()
	release := make(chan struct{})
	q.Enqueue(1, func() { <-release })

	done := make(chan struct{})
	q.Enqueue(2, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("other chat blocked")
	}
	close(release)
	q.Wait()
}

func TestChatQueue_EnqueueFromTask(t *testing.T) {
	q := NewChatQueue()
	var order []string
	q.Enqueue(7, func() {
		order = append(order, "first")
		q.Enqueue(7, func() { order = append(order, "second") })
	})
	q.Wait()
	if len(order) != 2 || order[1] != "second" {
		t.Fatalf("order %v", order)
	}
}

func TestRoutes_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	Routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "shuttle_") {
		t.Fatal("shuttle metrics are not exposed")
	}
}
