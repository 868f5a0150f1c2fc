package engine

import (
	"sync"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// tracker keeps the most recent effects by id, evicting the oldest.
type tracker struct {
	mu    sync.Mutex
	cap   int
	byID  map[string]*effect.Effect
	order []string
	head  int
}

func newTracker(capacity int) *tracker {
	return &tracker{
		cap:   capacity,
		byID:  make(map[string]*effect.Effect, capacity),
		order: make([]string, 0, capacity),
	}
}

func (t *tracker) add(e *effect.Effect) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[e.ID]; ok {
		// Ids are reusable once released; the newest effect wins.
		t.byID[e.ID] = e
		return
	}
	if len(t.order) < t.cap {
		t.order = append(t.order, e.ID)
	} else {
		delete(t.byID, t.order[t.head])
		t.order[t.head] = e.ID
		t.head = (t.head + 1) % t.cap
	}
	t.byID[e.ID] = e
}

func (t *tracker) get(id string) (*effect.Effect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	return e, ok
}
