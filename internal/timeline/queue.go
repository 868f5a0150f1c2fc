package timeline

import (
	"container/heap"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// item is a pending effect with its resolved position on the timeline.
type item struct {
	e   *effect.Effect
	at  time.Duration
	seq uint64
}

// pendingHeap orders items by trigger asc, priority desc, seq asc.
type pendingHeap []*item

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.at != b.at {
		return a.at < b.at
	}
	if a.e.Priority != b.e.Priority {
		return a.e.Priority > b.e.Priority
	}
	return a.seq < b.seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func (h pendingHeap) peek() *item {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// popUntil removes and returns, in order, every item with at <= limit
// (or at < limit when strict is set).
func (h *pendingHeap) popUntil(limit time.Duration, strict bool) []*item {
	var out []*item
	for {
		top := h.peek()
		if top == nil || top.at > limit || (strict && top.at == limit) {
			return out
		}
		out = append(out, heap.Pop(h).(*item))
	}
}

// drain removes every item in release order.
func (h *pendingHeap) drain() []*item {
	out := make([]*item, 0, len(*h))
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(*item))
	}
	return out
}

// ingress is the bounded, priority-aware queue between adapters and the
// timeline. It is not safe for concurrent use; the Scheduler guards it.
type ingress struct {
	capacity int
	items    []*effect.Effect

	// drops counts overflow drops since the queue last emptied.
	drops int
}

func newIngress(capacity int) *ingress {
	return &ingress{capacity: capacity, items: make([]*effect.Effect, 0, capacity)}
}

// offer admits e. When the queue is full the lowest-priority effect among
// the queued ones and e is dropped; on a tie the most recent one goes,
// which is e itself. The dropped effect, if any, is returned.
func (q *ingress) offer(e *effect.Effect) (dropped *effect.Effect) {
	if len(q.items) < q.capacity {
		q.items = append(q.items, e)
		return nil
	}

	victim := -1
	for i := len(q.items) - 1; i >= 0; i-- {
		if victim == -1 || q.items[i].Priority < q.items[victim].Priority {
			victim = i
		}
	}

	q.drops++
	if victim == -1 || e.Priority <= q.items[victim].Priority {
		return e
	}

	dropped = q.items[victim]
	copy(q.items[victim:], q.items[victim+1:])
	q.items[len(q.items)-1] = e
	return dropped
}

// take empties the queue and returns its contents in arrival order.
func (q *ingress) take() []*effect.Effect {
	if len(q.items) == 0 {
		q.drops = 0
		return nil
	}
	out := q.items
	q.items = make([]*effect.Effect, 0, q.capacity)
	q.drops = 0
	return out
}

func (q *ingress) len() int { return len(q.items) }
