package timeline

import (
	"container/heap"
	"testing"
	"time"
)

func TestIngress_Offer(t *testing.T) {
	tests := []struct {
		name     string
		queued   []int
		incoming int
		want     string // id of the dropped effect, "" for none
	}{
		{"room left", []int{5}, 1, ""},
		{"incoming lowest", []int{5, 5, 5}, 4, "in"},
		{"incoming ties lowest", []int{3, 5, 5}, 3, "in"},
		{"evicts lowest", []int{5, 2, 7}, 6, "q1"},
		{"evicts newest of equal lowest", []int{2, 5, 2}, 9, "q2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newIngress(3)
			for i, p := range tt.queued {
				q.offer(at("q"+string(rune('0'+i)), 0, p))
			}
			got := q.offer(at("in", 0, tt.incoming))
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Errorf("offer() dropped %q, want %q", gotID, tt.want)
			}
			if q.len() > 3 {
				t.Errorf("len = %d, exceeds capacity", q.len())
			}
		})
	}
}

func TestIngress_TakeResetsDrops(t *testing.T) {
	q := newIngress(1)
	q.offer(at("a", 0, 1))
	q.offer(at("b", 0, 1))
	if q.drops != 1 {
		t.Fatalf("drops = %d, want 1", q.drops)
	}
	if got := q.take(); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("take() = %v, want [a]", got)
	}
	if q.drops != 0 || q.len() != 0 {
		t.Errorf("after take drops = %d len = %d, want 0 and 0", q.drops, q.len())
	}
}

func TestPendingHeap_PopUntil(t *testing.T) {
	h := &pendingHeap{}
	for i, spec := range []struct {
		id string
		at time.Duration
	}{{"c", 30}, {"a", 10}, {"b", 20}, {"d", 40}} {
		heap.Push(h, &item{e: at(spec.id, 0, 5), at: spec.at, seq: uint64(i)})
	}

	strict := h.popUntil(20, true)
	if len(strict) != 1 || strict[0].e.ID != "a" {
		t.Errorf("strict popUntil(20) = %d items, want [a]", len(strict))
	}
	inclusive := h.popUntil(30, false)
	if len(inclusive) != 2 || inclusive[0].e.ID != "b" || inclusive[1].e.ID != "c" {
		t.Errorf("popUntil(30) = %d items, want [b c]", len(inclusive))
	}
	if h.Len() != 1 {
		t.Errorf("remaining = %d, want 1", h.Len())
	}
}
