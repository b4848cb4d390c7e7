package ovpn

import "container/heap"

// ooEntry is one element of an out-of-order queue: a packet ID and its
// payload.
type ooEntry struct {
	id     uint32
	packet []byte
}

// ooHeap is a min-heap on packet ID, implementing container/heap.Interface.
type ooHeap []ooEntry

func (h ooHeap) Len() int            { return len(h) }
func (h ooHeap) Less(i, j int) bool  { return h[i].id < h[j].id }
func (h ooHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *ooHeap) Push(x interface{}) { *h = append(*h, x.(ooEntry)) }
func (h *ooHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// ooQueue reorders packets by ID without the strict contiguity the
// reliable queue enforces, per spec §4.5. It is used by the tls-crypt
// wrapper's replay mitigation, where gap filling is unnecessary but
// arrival order is not guaranteed.
type ooQueue struct {
	h    ooHeap
	seen map[uint32]bool
}

func newOOQueue() *ooQueue {
	q := &ooQueue{seen: make(map[uint32]bool)}
	heap.Init(&q.h)
	return q
}

// push records a packet at id. It is a no-op if id has already been
// pushed (or popped), giving simple duplicate rejection for replay use.
func (q *ooQueue) push(id uint32, packet []byte) bool {
	if q.seen[id] {
		return false
	}
	q.seen[id] = true
	heap.Push(&q.h, ooEntry{id: id, packet: packet})
	return true
}

// pop returns the lowest-ID entry currently queued.
func (q *ooQueue) pop() (uint32, []byte, bool) {
	if q.h.Len() == 0 {
		return 0, nil, false
	}
	e := heap.Pop(&q.h).(ooEntry)
	return e.id, e.packet, true
}

func (q *ooQueue) len() int {
	return q.h.Len()
}
