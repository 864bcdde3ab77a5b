package abfall

import "sync"

// Tracer is a per-goroutine work buffer of gray-object header pointers. Each
// allocating or marking goroutine owns one on its stack; pushing to and
// popping from it never touches a lock, which is what lets many goroutines
// mark concurrently without contending on the shared queue in the common
// case (spec.md §4.3).
type Tracer struct {
	local []*gcHeader
}

// push adds a header already known to be gray to the local buffer.
func (t *Tracer) push(h *gcHeader) {
	t.local = append(t.local, h)
}

// popWork removes and returns the most recently pushed header, if any.
func (t *Tracer) popWork() (*gcHeader, bool) {
	n := len(t.local)
	if n == 0 {
		return nil, false
	}
	h := t.local[n-1]
	t.local[n-1] = nil
	t.local = t.local[:n-1]
	return h, true
}

// hasWork reports whether the local buffer holds any gray headers.
func (t *Tracer) hasWork() bool {
	return len(t.local) > 0
}

// markHeader is the primitive both Ptr.Mark and the root scan use: it
// transitions White->Gray and queues the header locally, or — for headers
// whose vtable declares no traceable children — stores Black directly,
// skipping the queue altogether (spec.md §4.3).
func (t *Tracer) markHeader(h *gcHeader) {
	if h.vtable.noTrace {
		h.color.markBlack()
		return
	}
	if h.color.markWhiteToGray() {
		t.push(h)
	}
}

// appendTo drains the local buffer into the shared gray queue. Called at
// batch boundaries (end of root scan, end of a drain iteration, barrier
// completion) so the lock is held only for the batch move, never across
// user code.
func (t *Tracer) appendTo(q *grayQueue) {
	if len(t.local) == 0 {
		return
	}
	q.pushBatch(t.local)
	t.local = t.local[:0]
}

// stealFrom moves up to n headers from the shared queue into the local
// buffer and reports how many it got.
func (t *Tracer) stealFrom(q *grayQueue, n int) int {
	got := q.popBatch(n)
	t.local = append(t.local, got...)
	return len(got)
}

// grayQueue is the heap's shared, mutex-guarded work list. It is only ever
// locked to move a batch of headers in or out — never across a trace call —
// so it is not a point of contention during the actual scanning work
// (spec.md §5).
type grayQueue struct {
	mu    sync.Mutex
	items []*gcHeader
}

func (q *grayQueue) pushBatch(batch []*gcHeader) {
	q.mu.Lock()
	q.items = append(q.items, batch...)
	q.mu.Unlock()
}

// popBatch removes up to n items from the tail of the queue.
func (q *grayQueue) popBatch(n int) []*gcHeader {
	q.mu.Lock()
	defer q.mu.Unlock()
	avail := len(q.items)
	if avail == 0 {
		return nil
	}
	if n > avail {
		n = avail
	}
	start := avail - n
	batch := make([]*gcHeader, n)
	copy(batch, q.items[start:])
	q.items = q.items[:start]
	return batch
}

// empty reports whether the shared queue currently holds no work. The
// caller must already hold whatever external synchronization it needs to
// treat this as authoritative (see heap.go's end-of-marking check).
func (q *grayQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}
