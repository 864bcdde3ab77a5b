package abfall

import (
	"sync"
	"sync/atomic"
)

// Cell stores a Ptr[T] and performs the Dijkstra-style insertion write
// barrier on every Set/Swap while the heap is Marking (spec.md §4.6,
// invariant I5). Reading the phase in the not-Marking case is a single
// atomic load and branch — the barrier never blocks a mutator.
type Cell[T any] struct {
	heap  *Heap
	value atomic.Pointer[box[T]]
}

// NewCell binds a Cell to the heap whose barrier it must run.
func NewCell[T any](heap *Heap, initial Ptr[T]) *Cell[T] {
	c := &Cell[T]{heap: heap}
	c.value.Store(initial.b)
	return c
}

// Get returns the currently stored pointer.
func (c *Cell[T]) Get() Ptr[T] {
	return Ptr[T]{b: c.value.Load()}
}

// Set installs newValue, shading it gray first if the heap is Marking.
func (c *Cell[T]) Set(newValue Ptr[T]) {
	c.barrier(newValue)
	c.value.Store(newValue.b)
}

// Swap installs newValue and returns the previous pointer, running the same
// barrier as Set.
func (c *Cell[T]) Swap(newValue Ptr[T]) Ptr[T] {
	c.barrier(newValue)
	old := c.value.Swap(newValue.b)
	return Ptr[T]{b: old}
}

// barrier is the single point where mutators read phase in the hot path.
func (c *Cell[T]) barrier(newValue Ptr[T]) {
	if c.heap.phase.load() != Marking {
		return
	}
	if newValue.b == nil {
		return
	}
	var t Tracer
	t.markHeader(headerOf(newValue.b))
	t.appendTo(&c.heap.gray)
}

// GCTrace traces the currently stored pointer.
func (c *Cell[T]) GCTrace(t *Tracer) {
	c.Get().Mark(t)
}

// borrowState is the small state machine backing RefCell's runtime borrow
// checking: zero means unused, a positive count means that many shared
// borrows are live, and exclusive means a mutable borrow is live. It is
// guarded by its own mutex so concurrent goroutines get a consistent panic
// instead of a data race, which is stricter than the original prototype's
// single-threaded std::cell::Cell.
type borrowState struct {
	mu    sync.Mutex
	count int // 0 = unused, >0 = shared(n), -1 = exclusive
}

// RefCell is a RefCell-like cell for storing a whole traceable value (not
// just a Ptr), with a Yuasa-style write barrier: releasing a mutable borrow
// traces the post-mutation value so any newly-reachable Ptr fields are
// shaded gray before the collector might otherwise miss them (SPEC_FULL.md
// §3; grounded on original_source/src/cell.rs's GcRefCell).
type RefCell[T any] struct {
	heap  *Heap
	state borrowState
	value T
}

// NewRefCell binds a RefCell to the heap whose barrier it must run.
func NewRefCell[T any](heap *Heap, initial T) *RefCell[T] {
	return &RefCell[T]{heap: heap, value: initial}
}

// RefGuard is a shared-borrow guard. Call Release when done, typically via
// defer — Go has no destructors to do this implicitly.
type RefGuard[T any] struct {
	cell *RefCell[T]
}

// Value returns a pointer to the borrowed value. Mutating through it
// bypasses the write barrier and is only sound for statically
// non-traceable fields (spec.md §9, "Interior mutability").
func (g *RefGuard[T]) Value() *T {
	return &g.cell.value
}

// Release ends the shared borrow.
func (g *RefGuard[T]) Release() {
	s := &g.cell.state
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.count > 1:
		s.count--
	case s.count == 1:
		s.count = 0
	default:
		panic("abfall: RefGuard released twice")
	}
}

// RefMutGuard is an exclusive-borrow guard. Release must be called exactly
// once, typically via defer.
type RefMutGuard[T any] struct {
	cell *RefCell[T]
}

// Value returns a mutable pointer to the borrowed value.
func (g *RefMutGuard[T]) Value() *T {
	return &g.cell.value
}

// Release ends the exclusive borrow, running the Yuasa write barrier: if the
// heap is Marking, the post-mutation value is traced so any pointer it now
// holds is shaded gray.
func (g *RefMutGuard[T]) Release() {
	if g.cell.heap.phase.load() == Marking {
		if tr, ok := any(&g.cell.value).(Traceable); ok {
			var t Tracer
			tr.GCTrace(&t)
			t.appendTo(&g.cell.heap.gray)
		}
	}

	s := &g.cell.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count != -1 {
		panic("abfall: RefMutGuard released while not exclusively borrowed")
	}
	s.count = 0
}

// Borrow takes a shared borrow, panicking if the cell is exclusively
// borrowed.
func (c *RefCell[T]) Borrow() *RefGuard[T] {
	g, ok := c.TryBorrow()
	if !ok {
		panic("abfall: already mutably borrowed")
	}
	return g
}

// TryBorrow takes a shared borrow, returning ok=false instead of panicking
// if the cell is exclusively borrowed.
func (c *RefCell[T]) TryBorrow() (*RefGuard[T], bool) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.count < 0 {
		return nil, false
	}
	c.state.count++
	return &RefGuard[T]{cell: c}, true
}

// BorrowMut takes an exclusive borrow, panicking if the cell is already
// borrowed in any way.
func (c *RefCell[T]) BorrowMut() *RefMutGuard[T] {
	g, ok := c.TryBorrowMut()
	if !ok {
		panic("abfall: already borrowed")
	}
	return g
}

// TryBorrowMut takes an exclusive borrow, returning ok=false instead of
// panicking if the cell is already borrowed in any way.
func (c *RefCell[T]) TryBorrowMut() (*RefMutGuard[T], bool) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.count != 0 {
		return nil, false
	}
	c.state.count = -1
	return &RefMutGuard[T]{cell: c}, true
}

// GCTrace traces the contained value if it is itself Traceable.
func (c *RefCell[T]) GCTrace(t *Tracer) {
	if tr, ok := any(&c.value).(Traceable); ok {
		tr.GCTrace(t)
	}
}
