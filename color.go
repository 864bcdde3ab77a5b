// Package abfall implements a concurrent, incremental, tri-color tracing
// mark-and-sweep garbage collector embedded in a host application.
package abfall

import "sync/atomic"

// Color is the tri-color marking state of a managed object.
type Color uint8

const (
	// White objects are potentially unreachable, candidates for sweep.
	White Color = iota
	// Gray objects are reachable but not yet scanned; they live on a
	// mark queue (local or shared) awaiting a trace.
	Gray
	// Black objects are reachable and fully scanned.
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Gray:
		return "gray"
	case Black:
		return "black"
	default:
		return "unknown"
	}
}

// atomicColor is a single atomic uint32 encoding {White, Gray, Black} and the
// primitive transitions used by marking and barriers.
//
// Ordering: the White->Gray CAS uses acquire-release on success, acquire on
// failure. Stores to Black and White use release. Readers observing phase
// alongside color should use acquire loads of their own (see heap.go).
type atomicColor struct {
	v atomic.Uint32
}

// load reads the current color.
func (a *atomicColor) load() Color {
	return Color(a.v.Load())
}

// markWhiteToGray attempts the White->Gray transition and reports whether it
// won the race. Only one goroutine's call for a given object will ever
// return true for a given whitening epoch, which is what makes it safe for
// many goroutines to call Ptr.Mark concurrently on the same pointer.
func (a *atomicColor) markWhiteToGray() bool {
	return a.v.CompareAndSwap(uint32(White), uint32(Gray))
}

// markBlack unconditionally stores Black. Called once an object has been
// popped from a gray queue and fully traced.
func (a *atomicColor) markBlack() {
	a.v.Store(uint32(Black))
}

// resetWhite unconditionally stores White. Used by sweep to reset survivors
// for the next cycle (invariant I6).
func (a *atomicColor) resetWhite() {
	a.v.Store(uint32(White))
}

// isWhite reports whether the object is currently White.
func (a *atomicColor) isWhite() bool {
	return Color(a.v.Load()) == White
}

// Phase is the coarse collector state.
type Phase uint32

const (
	// Idle: no collection in progress; allocate and mutate freely.
	Idle Phase = iota
	// Marking: the background worker (and possibly assisting mutators)
	// are tracing the object graph from roots.
	Marking
	// Sweeping: the intrusive list is being walked once to reclaim white,
	// unrooted objects and reset survivors to white.
	Sweeping
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Marking:
		return "marking"
	case Sweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

// atomicPhase guards the single-writer phase state machine. The collector
// coordinator (background worker or a force_collect caller) is the only
// writer; mutators only read it, with acquire ordering, from the write
// barrier's hot path.
type atomicPhase struct {
	v atomic.Uint32
}

func (a *atomicPhase) load() Phase {
	return Phase(a.v.Load())
}

func (a *atomicPhase) store(p Phase) {
	a.v.Store(uint32(p))
}

// casFrom attempts a single-writer transition, returning whether it won.
func (a *atomicPhase) casFrom(from, to Phase) bool {
	return a.v.CompareAndSwap(uint32(from), uint32(to))
}
