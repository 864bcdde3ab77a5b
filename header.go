package abfall

import (
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"
)

// gcHeader is the fixed-size metadata prefixing every managed allocation.
// It is always the first field of a box[T], so a *gcHeader and its
// containing *box[T] are interconvertible via unsafe.Pointer with a
// compile-time-zero offset (invariant I1) — the same trick the original
// Rust prototype gets from repr(C), expressed here with Go's guarantee that
// a struct's first field sits at offset 0.
type gcHeader struct {
	color     atomicColor
	rootCount atomic.Uint64
	next      atomic.Pointer[gcHeader]
	vtable    *vtable
}

// isRoot reports whether the object is currently rooted (root_count > 0).
func (h *gcHeader) isRoot() bool {
	return h.rootCount.Load() > 0
}

func (h *gcHeader) incRoot() {
	h.rootCount.Add(1)
}

// decRoot decrements root_count. Per spec.md §7, underflow is a logic bug in
// the handle implementation, never silently wrapped: the engine debug-asserts
// instead.
func (h *gcHeader) decRoot() {
	for {
		old := h.rootCount.Load()
		if old == 0 {
			panic("abfall: root_count underflow — Root released more times than it was rooted")
		}
		if h.rootCount.CompareAndSwap(old, old-1) {
			return
		}
	}
}

// box is the complete allocation: header followed by the wrapped value.
// Because header is the first field, &box[T]{}.header and the box pointer
// itself share an address — the basis for the header<->box conversions
// vtable functions perform.
type box[T any] struct {
	header gcHeader
	value  T
}

// boxFromHeader recovers a typed box pointer from a type-erased header
// pointer. The caller must know the header really prefixes a box[T] — the
// vtable stored on the header is only ever constructed for the matching T,
// so every call site that has both a header and its vtable satisfies this.
func boxFromHeader[T any](h *gcHeader) *box[T] {
	return (*box[T])(unsafe.Pointer(h))
}

// headerOf returns the header embedded in b.
func headerOf[T any](b *box[T]) *gcHeader {
	return &b.header
}

// vtable is the static, per-type virtual table referenced by every header of
// that type. It is built once per concrete T and cached (see vtableFor),
// closing the "in production, we'd cache these" gap the prototype left open.
type vtable struct {
	// trace invokes the wrapped value's trace routine against tracer.
	trace func(h *gcHeader, t *Tracer)
	// drop runs the wrapped value's destructor, if any, during sweep.
	drop func(h *gcHeader)
	// size is the byte footprint charged against bytes_allocated for every
	// object using this vtable.
	size uintptr
	// noTrace is true when T statically has no traceable children, letting
	// mark routines shortcut straight to Black instead of queueing.
	noTrace bool
}

var vtableCache sync.Map // reflect.Type -> *vtable

// vtableFor returns the shared vtable for T, building and caching it on
// first use.
func vtableFor[T any]() *vtable {
	var zero T
	key := reflect.TypeOf(&zero)
	if v, ok := vtableCache.Load(key); ok {
		return v.(*vtable)
	}

	_, noTrace := any(zero).(noTracer)
	vt := &vtable{
		trace: func(h *gcHeader, t *Tracer) {
			b := boxFromHeader[T](h)
			if tr, ok := any(&b.value).(Traceable); ok {
				tr.GCTrace(t)
			}
		},
		drop: func(h *gcHeader) {
			b := boxFromHeader[T](h)
			if f, ok := any(&b.value).(Finalizer); ok {
				f.GCFinalize()
			}
		},
		size:    unsafe.Sizeof(box[T]{}),
		noTrace: noTrace,
	}

	actual, _ := vtableCache.LoadOrStore(key, vt)
	return actual.(*vtable)
}

// Finalizer is implemented by values that need cleanup when their object is
// reclaimed during sweep. It is the Go-native stand-in for the original's
// "drop runs the destructor" — Go has no implicit destructors, so any
// cleanup a value needs must be explicit.
type Finalizer interface {
	GCFinalize()
}
