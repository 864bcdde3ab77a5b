package abfall

// Ptr is a pointer-sized, copyable, non-owning reference into the heap. It
// does not affect root_count and carries no use-after-reclaim protection
// beyond reachability: a Ptr is only guaranteed live while it is reachable,
// directly or transitively, from some live Root at every mark boundary
// (spec.md §4.11, invariant I7).
//
// Store Ptr values inside managed objects to reference other managed
// objects without creating rooted cycles.
type Ptr[T any] struct {
	b *box[T]
}

func newPtr[T any](b *box[T]) Ptr[T] {
	return Ptr[T]{b: b}
}

// IsNil reports whether p was never bound to an object (its zero value).
func (p Ptr[T]) IsNil() bool {
	return p.b == nil
}

func (p Ptr[T]) header() *gcHeader {
	return headerOf(p.b)
}

// Value returns a pointer to the referenced value. The returned pointer is
// only valid as long as the object is reachable from some root — there is
// no protection beyond that, matching the original's as_ptr().
func (p Ptr[T]) Value() *T {
	return &p.b.value
}

// Mark records p as reachable with t, the same way every Traceable
// implementation should record each Ptr field it holds. This is the Go
// equivalent of the original's `impl Trace for GcPtr`, expressed as a method
// instead of a blanket trait impl since Go has no blanket generic impls.
func (p Ptr[T]) Mark(t *Tracer) {
	if p.b == nil {
		return
	}
	t.markHeader(p.header())
}

// RootUnchecked converts p into a Root, incrementing root_count.
//
// Safety obligation: the caller must be certain p still refers to a live
// object — reachable through some root at the moment of the call. This is
// the Go-native equivalent of the original's `unsafe fn root()`; Go has no
// unsafe-function marker, so the obligation is carried in the name and in
// this comment instead of the type system.
func (p Ptr[T]) RootUnchecked() Root[T] {
	p.header().incRoot()
	return Root[T]{ptr: p}
}

// Root is a rooted handle: while it exists, the object it refers to survives
// any number of collection cycles (invariant I4). Root is created by
// Allocate (root_count starts at 1, no separate increment) and by
// Clone (increment). Go has no destructors, so callers must call Release
// explicitly — typically via defer — to decrement root_count; forgetting to
// do so leaves the object rooted, so no sweep ever reclaims it.
type Root[T any] struct {
	ptr Ptr[T]
}

func newRoot[T any](b *box[T]) Root[T] {
	return Root[T]{ptr: newPtr(b)}
}

// Value returns a pointer to the rooted value, the Go-native stand-in for
// the original's Deref<Target = T>.
func (r Root[T]) Value() *T {
	return r.ptr.Value()
}

// AsPtr returns a non-rooting Ptr for storage inside other managed objects.
func (r Root[T]) AsPtr() Ptr[T] {
	return r.ptr
}

// Clone increments root_count and returns a new handle to the same object.
func (r Root[T]) Clone() Root[T] {
	r.ptr.header().incRoot()
	return Root[T]{ptr: r.ptr}
}

// Release decrements root_count. It does not free anything synchronously —
// reclamation happens, if ever, during the next sweep that finds the object
// both White and unrooted (invariants I4, I8).
func (r Root[T]) Release() {
	r.ptr.header().decRoot()
}
