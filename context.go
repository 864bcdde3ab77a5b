package abfall

// Context is the per-goroutine guard described in spec.md §2 item 7: it
// registers the calling goroutine with a heap for bookkeeping. Go has no
// implicit destructors, so callers must call Close explicitly, typically
// via defer — the same adaptation Root.Release and the Cell guards make
// elsewhere in this package.
//
// Unlike the original's thread-local CURRENT_HEAP, Context does not make
// itself implicitly reachable from barrier code: Cell and RefCell already
// carry an explicit *Heap, so Context's role here is strictly the
// bookkeeping and lifetime-anchor one spec.md §2 calls out, never a hidden
// global lookup.
type Context struct {
	heap *Heap
}

// NewContext registers a new context with heap and returns it.
func NewContext(heap *Heap) *Context {
	c := &Context{heap: heap}
	heap.registerContext(c)
	return c
}

// Heap returns the heap this context is bound to.
func (c *Context) Heap() *Heap {
	return c.heap
}

// Close unregisters the context. Call it via defer when the goroutine that
// created the context is done using the heap.
func (c *Context) Close() {
	c.heap.unregisterContext(c)
}
