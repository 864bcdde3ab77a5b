package abfall

// Traceable is implemented by user-defined types that participate in garbage
// collection. The engine calls GCTrace once per mark visit; the
// implementation must call Tracer.Mark (via Ptr.Mark, see ptr.go) for every
// Ptr it transitively directly owns.
//
// Safety obligation (spec.md §6): omitting a reachable Ptr from GCTrace is
// undefined behavior from the collector's point of view — the referenced
// object can be swept (and its Finalizer run) while still logically
// reachable. Go's memory safety means this cannot corrupt the host process,
// but it is still a use-after-reclaim bug in the managed graph.
//
// Types with no traceable children need not implement Traceable; the
// vtable's trace slot does nothing for a value that is not Traceable. Such
// a type is still queued gray and traced like any other unless it also
// embeds NoTrace (see noTracer below), in which case marking shortcuts
// straight to Black.
type Traceable interface {
	GCTrace(t *Tracer)
}

// noTracer is an optional marker a type can implement to assert, at compile
// time, that it holds no Ptr fields whatsoever. This is the Go-native
// equivalent of the original's NO_TRACE compile-time constant: when present,
// the vtable built for that type skips queueing entirely and marks straight
// to Black (spec.md §4.3).
//
// Implement this only for types that genuinely contain no Ptr[T] fields,
// directly or transitively. Getting this wrong reintroduces the same
// use-after-reclaim risk as omitting a Ptr from GCTrace.
type noTracer interface {
	gcNoTrace()
}

// NoTrace is embedded by leaf types to opt into the noTracer fast path.
// Embedding it does not give the type a GCTrace method — it simply asserts
// "I have nothing to trace" to the vtable builder.
type NoTrace struct{}

func (NoTrace) gcNoTrace() {}
