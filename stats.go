package abfall

// Stats is a point-in-time snapshot of a heap's bookkeeping counters,
// cheap enough to call from a metrics scrape or a demo CLI's status
// command (SPEC_FULL.md "Collection statistics snapshot").
type Stats struct {
	BytesAllocated      uint64
	AllocationCount     int
	Threshold           uint64
	Phase               Phase
	CollectionsTotal    uint64
	BytesFreedTotal     uint64
	ObjectsFreedTotal   uint64
	RegisteredContexts  int
}

// Stats returns a snapshot of h's current counters. AllocationCount walks
// the intrusive list, so this is O(live objects), not O(1).
func (h *Heap) Stats() Stats {
	return Stats{
		BytesAllocated:     h.bytesAllocated.Load(),
		AllocationCount:    h.AllocationCount(),
		Threshold:          h.threshold.Load(),
		Phase:              h.phase.load(),
		CollectionsTotal:   h.collectionsTotal.Load(),
		BytesFreedTotal:    h.bytesFreedTotal.Load(),
		ObjectsFreedTotal:  h.objectsFreedTotal.Load(),
		RegisteredContexts: h.RegisteredContexts(),
	}
}
