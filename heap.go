package abfall

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const defaultDrainBatch = 8

// Heap owns the intrusive list of every live allocation plus the state
// machine (phase, gray queue, pacing) that drives concurrent tri-color
// collection (spec.md §3, §4).
type Heap struct {
	head           atomic.Pointer[gcHeader]
	bytesAllocated atomic.Uint64
	threshold      atomic.Uint64

	gray          grayQueue
	phase         atomicPhase
	collecting    atomic.Bool // single-writer token: who owns the current cycle
	assistEnabled atomic.Bool

	opts      Options
	log       *logrus.Entry
	assistSem *semaphore.Weighted // nil means unbounded assist concurrency
	metrics   *metricsCollector

	contexts sync.Map // *Context -> struct{}, bookkeeping only

	stopOnce sync.Once
	stopCh   chan struct{}
	wakeCh   chan struct{}
	wg       sync.WaitGroup

	collectionsTotal  atomic.Uint64
	bytesFreedTotal   atomic.Uint64
	objectsFreedTotal atomic.Uint64
}

// NewHeap constructs a heap with opts and starts its background worker if
// opts.CollectionInterval is positive.
func NewHeap(opts Options) *Heap {
	opts = opts.withDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}

	h := &Heap{
		opts:   opts,
		log:    logger.WithField("component", "abfall"),
		stopCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
	h.threshold.Store(opts.MinThresholdBytes)

	if opts.MaxConcurrentAssist > 0 {
		h.assistSem = semaphore.NewWeighted(int64(opts.MaxConcurrentAssist))
	}

	if opts.CollectionInterval > 0 {
		h.wg.Add(1)
		go h.backgroundLoop()
	}

	return h
}

// Close stops the background worker, if running, and waits for it to exit.
// A cycle in progress when Close is called is abandoned cleanly: the phase
// returns to Idle without sweeping (spec.md §4.8, §7).
func (h *Heap) Close() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()
}

// Allocate constructs a fresh object on h's heap and returns a Root holding
// it. Go cannot express a generic method with its own type parameter, so
// this is the package-level stand-in for the original's
// heap.allocate<T>(value) (spec.md §4.2).
func Allocate[T any](h *Heap, value T) Root[T] {
	b := &box[T]{value: value}
	b.header.vtable = vtableFor[T]()
	// color is already White, its zero value; no explicit set needed.
	b.header.rootCount.Store(1)

	hdr := headerOf(b)
	for {
		cur := h.head.Load()
		hdr.next.Store(cur)
		if h.head.CompareAndSwap(cur, hdr) {
			break
		}
	}

	h.bytesAllocated.Add(uint64(hdr.vtable.size))
	if h.metrics != nil {
		h.metrics.observeAllocation(hdr.vtable.size)
	}

	if h.assistEnabled.Load() && h.opts.AssistWorkBudget > 0 {
		h.assist()
	}

	if h.shouldCollect() {
		h.wake()
	}

	return newRoot(b)
}

// assist performs at most opts.AssistWorkBudget units of mark work using a
// fresh, stack-local tracer (spec.md §4.5). It is a no-op once the cycle has
// moved past Marking, and under MaxConcurrentAssist contention it skips
// rather than blocks the allocating goroutine.
func (h *Heap) assist() {
	if h.assistSem != nil {
		if !h.assistSem.TryAcquire(1) {
			return
		}
		defer h.assistSem.Release(1)
	}

	var t Tracer
	budget := h.opts.AssistWorkBudget
	for work := 0; work < budget; work++ {
		hdr, ok := t.popWork()
		if !ok {
			if t.stealFrom(&h.gray, defaultDrainBatch) == 0 {
				break
			}
			hdr, ok = t.popWork()
			if !ok {
				break
			}
		}
		hdr.vtable.trace(hdr, &t)
		hdr.color.markBlack()
	}
	t.appendTo(&h.gray)
}

// BytesAllocated returns the current byte counter.
func (h *Heap) BytesAllocated() uint64 {
	return h.bytesAllocated.Load()
}

// AllocationCount walks the intrusive list and returns its length.
func (h *Heap) AllocationCount() int {
	n := 0
	for cur := h.head.Load(); cur != nil; cur = cur.next.Load() {
		n++
	}
	return n
}

// IsMarking reports whether the heap is currently in the Marking phase.
func (h *Heap) IsMarking() bool {
	return h.phase.load() == Marking
}

// Phase returns the current coarse collector state.
func (h *Heap) Phase() Phase {
	return h.phase.load()
}

// shouldCollect implements spec.md §4.9's pacing predicate.
func (h *Heap) shouldCollect() bool {
	bytes := h.bytesAllocated.Load()
	if h.opts.LimitBytes > 0 && bytes > h.opts.LimitBytes {
		return true
	}
	return bytes > h.threshold.Load()
}

// Collect triggers a collection cycle only if pacing says one is due; it is
// a no-op otherwise (spec.md §6).
func (h *Heap) Collect() {
	if !h.shouldCollect() {
		return
	}
	h.runCycle(h.stopCh)
}

// wake nudges the background worker, if running, to reconsider pacing
// immediately instead of waiting for the next tick. It never blocks:
// wakeCh holds at most one pending nudge, which a busy worker picks up once
// it is free, and a nudge sent while one is already pending is dropped.
// Without a background worker the pending nudge is never read.
func (h *Heap) wake() {
	select {
	case h.wakeCh <- struct{}{}:
	default:
	}
}

// ForceCollect runs a full mark-and-sweep cycle unconditionally and returns
// the live byte count afterward. If a cycle is already in progress
// elsewhere, this is a no-op (phase contention, spec.md §7) and simply
// returns the current count.
func (h *Heap) ForceCollect() uint64 {
	h.runCycle(h.stopCh)
	return h.BytesAllocated()
}

// runCycle is the coordinator body shared by ForceCollect, Collect, and the
// background worker: begin-mark, scan roots, drain, sweep. It reports
// whether a cycle actually ran (false on phase contention or a stop signal
// during marking).
func (h *Heap) runCycle(stop <-chan struct{}) bool {
	if !h.beginMark() {
		return false
	}

	markStart := time.Now()
	h.scanRoots()

	if !h.drainLoop(stop) {
		h.abortMarking()
		return false
	}
	markDur := time.Since(markStart)

	sweepStart := time.Now()
	h.sweep()
	sweepDur := time.Since(sweepStart)

	h.collectionsTotal.Add(1)
	if h.metrics != nil {
		h.metrics.observeCycle(markDur, sweepDur)
	}
	h.log.WithFields(logrus.Fields{
		"mark_ms":  markDur.Seconds() * 1000,
		"sweep_ms": sweepDur.Seconds() * 1000,
	}).Debug("gc: cycle complete")

	return true
}

// beginMark wins (or loses) the race to start a new cycle. Only the winner
// ever touches assistEnabled or the phase field for this cycle, which is
// what lets assistEnabled be published strictly before Marking becomes
// observable (spec.md §4.1, §4.4 step 2).
func (h *Heap) beginMark() bool {
	if !h.collecting.CompareAndSwap(false, true) {
		return false
	}
	h.assistEnabled.Store(true)
	h.phase.store(Marking)
	h.notifyPhase(Marking)
	h.log.Debug("gc: begin mark")
	return true
}

// abortMarking unwinds a cycle that was interrupted by shutdown mid-mark,
// returning the heap to Idle without ever reaching Sweeping (spec.md §4.8).
func (h *Heap) abortMarking() {
	h.assistEnabled.Store(false)
	h.phase.store(Idle)
	h.notifyPhase(Idle)
	h.collecting.Store(false)
	h.log.Debug("gc: marking aborted by shutdown")
}

// scanRoots walks the intrusive list once, marking every currently-rooted
// header, then flushes the local tracer into the shared gray queue (spec.md
// §4.4 step 3).
func (h *Heap) scanRoots() {
	var t Tracer
	for cur := h.head.Load(); cur != nil; cur = cur.next.Load() {
		if cur.isRoot() {
			t.markHeader(cur)
		}
	}
	t.appendTo(&h.gray)
}

// drainLoop processes the shared gray queue to exhaustion, yielding between
// batches, and reports whether marking completed (false if stop fired
// first). End-of-marking requires two consecutive empty observations, the
// second one made while holding the shared queue's lock (spec.md §4.4).
func (h *Heap) drainLoop(stop <-chan struct{}) bool {
	var t Tracer
	budget := h.opts.IncrementalWorkBudget
	if budget <= 0 {
		budget = defaultDrainBatch
	}

	sawEmpty := false
	for {
		select {
		case <-stop:
			return false
		default:
		}

		if !t.hasWork() {
			t.stealFrom(&h.gray, budget)
		}

		if !t.hasWork() {
			if sawEmpty && h.gray.empty() {
				return true
			}
			sawEmpty = true
			runtime.Gosched()
			continue
		}
		sawEmpty = false

		for work := 0; work < budget; work++ {
			hdr, ok := t.popWork()
			if !ok {
				break
			}
			hdr.vtable.trace(hdr, &t)
			hdr.color.markBlack()
		}
		t.appendTo(&h.gray)
		runtime.Gosched()
	}
}

// sweep walks the intrusive list once, reclaiming white-and-unrooted nodes
// and resetting survivors to White, then recomputes the threshold (spec.md
// §4.7).
func (h *Heap) sweep() {
	h.assistEnabled.Store(false)
	h.phase.store(Sweeping)
	h.notifyPhase(Sweeping)

	var freedBytes, freedObjects uint64

	cur := h.head.Load()
	prevSlot := &h.head

	for cur != nil {
		next := cur.next.Load()
		if cur.color.isWhite() && !cur.isRoot() {
			prevSlot.Store(next)
			cur.vtable.drop(cur)
			freedBytes += uint64(cur.vtable.size)
			freedObjects++
		} else {
			cur.color.resetWhite()
			prevSlot = &cur.next
		}
		cur = next
	}

	subUint64(&h.bytesAllocated, freedBytes)
	h.bytesFreedTotal.Add(freedBytes)
	h.objectsFreedTotal.Add(freedObjects)
	if h.metrics != nil {
		h.metrics.observeSweep(freedBytes, freedObjects)
	}

	h.recomputeThreshold()

	h.phase.store(Idle)
	h.notifyPhase(Idle)
	h.collecting.Store(false)

	h.log.WithFields(logrus.Fields{
		"freed_bytes":   freedBytes,
		"freed_objects": freedObjects,
		"live_bytes":    h.bytesAllocated.Load(),
		"new_threshold": h.threshold.Load(),
	}).Debug("gc: sweep complete")
}

// recomputeThreshold applies the growth-plus-shrink-guard policy of
// spec.md §4.7 step 5.
func (h *Heap) recomputeThreshold() {
	live := h.bytesAllocated.Load()
	candidate := live + live*uint64(h.opts.ThresholdPercent)/100
	if candidate < h.opts.MinThresholdBytes {
		candidate = h.opts.MinThresholdBytes
	}

	old := h.threshold.Load()
	if candidate >= old {
		h.threshold.Store(candidate)
		return
	}
	// Shrinking: only adopt if the drop exceeds the shrink guard, i.e. the
	// candidate is smaller than shrink_percent% of the old threshold.
	// Otherwise threshold thrash is avoided by keeping the old value.
	adoptBelow := old * uint64(h.opts.ThresholdShrinkPercent) / 100
	if candidate < adoptBelow {
		h.threshold.Store(candidate)
	}
}

// notifyPhase updates metrics and invokes the optional user callback. It
// must never block — it runs inline on the coordinator's own goroutine.
func (h *Heap) notifyPhase(p Phase) {
	if h.metrics != nil {
		h.metrics.setPhase(p)
	}
	if h.opts.OnPhaseChange != nil {
		h.opts.OnPhaseChange(p)
	}
}

// backgroundLoop is the single worker goroutine per heap described in
// spec.md §4.8: wake on interval or stop signal, collect if paced to, sleep
// again.
func (h *Heap) backgroundLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.CollectionInterval)
	defer ticker.Stop()

	h.log.Debug("gc: background worker started")
	defer h.log.Debug("gc: background worker stopped")

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
		case <-h.wakeCh:
		}

		if h.shouldCollect() {
			h.runCycle(h.stopCh)
		}
	}
}

func (h *Heap) registerContext(c *Context) {
	h.contexts.Store(c, struct{}{})
}

func (h *Heap) unregisterContext(c *Context) {
	h.contexts.Delete(c)
}

// RegisteredContexts returns the number of live Context guards registered
// with h. Bookkeeping only, per spec.md §2 item 7.
func (h *Heap) RegisteredContexts() int {
	n := 0
	h.contexts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// subUint64 subtracts delta from a, clamping at zero. bytes_allocated only
// ever decreases during sweep, by at most the bytes it itself observed on
// the list, so this never needs to clamp in practice; the clamp exists so a
// logic bug fails safe instead of wrapping to a huge value.
func subUint64(a *atomic.Uint64, delta uint64) {
	for {
		old := a.Load()
		var next uint64
		if delta > old {
			next = 0
		} else {
			next = old - delta
		}
		if a.CompareAndSwap(old, next) {
			return
		}
	}
}
