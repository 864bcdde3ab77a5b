package abfall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracerMarkHeaderQueuesOnlyTraceable(t *testing.T) {
	traceableVT := &vtable{noTrace: false}
	leafVT := &vtable{noTrace: true}

	traceableHdr := &gcHeader{vtable: traceableVT}
	leafHdr := &gcHeader{vtable: leafVT}

	var tr Tracer
	tr.markHeader(traceableHdr)
	tr.markHeader(leafHdr)

	assert.Equal(t, Gray, traceableHdr.color.load())
	assert.Equal(t, Black, leafHdr.color.load())

	// Only the traceable header was queued; the leaf went straight to Black.
	h, ok := tr.popWork()
	assert.True(t, ok)
	assert.Same(t, traceableHdr, h)
	_, ok = tr.popWork()
	assert.False(t, ok)
}

func TestTracerMarkHeaderIdempotent(t *testing.T) {
	hdr := &gcHeader{vtable: &vtable{}}

	var t1, t2 Tracer
	t1.markHeader(hdr)
	t2.markHeader(hdr) // already Gray, must not be queued twice

	assert.True(t, t1.hasWork())
	assert.False(t, t2.hasWork())
}

func TestGrayQueuePushPopBatch(t *testing.T) {
	var q grayQueue
	a := &gcHeader{}
	b := &gcHeader{}
	q.pushBatch([]*gcHeader{a, b})
	assert.False(t, q.empty())

	got := q.popBatch(1)
	assert.Len(t, got, 1)
	assert.False(t, q.empty())

	got = q.popBatch(10)
	assert.Len(t, got, 1)
	assert.True(t, q.empty())
}

func TestTracerStealAndAppend(t *testing.T) {
	var q grayQueue
	h1 := &gcHeader{}
	h2 := &gcHeader{}
	q.pushBatch([]*gcHeader{h1, h2})

	var tr Tracer
	n := tr.stealFrom(&q, 5)
	assert.Equal(t, 2, n)
	assert.True(t, tr.hasWork())

	tr.appendTo(&q)
	assert.False(t, tr.hasWork())
	assert.False(t, q.empty())
}
