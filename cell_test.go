package abfall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap() *Heap {
	return NewHeap(OffProfile())
}

func TestCellSetGet(t *testing.T) {
	h := newTestHeap()
	defer h.Close()

	a := &box[traceLeaf]{value: traceLeaf{n: 1}}
	a.header.vtable = vtableFor[traceLeaf]()
	b := &box[traceLeaf]{value: traceLeaf{n: 2}}
	b.header.vtable = vtableFor[traceLeaf]()

	cell := NewCell(h, newPtr(a))
	assert.Equal(t, 1, cell.Get().Value().n)

	old := cell.Swap(newPtr(b))
	assert.Equal(t, 1, old.Value().n)
	assert.Equal(t, 2, cell.Get().Value().n)
}

func TestCellBarrierShadesOnlyWhileMarking(t *testing.T) {
	h := newTestHeap()
	defer h.Close()

	a := &box[traceLeaf]{value: traceLeaf{n: 1}}
	a.header.vtable = vtableFor[traceLeaf]()
	b := &box[traceLeaf]{value: traceLeaf{n: 2}}
	b.header.vtable = vtableFor[traceLeaf]()

	cell := NewCell(h, newPtr(a))

	cell.Set(newPtr(b))
	assert.True(t, h.gray.empty(), "barrier must be a no-op outside Marking")

	h.phase.store(Marking)
	c := &box[traceLeaf]{value: traceLeaf{n: 3}}
	c.header.vtable = vtableFor[traceLeaf]()
	cell.Set(newPtr(c))

	// traceLeaf is NoTrace, so the barrier marks it straight to Black instead
	// of queueing it in the shared gray queue.
	assert.Equal(t, Black, headerOf(c).color.load())
}

func TestRefCellBorrowExclusion(t *testing.T) {
	h := newTestHeap()
	defer h.Close()

	rc := NewRefCell(h, 42)

	g1, ok := rc.TryBorrow()
	require.True(t, ok)
	_, ok = rc.TryBorrowMut()
	assert.False(t, ok, "exclusive borrow must fail while a shared borrow is live")

	g2, ok := rc.TryBorrow()
	require.True(t, ok)
	assert.Equal(t, 42, *g1.Value())
	assert.Equal(t, 42, *g2.Value())

	g1.Release()
	g2.Release()

	gm, ok := rc.TryBorrowMut()
	require.True(t, ok)
	*gm.Value() = 7
	gm.Release()

	g3 := rc.Borrow()
	assert.Equal(t, 7, *g3.Value())
	g3.Release()
}

func TestRefGuardDoubleReleasePanics(t *testing.T) {
	h := newTestHeap()
	defer h.Close()

	rc := NewRefCell(h, "x")
	g := rc.Borrow()
	g.Release()
	assert.Panics(t, func() { g.Release() })
}

func TestRefMutGuardYuasaBarrier(t *testing.T) {
	h := newTestHeap()
	defer h.Close()

	type holder struct {
		ptr Ptr[traceLeaf]
	}

	rc := NewRefCell(h, holder{})
	h.phase.store(Marking)

	b := &box[traceLeaf]{value: traceLeaf{n: 1}}
	b.header.vtable = vtableFor[traceLeaf]()

	g := rc.BorrowMut()
	g.Value().ptr = newPtr(b)
	g.Release()

	// holder has no GCTrace method, so the Yuasa barrier has nothing to do;
	// this mainly exercises that Release does not panic or deadlock when
	// the value isn't Traceable.
	assert.False(t, headerOf(b).color.load() == Black)
}
