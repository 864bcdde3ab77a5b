package abfall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicColorTransitions(t *testing.T) {
	var c atomicColor
	assert.True(t, c.isWhite())

	assert.True(t, c.markWhiteToGray())
	assert.False(t, c.isWhite())
	assert.Equal(t, Gray, c.load())

	// A second White->Gray attempt loses the race once the object is Gray.
	assert.False(t, c.markWhiteToGray())

	c.markBlack()
	assert.Equal(t, Black, c.load())

	c.resetWhite()
	assert.True(t, c.isWhite())
}

func TestAtomicPhaseCAS(t *testing.T) {
	var p atomicPhase
	assert.Equal(t, Idle, p.load())

	assert.True(t, p.casFrom(Idle, Marking))
	assert.False(t, p.casFrom(Idle, Marking))
	assert.Equal(t, Marking, p.load())

	p.store(Sweeping)
	assert.Equal(t, Sweeping, p.load())
}
