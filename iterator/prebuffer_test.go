package iterator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f32(v float32) []float32 { return []float32{v} }

func TestPreBufferEvictsOldestAtCapacity(t *testing.T) {
	p := newPreBuffer(2)
	p.push(f32(1))
	p.push(f32(2))
	p.push(f32(3)) // evicts 1

	got := p.drain()
	assert.Equal(t, [][]float32{f32(2), f32(3)}, got)
}

func TestPreBufferDrainEmpties(t *testing.T) {
	p := newPreBuffer(3)
	p.push(f32(1))
	_ = p.drain()

	assert.Equal(t, 0, p.len())
	assert.Nil(t, p.drain())
}

func TestPreBufferZeroCapacityIsNoop(t *testing.T) {
	p := newPreBuffer(0)
	p.push(f32(1))
	assert.Equal(t, 0, p.len())
	assert.Nil(t, p.drain())
}

func TestPreBufferPreservesOrderAfterWraparound(t *testing.T) {
	p := newPreBuffer(3)
	for i := 1; i <= 5; i++ { // wraps twice
		p.push(f32(float32(i)))
	}
	got := p.drain()
	assert.Equal(t, [][]float32{f32(3), f32(4), f32(5)}, got)
}
