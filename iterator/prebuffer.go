package iterator

// preBuffer is the rolling pre-speech pad: a fixed-capacity ring of the
// most recent frames, drained into the utterance at speech start
// (spec.md §3/§4.3).
//
// smallnest/ringbuffer (used in frames.go for the assembler's byte
// residue) was evaluated for this role too, but its write semantics
// block or error when full rather than evicting the oldest entry — exactly
// backwards from what a pre-speech pad needs. No other library in the pack
// implements a fixed-capacity evict-oldest ring, so this is a small,
// preallocated slice-backed ring, in the same preallocate-and-reuse style
// as vad/silero/silero.go's scratch buffers.
type preBuffer struct {
	frames   [][]float32
	capacity int
	start    int // index of the oldest frame
	size     int
}

func newPreBuffer(capacity int) *preBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &preBuffer{
		frames:   make([][]float32, capacity),
		capacity: capacity,
	}
}

// push appends a frame, evicting the oldest frame if at capacity.
func (p *preBuffer) push(frame []float32) {
	if p.capacity == 0 {
		return
	}
	idx := (p.start + p.size) % p.capacity
	p.frames[idx] = frame
	if p.size < p.capacity {
		p.size++
	} else {
		p.start = (p.start + 1) % p.capacity
	}
}

// drain returns every buffered frame oldest-to-newest and empties the ring.
func (p *preBuffer) drain() [][]float32 {
	if p.size == 0 {
		return nil
	}
	out := make([][]float32, p.size)
	for i := 0; i < p.size; i++ {
		out[i] = p.frames[(p.start+i)%p.capacity]
	}
	p.start = 0
	p.size = 0
	return out
}

func (p *preBuffer) len() int { return p.size }
