package iterator

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"
)

// Assembler converts an arbitrary-length stream of little-endian PCM16
// bytes into fixed-length float32 frames normalized to [-1, 1], per
// spec.md §4.2. Incoming byte batches are staged in a ring buffer so an
// odd trailing byte (half a sample) is held over to the next Push call
// without any extra bookkeeping on the caller's side.
//
// A fixed-capacity byte ring (rather than the frame-level evict-oldest ring
// the pre-speech pad needs, see prebuffer.go) is the right tool here: the
// assembler only ever needs to hold at most frameSamples*2-1 residual bytes
// plus whatever the next batch adds, and smallnest/ringbuffer's
// block/grow-on-demand write is exactly that access pattern.
type Assembler struct {
	frameSamples int
	rb           *ringbuffer.RingBuffer
	scratch      []byte // reused by Push to decode one frame's worth of bytes
}

// NewAssembler creates an Assembler for frames of frameSamples samples.
func NewAssembler(frameSamples int) *Assembler {
	initialCap := frameSamples * 2 * 4 // headroom for a few batches before growth
	return &Assembler{
		frameSamples: frameSamples,
		rb:           ringbuffer.New(initialCap),
		scratch:      make([]byte, frameSamples*2),
	}
}

// Push appends a raw PCM16LE byte batch and returns every complete frame it
// produced, in order. The odd trailing byte of an unpaired sample, and any
// bytes short of a full frame, are retained for the next call.
func (a *Assembler) Push(batch []byte) []([]float32) {
	a.ensureCapacity(len(batch))
	if _, err := a.rb.Write(batch); err != nil {
		// The ring was sized with headroom above; a write error here means
		// the caller handed us an unusually large batch. Grow once more and
		// retry rather than dropping audio.
		a.rb.SetBlocking(false)
		a.grow(len(batch))
		_, _ = a.rb.Write(batch)
	}

	frameBytes := a.frameSamples * 2
	var frames []([]float32)
	for a.rb.Length() >= frameBytes {
		n, _ := a.rb.Read(a.scratch)
		if n < frameBytes {
			// Short read: put back what we got and wait for more data.
			_, _ = a.rb.Write(a.scratch[:n])
			break
		}
		frames = append(frames, decodeFrame(a.scratch, a.frameSamples))
	}
	return frames
}

// decodeFrame interprets raw bytes as little-endian signed 16-bit samples
// normalized by dividing by 32768.0 (spec.md §4.2).
func decodeFrame(raw []byte, frameSamples int) []float32 {
	frame := make([]float32, frameSamples)
	for i := 0; i < frameSamples; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		frame[i] = float32(s) / 32768.0
	}
	return frame
}

func (a *Assembler) ensureCapacity(incoming int) {
	if a.rb.Free() >= incoming {
		return
	}
	a.grow(incoming)
}

// grow replaces the ring with a larger one, preserving any buffered bytes.
func (a *Assembler) grow(extra int) {
	needed := a.rb.Length() + extra
	newCap := a.rb.Capacity() * 2
	for newCap < needed {
		newCap *= 2
	}
	next := ringbuffer.New(newCap)
	buf := make([]byte, a.rb.Length())
	_, _ = a.rb.Read(buf)
	_, _ = next.Write(buf)
	a.rb = next
}

// Reset discards any buffered partial-frame bytes.
func (a *Assembler) Reset() {
	a.rb.Reset()
}
