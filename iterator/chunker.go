package iterator

import "encoding/binary"

// chunkEmitter accumulates frames during an active utterance and emits a
// PCM16-LE chunk every numFramesToEmit frames, plus a final chunk
// (possibly empty) on end-of-speech or force-end (spec.md §4.4). It is
// inert when numFramesToEmit is 0.
type chunkEmitter struct {
	numFramesToEmit int
	pending         [][]float32
}

func newChunkEmitter(numFramesToEmit int) *chunkEmitter {
	return &chunkEmitter{numFramesToEmit: numFramesToEmit}
}

func (c *chunkEmitter) enabled() bool { return c.numFramesToEmit > 0 }

// append adds a frame to the pending accumulator and returns an
// intermediate chunk if enough frames have accumulated.
func (c *chunkEmitter) append(frame []float32) ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	c.pending = append(c.pending, frame)
	if len(c.pending) < c.numFramesToEmit {
		return nil, false
	}
	ready := c.pending[:c.numFramesToEmit]
	c.pending = append([][]float32{}, c.pending[c.numFramesToEmit:]...)
	return encodePCM16(ready), true
}

// flushFinal returns every remaining accumulated frame as one final chunk,
// even if empty, and resets the accumulator. Returns (nil, false) when
// numFramesToEmit is 0, since chunking is entirely disabled.
func (c *chunkEmitter) flushFinal() ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	out := encodePCM16(c.pending)
	c.pending = nil
	return out, true
}

func (c *chunkEmitter) reset() {
	c.pending = nil
}

// trimTail removes up to n frames from the tail of the pending accumulator,
// mirroring the utteranceBuffer trim the End-of-speech procedure performs,
// so that concatenating every emitted chunk (intermediate plus final)
// still reproduces the emitted speechEnd sample vector exactly (spec.md
// §8). Only the still-unflushed suffix can be trimmed — frames already
// emitted in an earlier intermediate chunk are gone for good, which is why
// chunk boundaries that fall inside a redemption run are a corner case
// callers should size numFramesToEmit to avoid.
func (c *chunkEmitter) trimTail(n int) {
	if !c.enabled() {
		return
	}
	if n > len(c.pending) {
		n = len(c.pending)
	}
	c.pending = c.pending[:len(c.pending)-n]
}

// appendMany appends frames directly to the pending accumulator without
// checking for an intermediate-chunk threshold crossing; used to restore
// the end-speech pad frames kept in the utterance.
func (c *chunkEmitter) appendMany(frames [][]float32) {
	if !c.enabled() {
		return
	}
	c.pending = append(c.pending, frames...)
}

// encodePCM16 packages frames of normalized float32 samples as PCM16-LE
// bytes, per spec.md §4.4: x -> clamp(round(x*32768), -32768, 32767).
func encodePCM16(frames [][]float32) []byte {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	out := make([]byte, total*2)
	pos := 0
	for _, f := range frames {
		for _, x := range f {
			binary.LittleEndian.PutUint16(out[pos:], uint16(int16(clampSample(x))))
			pos += 2
		}
	}
	return out
}

func clampSample(x float32) int32 {
	v := int32(roundFloat32(x * 32768))
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

func roundFloat32(x float32) float32 {
	if x >= 0 {
		return float32(int32(x + 0.5))
	}
	return float32(int32(x - 0.5))
}
