package iterator

import (
	"context"

	"github.com/looplab/fsm"

	"silerovad/config"
	"silerovad/events"
)

// Event is satisfied by every struct in package events; the iterator
// returns these in delivery order from Process/ForceEndSpeech.
type Event interface {
	GetId() string
}

const (
	stateIdle     = "idle"
	stateSpeaking = "speaking"
)

// machine is the Speech State Machine of spec.md §4.3: it turns a
// probability stream into speechStart/realSpeechStart/chunk/speechEnd/
// misfire events via threshold hysteresis, redemption counting, and
// minimum-speech validation.
//
// The Idle/Speaking state itself, and the only two transitions between
// them, are delegated to github.com/looplab/fsm so the legal-transition
// bookkeeping isn't hand-rolled; the frame-level counters and buffers the
// invariants in spec.md §3 describe (positiveFrameCount, redemptionCounter,
// preBuffer, utteranceBuffer, chunkAccumulator, endPadBuffer) stay as plain
// fields on machine, mutated from the fsm callbacks and from Process
// directly — exactly the split SPEC_FULL.md §4.3 calls for.
type machine struct {
	cfg config.Config
	fsm *fsm.FSM

	pre     *preBuffer
	chunker *chunkEmitter

	positiveFrameCount uint32
	redemptionCounter  uint32
	realStartEmitted   bool
	utteranceFrames    [][]float32
	endPadFrames       [][]float32
	frameIndex         uint64

	out []Event
}

func newMachine(cfg config.Config) *machine {
	m := &machine{
		cfg:     cfg,
		pre:     newPreBuffer(int(cfg.PreSpeechPadFrames)),
		chunker: newChunkEmitter(int(cfg.NumFramesToEmit)),
	}
	m.fsm = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: "trigger", Src: []string{stateIdle}, Dst: stateSpeaking},
			{Name: "end", Src: []string{stateSpeaking}, Dst: stateIdle},
			{Name: "reset", Src: []string{stateIdle, stateSpeaking}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_" + stateSpeaking: func(_ context.Context, _ *fsm.Event) { m.enterSpeaking() },
			"enter_" + stateIdle:     func(_ context.Context, _ *fsm.Event) { m.clearSessionState() },
		},
	)
	return m
}

func (m *machine) speaking() bool { return m.fsm.Current() == stateSpeaking }

// Process runs one frame through the state machine and returns every event
// it produced, in emission order (spec.md §4.3).
func (m *machine) Process(ctx context.Context, frame []float32, p float32) []Event {
	m.out = m.out[:0]
	m.frameIndex++

	if !m.speaking() {
		// Step 1: always push F into the pre-speech pad while Idle — even
		// when F is itself about to trigger the Idle->Speaking transition,
		// since the transition's own "drain pad, then append F" action
		// (spec.md §4.3) treats the pad's content and the triggering frame
		// as two separate appends.
		m.pre.push(frame)
		if p >= m.cfg.PositiveSpeechThreshold {
			_ = m.fsm.Event(ctx, "trigger")
			m.appendSpeakingFrame(frame)
		}
	} else {
		m.appendSpeakingFrame(frame)
		m.classify(ctx, p)
	}

	m.out = append(m.out, &events.FrameProcessed{
		IsSpeech:   p,
		NotSpeech:  1 - p,
		Frame:      frame,
		FrameIndex: m.frameIndex,
	})
	return m.out
}

// appendSpeakingFrame appends a frame to the utterance and chunk
// accumulator, emitting an intermediate chunk if one was produced.
func (m *machine) appendSpeakingFrame(frame []float32) {
	m.utteranceFrames = append(m.utteranceFrames, frame)
	if chunk, ok := m.chunker.append(frame); ok {
		m.out = append(m.out, &events.Chunk{Data: chunk, IsFinal: false})
	}
}

// enterSpeaking runs as the fsm's enter_speaking callback: it resets the
// per-utterance counters, emits speechStart (and, when minSpeechFrames==1,
// realSpeechStart right alongside it per spec.md §8's boundary behavior),
// then drains the pre-speech pad into the utterance and chunk accumulator.
// speechStart is emitted before any chunk the pad drain produces, per the
// ordering guarantee in spec.md §5.
func (m *machine) enterSpeaking() {
	m.positiveFrameCount = 1
	m.redemptionCounter = 0
	m.realStartEmitted = false
	m.endPadFrames = nil

	m.out = append(m.out, &events.SpeechStart{FrameIndex: m.frameIndex})
	if m.positiveFrameCount >= m.cfg.MinSpeechFrames {
		m.realStartEmitted = true
		m.out = append(m.out, &events.RealSpeechStart{FrameIndex: m.frameIndex})
	}

	for _, f := range m.pre.drain() {
		m.appendSpeakingFrame(f)
	}
}

// classify applies the Speaking frame-classification rules of spec.md §4.3.
// The triggering frame of a fresh transition is handled by enterSpeaking,
// not here — classify only runs for frames observed while already
// Speaking.
func (m *machine) classify(ctx context.Context, p float32) {
	switch {
	case p >= m.cfg.PositiveSpeechThreshold:
		m.positiveFrameCount++
		m.redemptionCounter = 0
		m.endPadFrames = nil
		if !m.realStartEmitted && m.positiveFrameCount >= m.cfg.MinSpeechFrames {
			m.realStartEmitted = true
			m.out = append(m.out, &events.RealSpeechStart{FrameIndex: m.frameIndex})
		}
	case p < m.cfg.NegativeSpeechThreshold:
		m.redemptionCounter++
		m.endPadFrames = append(m.endPadFrames, m.utteranceFrames[len(m.utteranceFrames)-1])
		if m.redemptionCounter >= m.cfg.RedemptionFrames {
			m.endOfSpeech(ctx)
		}
	default:
		// hold: neither advance nor reset redemption.
	}
}

// endOfSpeech implements the End-of-speech procedure (spec.md §4.3).
func (m *machine) endOfSpeech(ctx context.Context) {
	redemption := int(m.cfg.RedemptionFrames)
	if redemption > len(m.utteranceFrames) {
		redemption = len(m.utteranceFrames)
	}
	m.utteranceFrames = m.utteranceFrames[:len(m.utteranceFrames)-redemption]
	m.chunker.trimTail(redemption)

	keep := int(m.cfg.EndSpeechPadFrames)
	if keep > len(m.endPadFrames) {
		keep = len(m.endPadFrames)
	}
	m.utteranceFrames = append(m.utteranceFrames, m.endPadFrames[:keep]...)
	m.chunker.appendMany(m.endPadFrames[:keep])

	valid := m.positiveFrameCount >= m.cfg.MinSpeechFrames
	m.finishUtterance(ctx, valid)
}

// ForceEndSpeech implements spec.md §4.3's forceEndSpeech: if Speaking, end
// the utterance unconditionally without trimming any redemption tail.
func (m *machine) ForceEndSpeech(ctx context.Context) []Event {
	m.out = m.out[:0]
	if m.speaking() {
		m.finishUtterance(ctx, true)
	}
	return m.out
}

// finishUtterance emits speechEnd+final chunk (or misfire) and transitions
// back to Idle, which resets all session mutable state via enter_idle.
func (m *machine) finishUtterance(ctx context.Context, valid bool) {
	if valid {
		samples := flatten(m.utteranceFrames)
		m.out = append(m.out, &events.SpeechEnd{Samples: samples})
		if final, ok := m.chunker.flushFinal(); ok {
			m.out = append(m.out, &events.Chunk{Data: final, IsFinal: true})
		}
	} else {
		m.chunker.reset()
		m.out = append(m.out, &events.Misfire{})
	}
	_ = m.fsm.Event(ctx, "end")
}

// Reset unconditionally drops all session state to Idle without emitting
// events (spec.md §4.3's reset, used on stopListening).
func (m *machine) Reset(ctx context.Context) {
	m.out = nil
	_ = m.pre.drain()
	_ = m.fsm.Event(ctx, "reset")
}

// clearSessionState is the enter_idle fsm callback: it zeroes every field
// the invariants in spec.md §3 require to be zero/empty/false while Idle.
func (m *machine) clearSessionState() {
	m.positiveFrameCount = 0
	m.redemptionCounter = 0
	m.realStartEmitted = false
	m.utteranceFrames = nil
	m.endPadFrames = nil
	m.chunker.reset()
}

func flatten(frames [][]float32) []float32 {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	out := make([]float32, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
