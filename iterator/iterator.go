// Package iterator implements the Speech State Machine and its supporting
// collaborators (frame assembler, pre-speech pad, chunk emitter) described
// in spec.md §4.2–§4.4 — the per-session core that turns a raw PCM16 byte
// stream into the seven VAD events, independent of how those bytes arrived
// or how probabilities are produced.
package iterator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"silerovad/config"
	"silerovad/core"
)

// Runner is the Model Runner contract of spec.md §4.5: evaluate one frame
// of normalized float32 samples into a speech probability, maintaining
// recurrent state across calls until Reset or Release.
type Runner interface {
	Evaluate(ctx context.Context, frame []float32) (float32, error)
	Reset() error
	Release() error
}

// Iterator wires the Frame Assembler, Model Runner, and Speech State
// Machine together into the single per-session pipeline the Handler drives
// one byte batch at a time.
type Iterator struct {
	cfg    config.Config
	asm    *Assembler
	runner Runner
	m      *machine

	// onInference, if set, is called with the wall-clock duration of every
	// runner.Evaluate call, letting the Handler feed SPEC_FULL.md §4.1's
	// per-frame inference latency histogram without the iterator package
	// knowing anything about metrics.
	onInference func(time.Duration)
}

// New constructs an Iterator for cfg, driving probabilities from runner.
// cfg must already be normalized and validated (config.Normalize/Validate).
func New(cfg config.Config, runner Runner) *Iterator {
	return &Iterator{
		cfg:    cfg,
		asm:    NewAssembler(cfg.FrameSamples),
		runner: runner,
		m:      newMachine(cfg),
	}
}

// SetInferenceObserver registers fn to be called with the duration of each
// subsequent per-frame Evaluate call. Passing nil disables observation.
func (it *Iterator) SetInferenceObserver(fn func(time.Duration)) {
	it.onInference = fn
}

// ProcessAudioData assembles batch into frames, runs each through the
// model and state machine in order, and returns every event produced, in
// emission order. A per-frame inference failure does not abort the batch:
// spec.md §7's "inference failures are reported and the offending frame is
// skipped" policy means the recurrent state is held unchanged for that
// frame and the loop continues on to the next one, so no later frame in
// the batch is ever dropped because an earlier one failed (spec.md §5).
// Every per-frame failure is joined into the single returned error.
func (it *Iterator) ProcessAudioData(ctx context.Context, batch []byte) ([]Event, error) {
	frames := it.asm.Push(batch)
	var out []Event
	var errs []error
	for _, frame := range frames {
		start := time.Now()
		p, err := it.runner.Evaluate(ctx, frame)
		if it.onInference != nil {
			it.onInference(time.Since(start))
		}
		if err != nil {
			errs = append(errs, core.NewError(core.ErrInferenceFailure, "iterator.ProcessAudioData", fmt.Errorf("frame skipped: %w", err)))
			continue
		}
		out = append(out, it.m.Process(ctx, frame, p)...)
	}
	return out, errors.Join(errs...)
}

// ForceEndSpeech implements spec.md §4.3's forceEndSpeech.
func (it *Iterator) ForceEndSpeech(ctx context.Context) []Event {
	return it.m.ForceEndSpeech(ctx)
}

// Reset drops all session state to Idle and clears any buffered partial
// frame bytes, without emitting events.
func (it *Iterator) Reset(ctx context.Context) {
	it.asm.Reset()
	it.m.Reset(ctx)
	_ = it.runner.Reset()
}

// Release frees the underlying model resources. The Iterator must not be
// used afterward.
func (it *Iterator) Release() error {
	return it.runner.Release()
}
