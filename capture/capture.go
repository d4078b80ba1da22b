// Package capture is the default microphone collaborator the Handler
// drives when startListening is called without a caller-supplied PCM
// stream (spec.md §6, SPEC_FULL.md §6 expansion). It is intentionally
// thin: open-default-stream, read loop, forward to a channel — nothing
// platform-specific beyond what github.com/gordonklaus/portaudio itself
// abstracts.
package capture

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"silerovad/core"
)

// Device is the capture collaborator contract. The Handler owns a Device's
// lifecycle exclusively; Stream is called at most once per Device.
type Device interface {
	// Stream opens the device and returns a channel of PCM16-LE mono byte
	// batches at 16kHz. The channel is closed when ctx is cancelled or
	// Close is called.
	Stream(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// Options configures a PortAudioDevice. EchoCancellation/AutoGain/
// NoiseSuppression are accepted for interface parity with spec.md §6's
// microphone configuration but are inert on PortAudio's default host API,
// which does not expose per-stream AEC/AGC/NS toggles on most platforms —
// mirroring the teacher's capability-probing utilities, which accept a
// desired setting and fall back silently when the backend can't honor it.
type Options struct {
	SampleRate       int
	FrameSamples     int
	EchoCancellation bool
	AutoGain         bool
	NoiseSuppression bool
}

// DefaultOptions returns the spec.md §6 microphone defaults.
func DefaultOptions() Options {
	return Options{
		SampleRate:       16000,
		FrameSamples:     512,
		EchoCancellation: true,
		AutoGain:         true,
		NoiseSuppression: true,
	}
}

// PortAudioDevice is the default Device implementation.
type PortAudioDevice struct {
	opts   Options
	stream *portaudio.Stream
	buf    []float32
	out    chan []byte
}

// NewPortAudioDevice constructs a PortAudioDevice. The underlying PortAudio
// library is initialized lazily on the first Stream call, mirroring
// alexedtionweb's microphone example (portaudio.Initialize/OpenDefaultStream).
func NewPortAudioDevice(opts Options) *PortAudioDevice {
	return &PortAudioDevice{opts: opts}
}

// Stream opens the default input device and starts a read loop on its own
// goroutine, forwarding PCM16-LE byte batches until ctx is cancelled.
func (d *PortAudioDevice) Stream(ctx context.Context) (<-chan []byte, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, core.NewError(core.ErrCaptureFailure, "capture.Stream", fmt.Errorf("portaudio init: %w", err))
	}

	d.buf = make([]float32, d.opts.FrameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.opts.SampleRate), len(d.buf), d.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, core.NewError(core.ErrCaptureFailure, "capture.Stream", fmt.Errorf("open default stream: %w", err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, core.NewError(core.ErrCaptureFailure, "capture.Stream", fmt.Errorf("start stream: %w", err))
	}
	d.stream = stream
	d.out = make(chan []byte, 8)

	go d.readLoop(ctx)
	return d.out, nil
}

func (d *PortAudioDevice) readLoop(ctx context.Context) {
	defer close(d.out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := d.stream.Read(); err != nil {
			return
		}
		batch := encodePCM16(d.buf)
		select {
		case d.out <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops and releases the PortAudio stream, then terminates PortAudio.
func (d *PortAudioDevice) Close() error {
	if d.stream == nil {
		return nil
	}
	if err := d.stream.Close(); err != nil {
		return core.NewError(core.ErrCaptureFailure, "capture.Close", err)
	}
	portaudio.Terminate()
	return nil
}

func encodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, x := range samples {
		v := int32(x * 32768)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
