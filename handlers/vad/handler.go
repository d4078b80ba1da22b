// Package vad implements the Handler coordinator of spec.md §4.1: the
// public lifecycle (startListening/pauseListening/stopListening/dispose),
// the seven broadcast output sinks, model-version reconfiguration, and the
// error-reporting policy of spec.md §7.
package vad

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"silerovad/capture"
	"silerovad/config"
	"silerovad/core"
	"silerovad/events"
	"silerovad/iterator"
	"silerovad/metrics"
	"silerovad/vad/silero"
)

// Handler is the single-writer coordinator described in spec.md §5: one
// logical task consumes the audio input in order and mutates session
// state; every output is a multi-subscriber broadcast sink.
type Handler struct {
	mu     sync.Mutex
	logger *core.Logger
	met    *metrics.Metrics

	cfg       config.Config
	hasConfig bool

	it     *iterator.Iterator
	runner iterator.Runner

	// newRunner builds the Model Runner for a given config. It defaults to
	// a real silero.Runner but is overridable so tests can substitute a
	// stub runner without an ONNX asset on disk.
	newRunner func(config.Config) (iterator.Runner, error)

	device       capture.Device
	externalFeed <-chan []byte
	ownsDevice   bool
	cancel       context.CancelFunc

	paused   bool
	disposed bool

	sessionID  string
	logWriter  core.LogWriter
	baseLogger *core.Logger

	speechStart     sink[*events.SpeechStart]
	realSpeechStart sink[*events.RealSpeechStart]
	speechEnd       sink[*events.SpeechEnd]
	frameProcessed  sink[*events.FrameProcessed]
	misfire         sink[*events.Misfire]
	chunk           sink[*events.Chunk]
	errorSink       sink[*events.Error]
}

// Create is the sole constructor, matching the abstract API surface in
// spec.md §6.
func Create(isDebug bool) *Handler {
	met, err := metrics.Default()
	base := core.NewDevelopmentLogger(isDebug)
	h := &Handler{
		logger:     base,
		baseLogger: base,
		met:        met,
		newRunner:  newSileroRunner,
		sessionID:  uuid.New().String(),
	}
	if err != nil {
		h.logger.Errorf("vad.Create: metrics unavailable: %v", err)
	}
	return h
}

// EnableSessionLogging tees every subsequent log line to a per-session
// .jsonl file under dir, named after the Handler's session ID, in addition
// to the console output Create already configured. Calling it again closes
// the previous writer and replaces it.
func (h *Handler) EnableSessionLogging(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.logWriter != nil {
		h.logWriter.Close()
	}
	writer, err := core.NewSessionLogWriter(dir, h.sessionID, string(h.cfg.Model))
	if err != nil {
		return core.NewError(core.ErrInternal, "vad.EnableSessionLogging", err)
	}
	h.logWriter = writer
	h.logger = core.NewSessionLogger(h.baseLogger, writer)
	return nil
}

func newSileroRunner(cfg config.Config) (iterator.Runner, error) {
	r := silero.New(cfg)
	if err := r.Initialize(); err != nil {
		return nil, err
	}
	return r, nil
}

func (h *Handler) SubscribeSpeechStart() <-chan *events.SpeechStart {
	return h.speechStart.subscribe()
}

func (h *Handler) SubscribeRealSpeechStart() <-chan *events.RealSpeechStart {
	return h.realSpeechStart.subscribe()
}

func (h *Handler) SubscribeSpeechEnd() <-chan *events.SpeechEnd {
	return h.speechEnd.subscribe()
}

func (h *Handler) SubscribeFrameProcessed() <-chan *events.FrameProcessed {
	return h.frameProcessed.subscribe()
}

func (h *Handler) SubscribeMisfire() <-chan *events.Misfire {
	return h.misfire.subscribe()
}

func (h *Handler) SubscribeChunk() <-chan *events.Chunk {
	return h.chunk.subscribe()
}

func (h *Handler) SubscribeError() <-chan *events.Error {
	return h.errorSink.subscribe()
}

// StartListening implements spec.md §4.1: model-version defaults,
// reconfiguration-on-change, and audio source selection. If external is
// non-nil, the handler subscribes to it instead of opening a microphone;
// the caller retains ownership of that stream's lifecycle (spec.md §9).
func (h *Handler) StartListening(ctx context.Context, cfg config.Config, external <-chan []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return core.NewError(core.ErrInternal, "vad.StartListening", errDisposed)
	}

	normalized := config.Normalize(cfg)
	if err := config.Validate(normalized); err != nil {
		h.reportErrorLocked(ctx, err)
		return err
	}

	if h.it == nil || !h.hasConfig || !config.Equal(h.cfg, normalized) {
		if err := h.reconfigureLocked(normalized); err != nil {
			h.reportErrorLocked(ctx, err)
			return err
		}
	}

	// Resume: subscription already live, just clear the paused flag.
	if h.cancel != nil {
		h.paused = false
		return nil
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	feed := external
	h.ownsDevice = external == nil
	if h.ownsDevice {
		dev := capture.NewPortAudioDevice(capture.DefaultOptions())
		ch, err := dev.Stream(sessionCtx)
		if err != nil {
			cancel()
			h.cancel = nil
			wrapped := core.NewError(core.ErrCaptureFailure, "vad.StartListening", err)
			h.reportErrorLocked(ctx, wrapped)
			return wrapped
		}
		h.device = dev
		feed = ch
	}
	h.externalFeed = feed
	h.paused = false

	go h.consumeLoop(sessionCtx, feed)
	return nil
}

func (h *Handler) reconfigureLocked(cfg config.Config) error {
	if h.runner != nil {
		_ = h.runner.Release()
	}
	runner, err := h.newRunner(cfg)
	if err != nil {
		return core.NewError(core.ErrModelLoadFailure, "vad.reconfigure", err)
	}
	h.runner = runner
	h.it = iterator.New(cfg, runner)
	if h.met != nil {
		h.it.SetInferenceObserver(func(d time.Duration) {
			h.met.InferenceDuration.Record(context.Background(), d.Seconds())
		})
	}
	h.cfg = cfg
	h.hasConfig = true
	return nil
}

// consumeLoop is the single logical task of spec.md §5: it drains feed in
// order, dropping batches while paused, until ctx is cancelled.
func (h *Handler) consumeLoop(ctx context.Context, feed <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-feed:
			if !ok {
				return
			}
			h.mu.Lock()
			if !h.paused {
				h.processBatchLocked(ctx, batch)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Handler) processBatchLocked(ctx context.Context, batch []byte) {
	evs, err := h.it.ProcessAudioData(ctx, batch)
	h.dispatchLocked(evs)
	if err != nil {
		h.reportErrorLocked(ctx, err)
	}
}

func (h *Handler) dispatchLocked(evs []iterator.Event) {
	for _, e := range evs {
		switch ev := e.(type) {
		case *events.SpeechStart:
			h.speechStart.broadcast(ev)
			if h.met != nil {
				h.met.SpeechStarts.Add(context.Background(), 1)
			}
		case *events.RealSpeechStart:
			h.realSpeechStart.broadcast(ev)
			if h.met != nil {
				h.met.RealSpeechStarts.Add(context.Background(), 1)
			}
		case *events.SpeechEnd:
			h.speechEnd.broadcast(ev)
			if h.met != nil {
				h.met.SpeechEnds.Add(context.Background(), 1)
			}
		case *events.FrameProcessed:
			h.frameProcessed.broadcast(ev)
			if h.met != nil {
				h.met.FramesProcessed.Add(context.Background(), 1)
			}
		case *events.Misfire:
			h.misfire.broadcast(ev)
			if h.met != nil {
				h.met.Misfires.Add(context.Background(), 1)
			}
		case *events.Chunk:
			h.chunk.broadcast(ev)
			if h.met != nil {
				h.met.RecordChunk(context.Background(), ev.IsFinal)
			}
		}
	}
}

func (h *Handler) reportErrorLocked(_ context.Context, err error) {
	kind := core.ErrInternal
	var ce *core.Error
	if errors.As(err, &ce) {
		kind = ce.Kind
	}
	h.logger.Errorf("vad: %v", err)
	ev := &events.Error{Message: err.Error(), Kind: kind.String()}
	h.errorSink.broadcast(ev)
	if h.met != nil {
		h.met.RecordError(context.Background(), kind.String())
	}
}

// PauseListening implements spec.md §4.1's pause semantics: incoming audio
// is dropped silently; state is preserved. If SubmitUserSpeechOnPause is
// set, any active utterance is force-ended first.
func (h *Handler) PauseListening() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forceEndIfConfiguredLocked()
	h.paused = true
}

// StopListening force-ends any active utterance if SubmitUserSpeechOnPause
// is set, cancels the input subscription, releases the capture device if
// owned, and resets the iterator. It does not wait for the consuming
// goroutine to exit.
func (h *Handler) StopListening() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopListeningLocked()
}

func (h *Handler) stopListeningLocked() {
	h.forceEndIfConfiguredLocked()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.ownsDevice && h.device != nil {
		_ = h.device.Close()
		h.device = nil
	}
	h.externalFeed = nil
	h.paused = false
	if h.it != nil {
		h.it.Reset(context.Background())
	}
}

func (h *Handler) forceEndIfConfiguredLocked() {
	if !h.cfg.SubmitUserSpeechOnPause || h.it == nil {
		return
	}
	evs := h.it.ForceEndSpeech(context.Background())
	h.dispatchLocked(evs)
}

// Dispose stops listening, releases the model, and closes every output
// sink exactly once. Further Dispose calls are no-ops, and StartListening
// returns an error.
func (h *Handler) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return
	}
	h.stopListeningLocked()
	if h.runner != nil {
		_ = h.runner.Release()
	}
	h.speechStart.closeAll()
	h.realSpeechStart.closeAll()
	h.speechEnd.closeAll()
	h.frameProcessed.closeAll()
	h.misfire.closeAll()
	h.chunk.closeAll()
	h.errorSink.closeAll()
	if h.logWriter != nil {
		h.logWriter.Close()
		h.logWriter = nil
	}
	h.disposed = true
}

var errDisposed = errors.New("handler disposed")
