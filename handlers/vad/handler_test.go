package vad

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silerovad/config"
	"silerovad/core"
	"silerovad/iterator"
)

// stubRunner is an iterator.Runner test double, scripted the same way
// iterator_test.go's scriptedRunner is, so Handler tests never touch ONNX.
type stubRunner struct {
	probs    []float32
	calls    int
	resets   int
	released bool
	failNew  bool
}

func newStubFactory(probs ...float32) (*stubRunner, func(config.Config) (iterator.Runner, error)) {
	r := &stubRunner{probs: probs}
	return r, func(config.Config) (iterator.Runner, error) {
		if r.failNew {
			return nil, errors.New("model load boom")
		}
		return r, nil
	}
}

// newStubFactorySequence returns a factory that hands out a fresh stubRunner
// on each call, so tests can assert a reconfiguration actually swapped the
// underlying runner instance.
func newStubFactorySequence(probs ...float32) (*[]*stubRunner, func(config.Config) (iterator.Runner, error)) {
	var made []*stubRunner
	return &made, func(config.Config) (iterator.Runner, error) {
		r := &stubRunner{probs: probs}
		made = append(made, r)
		return r, nil
	}
}

func (r *stubRunner) Evaluate(_ context.Context, _ []float32) (float32, error) {
	p := r.probs[r.calls%len(r.probs)]
	r.calls++
	return p, nil
}

func (r *stubRunner) Reset() error {
	r.resets++
	return nil
}

func (r *stubRunner) Release() error {
	r.released = true
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.FrameSamples = 2
	cfg.OnnxRuntimeLibPath = "/fake/onnxruntime.so"
	return cfg
}

func pcmBatch(n int) []byte {
	out := make([]byte, n*2)
	for i := range out {
		out[i] = 0x10
	}
	return out
}

func newTestHandler(probs ...float32) (*Handler, *stubRunner) {
	stub, factory := newStubFactory(probs...)
	base := core.NewDevelopmentLogger(false)
	h := &Handler{newRunner: factory, logger: base, baseLogger: base, sessionID: "test-session"}
	return h, stub
}

func TestStartListeningWithExternalFeedDrivesIterator(t *testing.T) {
	h, _ := newTestHandler(0.9)
	feed := make(chan []byte, 1)
	speechStart := h.SubscribeSpeechStart()

	err := h.StartListening(context.Background(), testConfig(), feed)
	require.NoError(t, err)

	feed <- pcmBatch(2)

	select {
	case ev := <-speechStart:
		assert.NotNil(t, ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speechStart")
	}

	h.StopListening()
}

func TestStartListeningRejectsInvalidConfig(t *testing.T) {
	h, _ := newTestHandler(0.9)
	cfg := testConfig()
	cfg.SampleRate = 8000

	err := h.StartListening(context.Background(), cfg, make(chan []byte))
	require.Error(t, err)
}

func TestStartListeningSurfacesModelLoadFailure(t *testing.T) {
	h, stub := newTestHandler(0.9)
	stub.failNew = true

	err := h.StartListening(context.Background(), testConfig(), make(chan []byte))
	require.Error(t, err)
}

func TestStartListeningReconfiguresOnConfigChange(t *testing.T) {
	made, factory := newStubFactorySequence(0.9)
	h := &Handler{newRunner: factory, logger: core.NewDevelopmentLogger(false)}
	feed1 := make(chan []byte)
	require.NoError(t, h.StartListening(context.Background(), testConfig(), feed1))
	firstRunner := h.runner
	h.StopListening()

	cfg2 := testConfig()
	cfg2.PositiveSpeechThreshold = 0.6
	feed2 := make(chan []byte)
	require.NoError(t, h.StartListening(context.Background(), cfg2, feed2))

	require.Len(t, *made, 2)
	assert.NotSame(t, firstRunner, h.runner)
	assert.True(t, (*made)[0].released)
	h.StopListening()
}

func TestPauseListeningDropsBatchesAndResumes(t *testing.T) {
	h, _ := newTestHandler(0.1)
	feed := make(chan []byte, 2)
	frameProcessed := h.SubscribeFrameProcessed()

	require.NoError(t, h.StartListening(context.Background(), testConfig(), feed))
	h.PauseListening()

	feed <- pcmBatch(2)
	select {
	case <-frameProcessed:
		t.Fatal("expected no frameProcessed event while paused")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, h.StartListening(context.Background(), testConfig(), feed))
	feed <- pcmBatch(2)
	select {
	case ev := <-frameProcessed:
		assert.NotNil(t, ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resumed frameProcessed")
	}

	h.StopListening()
}

func TestPauseListeningForceEndsSpeechWhenConfigured(t *testing.T) {
	h, _ := newTestHandler(0.9)
	cfg := testConfig()
	cfg.SubmitUserSpeechOnPause = true
	feed := make(chan []byte, 1)
	speechEnd := h.SubscribeSpeechEnd()

	require.NoError(t, h.StartListening(context.Background(), cfg, feed))
	feed <- pcmBatch(2)

	// Wait for the speaking state to take effect before pausing.
	time.Sleep(50 * time.Millisecond)
	h.PauseListening()

	select {
	case ev := <-speechEnd:
		assert.NotNil(t, ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forced speechEnd")
	}
}

func TestStopListeningResetsIteratorState(t *testing.T) {
	h, stub := newTestHandler(0.9)
	feed := make(chan []byte, 1)

	require.NoError(t, h.StartListening(context.Background(), testConfig(), feed))
	feed <- pcmBatch(2)
	time.Sleep(50 * time.Millisecond)

	h.StopListening()
	assert.Equal(t, 1, stub.resets)
}

func TestEnableSessionLoggingWritesJSONLFile(t *testing.T) {
	h, _ := newTestHandler(0.9)
	dir := t.TempDir()

	require.NoError(t, h.EnableSessionLogging(dir))
	h.logger.Infof("hello from test")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	h.Dispose()

	active, err := filepath.Glob(filepath.Join(dir, "*.active"))
	require.NoError(t, err)
	assert.Empty(t, active, "active marker should be removed after Dispose closes the log writer")
}

func TestDisposeClosesSinksAndIsIdempotent(t *testing.T) {
	h, stub := newTestHandler(0.9)
	feed := make(chan []byte, 1)
	speechStart := h.SubscribeSpeechStart()

	require.NoError(t, h.StartListening(context.Background(), testConfig(), feed))
	h.Dispose()

	assert.True(t, stub.released)
	_, open := <-speechStart
	assert.False(t, open)

	// A second Dispose is a no-op, not a panic; StartListening is refused.
	h.Dispose()
	err := h.StartListening(context.Background(), testConfig(), feed)
	require.Error(t, err)
}
