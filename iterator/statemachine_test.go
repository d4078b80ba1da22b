package iterator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silerovad/config"
	"silerovad/events"
)

const testFrameSamples = 4

func testFrame(v float32) []float32 {
	f := make([]float32, testFrameSamples)
	for i := range f {
		f[i] = v
	}
	return f
}

func countByID(evs []Event, id string) int {
	n := 0
	for _, e := range evs {
		if e.GetId() == id {
			n++
		}
	}
	return n
}

func runProbs(t *testing.T, m *machine, probs []float32) []Event {
	t.Helper()
	var all []Event
	ctx := context.Background()
	for i, p := range probs {
		all = append(all, m.Process(ctx, testFrame(float32(i)), p)...)
	}
	return all
}

// Scenario 1: silence only. 100 frames at p=0.1 yield only frameProcessed.
func TestScenarioSilenceOnly(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	m := newMachine(cfg)

	probs := make([]float32, 100)
	for i := range probs {
		probs[i] = 0.1
	}
	evs := runProbs(t, m, probs)

	assert.Equal(t, 100, countByID(evs, "vad.frame_processed"))
	assert.Equal(t, 0, countByID(evs, "vad.speech_start"))
	assert.Equal(t, 0, countByID(evs, "vad.speech_end"))
	assert.Equal(t, 0, countByID(evs, "vad.misfire"))
}

// Scenario 2: short blip below minSpeechFrames ends in a misfire.
func TestScenarioShortBlipMisfires(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	cfg.MinSpeechFrames = 3
	cfg.RedemptionFrames = 8
	m := newMachine(cfg)

	probs := []float32{0.9, 0.9}
	for i := 0; i < 20; i++ {
		probs = append(probs, 0.1)
	}
	evs := runProbs(t, m, probs)

	require.Equal(t, 1, countByID(evs, "vad.speech_start"))
	assert.Equal(t, 1, countByID(evs, "vad.misfire"))
	assert.Equal(t, 0, countByID(evs, "vad.speech_end"))
	assert.Equal(t, 0, countByID(evs, "vad.real_speech_start"))
}

// Scenario 3: a valid utterance with v4 defaults (redemptionFrames=8,
// preSpeechPadFrames=1, minSpeechFrames=3, endSpeechPadFrames=1). With no
// silence preceding the first frame, the "1 pre-pad" frame in the expected
// length comes from the triggering frame itself: it is drained from the
// (until-then-empty) pre-speech pad and then separately appended as the
// first positive-and-hold frame (spec.md §4.3's "drain, then append F").
func TestScenarioValidUtteranceLength(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	m := newMachine(cfg)

	probs := make([]float32, 0, 18)
	for i := 0; i < 10; i++ {
		probs = append(probs, 0.9)
	}
	for i := 0; i < 8; i++ {
		probs = append(probs, 0.1)
	}
	evs := runProbs(t, m, probs)

	require.Equal(t, 1, countByID(evs, "vad.speech_start"))
	require.Equal(t, 1, countByID(evs, "vad.real_speech_start"))
	require.Equal(t, 1, countByID(evs, "vad.speech_end"))

	var end *events.SpeechEnd
	for _, e := range evs {
		if se, ok := e.(*events.SpeechEnd); ok {
			end = se
		}
	}
	require.NotNil(t, end)
	// 1 pre-pad + 10 positive-and-hold + 1 end-pad (min(1,8)) frames.
	assert.Len(t, end.Samples, (1+10+1)*testFrameSamples)
}

// Scenario 4: chunked utterance. With the pre-speech pad disabled, 10
// positive frames accumulate two intermediate 4-frame chunks, leaving a
// 2-frame tail that forceEndSpeech flushes as the final chunk.
func TestScenarioChunkedUtterance(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	cfg.PreSpeechPadFrames = 0
	cfg.NumFramesToEmit = 4
	m := newMachine(cfg)

	ctx := context.Background()
	var evs []Event
	for i := 0; i < 10; i++ {
		evs = append(evs, m.Process(ctx, testFrame(float32(i)), 0.9)...)
	}
	evs = append(evs, m.ForceEndSpeech(ctx)...)

	intermediate := 0
	final := 0
	for _, e := range evs {
		if c, ok := e.(*events.Chunk); ok {
			if c.IsFinal {
				final++
			} else {
				intermediate++
			}
		}
	}
	assert.Equal(t, 2, intermediate)
	assert.Equal(t, 1, final)
}

// Scenario 6: forceEndSpeech on a sub-threshold utterance still emits
// speechEnd, bypassing the minSpeechFrames gate.
func TestScenarioForceEndSpeechBypassesMinSpeechFrames(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	cfg.MinSpeechFrames = 5
	m := newMachine(cfg)

	ctx := context.Background()
	m.Process(ctx, testFrame(0), 0.9)
	m.Process(ctx, testFrame(1), 0.9)

	evs := m.ForceEndSpeech(ctx)
	require.Equal(t, 1, countByID(evs, "vad.speech_end"))
	assert.Equal(t, 0, countByID(evs, "vad.misfire"))
}

// Boundary: preSpeechPadFrames = 0 means the utterance begins at the
// triggering frame, with no duplicated pre-pad content.
func TestBoundaryZeroPreSpeechPad(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	cfg.PreSpeechPadFrames = 0
	cfg.RedemptionFrames = 2
	cfg.EndSpeechPadFrames = 0
	cfg.MinSpeechFrames = 1
	m := newMachine(cfg)

	ctx := context.Background()
	m.Process(ctx, testFrame(0), 0.1)
	m.Process(ctx, testFrame(1), 0.9) // trigger
	m.Process(ctx, testFrame(2), 0.1)
	evs := m.Process(ctx, testFrame(3), 0.1)

	var end *events.SpeechEnd
	for _, e := range evs {
		if se, ok := e.(*events.SpeechEnd); ok {
			end = se
		}
	}
	require.NotNil(t, end)
	assert.Len(t, end.Samples, 1*testFrameSamples)
}

// Boundary: minSpeechFrames = 1 makes realSpeechStart coincide with
// speechStart.
func TestBoundaryMinSpeechFramesOneCoincidesWithStart(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	cfg.MinSpeechFrames = 1
	m := newMachine(cfg)

	evs := m.Process(context.Background(), testFrame(0), 0.9)
	ids := make([]string, len(evs))
	for i, e := range evs {
		ids[i] = e.GetId()
	}
	assert.Contains(t, ids, "vad.speech_start")
	assert.Contains(t, ids, "vad.real_speech_start")
}

// Ordering guarantee: speechStart must precede any intermediate chunk
// produced by draining the pre-speech pad.
func TestSpeechStartPrecedesChunks(t *testing.T) {
	cfg := config.Default()
	cfg.FrameSamples = testFrameSamples
	cfg.PreSpeechPadFrames = 2
	cfg.NumFramesToEmit = 1
	m := newMachine(cfg)

	ctx := context.Background()
	m.Process(ctx, testFrame(0), 0.1)
	m.Process(ctx, testFrame(1), 0.1)
	evs := m.Process(ctx, testFrame(2), 0.9)

	require.NotEmpty(t, evs)
	startIdx, chunkIdx := -1, -1
	for i, e := range evs {
		switch e.GetId() {
		case "vad.speech_start":
			if startIdx == -1 {
				startIdx = i
			}
		case "vad.chunk":
			if chunkIdx == -1 {
				chunkIdx = i
			}
		}
	}
	require.NotEqual(t, -1, startIdx)
	if chunkIdx != -1 {
		assert.Less(t, startIdx, chunkIdx)
	}
}
