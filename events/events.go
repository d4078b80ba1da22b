// Package events defines the payloads carried on the Handler's seven
// broadcast output sinks (spec.md §4.1), in the GetId()-bearing style of
// the teacher's events/vad/output.go.
package events

// SpeechStart is emitted the instant a frame's probability crosses
// positiveSpeechThreshold from Idle.
type SpeechStart struct {
	// FrameIndex is the ordinal of the triggering frame since the iterator
	// was (re)constructed.
	FrameIndex uint64
}

func (e *SpeechStart) GetId() string { return "vad.speech_start" }

// RealSpeechStart is emitted once positiveFrameCount first reaches
// minSpeechFrames within an utterance — i.e. once the utterance is no
// longer eligible to be a misfire.
type RealSpeechStart struct {
	FrameIndex uint64
}

func (e *RealSpeechStart) GetId() string { return "vad.real_speech_start" }

// SpeechEnd carries the fully assembled utterance: pre-speech pad, the
// positive-and-hold frames, and the retained end-speech pad, concatenated
// as normalized float samples.
type SpeechEnd struct {
	Samples []float32
}

func (e *SpeechEnd) GetId() string { return "vad.speech_end" }

// FrameProcessed is emitted once per input frame, speaking or not.
type FrameProcessed struct {
	IsSpeech   float32
	NotSpeech  float32
	Frame      []float32
	FrameIndex uint64
}

func (e *FrameProcessed) GetId() string { return "vad.frame_processed" }

// Misfire is emitted when an utterance's redemption window expires before
// minSpeechFrames positive frames were observed; the utterance is discarded.
type Misfire struct{}

func (e *Misfire) GetId() string { return "vad.misfire" }

// Chunk is an intermediate or final slice of PCM16-LE bytes for the active
// utterance (spec.md §4.4).
type Chunk struct {
	Data    []byte
	IsFinal bool
}

func (e *Chunk) GetId() string { return "vad.chunk" }

// Error carries a human-readable description of a non-fatal failure
// (spec.md §7). Kind mirrors core.ErrorKind without importing core, so
// this package stays a pure data package.
type Error struct {
	Message string
	Kind    string
}

func (e *Error) GetId() string { return "vad.error" }
