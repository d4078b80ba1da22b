// Package config holds the immutable per-session VAD configuration: the
// model-version default remapping, validation, and JSON (de)serialization
// used by handlers/vad.Handler.
package config

import (
	"fmt"

	"github.com/bytedance/sonic"

	"silerovad/core"
)

// ModelVersion selects the Silero model weights and recurrent-state shape.
type ModelVersion string

const (
	ModelV4 ModelVersion = "v4"
	ModelV5 ModelVersion = "v5"
)

// Config is the immutable per-session configuration described in spec.md §3.
type Config struct {
	SampleRate              int          `json:"sample_rate"`
	FrameSamples            int          `json:"frame_samples"`
	PositiveSpeechThreshold float32      `json:"positive_speech_threshold"`
	NegativeSpeechThreshold float32      `json:"negative_speech_threshold"`
	RedemptionFrames        uint32       `json:"redemption_frames"`
	PreSpeechPadFrames      uint32       `json:"pre_speech_pad_frames"`
	MinSpeechFrames         uint32       `json:"min_speech_frames"`
	EndSpeechPadFrames      uint32       `json:"end_speech_pad_frames"`
	NumFramesToEmit         uint32       `json:"num_frames_to_emit"`
	Model                   ModelVersion `json:"model"`

	// BaseAssetPath is joined with the model filename to resolve the ONNX
	// asset, per spec.md §4.5/§6.
	BaseAssetPath string `json:"base_asset_path"`
	// WASMBasePath is accepted for interface parity with browser-like
	// targets (spec.md §6) but is inert on this native Go backend.
	WASMBasePath string `json:"wasm_base_path,omitempty"`
	// OnnxRuntimeLibPath is the shared-library path for the ONNX Runtime
	// used by vad/silero (not part of the upstream spec's data model, but
	// required to load the native runtime on this platform).
	OnnxRuntimeLibPath string `json:"onnx_runtime_lib_path"`

	// SubmitUserSpeechOnPause, when set, makes PauseListening/StopListening
	// force-end any active utterance (spec.md §4.1/§4.3).
	SubmitUserSpeechOnPause bool `json:"submit_user_speech_on_pause"`
	// IsDebug mirrors the handler's Create(isDebug) constructor parameter
	// (spec.md §6). Nothing in this module reads it: debug-level logging is
	// set by the isDebug argument to Create, and there is no per-frame
	// logging.
	IsDebug bool `json:"is_debug"`
}

// v4Defaults returns the Silero v4 baseline configuration.
func v4Defaults() Config {
	return Config{
		SampleRate:              16000,
		FrameSamples:            1536,
		PositiveSpeechThreshold: 0.5,
		NegativeSpeechThreshold: 0.35,
		RedemptionFrames:        8,
		PreSpeechPadFrames:      1,
		MinSpeechFrames:         3,
		EndSpeechPadFrames:      1,
		NumFramesToEmit:         0,
		Model:                   ModelV4,
		BaseAssetPath:           ".",
	}
}

// Default returns the Silero v4 defaults, matching the teacher's
// DefaultConfig() convention (handlers/vad/vad_config.go).
func Default() Config {
	return v4Defaults()
}

// WithV5Defaults remaps any field still holding its v4 default to the v5
// equivalent, per spec.md §4.1. Fields the caller has already set to a
// non-default value are left untouched.
func WithV5Defaults(c Config) Config {
	base := v4Defaults()
	if c.PreSpeechPadFrames == base.PreSpeechPadFrames {
		c.PreSpeechPadFrames = 3
	}
	if c.RedemptionFrames == base.RedemptionFrames {
		c.RedemptionFrames = 24
	}
	if c.FrameSamples == base.FrameSamples {
		c.FrameSamples = 512
	}
	if c.MinSpeechFrames == base.MinSpeechFrames {
		c.MinSpeechFrames = 9
	}
	if c.EndSpeechPadFrames == base.EndSpeechPadFrames {
		c.EndSpeechPadFrames = 3
	}
	return c
}

// Normalize applies the model-version default remapping rule (spec.md
// §4.1) and returns the config ready for validation.
func Normalize(c Config) Config {
	if c.Model == ModelV5 {
		return WithV5Defaults(c)
	}
	return c
}

// Validate enforces spec.md §3/§9's invariants, returning a *core.Error
// with Kind core.ErrConfigInvalid on the first violation found.
func Validate(c Config) error {
	op := "config.Validate"
	switch {
	case c.SampleRate != 16000:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("sampleRate must be 16000, got %d", c.SampleRate))
	case c.FrameSamples <= 0:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("frameSamples must be > 0, got %d", c.FrameSamples))
	case c.PositiveSpeechThreshold <= 0 || c.PositiveSpeechThreshold >= 1:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("positiveSpeechThreshold must be in (0,1), got %v", c.PositiveSpeechThreshold))
	case c.NegativeSpeechThreshold <= 0 || c.NegativeSpeechThreshold >= 1:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("negativeSpeechThreshold must be in (0,1), got %v", c.NegativeSpeechThreshold))
	case c.NegativeSpeechThreshold >= c.PositiveSpeechThreshold:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("negativeSpeechThreshold (%v) must be < positiveSpeechThreshold (%v)", c.NegativeSpeechThreshold, c.PositiveSpeechThreshold))
	case c.RedemptionFrames < 1:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("redemptionFrames must be >= 1, got %d", c.RedemptionFrames))
	case c.MinSpeechFrames < 1:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("minSpeechFrames must be >= 1, got %d", c.MinSpeechFrames))
	case c.Model != ModelV4 && c.Model != ModelV5:
		return core.NewError(core.ErrConfigInvalid, op, fmt.Errorf("unknown model %q", c.Model))
	}
	return nil
}

// Equal reports whether two configs are identical in every field. The
// handler reconstructs its iterator whenever
// this is false (spec.md §4.1 reconfiguration rule).
func Equal(a, b Config) bool {
	return a == b
}

// FromJSON decodes a Config from JSON using sonic, matching the teacher's
// fast-path JSON usage in services/openai/llm/llm.go.
func FromJSON(data []byte) (Config, error) {
	var c Config
	if err := sonic.Unmarshal(data, &c); err != nil {
		return Config{}, core.NewError(core.ErrConfigInvalid, "config.FromJSON", err)
	}
	return c, nil
}

// ToJSON encodes a Config as JSON using sonic.
func ToJSON(c Config) ([]byte, error) {
	return sonic.Marshal(c)
}

// ModelFilename returns the ONNX asset filename for the configured model
// version, per spec.md §6.
func (c Config) ModelFilename() string {
	if c.Model == ModelV5 {
		return "silero_vad_v5.onnx"
	}
	return "silero_vad_v4.onnx"
}
