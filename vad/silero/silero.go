// Package silero is the Model Runner of spec.md §4.5: it loads a Silero
// VAD ONNX model, owns the recurrent-state tensors across calls, and
// exposes the evaluate/reset/release contract the iterator's state machine
// drives one frame at a time.
package silero

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"silerovad/config"
	"silerovad/core"
)

// onnxEnvOnce ensures the ONNX runtime environment is initialized exactly
// once for the process lifetime. The runtime is not designed to be torn
// down and recreated, so repeated Init/Destroy cycles leak internal state.
var onnxEnvOnce sync.Once
var onnxEnvErr error

func initEnvironment(libPath string) error {
	onnxEnvOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		onnxEnvErr = ort.InitializeEnvironment()
	})
	return onnxEnvErr
}

// v5ContextSamples is the context window length prepended ahead of each
// frame, carried over between calls so the unified-state model sees
// continuous audio (16kHz only; Silero's 8kHz variant halves this, which
// this runner does not support since spec.md §6 fixes the sample rate to
// 16000).
const v5ContextSamples = 64

// Runner implements iterator.Runner against an ONNX Silero model, v4 or
// v5. Tensor memory is allocated once in Initialize and reused for every
// Evaluate call, mirroring the teacher's single preallocate-then-reuse
// session lifecycle.
type Runner struct {
	mu  sync.Mutex
	cfg config.Config

	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]

	// v5 unified recurrent state [2,1,128].
	stateTensor  *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]
	state        []float32
	v5Context    []float32 // last v5ContextSamples samples, prepended to each frame

	// v4 separate hidden/cell state [2,1,64] each.
	hTensor, cTensor   *ort.Tensor[float32]
	hnTensor, cnTensor *ort.Tensor[float32]
	h, c               []float32

	fullInput   []float32 // scratch: context (v5 only) + frame
	initialized bool
}

// New constructs a Runner for cfg. The ONNX session is not created until
// Initialize is called, so a Runner can be constructed ahead of
// cfg.BaseAssetPath resolving to real assets.
func New(cfg config.Config) *Runner {
	r := &Runner{cfg: cfg}
	if cfg.Model == config.ModelV5 {
		r.state = make([]float32, 2*1*128)
		r.v5Context = make([]float32, v5ContextSamples)
	} else {
		r.h = make([]float32, 2*1*64)
		r.c = make([]float32, 2*1*64)
	}
	return r
}

// Initialize loads the ONNX runtime environment (once per process) and
// builds this session's tensors and graph.
func (r *Runner) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}
	if err := initEnvironment(r.cfg.OnnxRuntimeLibPath); err != nil {
		return core.NewError(core.ErrModelLoadFailure, "silero.Initialize", fmt.Errorf("onnx environment: %w", err))
	}
	if err := r.createTensors(); err != nil {
		return core.NewError(core.ErrModelLoadFailure, "silero.Initialize", err)
	}
	r.initialized = true
	return nil
}

func (r *Runner) modelPath() string {
	return r.cfg.BaseAssetPath + "/" + r.cfg.ModelFilename()
}

func (r *Runner) createTensors() error {
	frameSamples := int64(r.cfg.FrameSamples)
	sr := int64(r.cfg.SampleRate)

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sr})
	if err != nil {
		return fmt.Errorf("sr tensor: %w", err)
	}
	r.srTensor = srTensor

	if r.cfg.Model == config.ModelV5 {
		return r.createV5Tensors(frameSamples)
	}
	return r.createV4Tensors(frameSamples)
}

func (r *Runner) createV5Tensors(frameSamples int64) error {
	totalInput := int64(v5ContextSamples) + frameSamples
	r.fullInput = make([]float32, totalInput)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, totalInput), make([]float32, totalInput))
	if err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	r.inputTensor = inputTensor

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), r.state)
	if err != nil {
		return fmt.Errorf("state tensor: %w", err)
	}
	r.stateTensor = stateTensor

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return fmt.Errorf("output tensor: %w", err)
	}
	r.outputTensor = outputTensor

	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return fmt.Errorf("stateN tensor: %w", err)
	}
	r.stateNTensor = stateNTensor

	session, err := ort.NewAdvancedSession(
		r.modelPath(),
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		[]ort.Value{r.inputTensor, r.srTensor, r.stateTensor},
		[]ort.Value{r.outputTensor, r.stateNTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("onnx session: %w", err)
	}
	r.session = session
	return nil
}

func (r *Runner) createV4Tensors(frameSamples int64) error {
	r.fullInput = make([]float32, frameSamples)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, frameSamples), make([]float32, frameSamples))
	if err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	r.inputTensor = inputTensor

	hTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), r.h)
	if err != nil {
		return fmt.Errorf("h tensor: %w", err)
	}
	r.hTensor = hTensor

	cTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), r.c)
	if err != nil {
		return fmt.Errorf("c tensor: %w", err)
	}
	r.cTensor = cTensor

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return fmt.Errorf("output tensor: %w", err)
	}
	r.outputTensor = outputTensor

	hnTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64))
	if err != nil {
		return fmt.Errorf("hn tensor: %w", err)
	}
	r.hnTensor = hnTensor

	cnTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64))
	if err != nil {
		return fmt.Errorf("cn tensor: %w", err)
	}
	r.cnTensor = cnTensor

	session, err := ort.NewAdvancedSession(
		r.modelPath(),
		[]string{"input", "sr", "h", "c"},
		[]string{"output", "hn", "cn"},
		[]ort.Value{r.inputTensor, r.srTensor, r.hTensor, r.cTensor},
		[]ort.Value{r.outputTensor, r.hnTensor, r.cnTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("onnx session: %w", err)
	}
	r.session = session
	return nil
}

// Evaluate runs one frame of normalized float32 samples through the model
// and returns the speech probability, updating recurrent state in place.
// frame must be exactly cfg.FrameSamples long — the caller (iterator.
// Assembler) guarantees this.
func (r *Runner) Evaluate(_ context.Context, frame []float32) (float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return 0, core.NewError(core.ErrInferenceFailure, "silero.Evaluate", fmt.Errorf("runner not initialized"))
	}

	if r.cfg.Model == config.ModelV5 {
		return r.evaluateV5(frame)
	}
	return r.evaluateV4(frame)
}

func (r *Runner) evaluateV5(frame []float32) (float32, error) {
	copy(r.fullInput[:v5ContextSamples], r.v5Context)
	copy(r.fullInput[v5ContextSamples:], frame)

	copy(r.inputTensor.GetData(), r.fullInput)
	copy(r.stateTensor.GetData(), r.state)

	if err := r.session.Run(); err != nil {
		return 0, fmt.Errorf("inference: %w", err)
	}

	p := r.outputTensor.GetData()[0]
	copy(r.state, r.stateNTensor.GetData())
	copy(r.v5Context, frame[len(frame)-v5ContextSamples:])
	return p, nil
}

func (r *Runner) evaluateV4(frame []float32) (float32, error) {
	copy(r.inputTensor.GetData(), frame)
	copy(r.hTensor.GetData(), r.h)
	copy(r.cTensor.GetData(), r.c)

	if err := r.session.Run(); err != nil {
		return 0, fmt.Errorf("inference: %w", err)
	}

	p := r.outputTensor.GetData()[0]
	copy(r.h, r.hnTensor.GetData())
	copy(r.c, r.cnTensor.GetData())
	return p, nil
}

// Reset zeroes the recurrent state (spec.md §4.5's reset). It is called by
// iterator.Iterator.Reset, which the handler invokes on StopListening.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.state {
		r.state[i] = 0
	}
	for i := range r.v5Context {
		r.v5Context[i] = 0
	}
	for i := range r.h {
		r.h[i] = 0
	}
	for i := range r.c {
		r.c[i] = 0
	}
	return nil
}

// Release frees the ONNX session and tensors. It does not destroy the
// process-wide ONNX environment, which is shared by any other Runner.
func (r *Runner) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	if r.session != nil {
		r.session.Destroy()
	}
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.srTensor != nil {
		r.srTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
	if r.stateTensor != nil {
		r.stateTensor.Destroy()
	}
	if r.stateNTensor != nil {
		r.stateNTensor.Destroy()
	}
	if r.hTensor != nil {
		r.hTensor.Destroy()
	}
	if r.cTensor != nil {
		r.cTensor.Destroy()
	}
	if r.hnTensor != nil {
		r.hnTensor.Destroy()
	}
	if r.cnTensor != nil {
		r.cnTensor.Destroy()
	}
	r.initialized = false
	return nil
}
