// Command vadstream runs the Silero VAD engine against either a WAV/PCM
// file or the default microphone, printing every event except
// frameProcessed as it is emitted.
// It replaces the teacher's multi-stage agent pipeline entrypoint with the
// standalone streaming detector the examples under
// github.com/alexedtionweb/silero-vad-go/examples demonstrate
// (file_stream_detect, microfone_stream).
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-audio/wav"

	"silerovad/config"
	"silerovad/handlers/vad"
)

func main() {
	var (
		modelVersion = flag.String("model", "v5", "Silero model version: v4 or v5")
		assetPath    = flag.String("assets", ".", "directory containing the silero_vad_v4.onnx/silero_vad_v5.onnx files")
		onnxLib      = flag.String("onnx-lib", "", "path to the ONNX Runtime shared library")
		logDir       = flag.String("log-dir", "", "if set, write a per-session .jsonl audit log under this directory")
		isDebug      = flag.Bool("debug", false, "enable debug-level logging")
	)
	flag.Parse()

	cfg := config.Default()
	if *modelVersion == "v5" {
		cfg.Model = config.ModelV5
	}
	cfg.BaseAssetPath = *assetPath
	cfg.OnnxRuntimeLibPath = *onnxLib
	cfg.SubmitUserSpeechOnPause = true

	h := vad.Create(*isDebug)
	if *logDir != "" {
		if err := h.EnableSessionLogging(*logDir); err != nil {
			log.Printf("vadstream: session logging disabled: %v", err)
		}
	}

	done := subscribeAndPrint(h)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if flag.NArg() == 1 {
		runFile(ctx, h, cfg, flag.Arg(0))
	} else {
		runMicrophone(ctx, h, cfg)
	}

	h.Dispose()
	<-done
}

// runFile streams a WAV or raw PCM16 file through the handler, then
// stops listening so any active utterance is force-ended.
func runFile(ctx context.Context, h *vad.Handler, cfg config.Config, path string) {
	data, err := readAudioAsPCM16(path)
	if err != nil {
		log.Fatalf("vadstream: %v", err)
	}

	feed := make(chan []byte, 8)
	if err := h.StartListening(ctx, cfg, feed); err != nil {
		log.Fatalf("vadstream: startListening: %v", err)
	}

	const batchBytes = 4096
	for i := 0; i < len(data); i += batchBytes {
		end := i + batchBytes
		if end > len(data) {
			end = len(data)
		}
		select {
		case feed <- data[i:end]:
		case <-ctx.Done():
			close(feed)
			return
		}
	}
	close(feed)
	time.Sleep(100 * time.Millisecond) // let consumeLoop drain the final batch
	h.StopListening()
}

// runMicrophone lets the handler open its own PortAudio device and runs
// until ctx is cancelled (Ctrl-C / SIGTERM).
func runMicrophone(ctx context.Context, h *vad.Handler, cfg config.Config) {
	if err := h.StartListening(ctx, cfg, nil); err != nil {
		log.Fatalf("vadstream: startListening: %v", err)
	}
	fmt.Println("listening on default microphone, press Ctrl-C to stop")
	<-ctx.Done()
	h.StopListening()
}

// subscribeAndPrint fans in every output sink except frameProcessed onto
// stdout (errors onto stderr), returning a channel closed once the six
// subscribed sinks have drained (Dispose closes them all).
func subscribeAndPrint(h *vad.Handler) <-chan struct{} {
	speechStart := h.SubscribeSpeechStart()
	realSpeechStart := h.SubscribeRealSpeechStart()
	speechEnd := h.SubscribeSpeechEnd()
	misfire := h.SubscribeMisfire()
	chunk := h.SubscribeChunk()
	errCh := h.SubscribeError()

	done := make(chan struct{})
	go func() {
		defer close(done)
		open := 6
		for open > 0 {
			select {
			case ev, ok := <-speechStart:
				if !ok {
					speechStart = nil
					open--
					continue
				}
				fmt.Printf("[speechStart] frame=%d\n", ev.FrameIndex)
			case ev, ok := <-realSpeechStart:
				if !ok {
					realSpeechStart = nil
					open--
					continue
				}
				fmt.Printf("[realSpeechStart] frame=%d\n", ev.FrameIndex)
			case ev, ok := <-speechEnd:
				if !ok {
					speechEnd = nil
					open--
					continue
				}
				fmt.Printf("[speechEnd] samples=%d\n", len(ev.Samples))
			case _, ok := <-misfire:
				if !ok {
					misfire = nil
					open--
					continue
				}
				fmt.Println("[misfire]")
			case ev, ok := <-chunk:
				if !ok {
					chunk = nil
					open--
					continue
				}
				fmt.Printf("[chunk] bytes=%d final=%v\n", len(ev.Data), ev.IsFinal)
			case ev, ok := <-errCh:
				if !ok {
					errCh = nil
					open--
					continue
				}
				fmt.Fprintf(os.Stderr, "[error] kind=%s msg=%s\n", ev.Kind, ev.Message)
			}
		}
	}()
	return done
}

// readAudioAsPCM16 reads path as either a WAV file (decoded and re-encoded
// to PCM16-LE) or a raw .pcm file already in that format.
func readAudioAsPCM16(path string) ([]byte, error) {
	switch filepath.Ext(path) {
	case ".wav":
		return readWAVAsPCM16(path)
	case ".pcm":
		return os.ReadFile(path)
	default:
		return nil, fmt.Errorf("unsupported file extension %q: only .wav and .pcm are supported", filepath.Ext(path))
	}
}

func readWAVAsPCM16(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file %q", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	floatBuf := buf.AsFloat32Buffer()
	out := make([]byte, len(floatBuf.Data)*2)
	for i, x := range floatBuf.Data {
		v := int32(math.Round(float64(x) * 32768))
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, nil
}
