// Package localonnx runs a single-graph local TTS model through
// onnxruntime-purego, for fully offline synthesis with no network
// dependency. Library-path resolution, ort.NewRuntime + NewEnv +
// NewSession construction, and the tensor marshal/unmarshal helpers
// around ort.Value drive one fixed-shape text-in/PCM-out graph, modeling
// a single bundled voice model rather than a swappable set of inference
// stages.
package localonnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/voicebridge/voicebridge/internal/tts"
)

// Config locates the ONNX model and the native onnxruntime shared
// library on disk.
type Config struct {
	ModelPath     string
	LibraryPath   string
	Voice         string
	SampleRate    int
	TokenizeToIDs func(text string) []int64 // injected, model-specific token mapping
}

// Provider synthesizes speech entirely locally via a single ONNX graph.
// Sessions are not safe for concurrent Run calls in onnxruntime-purego,
// so access is serialized with a mutex.
type Provider struct {
	cfg     Config
	mu      sync.Mutex
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
	ready   bool
}

// New loads the runtime and model. Any failure leaves the provider
// registered but unavailable rather than aborting startup. A nil
// TokenizeToIDs is replaced with DefaultTokenizer so the provider is
// always reachable through ordinary configuration; callers with a
// model-specific vocabulary should still inject their own mapping for
// better fidelity.
func New(cfg Config) *Provider {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.TokenizeToIDs == nil {
		cfg.TokenizeToIDs = DefaultTokenizer
	}
	p := &Provider{cfg: cfg}
	if err := p.load(); err != nil {
		p.ready = false
	}
	return p
}

// DefaultTokenizer maps each rune of text to its Unicode code point,
// clamped to stay within a typical embedding table's bounds. It asks
// nothing of the deployment beyond the model file itself, at the cost of
// not matching any particular model's trained vocabulary; supply a
// model-specific TokenizeToIDs in Config for production-quality output.
func DefaultTokenizer(text string) []int64 {
	const maxID = 1 << 16
	ids := make([]int64, 0, len(text))
	for _, r := range text {
		id := int64(r)
		if id >= maxID {
			id = maxID - 1
		}
		ids = append(ids, id)
	}
	return ids
}

func (p *Provider) load() error {
	if p.cfg.ModelPath == "" {
		return fmt.Errorf("localonnx: model path is required")
	}
	if _, err := os.Stat(p.cfg.ModelPath); err != nil {
		return fmt.Errorf("localonnx: model not found: %w", err)
	}

	runtime, err := ort.NewRuntime(p.cfg.LibraryPath, 23)
	if err != nil {
		return fmt.Errorf("localonnx: load onnxruntime: %w", err)
	}
	env, err := runtime.NewEnv("voicebridge-localonnx", ort.LoggingLevelWarning)
	if err != nil {
		return fmt.Errorf("localonnx: new env: %w", err)
	}
	session, err := runtime.NewSession(env, p.cfg.ModelPath, nil)
	if err != nil {
		return fmt.Errorf("localonnx: new session: %w", err)
	}

	p.runtime = runtime
	p.env = env
	p.session = session
	p.ready = true
	return nil
}

func (p *Provider) ID() string { return "localonnx" }

func (p *Provider) DefaultVoice() string { return p.cfg.Voice }

func (p *Provider) ListVoices() []string {
	if p.cfg.Voice == "" {
		return nil
	}
	return []string{p.cfg.Voice}
}

func (p *Provider) IsAvailable() bool { return p.ready }

// Synthesize tokenizes text with the injected tokenizer, runs the ONNX
// graph once, and returns the raw float32 PCM samples re-encoded as
// 16-bit little-endian PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string, opts tts.SynthesizeOpts) (tts.AudioChunk, error) {
	if !p.ready {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: provider not ready")
	}
	if text == "" {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: empty text")
	}
	if p.cfg.TokenizeToIDs == nil {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: no tokenizer configured")
	}

	ids := p.cfg.TokenizeToIDs(text)
	if len(ids) == 0 {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: tokenizer produced no tokens")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	input, err := ort.NewTensorValue(p.runtime, ids, []int64{1, int64(len(ids))})
	if err != nil {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: build input tensor: %w", err)
	}
	defer input.Close()

	outputs, err := p.session.Run(ctx, map[string]*ort.Value{"tokens": input})
	if err != nil {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: run: %w", err)
	}

	audio, ok := outputs["audio"]
	if !ok {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: missing 'audio' output")
	}
	samples, _, err := ort.GetTensorData[float32](audio)
	if err != nil {
		return tts.AudioChunk{}, fmt.Errorf("localonnx: extract audio: %w", err)
	}

	return tts.AudioChunk{
		Bytes:         pcm16Bytes(p.quantize(samples)),
		Format:        tts.FormatRawPCM,
		SampleRate:    p.cfg.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}, nil
}

// quantize clamps and scales the model's float32 samples into a 16-bit
// mono IntBuffer carrying the provider's sample rate.
func (p *Provider) quantize(samples []float32) *goaudio.IntBuffer {
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: p.cfg.SampleRate, NumChannels: 1},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	return buf
}

func pcm16Bytes(buf *goaudio.IntBuffer) []byte {
	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Close releases the onnxruntime session and environment.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Close()
	}
	if p.env != nil {
		p.env.Close()
	}
	if p.runtime != nil {
		p.runtime.Close()
	}
	p.ready = false
	return nil
}

var _ tts.Provider = (*Provider)(nil)
