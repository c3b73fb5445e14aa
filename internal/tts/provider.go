// Package tts defines the TTS provider contract and the registry that
// discovers, configures, and selects providers by id. A provider wraps a
// single synthesis backend and its voice manifest; the registry
// generalizes that into selection among several pluggable providers
// rather than one configured backend.
package tts

import "context"

// AudioFormat mirrors event.AudioFormat without importing the event
// package, keeping provider implementations free of pipeline-layer
// dependencies.
type AudioFormat string

const (
	FormatWAV    AudioFormat = "wav"
	FormatMP3    AudioFormat = "mp3"
	FormatRawPCM AudioFormat = "raw-pcm"
)

// AudioChunk is one synthesized unit of audio.
type AudioChunk struct {
	Bytes         []byte
	Format        AudioFormat
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// SynthesizeOpts carries the per-call overrides a provider may honor.
type SynthesizeOpts struct {
	Voice string
}

// Provider is the contract every TTS backend implements.
type Provider interface {
	ID() string
	DefaultVoice() string
	ListVoices() []string
	IsAvailable() bool
	Synthesize(ctx context.Context, text string, voice string, opts SynthesizeOpts) (AudioChunk, error)
}
