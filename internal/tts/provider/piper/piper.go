// Package piper adapts a Piper HTTP TTS server into the tts.Provider
// contract: a "${format/rate/channels}" request against /api/tts with
// response body passthrough. A Provider synthesizes one already-chunked
// sentence at a time; the streaming deltas->audio glue lives in
// internal/chunker and internal/orchestrator instead.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voicebridge/voicebridge/internal/tts"
)

const defaultTimeout = 30 * time.Second

type ttsRequest struct {
	Text      string      `json:"text"`
	Voice     string      `json:"voice,omitempty"`
	SpeakerID *int        `json:"speaker_id,omitempty"`
	Audio     interface{} `json:"audio,omitempty"`
}

// Config describes the reachable Piper server and its default voice.
type Config struct {
	BaseURL      string
	DefaultVoice string
	Voices       []string
	SampleRate   int
	Channels     int
	Timeout      time.Duration
}

// Provider synthesizes speech by calling a Piper HTTP server's /api/tts
// endpoint, which returns a complete WAV body per request.
type Provider struct {
	cfg     Config
	client  *http.Client
	healthy bool
}

// New constructs a piper Provider. It probes the server once at
// construction time to set the initial availability flag.
func New(cfg Config) *Provider {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	p := &Provider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	p.healthy = cfg.BaseURL != "" && p.probe()
	return p
}

func (p *Provider) probe() bool {
	req, err := http.NewRequest(http.MethodGet, p.cfg.BaseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Provider) ID() string { return "piper" }

func (p *Provider) DefaultVoice() string { return p.cfg.DefaultVoice }

func (p *Provider) ListVoices() []string { return p.cfg.Voices }

func (p *Provider) IsAvailable() bool { return p.healthy }

// Synthesize posts text to Piper and returns the whole WAV response body
// as one AudioChunk; Piper has no incremental-streaming response mode.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string, opts tts.SynthesizeOpts) (tts.AudioChunk, error) {
	if text == "" {
		return tts.AudioChunk{}, fmt.Errorf("piper: empty text")
	}
	if voice == "" {
		voice = opts.Voice
	}
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}

	body, err := json.Marshal(ttsRequest{
		Text:  text,
		Voice: voice,
		Audio: map[string]any{
			"format":   "wav",
			"rate":     p.cfg.SampleRate,
			"channels": p.cfg.Channels,
		},
	})
	if err != nil {
		return tts.AudioChunk{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return tts.AudioChunk{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.healthy = false
		return tts.AudioChunk{}, fmt.Errorf("piper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return tts.AudioChunk{}, fmt.Errorf("piper: http %d: %s", resp.StatusCode, string(b))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.AudioChunk{}, fmt.Errorf("piper: reading audio body: %w", err)
	}

	return tts.AudioChunk{
		Bytes:         data,
		Format:        tts.FormatWAV,
		SampleRate:    p.cfg.SampleRate,
		Channels:      p.cfg.Channels,
		BitsPerSample: 16,
	}, nil
}

var _ tts.Provider = (*Provider)(nil)
