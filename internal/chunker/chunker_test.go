package chunker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/voicebridge/voicebridge/internal/tts"
	"github.com/voicebridge/voicebridge/pkg/wavglue"
)

// countingWAVProvider returns one WAV chunk per call and records call count.
type countingWAVProvider struct {
	calls int
	fail  map[int]bool // 1-indexed call number -> force failure
}

func (p *countingWAVProvider) ID() string           { return "stub" }
func (p *countingWAVProvider) DefaultVoice() string { return "default" }
func (p *countingWAVProvider) ListVoices() []string { return []string{"default"} }
func (p *countingWAVProvider) IsAvailable() bool    { return true }
func (p *countingWAVProvider) Synthesize(ctx context.Context, text, voice string, opts tts.SynthesizeOpts) (tts.AudioChunk, error) {
	p.calls++
	if p.fail[p.calls] {
		return tts.AudioChunk{}, fmt.Errorf("synthetic failure on call %d", p.calls)
	}
	wav, err := wavglue.Encode(wavglue.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, []byte(text))
	if err != nil {
		return tts.AudioChunk{}, err
	}
	return tts.AudioChunk{Bytes: wav, Format: tts.FormatWAV, SampleRate: 16000, Channels: 1, BitsPerSample: 16}, nil
}

func TestShortTextCallsProviderExactlyOnce(t *testing.T) {
	p := &countingWAVProvider{}
	c := New(800, nil)

	text := "Hi there."
	if _, err := c.Synthesize(context.Background(), text, "default", p, tts.SynthesizeOpts{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 provider call for short text, got %d", p.calls)
	}
}

func TestLongTextSplitsAndGlues(t *testing.T) {
	p := &countingWAVProvider{}
	c := New(20, nil)

	text := "Sentence one. Sentence two. Sentence three."
	ac, err := c.Synthesize(context.Background(), text, "default", p, tts.SynthesizeOpts{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if p.calls < 2 {
		t.Fatalf("expected multiple chunk calls, got %d", p.calls)
	}

	parsed, err := wavglue.Parse(ac.Bytes)
	if err != nil {
		t.Fatalf("parsing glued result: %v", err)
	}
	if !strings.Contains(string(parsed.PCM), "Sentence one.") {
		t.Fatalf("glued PCM missing first sentence: %q", parsed.PCM)
	}
	if !strings.Contains(string(parsed.PCM), "Sentence three.") {
		t.Fatalf("glued PCM missing last sentence: %q", parsed.PCM)
	}
}

func TestPerChunkFailureIsSkipped(t *testing.T) {
	p := &countingWAVProvider{fail: map[int]bool{2: true}}
	c := New(20, nil)

	text := "Sentence one. Sentence two. Sentence three."
	ac, err := c.Synthesize(context.Background(), text, "default", p, tts.SynthesizeOpts{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if ac.Bytes == nil {
		t.Fatalf("expected a result despite one failed chunk")
	}
}

func TestAllChunksFailRetriesWithHead(t *testing.T) {
	p := &countingWAVProvider{fail: map[int]bool{1: true, 2: true, 3: true}}
	c := New(20, nil)

	text := "Sentence one. Sentence two. Sentence three."
	ac, err := c.Synthesize(context.Background(), text, "default", p, tts.SynthesizeOpts{})
	if err != nil {
		t.Fatalf("expected retry-with-head to succeed, got error: %v", err)
	}
	if ac.Bytes == nil {
		t.Fatalf("expected a non-empty result from the retry")
	}
}

func TestSplitNeverCutsMidSentence(t *testing.T) {
	chunks := Split("Sentence one. Sentence two. Sentence three.", 20)
	for _, c := range chunks {
		if len(c) > 0 && !strings.HasSuffix(strings.TrimSpace(c), ".") {
			t.Fatalf("chunk does not end on a sentence boundary: %q", c)
		}
	}
}
