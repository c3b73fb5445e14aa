package tts

import (
	"context"
	"os"
	"testing"
)

type stubProvider struct {
	id        string
	available bool
}

func (s *stubProvider) ID() string           { return s.id }
func (s *stubProvider) DefaultVoice() string { return "default" }
func (s *stubProvider) ListVoices() []string { return []string{"default"} }
func (s *stubProvider) IsAvailable() bool    { return s.available }
func (s *stubProvider) Synthesize(ctx context.Context, text, voice string, opts SynthesizeOpts) (AudioChunk, error) {
	return AudioChunk{Bytes: []byte(text), Format: FormatWAV}, nil
}

func TestSelectPrefersRequestThenProfileThenDefault(t *testing.T) {
	r := New("piper")
	r.Register(&stubProvider{id: "piper", available: true})
	r.Register(&stubProvider{id: "localonnx", available: true})

	p, err := r.Select("localonnx", "piper")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if p.ID() != "localonnx" {
		t.Fatalf("expected request override to win, got %s", p.ID())
	}

	p, err = r.Select("", "localonnx")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if p.ID() != "localonnx" {
		t.Fatalf("expected profile selection to win, got %s", p.ID())
	}

	p, err = r.Select("", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if p.ID() != "piper" {
		t.Fatalf("expected default selection, got %s", p.ID())
	}
}

func TestUnavailableProviderListedInactive(t *testing.T) {
	r := New("piper")
	r.Register(&stubProvider{id: "piper", available: true})
	r.Register(&stubProvider{id: "broken", available: false})

	if _, ok := r.Get("broken"); ok {
		t.Fatalf("unavailable provider should not be selectable")
	}

	var found bool
	for _, s := range r.List() {
		if s.ID == "broken" {
			found = true
			if s.Active {
				t.Fatalf("expected broken provider to be listed inactive")
			}
		}
	}
	if !found {
		t.Fatalf("expected broken provider to still appear in List()")
	}
}

func TestResolveEnvPlaceholders(t *testing.T) {
	os.Setenv("VOICEBRIDGE_TEST_KEY", "secret123")
	defer os.Unsetenv("VOICEBRIDGE_TEST_KEY")

	got := ResolveEnvPlaceholders("api_key=${VOICEBRIDGE_TEST_KEY}")
	if got != "api_key=secret123" {
		t.Fatalf("unexpected resolution: %q", got)
	}

	untouched := ResolveEnvPlaceholders("api_key=${VOICEBRIDGE_TEST_MISSING}")
	if untouched != "api_key=${VOICEBRIDGE_TEST_MISSING}" {
		t.Fatalf("expected unresolved placeholder left as-is, got %q", untouched)
	}
}
