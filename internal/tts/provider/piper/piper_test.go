package piper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicebridge/voicebridge/internal/tts"
)

func newTestServer(t *testing.T, wav []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/tts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesizeReturnsWAVChunk(t *testing.T) {
	srv := newTestServer(t, []byte("RIFF....WAVEfmt "))
	p := New(Config{BaseURL: srv.URL, DefaultVoice: "amy"})

	if !p.IsAvailable() {
		t.Fatalf("expected provider to be available after successful health probe")
	}

	chunk, err := p.Synthesize(context.Background(), "hello there", "", tts.SynthesizeOpts{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if chunk.Format != tts.FormatWAV {
		t.Fatalf("expected wav format, got %s", chunk.Format)
	}
	if len(chunk.Bytes) == 0 {
		t.Fatalf("expected non-empty audio bytes")
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	srv := newTestServer(t, nil)
	p := New(Config{BaseURL: srv.URL})

	if _, err := p.Synthesize(context.Background(), "", "", tts.SynthesizeOpts{}); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1"})
	if p.IsAvailable() {
		t.Fatalf("expected unreachable server to be unavailable")
	}
}
