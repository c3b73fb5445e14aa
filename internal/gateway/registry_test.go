package gateway

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/session"
)

type stubGateway struct {
	id         string
	configured bool
	healthy    bool
}

func (s *stubGateway) ID() string         { return s.id }
func (s *stubGateway) Persistent() bool   { return false }
func (s *stubGateway) IsConfigured() bool { return s.configured }
func (s *stubGateway) IsHealthy() bool    { return s.healthy }
func (s *stubGateway) StreamToQueue(ctx context.Context, ch chan<- event.Event, message string, key session.Key, actions *[]event.Action, opts StreamOpts) error {
	defer close(ch)
	full := message
	ch <- event.TextDone(&full, nil, event.Timing{})
	return nil
}
func (s *stubGateway) Ask(ctx context.Context, message string, key session.Key) (string, error) {
	return message, nil
}

func TestResolvePrefersRequestedID(t *testing.T) {
	r := New("default", nil)
	r.Register(&stubGateway{id: "default", configured: true})
	r.Register(&stubGateway{id: "openclaw", configured: true})

	g, err := r.Resolve("openclaw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.ID() != "openclaw" {
		t.Fatalf("expected openclaw, got %s", g.ID())
	}
}

func TestResolveFallsBackWhenUnconfigured(t *testing.T) {
	r := New("default", nil)
	r.Register(&stubGateway{id: "default", configured: true})
	r.Register(&stubGateway{id: "broken", configured: false})

	g, err := r.Resolve("broken")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.ID() != "default" {
		t.Fatalf("expected fallback to default, got %s", g.ID())
	}
}

func TestResolveErrorsWhenDefaultAlsoUnconfigured(t *testing.T) {
	r := New("default", nil)
	r.Register(&stubGateway{id: "default", configured: false})

	if _, err := r.Resolve("anything"); err == nil {
		t.Fatalf("expected error when default gateway is unconfigured")
	}
}

func TestLoadPluginsSkipsManifestMissingRequiredEnv(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "cool-gateway")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := manifest{
		ID:           "cool",
		Provides:     "gateway",
		Entry:        "cool.so",
		GatewayClass: "Gateway",
		RequiresEnv:  []string{"COOL_GATEWAY_DOES_NOT_EXIST_TOKEN"},
	}
	data, _ := json.Marshal(m)
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New("default", nil)
	r.LoadPlugins(dir)

	if _, ok := r.Get("cool"); ok {
		t.Fatalf("expected plugin missing required env to be skipped")
	}
}

func TestLoadPluginsIgnoresNonGatewayManifest(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "some-tts")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := manifest{ID: "tts-thing", Provides: "tts"}
	data, _ := json.Marshal(m)
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New("default", nil)
	r.LoadPlugins(dir)

	if len(r.List()) != 0 {
		t.Fatalf("expected no gateways registered from a non-gateway manifest, got %v", r.List())
	}
}
