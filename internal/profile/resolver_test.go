package profile

import (
	"path/filepath"
	"testing"
)

func TestActiveFallsBackToDefaultWhenPointerMissing(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "active"), map[string]Profile{
		"default": {ID: "default", GatewayID: "openclaw", TTSProvider: "piper"},
	}, "default")

	got := r.Active()
	if got.ID != "default" {
		t.Fatalf("expected default profile, got %+v", got)
	}
}

func TestSetActiveSwapsPointerAtomically(t *testing.T) {
	dir := t.TempDir()
	pointer := filepath.Join(dir, "active")
	r := New(pointer, map[string]Profile{
		"default": {ID: "default"},
		"work":    {ID: "work", GatewayID: "openai", Voice: "alloy"},
	}, "default")

	if got := r.Active(); got.ID != "default" {
		t.Fatalf("expected default before switch, got %q", got.ID)
	}

	if err := r.SetActive("work"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	got := r.Active()
	if got.ID != "work" || got.GatewayID != "openai" {
		t.Fatalf("expected work profile after switch, got %+v", got)
	}
}

func TestActiveFallsBackOnUnknownID(t *testing.T) {
	dir := t.TempDir()
	pointer := filepath.Join(dir, "active")
	r := New(pointer, map[string]Profile{
		"default": {ID: "default"},
	}, "default")

	if err := r.SetActive("ghost"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if got := r.Active(); got.ID != "default" {
		t.Fatalf("expected fallback to default for unknown id, got %+v", got)
	}
}

func TestPutRegistersNewProfile(t *testing.T) {
	r := New("", map[string]Profile{"default": {ID: "default"}}, "default")
	r.Put(Profile{ID: "night", TTSProvider: "localonnx"})
	if p, ok := r.cache["night"]; !ok || p.TTSProvider != "localonnx" {
		t.Fatalf("expected put profile to be cached, got %+v ok=%v", p, ok)
	}
}
