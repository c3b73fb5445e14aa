package orchestrator

import (
	"strings"
	"testing"
)

func TestExtractSideChannelActionsStripsAndClassifies(t *testing.T) {
	text := "Opening it now. [CANVAS:projects] There you go. [MUSIC_PLAY:lofi beats]"
	stripped, actions := extractSideChannelActions(text)

	if strings.Contains(stripped, "[") {
		t.Fatalf("stripped text still contains a tag: %q", stripped)
	}
	if !strings.Contains(stripped, "Opening it now.") || !strings.Contains(stripped, "There you go.") {
		t.Fatalf("prose lost during stripping: %q", stripped)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	if actions[0].Kind != "canvas" || actions[0].Payload["target"] != "projects" {
		t.Fatalf("first action = %+v, want canvas/projects", actions[0])
	}
	if actions[1].Kind != "music_play" || actions[1].Payload["track"] != "lofi beats" {
		t.Fatalf("second action = %+v, want music_play/lofi beats", actions[1])
	}
}

func TestExtractSideChannelActionsBareTags(t *testing.T) {
	cases := []struct {
		tag  string
		kind string
	}{
		{"[CANVAS_MENU]", "canvas_menu"},
		{"[MUSIC_STOP]", "music_stop"},
		{"[MUSIC_NEXT]", "music_next"},
		{"[MUSIC_PLAY]", "music_play"},
	}
	for _, tc := range cases {
		stripped, actions := extractSideChannelActions("before " + tc.tag + " after")
		if strings.TrimSpace(stripped) != "before  after" && strings.TrimSpace(stripped) != "before after" {
			t.Fatalf("%s: stripped = %q", tc.tag, stripped)
		}
		if len(actions) != 1 || actions[0].Kind != tc.kind {
			t.Fatalf("%s: actions = %+v, want one %s", tc.tag, actions, tc.kind)
		}
	}
}

func TestExtractSideChannelActionsGenerationTags(t *testing.T) {
	_, actions := extractSideChannelActions("[SUNO_GENERATE:a calm piano piece][SPOTIFY:daft punk]")
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	if actions[0].Kind != "suno_generate" || actions[0].Payload["description"] != "a calm piano piece" {
		t.Fatalf("suno action = %+v", actions[0])
	}
	if actions[1].Kind != "spotify" || actions[1].Payload["query"] != "daft punk" {
		t.Fatalf("spotify action = %+v", actions[1])
	}
}

func TestExtractSideChannelActionsLeavesPlainTextUntouched(t *testing.T) {
	text := "No tags here, just [some ordinary brackets] in prose."
	stripped, actions := extractSideChannelActions(text)
	if stripped != text {
		t.Fatalf("plain text modified: %q", stripped)
	}
	if len(actions) != 0 {
		t.Fatalf("actions = %+v, want none", actions)
	}
}
