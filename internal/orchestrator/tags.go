package orchestrator

import (
	"regexp"
	"strings"

	"github.com/voicebridge/voicebridge/internal/event"
)

// sideChannelTagRe matches every inline bracket command a gateway may emit
// mixed into its prose: canvas navigation, music playback, and generation
// requests. Each is a UI instruction, never something a listener should
// hear, so it is stripped before the surrounding sentence reaches TTS.
var sideChannelTagRe = regexp.MustCompile(`(?i)` +
	`\[CANVAS_MENU\]` +
	`|\[CANVAS:[^\]]*\]` +
	`|\[MUSIC_PLAY(?::[^\]]*)?\]` +
	`|\[MUSIC_STOP\]` +
	`|\[MUSIC_NEXT\]` +
	`|\[SUNO_GENERATE:[^\]]*\]` +
	`|\[SPOTIFY:[^\]]*\]`)

var (
	canvasTagRe    = regexp.MustCompile(`(?i)^\[CANVAS:([^\]]*)\]$`)
	musicPlayTagRe = regexp.MustCompile(`(?i)^\[MUSIC_PLAY(?::([^\]]*))?\]$`)
	sunoTagRe      = regexp.MustCompile(`(?i)^\[SUNO_GENERATE:([^\]]*)\]$`)
	spotifyTagRe   = regexp.MustCompile(`(?i)^\[SPOTIFY:([^\]]*)\]$`)
)

// extractSideChannelActions removes every inline bracket command from text
// and returns both the speakable remainder and one Action per command
// found, left to right. Callers append the actions to the request's
// captured-actions list and only synthesize the remainder if it is
// non-blank once trimmed.
func extractSideChannelActions(text string) (string, []event.Action) {
	locs := sideChannelTagRe.FindAllStringIndex(text, -1)
	if locs == nil {
		return text, nil
	}

	var b strings.Builder
	var actions []event.Action
	last := 0
	for _, loc := range locs {
		b.WriteString(text[last:loc[0]])
		actions = append(actions, classifySideChannelTag(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String(), actions
}

func classifySideChannelTag(tag string) event.Action {
	switch {
	case strings.EqualFold(tag, "[CANVAS_MENU]"):
		return event.Action{Kind: "canvas_menu", Phase: event.PhaseStart}
	case canvasTagRe.MatchString(tag):
		m := canvasTagRe.FindStringSubmatch(tag)
		return event.Action{Kind: "canvas", Phase: event.PhaseStart, Payload: tagPayload("target", m[1])}
	case strings.EqualFold(tag, "[MUSIC_STOP]"):
		return event.Action{Kind: "music_stop", Phase: event.PhaseStart}
	case strings.EqualFold(tag, "[MUSIC_NEXT]"):
		return event.Action{Kind: "music_next", Phase: event.PhaseStart}
	case musicPlayTagRe.MatchString(tag):
		m := musicPlayTagRe.FindStringSubmatch(tag)
		return event.Action{Kind: "music_play", Phase: event.PhaseStart, Payload: tagPayload("track", m[1])}
	case sunoTagRe.MatchString(tag):
		m := sunoTagRe.FindStringSubmatch(tag)
		return event.Action{Kind: "suno_generate", Phase: event.PhaseStart, Payload: tagPayload("description", m[1])}
	case spotifyTagRe.MatchString(tag):
		m := spotifyTagRe.FindStringSubmatch(tag)
		return event.Action{Kind: "spotify", Phase: event.PhaseStart, Payload: tagPayload("query", m[1])}
	default:
		return event.Action{Kind: "unknown", Phase: event.PhaseStart}
	}
}

func tagPayload(key, value string) map[string]any {
	if value == "" {
		return nil
	}
	return map[string]any{key: value}
}
