package orchestrator

import (
	"strings"
	"testing"
)

func TestOpenTagGuard(t *testing.T) {
	cases := []struct {
		name string
		buf  string
		want bool
	}{
		{"empty", "", false},
		{"plain prose", "Nothing special here at all.", false},
		{"unclosed bracket", "Sure, let me open [CANVAS:home", true},
		{"closed bracket", "Sure, let me open [CANVAS:home] now.", false},
		{"nested then closed", "a [b [c] d] e", false},
		{"stray close only", "weird ] but fine", false},
		{"open fence", "look:\n```go\nfmt.Println(1)", true},
		{"closed fence", "look:\n```go\nfmt.Println(1)\n```\ndone", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := openTagGuard(tc.buf); got != tc.want {
				t.Fatalf("openTagGuard(%q) = %v, want %v", tc.buf, got, tc.want)
			}
		})
	}
}

func TestExtractSentenceWaitsForMinLength(t *testing.T) {
	if _, _, ok := extractSentence("Too short. More"); ok {
		t.Fatalf("extracted from a buffer shorter than the minimum")
	}
}

func TestExtractSentenceTakesLeftmostBoundaryPastMinimum(t *testing.T) {
	buf := "This opening clause runs well past forty characters. And then some more text"
	sentence, remainder, ok := extractSentence(buf)
	if !ok {
		t.Fatalf("expected extraction from %q", buf)
	}
	if !strings.HasSuffix(strings.TrimRight(sentence, " "), "characters.") {
		t.Fatalf("sentence = %q, want cut after the first terminator", sentence)
	}
	if remainder != "And then some more text" {
		t.Fatalf("remainder = %q, want left-trimmed tail", remainder)
	}
}

func TestExtractSentenceHeldByOpenBracket(t *testing.T) {
	buf := "[CANVAS:something long enough to pass the minimum. still open"
	if _, _, ok := extractSentence(buf); ok {
		t.Fatalf("extracted from inside an unclosed bracket tag")
	}
}

// The extractor treats any period followed by whitespace as a sentence
// end, including abbreviations like "Dr."; this documents the known
// behavior rather than hiding it.
func TestExtractSentenceCutsAfterAbbreviation(t *testing.T) {
	buf := "Earlier today I spoke with the famous Dr. Smith about it"
	sentence, _, ok := extractSentence(buf)
	if !ok {
		t.Fatalf("expected extraction from %q", buf)
	}
	if !strings.HasSuffix(strings.TrimRight(sentence, " "), "Dr.") {
		t.Fatalf("sentence = %q, expected the documented cut after the abbreviation", sentence)
	}
}

func TestTruncateAtSentenceBoundary(t *testing.T) {
	text := "Sentence one. Sentence two. Sentence three."
	got := truncateAtSentenceBoundary(text, 20)
	if got != "Sentence one." {
		t.Fatalf("truncate = %q, want %q", got, "Sentence one.")
	}
}

func TestTruncateHardCutsWhenNoBoundaryNearby(t *testing.T) {
	text := "an unbroken run of words with no terminator anywhere to be found in range"
	got := truncateAtSentenceBoundary(text, 30)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q, want a hard cut with ellipsis", got)
	}
	if len(got) > 33 {
		t.Fatalf("truncate = %q, longer than the limit allows", got)
	}
}

func TestTruncateLeavesShortTextAlone(t *testing.T) {
	if got := truncateAtSentenceBoundary("short.", 100); got != "short." {
		t.Fatalf("truncate = %q, want unchanged", got)
	}
}
