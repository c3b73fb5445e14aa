package normalizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIdempotent(t *testing.T) {
	n := Default(nil)
	inputs := []string{
		"Hello **world**, check [this](http://example.com/x) out! 😀",
		"```go\nfmt.Println(1)\n```\nplain text e.g. more",
		"# Header\n> quote\n- item one\n- item two",
	}
	for _, in := range inputs {
		once := n.Normalize(in, "")
		twice := n.Normalize(once, "")
		if once != twice {
			t.Fatalf("not idempotent for %q:\n  once=%q\n  twice=%q", in, once, twice)
		}
	}
}

// Abbreviation expansion respects word boundaries.
func TestAbbreviationWordBoundary(t *testing.T) {
	n := Default(nil)
	out := n.Normalize("rapid API is fast", "")
	if !strings.Contains(out, "rapid") {
		t.Fatalf("expected 'rapid' preserved unchanged, got %q", out)
	}
}

func TestAbbreviationExpansion(t *testing.T) {
	n := Default(nil)
	out := n.Normalize("see e.g. the docs", "")
	if strings.Contains(out, "e.g.") {
		t.Fatalf("expected e.g. to be expanded, got %q", out)
	}
	if !strings.Contains(out, "for example") {
		t.Fatalf("expected expansion text present, got %q", out)
	}
}

func TestStripsMarkdownAndCode(t *testing.T) {
	n := Default(nil)
	out := n.Normalize("**bold** and `code` and ```\nblock\n```", "")
	if strings.Contains(out, "*") || strings.Contains(out, "`") {
		t.Fatalf("expected markdown/code stripped, got %q", out)
	}
}

func TestStripsURLsKeepingLinkText(t *testing.T) {
	n := Default(nil)
	out := n.Normalize("see [the docs](https://example.com/page) for more, or https://raw.example.com", "")
	if strings.Contains(out, "http") {
		t.Fatalf("expected URLs stripped, got %q", out)
	}
	if !strings.Contains(out, "the docs") {
		t.Fatalf("expected link text kept, got %q", out)
	}
}

func TestMaxLengthCutsAtSentenceBoundary(t *testing.T) {
	doc := Document{Global: Section{MaxLength: 20, Abbreviations: map[string]string{}}}
	n := New(doc, nil)
	out := n.Normalize("Sentence one. Sentence two. Sentence three.", "")
	if out != "Sentence one." {
		t.Fatalf("expected cut at sentence boundary, got %q", out)
	}
}

func TestProfileOverrideMergesOverGlobal(t *testing.T) {
	doc := Document{
		Global: Section{MaxLength: 600},
		Profiles: map[string]Section{
			"terse": {MaxLength: 10},
		},
	}
	n := New(doc, nil)
	out := n.Normalize("Sentence one. Sentence two.", "terse")
	if len(out) > 10+3 {
		t.Fatalf("expected terse profile max_length applied, got %q", out)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	n, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer n.Close()
	out := n.Normalize("see e.g. the docs", "")
	if !strings.Contains(out, "for example") {
		t.Fatalf("expected default abbreviations applied, got %q", out)
	}
}

func TestLoadMalformedFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "norm.yaml")
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer n.Close()
	out := n.Normalize("see e.g. the docs", "")
	if !strings.Contains(out, "for example") {
		t.Fatalf("expected defaults retained after malformed config, got %q", out)
	}
}
