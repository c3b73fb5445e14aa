// Package normalizer is the deterministic, config-driven text cleaner
// invoked on every LLM-produced sentence before it reaches a TTS provider.
//
// Config reloads use an fsnotify watch on the document's parent directory
// with load-validate-swap-under-lock on change. Sections layer as global
// defaults merged with a named "profiles.<id>" override.
package normalizer

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/voicebridge/voicebridge/pkg/logging"
)

// MarkdownPattern is one configured strip/replace rule.
type MarkdownPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Flags       string `yaml:"flags"`
}

// Section is the shape shared by the "global" key and each "profiles.<id>"
// override.
type Section struct {
	MaxLength        int               `yaml:"max_length"`
	StripCodeFences  *bool             `yaml:"strip_code_fences"`
	StripMarkdown    *bool             `yaml:"strip_markdown"`
	StripURLs        *bool             `yaml:"strip_urls"`
	StripEmoji       *bool             `yaml:"strip_emoji"`
	MarkdownPatterns []MarkdownPattern `yaml:"markdown_patterns"`
	Abbreviations    map[string]string `yaml:"abbreviations"`
	URLPattern       string            `yaml:"url_pattern"`
}

// Document is the on-disk speech-normalization config.
type Document struct {
	Global   Section            `yaml:"global"`
	Profiles map[string]Section `yaml:"profiles"`
}

const defaultMaxLength = 600
const defaultURLPattern = `https?://\S+`

var defaultDocument = Document{
	Global: Section{
		MaxLength:       defaultMaxLength,
		StripCodeFences: boolPtr(true),
		StripMarkdown:   boolPtr(true),
		StripURLs:       boolPtr(true),
		StripEmoji:      boolPtr(true),
		URLPattern:      defaultURLPattern,
		Abbreviations: map[string]string{
			"e.g.": "for example",
			"i.e.": "that is",
			"etc.": "and so on",
			"vs.":  "versus",
			"Dr.":  "Doctor",
			"Mr.":  "Mister",
			"Mrs.": "Misses",
		},
	},
}

func boolPtr(b bool) *bool { return &b }

var codeFenceRe = regexp.MustCompile("(?s)```.*?```")
var inlineCodeRe = regexp.MustCompile("`[^`]*`")
var headerRe = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
var boldItalicRe = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}|_{1,3}([^_]+)_{1,3}`)
var linkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
var imageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
var blockquoteRe = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
var listBulletRe = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
var whitespaceRe = regexp.MustCompile(`[ \t]*\n[ \t]*|[ \t]{2,}`)
var sentenceBoundaryRe = regexp.MustCompile(`[.!?](\s|$)`)

// emojiRanges covers the common emoji blocks; good enough for a "strip
// emoji" pass without dragging in a full Unicode-data dependency.
var emojiRe = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}\x{2B00}-\x{2BFF}\x{FE0F}]`)

// merged is the fully-resolved, ready-to-apply config for one profile.
type merged struct {
	maxLength       int
	stripCodeFences bool
	stripMarkdown   bool
	stripURLs       bool
	stripEmoji      bool
	mdPatterns      []compiledPattern
	urlPattern      *regexp.Regexp
	abbrevKeys      []string // longest-first
	abbrevs         map[string]string
}

type compiledPattern struct {
	re          *regexp.Regexp
	replacement string
}

// Normalizer holds the merged global+profile config and exposes the pure
// Normalize function. Safe for concurrent use; config reloads swap an
// atomic snapshot.
type Normalizer struct {
	mu      sync.RWMutex
	doc     Document
	cache   map[string]merged
	path    string
	logger  *logging.Logger
	watcher *fsWatcher
}

// New constructs a Normalizer from an explicit document (e.g. built purely
// from defaults, or already parsed by a caller).
func New(doc Document, logger *logging.Logger) *Normalizer {
	n := &Normalizer{doc: doc, cache: make(map[string]merged), logger: logger}
	n.rebuild()
	return n
}

// Default constructs a Normalizer using only the built-in defaults.
func Default(logger *logging.Logger) *Normalizer {
	return New(defaultDocument, logger)
}

// Load reads path as YAML, merges it over the built-in defaults for
// anything left unset, and starts a file watcher so a later edit hot-
// reloads without a restart. Missing file falls back silently to
// defaults; malformed YAML is logged and the previous (or default)
// config is kept.
func Load(path string, logger *logging.Logger) (*Normalizer, error) {
	n := Default(logger)
	n.path = path

	if doc, err := readDocument(path); err != nil {
		if !os.IsNotExist(err) {
			if logger != nil {
				logger.Warnf("normalizer: config %s unreadable, using defaults: %v", path, err)
			}
		}
	} else {
		n.setDocument(doc)
	}

	w, err := watchFile(path, func() {
		doc, err := readDocument(path)
		if err != nil {
			if logger != nil {
				logger.Warnf("normalizer: config %s reload failed, keeping previous config: %v", path, err)
			}
			return
		}
		n.setDocument(doc)
		if logger != nil {
			logger.Infof("normalizer: config %s reloaded", path)
		}
	})
	if err == nil {
		n.watcher = w
	}
	return n, nil
}

// Close stops the background file watcher, if any.
func (n *Normalizer) Close() {
	if n.watcher != nil {
		n.watcher.Stop()
	}
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("normalizer: parse %s: %w", path, err)
	}
	return doc, nil
}

func (n *Normalizer) setDocument(doc Document) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.doc = mergeOverDefaults(doc)
	n.cache = make(map[string]merged)
}

// mergeOverDefaults fills any unset Section field from defaultDocument.Global
// and additively merges abbreviations.
func mergeOverDefaults(doc Document) Document {
	out := doc
	out.Global = mergeSection(defaultDocument.Global, doc.Global)
	return out
}

func mergeSection(base, override Section) Section {
	out := base
	if override.MaxLength != 0 {
		out.MaxLength = override.MaxLength
	}
	if override.StripCodeFences != nil {
		out.StripCodeFences = override.StripCodeFences
	}
	if override.StripMarkdown != nil {
		out.StripMarkdown = override.StripMarkdown
	}
	if override.StripURLs != nil {
		out.StripURLs = override.StripURLs
	}
	if override.StripEmoji != nil {
		out.StripEmoji = override.StripEmoji
	}
	if override.URLPattern != "" {
		out.URLPattern = override.URLPattern
	}
	if len(override.MarkdownPatterns) > 0 {
		out.MarkdownPatterns = append(append([]MarkdownPattern{}, base.MarkdownPatterns...), override.MarkdownPatterns...)
	}
	out.Abbreviations = mergeAbbrevs(base.Abbreviations, override.Abbreviations)
	return out
}

func mergeAbbrevs(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (n *Normalizer) rebuild() {
	n.doc = mergeOverDefaults(n.doc)
}

// resolve returns the merged, compiled config for profileID, caching the
// compilation so repeated Normalize calls don't re-compile regexes.
func (n *Normalizer) resolve(profileID string) merged {
	n.mu.RLock()
	if m, ok := n.cache[profileID]; ok {
		n.mu.RUnlock()
		return m
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if m, ok := n.cache[profileID]; ok {
		return m
	}

	sec := n.doc.Global
	if override, ok := n.doc.Profiles[profileID]; ok {
		sec = mergeSection(sec, override)
	}
	m := compile(sec, n.logger)
	n.cache[profileID] = m
	return m
}

func compile(sec Section, logger *logging.Logger) merged {
	m := merged{
		maxLength:       sec.MaxLength,
		stripCodeFences: sec.StripCodeFences == nil || *sec.StripCodeFences,
		stripMarkdown:   sec.StripMarkdown == nil || *sec.StripMarkdown,
		stripURLs:       sec.StripURLs == nil || *sec.StripURLs,
		stripEmoji:      sec.StripEmoji == nil || *sec.StripEmoji,
		abbrevs:         sec.Abbreviations,
	}
	if m.maxLength <= 0 {
		m.maxLength = defaultMaxLength
	}

	urlPattern := sec.URLPattern
	if urlPattern == "" {
		urlPattern = defaultURLPattern
	}
	if re, err := regexp.Compile(urlPattern); err == nil {
		m.urlPattern = re
	} else if logger != nil {
		logger.Warnf("normalizer: invalid url_pattern %q, skipping: %v", urlPattern, err)
	}

	for _, p := range sec.MarkdownPatterns {
		pat := p.Pattern
		if strings.Contains(p.Flags, "i") {
			pat = "(?i)" + pat
		}
		if strings.Contains(p.Flags, "s") {
			pat = "(?s)" + pat
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			if logger != nil {
				logger.Warnf("normalizer: invalid markdown_pattern %q, skipping: %v", p.Pattern, err)
			}
			continue
		}
		m.mdPatterns = append(m.mdPatterns, compiledPattern{re: re, replacement: p.Replacement})
	}

	m.abbrevKeys = make([]string, 0, len(m.abbrevs))
	for k := range m.abbrevs {
		m.abbrevKeys = append(m.abbrevKeys, k)
	}
	sort.Slice(m.abbrevKeys, func(i, j int) bool { return len(m.abbrevKeys[i]) > len(m.abbrevKeys[j]) })

	return m
}

// Normalize applies the full stage pipeline and is a pure, idempotent
// function of (text, profileID).
func (n *Normalizer) Normalize(text, profileID string) string {
	m := n.resolve(profileID)
	return m.apply(text)
}

func (m merged) apply(text string) string {
	s := text

	if m.stripCodeFences {
		s = codeFenceRe.ReplaceAllString(s, " ")
		s = inlineCodeRe.ReplaceAllString(s, " ")
	}

	if m.stripMarkdown {
		for _, p := range m.mdPatterns {
			s = p.re.ReplaceAllString(s, p.replacement)
		}
		s = imageRe.ReplaceAllString(s, " ")
		s = linkRe.ReplaceAllString(s, "$1")
		s = headerRe.ReplaceAllString(s, "")
		s = boldItalicRe.ReplaceAllString(s, "$1$2")
		s = blockquoteRe.ReplaceAllString(s, "")
		s = listBulletRe.ReplaceAllString(s, "")
	}

	if m.stripURLs && m.urlPattern != nil {
		s = m.urlPattern.ReplaceAllString(s, "")
	}

	if m.stripEmoji {
		s = emojiRe.ReplaceAllString(s, "")
	}

	s = expandAbbreviations(s, m.abbrevKeys, m.abbrevs)

	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	s = enforceMaxLength(s, m.maxLength)
	return s
}

// expandAbbreviations performs case-sensitive, word-boundary expansion,
// longest key first, so "e.g." is matched before a hypothetical shorter
// overlapping key.
func expandAbbreviations(s string, keys []string, abbrevs map[string]string) string {
	for _, k := range keys {
		re := wordBoundaryPattern(k)
		repl := "${1}" + strings.ReplaceAll(abbrevs[k], "$", "$$") + "${2}"
		s = re.ReplaceAllString(s, repl)
	}
	return s
}

var boundaryCache sync.Map // string -> *regexp.Regexp

func wordBoundaryPattern(key string) *regexp.Regexp {
	if v, ok := boundaryCache.Load(key); ok {
		return v.(*regexp.Regexp)
	}
	// "\b" doesn't fire around '.', so abbreviations like "e.g." anchor on
	// whitespace/string boundaries instead of \b.
	re := regexp.MustCompile(`(^|\s)` + regexp.QuoteMeta(key) + `(\s|$)`)
	boundaryCache.Store(key, re)
	return re
}

// enforceMaxLength cuts at the nearest sentence boundary >= half the
// limit, else hard-cuts with an ellipsis.
func enforceMaxLength(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	half := limit / 2
	best := -1
	for _, loc := range sentenceBoundaryRe.FindAllStringIndex(s, -1) {
		end := loc[1]
		if end > limit {
			break
		}
		if end >= half {
			best = end
		}
	}
	if best >= 0 {
		return strings.TrimSpace(s[:best])
	}
	return strings.TrimSpace(s[:limit]) + "..."
}
