// Sentence extraction and the open-tag guard. The bracket/fence balance
// check is a small pure function kept separate from extraction so it is
// trivially testable on its own.
package orchestrator

import (
	"regexp"
	"strings"
)

// openTagGuard reports whether buf currently sits inside an unclosed
// side-channel tag or code fence, in which case sentence extraction must
// not run.
func openTagGuard(buf string) bool {
	depth := 0
	for _, r := range buf {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		}
	}
	if depth != 0 {
		return true
	}
	fences := countFences(buf)
	return fences%2 != 0
}

func countFences(buf string) int {
	count := 0
	for i := 0; i+3 <= len(buf); i++ {
		if buf[i] == '`' && buf[i+1] == '`' && buf[i+2] == '`' {
			count++
			i += 2
		}
	}
	return count
}

var sentenceEndRe = regexp.MustCompile(`[.!?](\s|$)`)

// minSentence is the minimum buffer length before extraction is attempted.
const minSentence = 40

// extractSentence scans buf for the first sentence-terminator boundary at
// or after minSentence, honoring the open-tag guard. It returns the
// extracted sentence and the remainder of buf (left-trimmed), or ok=false
// if no extraction should happen yet.
func extractSentence(buf string) (sentence string, remainder string, ok bool) {
	if openTagGuard(buf) {
		return "", buf, false
	}
	if len(buf) < minSentence {
		return "", buf, false
	}

	for _, loc := range sentenceEndRe.FindAllStringIndex(buf, -1) {
		end := loc[1]
		if end < minSentence {
			continue
		}
		return buf[:end], leftTrim(buf[end:]), true
	}
	return "", buf, false
}

func leftTrim(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return s[i:]
}

// truncateAtSentenceBoundary cuts text longer than limit bytes at the last
// sentence terminator within the first limit bytes, provided it lies past
// half the limit. Otherwise it hard-cuts at limit and appends "...", so
// that result may end mid-sentence and run up to three bytes over limit.
func truncateAtSentenceBoundary(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	best := -1
	for _, loc := range sentenceEndRe.FindAllStringIndex(cut, -1) {
		best = loc[1]
	}
	if best > limit/2 {
		return strings.TrimSpace(cut[:best])
	}
	return strings.TrimSpace(cut) + "..."
}
