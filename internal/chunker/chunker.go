// Package chunker splits long text on sentence boundaries, invokes
// per-chunk TTS, and concatenates the resulting PCM frames into a single
// playable container. It uses the same greedy "flush when buffer exceeds
// MaxChars, punctuation-driven boundary" packing strategy as streaming
// delta flushing, but works against a complete string handed to it rather
// than a channel of deltas, and is generalized to any tts.Provider.
package chunker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/voicebridge/voicebridge/internal/tts"
	"github.com/voicebridge/voicebridge/pkg/logging"
	"github.com/voicebridge/voicebridge/pkg/wavglue"
)

// DefaultMaxChars is the default chunk-size ceiling in characters.
const DefaultMaxChars = 800

var sentenceBoundary = regexp.MustCompile(`[.!?](\s+|$)`)

// Split packs text into chunks no longer than maxChars, breaking only at
// sentence-terminator boundaries, greedily. A single sentence longer than
// maxChars is kept whole (never cut mid-sentence).
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var sentences []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	var chunks []string
	var cur strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	return chunks
}

// Chunker drives per-chunk synthesis and container reassembly.
type Chunker struct {
	MaxChars int
	logger   *logging.Logger
}

// New constructs a Chunker. maxChars<=0 uses DefaultMaxChars.
func New(maxChars int, logger *logging.Logger) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{MaxChars: maxChars, logger: logger}
}

// Synthesize handles text end to end: short text calls the provider once;
// long text is split, synthesized sequentially (logging and skipping any
// per-chunk failure), and reassembled into one container. Never returns a
// partial multi-chunk result: either a full AudioChunk or an error.
func (c *Chunker) Synthesize(ctx context.Context, text, voice string, provider tts.Provider, opts tts.SynthesizeOpts) (tts.AudioChunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.AudioChunk{}, fmt.Errorf("chunker: empty text")
	}

	if len(text) <= c.MaxChars {
		return provider.Synthesize(ctx, text, voice, opts)
	}

	pieces := Split(text, c.MaxChars)
	result, err := c.synthesizeAll(ctx, pieces, voice, provider, opts)
	if err == nil {
		return result, nil
	}

	// All chunks failed: retry once with just the head of the input.
	if c.logger != nil {
		c.logger.Warnf("chunker: all %d chunks failed (%v), retrying with first %d chars", len(pieces), err, c.MaxChars)
	}
	head := text
	if len(head) > c.MaxChars {
		head = head[:c.MaxChars]
	}
	return provider.Synthesize(ctx, head, voice, opts)
}

func (c *Chunker) synthesizeAll(ctx context.Context, pieces []string, voice string, provider tts.Provider, opts tts.SynthesizeOpts) (tts.AudioChunk, error) {
	var audioChunks []tts.AudioChunk
	for _, piece := range pieces {
		ac, err := provider.Synthesize(ctx, piece, voice, opts)
		if err != nil {
			if c.logger != nil {
				c.logger.Warnf("chunker: chunk synthesis failed, skipping: %v", err)
			}
			continue
		}
		audioChunks = append(audioChunks, ac)
	}
	if len(audioChunks) == 0 {
		return tts.AudioChunk{}, fmt.Errorf("chunker: every chunk failed")
	}
	return reassemble(audioChunks)
}

// reassemble glues multiple AudioChunks into one container. WAV chunks get
// proper header-rewriting via wavglue; any other container format is
// concatenated byte-for-byte.
func reassemble(chunks []tts.AudioChunk) (tts.AudioChunk, error) {
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	first := chunks[0]
	if first.Format != tts.FormatWAV {
		var all []byte
		for _, c := range chunks {
			all = append(all, c.Bytes...)
		}
		return tts.AudioChunk{
			Bytes: all, Format: first.Format,
			SampleRate: first.SampleRate, Channels: first.Channels, BitsPerSample: first.BitsPerSample,
		}, nil
	}

	parsed := make([]wavglue.Parsed, 0, len(chunks))
	for i, c := range chunks {
		p, err := wavglue.Parse(c.Bytes)
		if err != nil {
			return tts.AudioChunk{}, fmt.Errorf("chunker: parsing wav chunk %d: %w", i, err)
		}
		parsed = append(parsed, p)
	}
	glued, err := wavglue.Glue(parsed)
	if err != nil {
		return tts.AudioChunk{}, fmt.Errorf("chunker: gluing wav chunks: %w", err)
	}
	return tts.AudioChunk{
		Bytes: glued, Format: tts.FormatWAV,
		SampleRate: parsed[0].Format.SampleRate, Channels: parsed[0].Format.Channels, BitsPerSample: parsed[0].Format.BitsPerSample,
	}, nil
}
