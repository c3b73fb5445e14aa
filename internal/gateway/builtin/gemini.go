package builtin

import (
	"context"
	"fmt"
	"io"

	"github.com/google/generative-ai-go/genai"
	gapi "google.golang.org/api/option"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/session"
)

var _ gateway.Gateway = (*Gemini)(nil)

// Gemini is the built-in direct-API gateway backed by
// google/generative-ai-go: client construction via genai.NewClient +
// option.WithAPIKey, then StartChat + SendMessageStream with
// iterator-driven delta collection and no tool calling.
type Gemini struct {
	client *genai.Client
	model  string
	apiKey string
}

// NewGemini constructs the gateway lazily: genai.NewClient needs a context,
// so the client is created on first use rather than at construction time.
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}
	return &Gemini{model: model, apiKey: apiKey}
}

func (g *Gemini) ID() string         { return "gemini" }
func (g *Gemini) Persistent() bool   { return false }
func (g *Gemini) IsConfigured() bool { return g.apiKey != "" }
func (g *Gemini) IsHealthy() bool    { return g.IsConfigured() }

func (g *Gemini) ensureClient(ctx context.Context) error {
	if g.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, gapi.WithAPIKey(g.apiKey))
	if err != nil {
		return fmt.Errorf("gemini: new client: %w", err)
	}
	g.client = client
	return nil
}

func (g *Gemini) StreamToQueue(ctx context.Context, ch chan<- event.Event, message string, key session.Key, capturedActions *[]event.Action, opts gateway.StreamOpts) error {
	defer close(ch)

	if !g.IsConfigured() {
		ch <- event.Err("gemini gateway not configured")
		return fmt.Errorf("gemini: missing api key")
	}
	if err := g.ensureClient(ctx); err != nil {
		ch <- event.Err(err.Error())
		return err
	}

	model := g.client.GenerativeModel(g.model)
	cs := model.StartChat()
	iter := cs.SendMessageStream(ctx, genai.Text(message))

	var full string
	for {
		resp, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ch <- event.Err(fmt.Sprintf("gemini: %v", err))
			return err
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					full += string(txt)
					ch <- event.Delta(string(txt))
				}
			}
		}
	}

	ch <- event.TextDone(&full, nil, event.Timing{})
	return nil
}

func (g *Gemini) Ask(ctx context.Context, message string, key session.Key) (string, error) {
	if !g.IsConfigured() {
		return "", fmt.Errorf("gemini: missing api key")
	}
	if err := g.ensureClient(ctx); err != nil {
		return "", err
	}
	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(message))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	var full string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				full += string(txt)
			}
		}
	}
	return full, nil
}
