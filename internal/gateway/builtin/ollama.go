package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/session"
)

var _ gateway.Gateway = (*Ollama)(nil)

// Ollama is the built-in direct-API gateway backed by ollama/ollama's api
// client: an api.Client driving api.ChatRequest/api.ChatResponseFunc
// streaming against a single configured server, with no per-model server
// routing.
type Ollama struct {
	client  *api.Client
	model   string
	baseURL string
}

// NewOllama constructs the gateway against a single Ollama server.
// baseURL empty means unconfigured.
func NewOllama(baseURL, model string) *Ollama {
	if model == "" {
		model = "llama3"
	}
	o := &Ollama{baseURL: baseURL, model: model}
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			o.client = api.NewClient(u, http.DefaultClient)
		}
	}
	return o
}

func (o *Ollama) ID() string         { return "ollama" }
func (o *Ollama) Persistent() bool   { return false }
func (o *Ollama) IsConfigured() bool { return o.client != nil }
func (o *Ollama) IsHealthy() bool    { return o.IsConfigured() }

func (o *Ollama) StreamToQueue(ctx context.Context, ch chan<- event.Event, message string, key session.Key, capturedActions *[]event.Action, opts gateway.StreamOpts) error {
	defer close(ch)

	if !o.IsConfigured() {
		ch <- event.Err("ollama gateway not configured")
		return fmt.Errorf("ollama: no server configured")
	}

	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: message}},
		Stream:   &stream,
	}

	var full string
	var streamErr error
	handler := func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			full += resp.Message.Content
			ch <- event.Delta(resp.Message.Content)
		}
		return nil
	}

	streamErr = o.client.Chat(ctx, req, handler)
	if streamErr != nil {
		ch <- event.Err(fmt.Sprintf("ollama: %v", streamErr))
		return streamErr
	}

	ch <- event.TextDone(&full, nil, event.Timing{})
	return nil
}

func (o *Ollama) Ask(ctx context.Context, message string, key session.Key) (string, error) {
	if !o.IsConfigured() {
		return "", fmt.Errorf("ollama: no server configured")
	}
	stream := false
	var full string
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: message}},
		Stream:   &stream,
	}
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		full += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return full, nil
}
