// Package builtin holds the direct-API gateway implementations that are
// registered at startup when listed in the gateways config. Each is a
// direct per-request API call with no
// persistent transport and no tool-call support, making them natural
// fallback-chain candidates.
package builtin

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/session"
)

var _ gateway.Gateway = (*OpenAI)(nil)

// OpenAI is the built-in direct-API gateway backed by openai-go: client
// construction via option.WithAPIKey, NewStreaming for token deltas, and
// plain text accumulation with no tool/usage accounting.
type OpenAI struct {
	client oai.Client
	model  string
	apiKey string
}

// NewOpenAI constructs the gateway. Safe to construct with an empty apiKey;
// IsConfigured will simply report false.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	var client oai.Client
	if apiKey != "" {
		client = oai.NewClient(option.WithAPIKey(apiKey))
	}
	return &OpenAI{client: client, model: model, apiKey: apiKey}
}

func (o *OpenAI) ID() string         { return "openai" }
func (o *OpenAI) Persistent() bool   { return false }
func (o *OpenAI) IsConfigured() bool { return o.apiKey != "" }
func (o *OpenAI) IsHealthy() bool    { return o.IsConfigured() }

func (o *OpenAI) StreamToQueue(ctx context.Context, ch chan<- event.Event, message string, key session.Key, capturedActions *[]event.Action, opts gateway.StreamOpts) error {
	defer close(ch)

	if !o.IsConfigured() {
		ch <- event.Err("openai gateway not configured")
		return fmt.Errorf("openai: missing api key")
	}

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(o.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(message)},
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		ch <- event.Delta(delta)
	}
	if err := stream.Err(); err != nil {
		ch <- event.Err(fmt.Sprintf("openai: %v", err))
		return err
	}

	ch <- event.TextDone(&full, nil, event.Timing{})
	return nil
}

func (o *OpenAI) Ask(ctx context.Context, message string, key session.Key) (string, error) {
	if !o.IsConfigured() {
		return "", fmt.Errorf("openai: missing api key")
	}
	resp, err := o.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(o.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(message)},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
