// Package gateway defines the pluggable LLM gateway contract and the
// registry that discovers, selects, and routes to gateway implementations.
//
// An adapter interface processes one request against a response channel;
// a router picks an adapter by id and falls back to a configured default.
package gateway

import (
	"context"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/session"
)

// StreamOpts carries the per-request overrides the gateway may use while
// producing events (agent sub-routing, UI-context prefix already applied
// by the caller).
type StreamOpts struct {
	AgentID string
}

// Gateway is the contract every LLM backend (built-in or plugin) must
// satisfy.
type Gateway interface {
	// ID is this gateway's registry key.
	ID() string

	// Persistent reports whether this gateway holds a long-lived transport
	// (e.g. a WebSocket) rather than dialing per request.
	Persistent() bool

	// IsConfigured reports whether required credentials/env are present.
	IsConfigured() bool

	// IsHealthy reports current transport health; only meaningful once
	// IsConfigured is true.
	IsHealthy() bool

	// StreamToQueue drives one request, producing Events on ch and
	// terminating with exactly one of text_done/error. Implementations
	// must close ch before returning, on every path, so a consumer never
	// waits out an idle timeout on a request that has already given up.
	// capturedActions
	// accumulates any action events for terminal accounting; it is owned
	// exclusively by the caller and must only be appended to, never read,
	// by implementations racing with the caller.
	StreamToQueue(ctx context.Context, ch chan<- event.Event, message string, sessionKey session.Key, capturedActions *[]event.Action, opts StreamOpts) error

	// Ask is a synchronous convenience used for inter-gateway delegation
	// (fallback chain, sub-agent calls that don't need streaming).
	Ask(ctx context.Context, message string, sessionKey session.Key) (string, error)
}
