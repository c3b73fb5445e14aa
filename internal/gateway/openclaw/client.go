// Package openclaw implements the reference persistent WebSocket gateway:
// one long-lived connection per process, correlation-id request
// multiplexing, and exponential reconnect backoff.
package openclaw

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/session"
	"github.com/voicebridge/voicebridge/pkg/logging"
)

var _ gateway.Gateway = (*Client)(nil)

const (
	handshakeTimeout = 10 * time.Second
	maxBackoff       = 30 * time.Second
	idleTimeout      = 310 * time.Second
)

// frame is the wire envelope for every OpenClaw message in both directions.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatResponsePayload struct {
	Text string `json:"text"`
}

type toolCallPayload struct {
	Kind    string         `json:"kind"`
	Phase   string         `json:"phase"`
	Payload map[string]any `json:"payload"`
}

type chatDonePayload struct {
	Content string `json:"content"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Config holds the connection parameters for one OpenClaw server.
type Config struct {
	URL       string
	AuthToken string
	ClientID  string
	Scopes    []string
}

// Client is the persistent OpenClaw gateway. Exactly one outbound frame is
// in flight per session key at a time, serialized by perSessionLock; the
// inbound reader is single-threaded by construction and dispatches frames
// to the waiting request by correlation id.
type Client struct {
	cfg    Config
	logger *logging.Logger

	mu        sync.Mutex // guards conn + connected + pending map
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan frame

	sessionLocks sync.Map // session.Key -> *sync.Mutex

	backoff time.Duration
}

// New constructs a disconnected Client. Call Connect (or let the first
// StreamToQueue call lazily connect) before use.
func New(cfg Config, logger *logging.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan frame),
		backoff: time.Second,
	}
}

func (c *Client) ID() string       { return "openclaw" }
func (c *Client) Persistent() bool { return true }

func (c *Client) IsConfigured() bool {
	return c.cfg.URL != "" && c.cfg.AuthToken != ""
}

func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the server and performs the challenge/hello handshake.
// Retries with exponential backoff capped at maxBackoff on failure; callers
// that need a hard deadline should wrap the call in a context with a
// timeout.
func (c *Client) Connect(ctx context.Context) error {
	for {
		err := c.dialOnce(ctx)
		if err == nil {
			c.mu.Lock()
			c.backoff = time.Second
			c.mu.Unlock()
			return nil
		}
		wait := c.nextBackoff()
		if c.logger != nil {
			c.logger.Warnf("openclaw: connect failed: %v, retrying in %s", err, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.backoff
	next := time.Duration(math.Min(float64(cur)*2, float64(maxBackoff)))
	c.backoff = next
	return cur
}

func (c *Client) dialOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	var challenge frame
	if err := conn.ReadJSON(&challenge); err != nil {
		conn.Close()
		return fmt.Errorf("read challenge: %w", err)
	}
	if challenge.Type != "connect.challenge" {
		conn.Close()
		return fmt.Errorf("unexpected first frame type %q", challenge.Type)
	}

	connectPayload, _ := json.Marshal(map[string]any{
		"client_id": c.cfg.ClientID,
		"token":     c.cfg.AuthToken,
		"scopes":    c.cfg.Scopes,
	})
	if err := conn.WriteJSON(frame{Type: "connect", Payload: connectPayload}); err != nil {
		conn.Close()
		return fmt.Errorf("write connect: %w", err)
	}

	var reply frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("read hello: %w", err)
	}
	if reply.Type != "hello" {
		conn.Close()
		return fmt.Errorf("connect rejected: %s", string(reply.Payload))
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// readLoop is the single-threaded inbound dispatcher. It demultiplexes
// frames by id to the pending channel registered for that request and
// drops unrelated frames (heartbeat, presence) unless they signal the
// connection has died.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDisconnect(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- f:
		default:
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	pending := c.pending
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()

	for id, ch := range pending {
		errFrame := frame{Type: "error", ID: id}
		select {
		case ch <- errFrame:
		default:
		}
	}
	if c.logger != nil {
		c.logger.Warnf("openclaw: connection lost: %v", err)
	}
}

func (c *Client) lockFor(key session.Key) *sync.Mutex {
	actual, _ := c.sessionLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// StreamToQueue sends one chat request and demultiplexes the response
// stream into Events until a terminal frame arrives. ch is closed before
// returning, on every path.
func (c *Client) StreamToQueue(ctx context.Context, ch chan<- event.Event, message string, key session.Key, capturedActions *[]event.Action, opts gateway.StreamOpts) error {
	defer close(ch)

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		if err := c.Connect(ctx); err != nil {
			ch <- event.Err(fmt.Sprintf("openclaw: connect failed: %v", err))
			return err
		}
	} else {
		c.mu.Unlock()
	}

	corrID := uuid.NewString()
	inbound := make(chan frame, 16)

	c.mu.Lock()
	c.pending[corrID] = inbound
	conn := c.conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
	}()

	reqPayload, _ := json.Marshal(map[string]any{
		"message":  message,
		"agent_id": opts.AgentID,
	})
	if err := conn.WriteJSON(frame{Type: "chat.request", ID: corrID, Payload: reqPayload}); err != nil {
		ch <- event.Err(fmt.Sprintf("openclaw: write failed: %v", err))
		return err
	}

	emittedTextDone := false
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			ch <- event.Err("openclaw: request cancelled")
			return ctx.Err()
		case <-idle.C:
			ch <- event.Err("openclaw: gateway idle timeout")
			return fmt.Errorf("openclaw: idle timeout")
		case f := <-inbound:
			idle.Reset(idleTimeout)
			switch f.Type {
			case "chat.response":
				var p chatResponsePayload
				json.Unmarshal(f.Payload, &p)
				ch <- event.Delta(p.Text)
			case "tool_call":
				var p toolCallPayload
				json.Unmarshal(f.Payload, &p)
				phase := event.PhaseStart
				if p.Phase == "end" {
					phase = event.PhaseEnd
				}
				a := event.Action{Kind: p.Kind, Phase: phase, Payload: p.Payload}
				if capturedActions != nil {
					*capturedActions = append(*capturedActions, a)
				}
				ch <- event.NewAction(p.Kind, phase, p.Payload)
			case "chat.done", "chat.final":
				var p chatDonePayload
				json.Unmarshal(f.Payload, &p)
				full := p.Content
				ch <- event.TextDone(&full, nil, event.Timing{})
				emittedTextDone = true
				return nil
			case "error":
				if !emittedTextDone {
					var p errorPayload
					json.Unmarshal(f.Payload, &p)
					msg := p.Message
					if msg == "" {
						msg = "openclaw: transport error"
					}
					ch <- event.Err(msg)
				}
				return fmt.Errorf("openclaw: gateway error frame")
			default:
				// heartbeat/presence/unrelated: ignore
			}
		}
	}
}

// Ask performs a synchronous non-streaming request by draining
// StreamToQueue into an internal channel, for inter-gateway delegation.
func (c *Client) Ask(ctx context.Context, message string, key session.Key) (string, error) {
	ch := make(chan event.Event, 32)
	var actions []event.Action
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.StreamToQueue(ctx, ch, message, key, &actions, gateway.StreamOpts{})
	}()

	var full string
	for ev := range ch {
		if ev.Kind == event.KindTextDone && ev.FullText != nil {
			full = *ev.FullText
		}
		if ev.Kind == event.KindError {
			return "", fmt.Errorf("%s", ev.Message)
		}
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return full, nil
}
