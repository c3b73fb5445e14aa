package openclaw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/session"
)

var upgrader = websocket.Upgrader{}

// newMockServer speaks just enough OpenClaw protocol to exercise one
// request: challenge -> connect -> hello, then echoes the request message
// back as a single delta followed by chat.done.
func newMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(frame{Type: "connect.challenge"}); err != nil {
			return
		}
		var connectFrame frame
		if err := conn.ReadJSON(&connectFrame); err != nil {
			return
		}
		if err := conn.WriteJSON(frame{Type: "hello"}); err != nil {
			return
		}

		for {
			var req frame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Type != "chat.request" {
				continue
			}
			var body struct {
				Message string `json:"message"`
			}
			json.Unmarshal(req.Payload, &body)

			deltaPayload, _ := json.Marshal(chatResponsePayload{Text: body.Message})
			conn.WriteJSON(frame{Type: "chat.response", ID: req.ID, Payload: deltaPayload})

			donePayload, _ := json.Marshal(chatDonePayload{Content: body.Message})
			conn.WriteJSON(frame{Type: "chat.done", ID: req.ID, Payload: donePayload})
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestStreamToQueueHandshakeAndTextDone(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	c := New(Config{URL: wsURL(srv.URL), AuthToken: "tok", ClientID: "test"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch := make(chan event.Event, 8)
	var actions []event.Action
	err := c.StreamToQueue(ctx, ch, "hello there", session.Key("voice-1"), &actions, gateway.StreamOpts{})
	if err != nil {
		t.Fatalf("StreamToQueue: %v", err)
	}

	var sawDelta, sawDone bool
	for ev := range ch {
		switch ev.Kind {
		case event.KindDelta:
			sawDelta = true
			if ev.Text != "hello there" {
				t.Fatalf("unexpected delta text %q", ev.Text)
			}
		case event.KindTextDone:
			sawDone = true
			if ev.FullText == nil || *ev.FullText != "hello there" {
				t.Fatalf("unexpected text_done payload: %+v", ev)
			}
		}
	}
	if !sawDelta || !sawDone {
		t.Fatalf("expected both delta and text_done, got delta=%v done=%v", sawDelta, sawDone)
	}
}

func TestIsConfiguredRequiresURLAndToken(t *testing.T) {
	c := New(Config{}, nil)
	if c.IsConfigured() {
		t.Fatalf("expected unconfigured client with no URL/token")
	}
	c2 := New(Config{URL: "ws://x", AuthToken: "t"}, nil)
	if !c2.IsConfigured() {
		t.Fatalf("expected configured client with URL and token set")
	}
}
