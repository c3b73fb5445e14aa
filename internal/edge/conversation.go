package edge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/orchestrator"
	"github.com/voicebridge/voicebridge/internal/session"
)

// maxMessageChars is the hard input-length guard.
const maxMessageChars = 4000

// uiContextRequest mirrors the client's ui_context keys.
type uiContextRequest struct {
	CanvasVisible   bool   `json:"canvasVisible"`
	CanvasDisplayed string `json:"canvasDisplayed"`
	MusicPlaying    bool   `json:"musicPlaying"`
	MusicTrack      string `json:"musicTrack"`
}

// conversationRequest is the Conversation endpoint's POST body.
type conversationRequest struct {
	Message          string            `json:"message" binding:"required"`
	TTSProvider      string            `json:"tts_provider"`
	Voice            string            `json:"voice"`
	SessionID        string            `json:"session_id"`
	UIContext        *uiContextRequest `json:"ui_context"`
	IdentifiedPerson string            `json:"identified_person"`
	GatewayID        string            `json:"gateway_id"`
	AgentID          string            `json:"agent_id"`
	MaxResponseChars int               `json:"max_response_chars"`
}

// processMessage validates the request, drives the orchestrator, and
// renders the event stream either as NDJSON or as one accumulated frame.
func (e *Edge) processMessage(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if len(req.Message) > maxMessageChars {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message exceeds maximum length of 4000 characters"})
		return
	}

	prefix := req.SessionID
	if prefix == "" {
		prefix = e.app.Config.Session.Prefix
	}
	sessionKey := e.app.Sessions.Current(prefix)

	orchReq := orchestrator.Request{
		Message:          req.Message,
		SessionKey:       sessionKey,
		Profile:          e.app.Profiles.Active(),
		GatewayID:        req.GatewayID,
		TTSProviderID:    req.TTSProvider,
		Voice:            req.Voice,
		MaxResponseChars: req.MaxResponseChars,
		AgentID:          req.AgentID,
		UIContext:        uiContextFrom(req),
	}

	ch := e.app.Orchestrator.Run(c.Request.Context(), orchReq)

	if isStreamingRequest(c) {
		e.streamResponse(c, ch, prefix, sessionKey)
		return
	}
	e.accumulateResponse(c, ch)
}

func uiContextFrom(req conversationRequest) orchestrator.UIContext {
	uc := orchestrator.UIContext{IdentifiedPerson: req.IdentifiedPerson}
	if req.UIContext != nil {
		uc.CanvasVisible = req.UIContext.CanvasVisible
		uc.CanvasDisplayed = req.UIContext.CanvasDisplayed
		uc.MusicPlaying = req.UIContext.MusicPlaying
		uc.MusicTrack = req.UIContext.MusicTrack
	}
	return uc
}

// isStreamingRequest is selected by a query flag or a request header.
func isStreamingRequest(c *gin.Context) bool {
	if v := c.Query("stream"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return strings.EqualFold(c.GetHeader("X-Stream-Mode"), "ndjson")
}

// streamResponse writes the event stream as NDJSON, flushing after each
// line, and mirrors every action event onto the side-channel queue.
// Session bumping is the only cancellation primitive: once the counter
// for prefix has advanced past sessionKey, remaining output attributed to
// the old key is discarded silently. The exception is the stream's own
// auto-reset: when its session_reset names sessionKey, every event held
// back after the bump is still written, in order.
func (e *Edge) streamResponse(c *gin.Context, ch <-chan event.Event, prefix string, sessionKey session.Key) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	// Events already queued when the stream performs its own auto-reset
	// bump must still reach the client in order, so once the counter no
	// longer matches, events are held back until close: a session_reset
	// naming this stream's key proves the bump was its own and releases
	// them, otherwise the bump came from elsewhere and they are dropped.
	var held []event.Event
	for ev := range ch {
		if len(held) > 0 || e.app.Sessions.Current(prefix) != sessionKey {
			held = append(held, ev)
			continue
		}
		e.writeEvent(c, ev)
	}

	ownBump := false
	for _, ev := range held {
		if ev.Kind == event.KindSessionReset && ev.OldKey == string(sessionKey) {
			ownBump = true
			break
		}
	}
	if !ownBump {
		return
	}
	for _, ev := range held {
		e.writeEvent(c, ev)
	}
}

func (e *Edge) writeEvent(c *gin.Context, ev event.Event) {
	e.captureSideChannel(ev)
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.Writer.Write(line)
	c.Writer.Write([]byte("\n"))
	c.Writer.Flush()
}

// nonStreamingResponse is the single accumulated frame emitted in
// non-streaming mode: a trivial serialization of the same event sequence.
type nonStreamingResponse struct {
	Response     *string          `json:"response"`
	Actions      []event.Action   `json:"actions"`
	AudioChunks  []audioChunkDTO  `json:"audio_chunks,omitempty"`
	TTSErrors    []ttsErrorDTO    `json:"tts_errors,omitempty"`
	SessionReset *sessionResetDTO `json:"session_reset,omitempty"`
	NoAudio      bool             `json:"no_audio,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type audioChunkDTO struct {
	Chunk       int    `json:"chunk"`
	TotalChunks *int   `json:"total_chunks,omitempty"`
	Format      string `json:"audio_format"`
	Audio       string `json:"audio"`
}

type ttsErrorDTO struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

type sessionResetDTO struct {
	Old    string `json:"old"`
	New    string `json:"new"`
	Reason string `json:"reason"`
}

func (e *Edge) accumulateResponse(c *gin.Context, ch <-chan event.Event) {
	out := nonStreamingResponse{Actions: []event.Action{}}
	for ev := range ch {
		e.captureSideChannel(ev)
		switch ev.Kind {
		case event.KindTextDone:
			out.Response = ev.FullText
			out.Actions = append(out.Actions, ev.Actions...)
		case event.KindAudio:
			out.AudioChunks = append(out.AudioChunks, audioChunkDTO{
				Chunk:       ev.ChunkIndex,
				TotalChunks: ev.TotalChunks,
				Format:      string(ev.Format),
				Audio:       base64.StdEncoding.EncodeToString(ev.Bytes),
			})
		case event.KindTTSError:
			out.TTSErrors = append(out.TTSErrors, ttsErrorDTO{Provider: ev.Provider, Reason: ev.ReasonCode, Error: ev.Message})
		case event.KindSessionReset:
			out.SessionReset = &sessionResetDTO{Old: ev.OldKey, New: ev.NewKey, Reason: ev.Reason}
		case event.KindNoAudio:
			out.NoAudio = true
		case event.KindError:
			out.Error = ev.Message
		}
	}

	status := http.StatusOK
	if out.Error != "" {
		status = http.StatusInternalServerError
	}
	c.JSON(status, out)
}

// captureSideChannel mirrors action events onto the side-channel queue for
// clients that separate their voice channel from their UI-effect channel.
func (e *Edge) captureSideChannel(ev event.Event) {
	switch ev.Kind {
	case event.KindAction:
		e.actions.Push(SideCommand{
			Kind:    ev.ActionPayload.Kind,
			Phase:   string(ev.ActionPayload.Phase),
			Payload: ev.ActionPayload.Payload,
		})
	case event.KindTextDone:
		for _, a := range ev.Actions {
			e.actions.Push(SideCommand{Kind: a.Kind, Phase: string(a.Phase), Payload: a.Payload})
		}
	}
}
