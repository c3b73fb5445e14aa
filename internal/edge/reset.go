package edge

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voicebridge/voicebridge/internal/session"
)

// prewarmTimeout bounds the best-effort hard-reset pre-warm call.
const prewarmTimeout = 10 * time.Second

// prewarmSentinel mirrors the orchestrator's system-sentinel convention:
// the user message starts with __.
const prewarmSentinel = "__session_start__"

// resetRequest is the Reset endpoint's POST body.
type resetRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// resetSession implements the Reset endpoint: soft bumps the counter only,
// hard also issues a best-effort pre-warm request to the new session.
func (e *Edge) resetSession(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Mode != "soft" && req.Mode != "hard" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be 'soft' or 'hard'"})
		return
	}

	prefix := c.Query("session_id")
	if prefix == "" {
		prefix = e.app.Config.Session.Prefix
	}
	oldKey := e.app.Sessions.Current(prefix)
	newKey := e.app.Sessions.Bump(prefix)

	if req.Mode == "hard" {
		go e.prewarm(newKey)
	}

	c.JSON(http.StatusOK, gin.H{"old": string(oldKey), "new": string(newKey), "mode": req.Mode})
}

// prewarm issues a best-effort synchronous Ask against the profile's
// active gateway so its transport/handshake warms before the next real
// request; failures are silently dropped.
func (e *Edge) prewarm(sessionKey session.Key) {
	gw, err := e.app.Gateways.Resolve(e.app.Profiles.Active().GatewayID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), prewarmTimeout)
	defer cancel()
	_, _ = gw.Ask(ctx, prewarmSentinel, sessionKey)
}
