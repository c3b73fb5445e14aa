// Package edge implements the HTTP/WS Edge: it parses the client's
// conversation request, drives the Conversation Orchestrator, writes the
// outbound framed stream (NDJSON or one accumulated frame), and exposes
// the reset and side-channel endpoints alongside read-only registry
// introspection and liveness/metrics probes.
package edge

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicebridge/voicebridge/internal/app"
)

// Edge bundles the wired App with the process-local side-channel queue
// feeding the side-channel endpoint.
type Edge struct {
	app     *app.App
	actions *SideChannel
}

// NewRouter builds the gin.Engine exposing the conversation, session, and
// side-channel routes, plus /healthz, /metrics, and registry introspection
// endpoints.
func NewRouter(a *app.App) *gin.Engine {
	e := &Edge{app: a, actions: NewSideChannel()}

	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	lg := a.Logger.Component("edge")
	r := gin.New()
	r.Use(ErrorHandlerMiddleware(lg), RequestLoggerMiddleware(lg), CORSMiddleware())

	r.GET("/healthz", e.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	if a.Config.Auth.Enabled {
		v1.Use(AuthMiddleware(a.Config.Auth.JWTSecret, lg))
	}
	v1.POST("/conversation", e.processMessage)
	v1.POST("/session/reset", e.resetSession)
	v1.GET("/sidechannel", e.drainSideChannel)
	v1.GET("/tts/providers", e.listTTSProviders)
	v1.GET("/gateways", e.listGateways)

	return r
}

func (e *Edge) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (e *Edge) drainSideChannel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": e.actions.Drain()})
}

func (e *Edge) listTTSProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": e.app.TTS.List()})
}

func (e *Edge) listGateways(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"gateways": e.app.Gateways.List()})
}
