// Package app wires Settings into the running collaborator graph: session
// store, profile resolver, TTS/gateway registries with their configured
// providers, the speech normalizer, chunker, durable sink, and finally the
// orchestrator that ties them together. One setupX method handles each
// concern, assembled in dependency order.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/voicebridge/voicebridge/internal/chunker"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/durable"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/gateway/builtin"
	"github.com/voicebridge/voicebridge/internal/gateway/openclaw"
	"github.com/voicebridge/voicebridge/internal/normalizer"
	"github.com/voicebridge/voicebridge/internal/orchestrator"
	"github.com/voicebridge/voicebridge/internal/profile"
	"github.com/voicebridge/voicebridge/internal/session"
	"github.com/voicebridge/voicebridge/internal/tts"
	"github.com/voicebridge/voicebridge/internal/tts/provider/localonnx"
	"github.com/voicebridge/voicebridge/internal/tts/provider/piper"
	"github.com/voicebridge/voicebridge/pkg/logging"
)

// App is the fully wired process: every HTTP handler and background task
// is constructed from this single value, rather than relying on
// process-wide singletons.
type App struct {
	Config *config.Settings
	Logger *logging.Logger

	Sessions     *session.Store
	Profiles     *profile.Resolver
	TTS          *tts.Registry
	Gateways     *gateway.Registry
	Normalizer   *normalizer.Normalizer
	Durable      *durable.Sink
	Counters     *durable.LiveCounters
	Orchestrator *orchestrator.Orchestrator

	redisClient *redis.Client
}

// New constructs an App from cfg, wiring every component in dependency
// order. A failure in one optional concern (e.g. no Redis address
// configured) degrades that concern rather than failing startup, with a
// log line saying it is disabled.
func New(cfg *config.Settings, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	a.setupSessions()
	if err := a.setupProfiles(); err != nil {
		return nil, fmt.Errorf("app: profiles: %w", err)
	}
	if err := a.setupTTS(); err != nil {
		return nil, fmt.Errorf("app: tts: %w", err)
	}
	if err := a.setupGateways(); err != nil {
		return nil, fmt.Errorf("app: gateways: %w", err)
	}
	if err := a.setupNormalizer(); err != nil {
		return nil, fmt.Errorf("app: normalizer: %w", err)
	}
	if err := a.setupDurable(); err != nil {
		return nil, fmt.Errorf("app: durable: %w", err)
	}
	a.setupOrchestrator()

	return a, nil
}

func (a *App) setupSessions() {
	a.Sessions = session.New(a.Config.Session.CounterDir, a.Config.Session.HistoryCap, a.Logger.Component("session"))
}

func (a *App) setupProfiles() error {
	profiles := map[string]profile.Profile{}
	if a.Config.Profile.ProfilesPath != "" {
		loaded, err := profile.LoadProfiles(a.Config.Profile.ProfilesPath)
		if err != nil {
			a.Logger.Warnf("app: loading profiles from %s: %v", a.Config.Profile.ProfilesPath, err)
		} else {
			profiles = loaded
		}
	}
	a.Profiles = profile.New(a.Config.Profile.PointerPath, profiles, a.Config.Profile.DefaultID)
	return nil
}

func (a *App) setupTTS() error {
	a.TTS = tts.New(a.Config.TTS.DefaultID)
	for _, pc := range a.Config.TTS.Providers {
		params := resolvedParams(pc.Params)
		switch pc.Kind {
		case "piper":
			a.TTS.Register(piper.New(piper.Config{
				BaseURL:      params["base_url"],
				DefaultVoice: params["default_voice"],
				SampleRate:   16000,
				Channels:     1,
				Timeout:      15 * time.Second,
			}))
		case "localonnx":
			a.TTS.Register(localonnx.New(localonnx.Config{
				ModelPath:   params["model_path"],
				LibraryPath: params["library_path"],
				Voice:       params["voice"],
			}))
		default:
			a.Logger.Warnf("app: unknown tts provider kind %q for %q, skipping", pc.Kind, pc.ID)
		}
	}
	return nil
}

func (a *App) setupGateways() error {
	a.Gateways = gateway.New(a.Config.Gateways.DefaultID, a.Logger.Component("gateway"))
	for _, gc := range a.Config.Gateways.Builtins {
		params := resolvedParams(gc.Params)
		switch gc.Kind {
		case "openai":
			a.Gateways.Register(builtin.NewOpenAI(params["api_key"], params["model"]))
		case "gemini":
			a.Gateways.Register(builtin.NewGemini(params["api_key"], params["model"]))
		case "ollama":
			a.Gateways.Register(builtin.NewOllama(params["base_url"], params["model"]))
		case "openclaw":
			a.Gateways.Register(openclaw.New(openclaw.Config{
				URL:       params["url"],
				AuthToken: params["auth_token"],
				ClientID:  params["client_id"],
			}, a.Logger.Component("openclaw")))
		default:
			a.Logger.Warnf("app: unknown gateway kind %q for %q, skipping", gc.Kind, gc.ID)
		}
	}
	if a.Config.Gateways.PluginDir != "" {
		a.Gateways.LoadPlugins(a.Config.Gateways.PluginDir)
	}
	return nil
}

func (a *App) setupNormalizer() error {
	if a.Config.Normalizer.ConfigPath == "" {
		a.Normalizer = normalizer.Default(a.Logger.Component("normalizer"))
		return nil
	}
	n, err := normalizer.Load(a.Config.Normalizer.ConfigPath, a.Logger.Component("normalizer"))
	if err != nil {
		a.Logger.Warnf("app: loading normalizer config: %v, using defaults", err)
		a.Normalizer = normalizer.Default(a.Logger.Component("normalizer"))
		return nil
	}
	a.Normalizer = n
	return nil
}

func (a *App) setupDurable() error {
	if a.Config.Durable.SQLitePath != "" {
		if err := durable.Migrate(a.Config.Durable.SQLitePath); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	a.Durable = durable.New(a.Config.Durable.QueueCapacity, a.Logger.Component("durable"))

	if a.Config.Durable.RedisAddr == "" {
		a.Logger.Info("app: no redis address configured, live counters disabled")
		a.Counters = durable.NewLiveCounters(nil, a.Logger.Component("durable"))
		return nil
	}
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.Config.Durable.RedisAddr,
		Password: a.Config.Durable.RedisPassword,
	})
	a.Counters = durable.NewLiveCounters(a.redisClient, a.Logger.Component("durable"))
	return nil
}

func (a *App) setupOrchestrator() {
	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Gateways:      a.Gateways,
		TTS:           a.TTS,
		Sessions:      a.Sessions,
		Normalizer:    a.Normalizer,
		Chunker:       chunker.New(chunker.DefaultMaxChars, a.Logger.Component("chunker")),
		Sink:          a.Durable,
		Counters:      a.Counters,
		Logger:        a.Logger.Component("orchestrator"),
		DBPath:        a.Config.Durable.SQLitePath,
		FallbackIDs:   a.Config.Gateways.FallbackIDs,
		SessionPrefix: a.Config.Session.Prefix,
	})
}

// resolvedParams applies tts.ResolveEnvPlaceholders to every config value,
// so gateway/provider params can reference "${ENV_VAR}" exactly like TTS
// provider params do.
func resolvedParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = tts.ResolveEnvPlaceholders(v)
	}
	return out
}

// Shutdown stops the background writer and closes any pooled connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Durable != nil {
		if err := a.Durable.Close(); err != nil {
			a.Logger.Warnf("app: closing durable sink: %v", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Warnf("app: closing redis client: %v", err)
		}
	}
	return nil
}
