// Package config loads the process-wide Settings struct that the
// cmd/voicebridged entrypoint uses to construct every other package in
// this repo, via an explicit-env-var-then-search-path viper loading
// shape with mapstructure-tagged nested structs.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// HTTPConfig is the edge's bind address.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SessionConfig configures internal/session.Store.
type SessionConfig struct {
	CounterDir string `mapstructure:"counter_dir"`
	HistoryCap int    `mapstructure:"history_cap"`
	Prefix     string `mapstructure:"prefix"`
}

// ProfileConfig configures internal/profile.Resolver.
type ProfileConfig struct {
	PointerPath  string `mapstructure:"pointer_path"`
	ProfilesPath string `mapstructure:"profiles_path"`
	DefaultID    string `mapstructure:"default_id"`
}

// TTSProviderConfig is one entry of tts.providers in the config file;
// Params values may contain "${ENV_VAR}" placeholders resolved at
// provider-construction time via tts.ResolveEnvPlaceholders.
type TTSProviderConfig struct {
	ID     string            `mapstructure:"id"`
	Kind   string            `mapstructure:"kind"` // "piper" | "localonnx"
	Params map[string]string `mapstructure:"params"`
}

// TTSConfig configures internal/tts.Registry.
type TTSConfig struct {
	DefaultID string              `mapstructure:"default_id"`
	Providers []TTSProviderConfig `mapstructure:"providers"`
}

// GatewayConfig is one built-in or plugin gateway entry.
type GatewayConfig struct {
	ID     string            `mapstructure:"id"`
	Kind   string            `mapstructure:"kind"` // "openai" | "gemini" | "ollama" | "openclaw"
	Params map[string]string `mapstructure:"params"`
}

// GatewaysConfig configures internal/gateway.Registry.
type GatewaysConfig struct {
	DefaultID   string          `mapstructure:"default_id"`
	PluginDir   string          `mapstructure:"plugin_dir"`
	Builtins    []GatewayConfig `mapstructure:"builtins"`
	FallbackIDs []string        `mapstructure:"fallback_ids"`
}

// NormalizerConfig points at the speech-normalization YAML document.
type NormalizerConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// DurableConfig configures internal/durable.Sink and LiveCounters.
type DurableConfig struct {
	SQLitePath    string `mapstructure:"sqlite_path"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
}

// AuthConfig configures the edge's bearer-token verifier.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Settings is the top-level config document.
type Settings struct {
	Env        string           `mapstructure:"env"`
	Debug      bool             `mapstructure:"debug"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Session    SessionConfig    `mapstructure:"session"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Gateways   GatewaysConfig   `mapstructure:"gateways"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Durable    DurableConfig    `mapstructure:"durable"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// RegisterFlags declares the command-line overrides serve accepts on top
// of the config file. Each flag shadows the Settings field it is bound to
// in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "HTTP bind host (overrides config file)")
	fs.Int("port", 0, "HTTP port (overrides config file)")
	fs.Bool("debug", false, "Enable debug logging (overrides config file)")
}

// Load reads Settings from VOICEBRIDGE_CONFIG if set, else searches
// config_<env>.yaml in ".", "./config", "/etc/voicebridge". A non-nil
// flag set registered via RegisterFlags is bound over the file values.
func Load(fs *pflag.FlagSet) (*Settings, error) {
	if fs != nil {
		if err := bindFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	if cfgPath := os.Getenv("VOICEBRIDGE_CONFIG"); cfgPath != "" {
		viper.SetConfigFile(cfgPath)
	} else {
		viper.SetConfigName("config_" + genEnv())
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/voicebridge")
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyDefaults(&settings)
	return &settings, nil
}

func bindFlags(fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"http.host": "host",
		"http.port": "port",
		"debug":     "debug",
	}
	for key, name := range bindings {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(s *Settings) {
	if s.HTTP.Port == 0 {
		s.HTTP.Port = 8080
	}
	if s.Session.Prefix == "" {
		s.Session.Prefix = "voice"
	}
	if s.Session.HistoryCap == 0 {
		s.Session.HistoryCap = 20
	}
	if s.Profile.DefaultID == "" {
		s.Profile.DefaultID = "default"
	}
	if s.TTS.DefaultID == "" {
		s.TTS.DefaultID = "piper"
	}
	if s.Gateways.DefaultID == "" {
		s.Gateways.DefaultID = "openai"
	}
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
