// Package logging wraps zap for the conversation pipeline: one root
// logger per process, component-scoped sub-loggers for each subsystem,
// and session-key tagging so the interleaved lines of concurrent
// requests can be attributed to the voice epoch that produced them.
package logging

import "go.uber.org/zap"

// Logger is handed to every component constructor. Tests pass nil and
// components guard their call sites; Component and WithSession are safe
// on a nil receiver so wiring code never has to branch.
type Logger struct {
	*zap.SugaredLogger
}

// New builds the root logger: a human-readable console in debug mode, a
// sampled JSON encoder otherwise.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		l = zap.NewNop()
	}
	return &Logger{l.Sugar()}
}

// Component returns a sub-logger named for one pipeline subsystem (edge,
// orchestrator, a gateway id), so one process log can be filtered per
// concern.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{l.SugaredLogger.Named(name)}
}

// WithSession tags every subsequent line with the session key that owns
// the work, keeping the output of concurrently streaming requests
// attributable after the fact.
func (l *Logger) WithSession(key string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{l.SugaredLogger.With("session", key)}
}
