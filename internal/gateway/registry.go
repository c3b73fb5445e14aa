package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/pkg/logging"
)

// manifest is the on-disk shape of plugin.json.
type manifest struct {
	ID           string   `json:"id"`
	Provides     string   `json:"provides"`
	Entry        string   `json:"entry"`
	GatewayClass string   `json:"gateway_class"`
	RequiresEnv  []string `json:"requires_env"`
}

// Registry discovers built-in and plugin gateways and routes requests to
// them by id, falling back to a designated default.
type Registry struct {
	mu        sync.RWMutex
	gateways  map[string]Gateway
	defaultID string
	logger    *logging.Logger
}

// New constructs an empty Registry. defaultID names the gateway used when
// a request's chosen gateway is absent or unconfigured.
func New(defaultID string, logger *logging.Logger) *Registry {
	return &Registry{
		gateways:  make(map[string]Gateway),
		defaultID: defaultID,
		logger:    logger,
	}
}

// Register adds a built-in gateway. Intended for startup wiring; it takes
// the registry's write lock, so it may run concurrently with Get/Resolve.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.ID()] = g
}

// LoadPlugins scans dir for subdirectories containing plugin.json, verifies
// each manifest declares provides=="gateway", checks requires_env against
// the process environment, and loads the entry via Go's plugin package,
// asserting the resolved symbol implements Gateway. Failures are logged as
// warnings and skipped; the registry never fails to start because of a bad
// plugin.
func (r *Registry) LoadPlugins(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if r.logger != nil && !os.IsNotExist(err) {
			r.logger.Warnf("gateway: plugin directory %s unreadable: %v", dir, err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		r.loadOnePlugin(sub)
	}
}

func (r *Registry) loadOnePlugin(dir string) {
	manifestPath := filepath.Join(dir, "plugin.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if r.logger != nil && !os.IsNotExist(err) {
			r.logger.Warnf("gateway: read manifest %s: %v", manifestPath, err)
		}
		return
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		if r.logger != nil {
			r.logger.Warnf("gateway: parse manifest %s: %v", manifestPath, err)
		}
		return
	}

	if m.Provides != "gateway" {
		return
	}

	for _, envVar := range m.RequiresEnv {
		if _, ok := os.LookupEnv(envVar); !ok {
			if r.logger != nil {
				r.logger.Warnf("gateway: plugin %s missing required env %s, skipping", m.ID, envVar)
			}
			return
		}
	}

	entryPath := filepath.Join(dir, m.Entry)
	p, err := plugin.Open(entryPath)
	if err != nil {
		if r.logger != nil {
			r.logger.Warnf("gateway: plugin %s failed to load %s: %v", m.ID, entryPath, err)
		}
		return
	}

	sym, err := p.Lookup(m.GatewayClass)
	if err != nil {
		if r.logger != nil {
			r.logger.Warnf("gateway: plugin %s missing symbol %s: %v", m.ID, m.GatewayClass, err)
		}
		return
	}

	g, ok := sym.(Gateway)
	if !ok {
		// an exported variable comes back as a pointer to it, so a
		// variable of type Gateway arrives as *Gateway; try that shape too.
		if ptr, ok2 := sym.(*Gateway); ok2 {
			g = *ptr
			ok = true
		}
	}
	if !ok {
		if r.logger != nil {
			r.logger.Warnf("gateway: plugin %s symbol %s does not satisfy the gateway contract", m.ID, m.GatewayClass)
		}
		return
	}

	r.Register(g)
	if r.logger != nil {
		r.logger.Infof("gateway: loaded plugin %s from %s", m.ID, dir)
	}
}

// Get returns the gateway with the given id, if any.
func (r *Registry) Get(id string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[id]
	return g, ok
}

// Resolve returns the gateway to use for id, falling back to the registry
// default when id is empty, absent, or unconfigured. Returns an error
// Event-ready message if even the default is unusable.
func (r *Registry) Resolve(id string) (Gateway, error) {
	if id != "" {
		if g, ok := r.Get(id); ok && g.IsConfigured() {
			return g, nil
		}
	}
	if g, ok := r.Get(r.defaultID); ok && g.IsConfigured() {
		return g, nil
	}
	return nil, fmt.Errorf("gateway registry: no usable gateway for id %q (default %q also unconfigured)", id, r.defaultID)
}

// List returns the ids of every registered gateway, for admin introspection.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	return ids
}

// ResolveError renders a Resolve failure as the terminal error Event the
// orchestrator must emit.
func ResolveError(err error) event.Event {
	return event.Err(err.Error())
}
