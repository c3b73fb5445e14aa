package tts

import (
	"fmt"
	"os"
	"regexp"
	"sync"
)

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveEnvPlaceholders replaces every ${VAR} occurrence in s with the
// value of the matching environment variable, leaving unresolved
// placeholders untouched.
func ResolveEnvPlaceholders(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		name := envPlaceholder.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// ProviderStatus describes one entry of the introspection view: providers
// unavailable at startup still appear, marked inactive.
type ProviderStatus struct {
	ID     string
	Active bool
}

// Registry holds every configured provider and implements the
// request>profile>default selection order.
type Registry struct {
	mu        sync.RWMutex
	active    map[string]Provider
	inactive  []string // ids that were configured but IsAvailable()==false
	defaultID string
}

// New constructs an empty Registry. defaultID is served when neither a
// request nor a profile names a provider.
func New(defaultID string) *Registry {
	return &Registry{
		active:    make(map[string]Provider),
		defaultID: defaultID,
	}
}

// Register adds p if it is available; otherwise it is deliberately left
// out of routing but still recorded as inactive so it appears in the list
// introspection view.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.IsAvailable() {
		r.active[p.ID()] = p
	} else {
		r.inactive = append(r.inactive, p.ID())
	}
}

// Select implements the request>profile>default fallback chain.
func (r *Registry) Select(requestID, profileID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range []string{requestID, profileID, r.defaultID} {
		if id == "" {
			continue
		}
		if p, ok := r.active[id]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("tts registry: no usable provider (request=%q profile=%q default=%q)", requestID, profileID, r.defaultID)
}

// Get returns a specific active provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.active[id]
	return p, ok
}

// List returns every configured provider (active and inactive) for admin
// introspection.
func (r *Registry) List() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderStatus, 0, len(r.active)+len(r.inactive))
	for id := range r.active {
		out = append(out, ProviderStatus{ID: id, Active: true})
	}
	for _, id := range r.inactive {
		out = append(out, ProviderStatus{ID: id, Active: false})
	}
	return out
}
