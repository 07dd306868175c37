package provider

import "sync"

// sourcedProvider pairs a registered Provider with the plugin/source that
// registered it, so unregister(sourceId) can remove exactly that set.
type sourcedProvider struct {
	provider Provider
	sourceID string
}

// GlobalRegistry is a process-wide, source-tagged provider registry.
// Unlike Registry (which maps a config name to a Factory used to construct
// providers from CLI/config), GlobalRegistry holds already-constructed
// Provider instances keyed by the name each reports from Name(), so plugins
// can add providers at startup and be cleanly unloaded again without
// disturbing the built-in set. It has no separate API key: Lookup matches
// that same provider name.
type GlobalRegistry struct {
	mu      sync.RWMutex
	byAPI   map[string]sourcedProvider
	builtin map[string]Provider // snapshot restored by Reset
}

var globalRegistry = newGlobalRegistry()

func newGlobalRegistry() *GlobalRegistry {
	return &GlobalRegistry{
		byAPI:   make(map[string]sourcedProvider),
		builtin: make(map[string]Provider),
	}
}

// DefaultGlobalRegistry returns the process-wide singleton.
func DefaultGlobalRegistry() *GlobalRegistry { return globalRegistry }

// Register adds (or replaces) the provider under its Name(), tagged with
// sourceID so it can later be unregistered as a unit.
func (r *GlobalRegistry) Register(p Provider, sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPI[p.Name()] = sourcedProvider{provider: p, sourceID: sourceID}
}

// RegisterBuiltin registers a provider as part of the built-in set that
// Reset restores. It is also immediately registered for lookup.
func (r *GlobalRegistry) RegisterBuiltin(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtin[p.Name()] = p
	r.byAPI[p.Name()] = sourcedProvider{provider: p, sourceID: "builtin"}
}

// Unregister removes every provider registered under sourceID.
func (r *GlobalRegistry) Unregister(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for api, sp := range r.byAPI {
		if sp.sourceID == sourceID {
			delete(r.byAPI, api)
		}
	}
}

// Clear removes every registered provider, built-in or not.
func (r *GlobalRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPI = make(map[string]sourcedProvider)
}

// Reset restores the built-in set, discarding anything plugins registered.
func (r *GlobalRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPI = make(map[string]sourcedProvider)
	for api, p := range r.builtin {
		r.byAPI[api] = sourcedProvider{provider: p, sourceID: "builtin"}
	}
}

// Lookup returns the provider registered under the name api, if any.
func (r *GlobalRegistry) Lookup(api string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.byAPI[api]
	if !ok {
		return nil, false
	}
	return sp.provider, true
}
