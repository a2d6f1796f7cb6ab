package source

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registration binds a source kind to a factory. Version is the connector's
// own version; Compat constrains the runtime versions the connector supports.
type Registration struct {
	Kind    string
	Version *semver.Version
	Compat  *semver.Constraints
	Factory Factory
}

// Registry is the process-wide source kind registry.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Registration)}
}

// Register adds a source kind. version and compat follow semver; compat may
// be empty to accept any runtime.
func (r *Registry) Register(kind, version, compat string, factory Factory) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("source: invalid version for kind %q: %w", kind, err)
	}
	var c *semver.Constraints
	if compat != "" {
		c, err = semver.NewConstraint(compat)
		if err != nil {
			return fmt.Errorf("source: invalid compat constraint for kind %q: %w", kind, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("source: kind %q already registered", kind)
	}
	r.kinds[kind] = Registration{Kind: kind, Version: v, Compat: c, Factory: factory}
	return nil
}

// Lookup resolves a kind, checking the connector's compat range against the
// given runtime version.
func (r *Registry) Lookup(kind string, runtimeVersion *semver.Version) (Registration, error) {
	r.mu.RLock()
	reg, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return Registration{}, fmt.Errorf("source: unknown kind %q", kind)
	}
	if reg.Compat != nil && runtimeVersion != nil && !reg.Compat.Check(runtimeVersion) {
		return Registration{}, fmt.Errorf("source: kind %q (v%s) is incompatible with runtime v%s",
			kind, reg.Version, runtimeVersion)
	}
	return reg, nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	return out
}
