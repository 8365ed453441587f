package registry

import (
	"fmt"
	"strings"
	"sync"

	"synthvault/crypto"
)

// Well-known names resolvable by ledger components. The depot entry points at
// the external liquidity-sourcing component; it is resolved for introspection
// but never reimplemented here.
const (
	NameOracle     = "oracle"
	NameSynthToken = "synthtoken"
	NameFeePool    = "feepool"
	NameDepot      = "depot"
)

// View is the read-only resolution surface handed to ledger components.
// Consumers must call Resolve on every use rather than caching addresses so
// administrative rewiring takes effect on the next transition.
type View interface {
	Resolve(name string) (crypto.Address, bool)
}

// Registry maps well-known component names to their current addresses.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]crypto.Address
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]crypto.Address)}
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set records or replaces the address for the supplied name.
func (r *Registry) Set(name string, addr crypto.Address) error {
	if r == nil {
		return fmt.Errorf("registry not configured")
	}
	key := canonical(name)
	if key == "" {
		return fmt.Errorf("registry: name required")
	}
	if addr.IsZero() {
		return fmt.Errorf("registry: address for %s must not be zero", key)
	}
	r.mu.Lock()
	r.entries[key] = addr
	r.mu.Unlock()
	return nil
}

// Resolve returns the current address for the supplied name.
func (r *Registry) Resolve(name string) (crypto.Address, bool) {
	if r == nil {
		return crypto.Address{}, false
	}
	r.mu.RLock()
	addr, ok := r.entries[canonical(name)]
	r.mu.RUnlock()
	return addr, ok
}

// Names returns the currently registered names, unordered.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
