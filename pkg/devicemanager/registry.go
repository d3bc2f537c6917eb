package devicemanager

import "sync"

// entry tracks one supervised child: an endpoint-bound SMIO worker,
// or the broker itself (isBroker == true, Endpoint is unused).
type entry struct {
	name         string
	endpoint     Endpoint
	spawnArgs    []string
	desiredAlive bool
	isBroker     bool
	child        Child
}

// Registry is the device manager's bookkeeping: one entry per
// supervised child, keyed by service name. Registration is idempotent
// — re-scanning the same endpoint does not duplicate its entry, per
// spec §4.6 "the scan is idempotent".
type Registry struct {
	mu     sync.Mutex
	byName map[string]*entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]*entry{}}
}

// RegisterWorker adds an endpoint-bound worker entry if name is not
// already registered. Returns true if a new entry was created.
func (r *Registry) RegisterWorker(name string, ep Endpoint, spawnArgs []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return false
	}
	r.byName[name] = &entry{name: name, endpoint: ep, spawnArgs: spawnArgs, desiredAlive: true}
	return true
}

// RegisterBroker adds the broker entry if not already present.
func (r *Registry) RegisterBroker(name string, spawnArgs []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return false
	}
	r.byName[name] = &entry{name: name, spawnArgs: spawnArgs, desiredAlive: true, isBroker: true}
	return true
}

func (r *Registry) get(name string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) setChild(name string, c Child) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		e.child = c
	}
}

// All returns every registered entry, unordered.
func (r *Registry) All() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.byName))
	for _, e := range r.byName {
		out = append(out, e)
	}
	return out
}
