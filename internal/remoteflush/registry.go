package remoteflush

// registry.go implements the control-plane discovery registry: an
// in-memory map keyed by endpoint, serialized by a single lock, matched by
// linear scan — per spec.md §4.6. No persistence; entries leak on crash
// and are expected to be reaped by liveness probes run by the embedding
// application (out of scope here, same as internal/vfs leaves lock-file
// liveness to the OS).

import (
	"sync"

	"github.com/ridgelinedb/ridgeline/internal/transport"
)

// Role identifies what kind of party a registry entry represents.
type Role int

const (
	RoleMemNode Role = iota
	RoleWorker
)

// Entry is one row of the discovery registry.
type Entry struct {
	Endpoint     string
	Role         Role
	Busy         bool
	CapacityByte int64
	UsedBytes    int64
	Capabilities transport.Capabilities
}

// Registry is a goroutine-safe map of known memory nodes and workers,
// keyed by endpoint ("host:port").
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds or replaces the entry for endpoint.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := e
	r.entries[e.Endpoint] = &cp
}

// Deregister removes endpoint from the registry. Idempotent.
func (r *Registry) Deregister(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, endpoint)
}

// Get returns a copy of the entry for endpoint, if present.
func (r *Registry) Get(endpoint string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[endpoint]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AcquireWorker performs a linear scan for a non-busy worker entry and
// atomically marks it busy under the registry lock, returning its
// endpoint. Returns "", false if none are free.
func (r *Registry) AcquireWorker() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, e := range r.entries {
		if e.Role == RoleWorker && !e.Busy {
			e.Busy = true
			return endpoint, true
		}
	}
	return "", false
}

// ReleaseWorker clears the busy flag for endpoint. Idempotent; a missing
// entry is silently ignored (the worker may have deregistered already).
func (r *Registry) ReleaseWorker(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[endpoint]; ok {
		e.Busy = false
	}
}

// ReserveMemNodeCapacity performs a linear scan for a memory node with
// enough spare capacity for sizeBytes and reserves it, returning its
// endpoint. Returns "", false if none qualify.
func (r *Registry) ReserveMemNodeCapacity(sizeBytes int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, e := range r.entries {
		if e.Role == RoleMemNode && e.UsedBytes+sizeBytes <= e.CapacityByte {
			e.UsedBytes += sizeBytes
			return endpoint, true
		}
	}
	return "", false
}

// ReleaseMemNodeCapacity returns sizeBytes to endpoint's budget. Idempotent
// against a missing entry.
func (r *Registry) ReleaseMemNodeCapacity(endpoint string, sizeBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[endpoint]; ok {
		e.UsedBytes -= sizeBytes
		if e.UsedBytes < 0 {
			e.UsedBytes = 0
		}
	}
}

// Snapshot returns a copy of every entry, for diagnostics and tests.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}
