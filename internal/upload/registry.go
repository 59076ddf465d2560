package upload

import (
	"sync"

	"github.com/imagelab/relay/internal/crypto"
)

// HandshakeRegistry maps session_id to its HandshakeContext. Entries are
// immutable once stored; the map itself is guarded by a single mutex, the
// way bootstrap/main.go's TokenRegistry guards its map.
type HandshakeRegistry struct {
	mu      sync.RWMutex
	entries map[string]*crypto.HandshakeContext
}

// NewHandshakeRegistry returns an empty registry.
func NewHandshakeRegistry() *HandshakeRegistry {
	return &HandshakeRegistry{entries: make(map[string]*crypto.HandshakeContext)}
}

// Store saves ctx under its own SessionID.
func (h *HandshakeRegistry) Store(ctx *crypto.HandshakeContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[ctx.SessionID] = ctx
}

// Get returns the context for sessionID, if any.
func (h *HandshakeRegistry) Get(sessionID string) (*crypto.HandshakeContext, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ctx, ok := h.entries[sessionID]
	return ctx, ok
}

// Registry maps file_id to its Record. Lookup is serialized under a single
// mutex; mutation of an obtained Record is then serialized by the Record's
// own lock (see record.go).
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry returns an empty upload registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Store adds rec under its FileID.
func (r *Registry) Store(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.FileID] = rec
}

// Get returns the record for fileID, if any.
func (r *Registry) Get(fileID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[fileID]
	return rec, ok
}

// All returns every stored record, unordered, for listing endpoints.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
