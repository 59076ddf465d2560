package upload

import (
	"sync"
	"time"

	"github.com/imagelab/relay/internal/envelope"
)

// StageMetrics is one named stage's scalar metric bag (init, chunk, fec,
// encryption, compression, final, ...).
type StageMetrics map[string]any

// Record is one upload's server-side state: assembler, meta, and stage
// metrics are all guarded by a single per-record mutex, the Go analogue of
// the reference implementation's recursive per-record lock (daemon/manager's
// per-Session sync.RWMutex is the teacher's precedent for this shape).
type Record struct {
	FileID              string
	Filename            string
	MimeType            string
	Pipeline            PipelineSettings
	HandshakeSessionID  string
	CreatedAt           time.Time

	mu            sync.Mutex
	assembler     *envelope.Assembler
	stageMetrics  map[string]StageMetrics
	meta          map[string]any
	finalPath     string
	originalSize  *int64
}

// NewRecord allocates a Record bound to fileID with a fresh assembler.
func NewRecord(fileID, filename, mimeType string, pipeline PipelineSettings, handshakeSessionID string) *Record {
	return &Record{
		FileID:             fileID,
		Filename:           filename,
		MimeType:           mimeType,
		Pipeline:           pipeline,
		HandshakeSessionID: handshakeSessionID,
		CreatedAt:          time.Now(),
		assembler:          envelope.NewAssembler(fileID),
		stageMetrics:       make(map[string]StageMetrics),
		meta:               make(map[string]any),
	}
}

// SetStageMetrics records metrics for stage, overwriting any prior value for
// the same stage name.
func (r *Record) SetStageMetrics(stage string, metrics StageMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageMetrics[stage] = metrics
}

// StageMetricsSnapshot returns a shallow copy of every stage's metrics,
// suitable for JSON serialization.
func (r *Record) StageMetricsSnapshot() map[string]StageMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StageMetrics, len(r.stageMetrics))
	for k, v := range r.stageMetrics {
		out[k] = v
	}
	return out
}

// MergeMeta applies first-writer-wins semantics: an existing key is never
// overwritten.
func (r *Record) MergeMeta(kv map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range kv {
		if _, exists := r.meta[k]; !exists {
			r.meta[k] = v
		}
	}
}

// Meta returns the value stored under key, if any.
func (r *Record) Meta(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.meta[key]
	return v, ok
}

// AddEnvelope feeds env into the record's assembler.
func (r *Record) AddEnvelope(env envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembler.Add(env)
}

// MissingSequences reports the assembler's current gaps.
func (r *Record) MissingSequences() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembler.MissingSequences()
}

// Shards delegates to the assembler's shard-collection logic (finish's
// first step).
func (r *Record) Shards(n int, rsMode bool) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembler.Shards(n, rsMode)
}

// DataEnvelopes returns the assembler's non-parity envelopes, for the
// advisory Merkle manifest cross-check at finish.
func (r *Record) DataEnvelopes() []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembler.DataEnvelopes()
}

// SetOriginalSize records the declared pre-pipeline size once it becomes
// known (from meta["original_size"], set by the sender).
func (r *Record) SetOriginalSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.originalSize = &size
}

// OriginalSize returns the declared size, if any has been recorded.
func (r *Record) OriginalSize() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.originalSize == nil {
		return 0, false
	}
	return *r.originalSize, true
}

// SetFinalPath records the persisted blob's path. Set exactly once, by
// Finish on success.
func (r *Record) SetFinalPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalPath = path
}

// FinalPath returns the persisted path, or "" if the upload has not
// completed.
func (r *Record) FinalPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalPath
}

// Ready reports whether FinalPath has been set.
func (r *Record) Ready() bool {
	return r.FinalPath() != ""
}
