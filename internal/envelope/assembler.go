package envelope

import (
	"errors"
	"fmt"
	"sort"
)

// ErrChunkIDMismatch is returned by Add when an envelope's ChunkID does not
// match the assembler it is being added to.
var ErrChunkIDMismatch = errors.New("envelope: chunk id does not match assembler")

// Assembler accumulates the envelopes of one upload. data_by_seq and
// parity_by_seq are distinct namespaces: the same sequence number may
// appear in both without conflict.
type Assembler struct {
	chunkID  string
	data     map[int]Envelope
	parity   map[int]Envelope
	expected *int
}

// NewAssembler creates an assembler bound to chunkID.
func NewAssembler(chunkID string) *Assembler {
	return &Assembler{
		chunkID: chunkID,
		data:    make(map[int]Envelope),
		parity:  make(map[int]Envelope),
	}
}

// ChunkID returns the upload identifier this assembler was created for.
func (a *Assembler) ChunkID() string { return a.chunkID }

// Add records envelope, routing it into the data or parity namespace by
// IsParity, and updates Expected from TotalChunks if present.
func (a *Assembler) Add(e Envelope) error {
	if e.ChunkID != a.chunkID {
		return fmt.Errorf("%w: assembler=%s envelope=%s", ErrChunkIDMismatch, a.chunkID, e.ChunkID)
	}
	if e.TotalChunks != nil {
		total := *e.TotalChunks
		a.expected = &total
	}
	if e.IsParity {
		a.parity[e.Sequence] = e
	} else {
		a.data[e.Sequence] = e
	}
	return nil
}

// Expected returns the most recently observed TotalChunks value, or nil if
// none has been seen yet.
func (a *Assembler) Expected() *int { return a.expected }

// MissingSequences returns, in ascending order, the data sequence numbers in
// [0, Expected) that have not yet been received. Returns nil if Expected is
// unknown.
func (a *Assembler) MissingSequences() []int {
	if a.expected == nil {
		return nil
	}
	var missing []int
	for seq := 0; seq < *a.expected; seq++ {
		if _, ok := a.data[seq]; !ok {
			missing = append(missing, seq)
		}
	}
	return missing
}

// HasAllData reports whether every expected data sequence has been received.
func (a *Assembler) HasAllData() bool {
	if a.expected == nil {
		return false
	}
	return len(a.MissingSequences()) == 0
}

// DataEnvelopes returns all received non-parity envelopes, unordered.
func (a *Assembler) DataEnvelopes() []Envelope {
	out := make([]Envelope, 0, len(a.data))
	for _, e := range a.data {
		out = append(out, e)
	}
	return out
}

// ParityEnvelopes returns all received parity envelopes, unordered.
func (a *Assembler) ParityEnvelopes() []Envelope {
	out := make([]Envelope, 0, len(a.parity))
	for _, e := range a.parity {
		out = append(out, e)
	}
	return out
}

// ErrIncomplete is returned by Reassemble when HasAllData is false.
var ErrIncomplete = errors.New("envelope: not enough chunks received to reassemble")

// Reassemble concatenates the data envelopes in sequence order. Fails unless
// HasAllData is true.
func (a *Assembler) Reassemble() ([]byte, error) {
	if !a.HasAllData() {
		return nil, ErrIncomplete
	}
	seqs := make([]int, 0, len(a.data))
	for seq := range a.data {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	var out []byte
	for _, seq := range seqs {
		out = append(out, a.data[seq].Payload...)
	}
	return out, nil
}

// Shards collects the n optional shard slots for finish's shard-collection
// step: slot i is filled from an envelope (data or parity) that carries
// Slot()==i. On a collision a parity envelope wins over a data envelope;
// which of two colliding envelopes of the same kind wins is not defined,
// and arrival order is not consulted. rsMode selects this
// per-slot behavior; when rsMode is false, whatever data envelopes have been
// received are sorted by sequence and concatenated into a single slot 0 —
// matching _collect_shards in the reference implementation, which tolerates
// an incomplete set here and leaves completeness checking to the orchestrator's
// own decode/decrypt/size-check stages, rather than failing outright on any
// single missing sequence the way Reassemble does.
func (a *Assembler) Shards(n int, rsMode bool) [][]byte {
	if !rsMode {
		envelopes := a.DataEnvelopes()
		if len(envelopes) == 0 {
			return [][]byte{nil}
		}
		sort.Slice(envelopes, func(i, j int) bool { return envelopes[i].Sequence < envelopes[j].Sequence })
		var out []byte
		for _, e := range envelopes {
			out = append(out, e.Payload...)
		}
		return [][]byte{out}
	}

	slots := make([][]byte, n)
	assign := func(e Envelope) {
		slot := e.Slot()
		if slot >= 0 && slot < n {
			slots[slot] = e.Payload
		}
	}
	// Insertion order within each namespace is not tracked, so envelopes of
	// one kind are applied in map order; parity is applied after data so an
	// explicit fec_index collision resolves toward the parity shard.
	for _, e := range a.DataEnvelopes() {
		assign(e)
	}
	for _, e := range a.ParityEnvelopes() {
		assign(e)
	}
	return slots
}
