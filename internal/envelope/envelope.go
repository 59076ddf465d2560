// Package envelope holds the ChunkEnvelope wire record and the
// ChunkAssembler that accumulates envelopes into a reassembled upload,
// grounded on the teacher's internal/chunker package and on
// pipelines/chunking.py in the reference implementation.
package envelope

import "sort"

// MaxPayloadSize is the largest payload a single ChunkEnvelope may carry.
const MaxPayloadSize = 256 * 1024

// Envelope describes one fragment of an in-flight upload. It is immutable
// after construction; the noise engine and assembler only ever produce or
// consume copies.
type Envelope struct {
	ChunkID     string
	Sequence    int
	Payload     []byte
	IsParity    bool
	FECIndex    *int
	TotalChunks *int
	Metadata    map[string]any
}

// Clone returns a deep copy so mutating the payload of one copy (as the
// noise engine does) never aliases another holder's bytes.
func (e Envelope) Clone() Envelope {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)

	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}

	clone := e
	clone.Payload = payload
	clone.Metadata = meta
	if e.FECIndex != nil {
		idx := *e.FECIndex
		clone.FECIndex = &idx
	}
	if e.TotalChunks != nil {
		total := *e.TotalChunks
		clone.TotalChunks = &total
	}
	return clone
}

// Slot returns the shard slot this envelope occupies: FECIndex when present,
// otherwise Sequence.
func (e Envelope) Slot() int {
	if e.FECIndex != nil {
		return *e.FECIndex
	}
	return e.Sequence
}

// BuildEnvelopes slices data into sequential, non-parity envelopes of at
// most chunkSize bytes each, all sharing chunkID and TotalChunks.
func BuildEnvelopes(chunkID string, data []byte, chunkSize int) []Envelope {
	if chunkSize <= 0 {
		chunkSize = MaxPayloadSize
	}
	count := (len(data) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}

	envelopes := make([]Envelope, 0, count)
	for seq := 0; seq < count; seq++ {
		start := seq * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		total := count
		envelopes = append(envelopes, Envelope{
			ChunkID:     chunkID,
			Sequence:    seq,
			Payload:     data[start:end],
			TotalChunks: &total,
		})
	}
	return envelopes
}

// Reassemble concatenates envelope payloads in ascending sequence order.
func Reassemble(envelopes []Envelope) []byte {
	ordered := make([]Envelope, len(envelopes))
	copy(ordered, envelopes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	var out []byte
	for _, e := range ordered {
		out = append(out, e.Payload...)
	}
	return out
}
