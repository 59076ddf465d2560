package fec

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrOddHammingPayload is returned when a Hamming-coded payload does not
	// hold a whole number of codeword pairs.
	ErrOddHammingPayload = errors.New("fec: hamming payload length must be even")

	// ErrShardCountMismatch is returned when a caller hands back a different
	// number of shards than a RSCodec was built for.
	ErrShardCountMismatch = errors.New("fec: shard count does not match codec parameters")

	// ErrTooManyErasures is returned when more shards are missing than the
	// codec's parity budget can reconstruct.
	ErrTooManyErasures = errors.New("fec: too many missing shards to reconstruct")

	// ErrAllShardsNull is returned when every shard handed to Decode is nil,
	// i.e. there is nothing to reconstruct from at all. Distinct from
	// ErrTooManyErasures so callers can tell "malformed request" apart from
	// "channel lost more than the parity budget".
	ErrAllShardsNull = errors.New("fec: all shards are nil")

	// ErrInconsistentShardLength is returned when the non-nil shards handed
	// to Decode do not all share the same length.
	ErrInconsistentShardLength = errors.New("fec: shards have inconsistent lengths")
)

// RSCodec drives systematic Reed-Solomon(n, k) across column-interleaved
// shards: byte i of the input lands at shards[i%k][i/k], so one GF(256)
// codeword spans byte offset i across every shard. klauspost/reedsolomon
// computes exactly that per-offset codeword internally, so this type only
// owns the interleaving the teacher's shard-level Encoder/Decoder don't do.
type RSCodec struct {
	k, r    int
	encoder *Encoder
	decoder *Decoder
}

// NewRSCodec builds a codec for k data shards and r parity shards (n = k+r).
func NewRSCodec(k, r int) (*RSCodec, error) {
	enc, err := NewEncoder(k, r)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder(k, r)
	if err != nil {
		return nil, err
	}
	return &RSCodec{k: k, r: r, encoder: enc, decoder: dec}, nil
}

// N returns the total shard count (k + r).
func (c *RSCodec) N() int { return c.k + c.r }

// columnSplit distributes data across k shards in interleaved (column-major)
// order, matching the reference codec's placement so shard i holds every
// k-th byte of the input starting at offset i.
func columnSplit(data []byte, k int) [][]byte {
	shardLen := (len(data) + k - 1) / k
	if shardLen < 1 {
		shardLen = 1
	}
	shards := make([][]byte, k)
	for i := range shards {
		shards[i] = make([]byte, shardLen)
	}
	for idx, b := range data {
		shards[idx%k][idx/k] = b
	}
	return shards
}

// columnJoin reverses columnSplit. expectedLen >= 0 truncates to that exact
// length; a negative expectedLen strips trailing zero padding instead,
// matching the reference implementation's fallback when the caller does not
// know the original length up front.
func columnJoin(shards [][]byte, k int, expectedLen int) []byte {
	if len(shards) == 0 || len(shards[0]) == 0 {
		return nil
	}
	shardLen := len(shards[0])
	out := make([]byte, 0, shardLen*k)
	for offset := 0; offset < shardLen; offset++ {
		for shardIdx := 0; shardIdx < k; shardIdx++ {
			out = append(out, shards[shardIdx][offset])
		}
	}
	if expectedLen >= 0 {
		if expectedLen > len(out) {
			expectedLen = len(out)
		}
		return out[:expectedLen]
	}
	return bytes.TrimRight(out, "\x00")
}

// EncodeResult carries the produced shards plus the metadata needed to
// reassemble and report on them later.
type EncodeResult struct {
	Shards    [][]byte // length k+r; [0:k) data, [k:k+r) parity
	ShardLen  int
	InputSize int
}

// Encode splits data into k interleaved data shards and computes r parity
// shards over them.
func (c *RSCodec) Encode(data []byte) (EncodeResult, error) {
	dataShards := columnSplit(data, c.k)
	parity, err := c.encoder.Encode(dataShards)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("fec: rs encode: %w", err)
	}

	shards := make([][]byte, 0, c.k+c.r)
	shards = append(shards, dataShards...)
	shards = append(shards, parity...)

	return EncodeResult{
		Shards:    shards,
		ShardLen:  len(dataShards[0]),
		InputSize: len(data),
	}, nil
}

// DecodeResult reports how many shards were reconstructed from parity.
type DecodeResult struct {
	Data        []byte
	Reconstructed int
}

// Decode reconstructs any missing shards (nil entries in shards) and
// reassembles the original byte stream. expectedLen >= 0 truncates the
// output to that exact length; pass -1 to strip zero padding instead.
func (c *RSCodec) Decode(shards [][]byte, expectedLen int) (DecodeResult, error) {
	if len(shards) != c.N() {
		return DecodeResult{}, fmt.Errorf("%w: want %d, got %d", ErrShardCountMismatch, c.N(), len(shards))
	}

	missing := 0
	shardLen := -1
	for _, s := range shards {
		if s == nil {
			missing++
			continue
		}
		if shardLen == -1 {
			shardLen = len(s)
		} else if len(s) != shardLen {
			return DecodeResult{}, fmt.Errorf("%w: got lengths %d and %d", ErrInconsistentShardLength, shardLen, len(s))
		}
	}
	if missing == len(shards) {
		return DecodeResult{}, fmt.Errorf("%w: %d shards, all nil", ErrAllShardsNull, len(shards))
	}
	if missing > c.r {
		return DecodeResult{}, fmt.Errorf("%w: %d missing, budget %d", ErrTooManyErasures, missing, c.r)
	}

	working := make([][]byte, len(shards))
	copy(working, shards)
	if missing > 0 {
		if err := c.decoder.Reconstruct(working); err != nil {
			return DecodeResult{}, fmt.Errorf("fec: rs reconstruct: %w", err)
		}
	}

	data := columnJoin(working[:c.k], c.k, expectedLen)
	return DecodeResult{Data: data, Reconstructed: missing}, nil
}
