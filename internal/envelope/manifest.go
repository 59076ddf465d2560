package envelope

import (
	"encoding/base64"

	"github.com/zeebo/blake3"
)

// ChunkManifest is a sender-computed, receiver-verified integrity summary
// over an upload's ordered data chunks. It supplements (never replaces)
// spec.md's SIZE_MISMATCH as the sole hard integrity failure: a manifest
// mismatch is advisory, surfaced as a stage-metric flag only.
type ChunkManifest struct {
	SessionID   string
	ChunkCount  int
	ChunkHashes []string // BLAKE3, base64-encoded, one per data chunk in order
	MerkleRoot  string
}

// ComputeManifest hashes each data chunk with BLAKE3 and folds the hashes
// into a Merkle root, grounded on internal/chunker/chunker.go's manifest
// pass combined with merkle.go's tree construction.
func ComputeManifest(sessionID string, dataChunks [][]byte) (ChunkManifest, error) {
	hashes := make([]string, len(dataChunks))
	for i, chunk := range dataChunks {
		hashes[i] = hashChunk(chunk)
	}

	root, err := computeMerkleRoot(hashes)
	if err != nil {
		return ChunkManifest{}, err
	}

	return ChunkManifest{
		SessionID:   sessionID,
		ChunkCount:  len(dataChunks),
		ChunkHashes: hashes,
		MerkleRoot:  root,
	}, nil
}

// VerifyManifest recomputes the Merkle root over dataChunks and reports
// whether it matches manifest.MerkleRoot. Any hashing error is treated as a
// mismatch rather than propagated, since verification is advisory-only.
func VerifyManifest(manifest ChunkManifest, dataChunks [][]byte) bool {
	recomputed, err := ComputeManifest(manifest.SessionID, dataChunks)
	if err != nil {
		return false
	}
	return recomputed.MerkleRoot == manifest.MerkleRoot
}

func hashChunk(data []byte) string {
	hasher := blake3.New()
	hasher.Write(data)
	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}

// computeMerkleRoot builds a bottom-up binary Merkle tree over base64 BLAKE3
// chunk hashes, duplicating the last node of an odd-sized level, exactly as
// internal/chunker/merkle.go's ComputeMerkleRoot does.
func computeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	hashes := make([][]byte, len(chunkHashes))
	for i, hashStr := range chunkHashes {
		decoded, err := base64.StdEncoding.DecodeString(hashStr)
		if err != nil {
			return "", err
		}
		hashes[i] = decoded
	}

	for len(hashes) > 1 {
		var nextLevel [][]byte
		for i := 0; i < len(hashes); i += 2 {
			var combined []byte
			if i+1 < len(hashes) {
				combined = append(append([]byte{}, hashes[i]...), hashes[i+1]...)
			} else {
				combined = append(append([]byte{}, hashes[i]...), hashes[i]...)
			}
			hasher := blake3.New()
			hasher.Write(combined)
			nextLevel = append(nextLevel, hasher.Sum(nil))
		}
		hashes = nextLevel
	}

	return base64.StdEncoding.EncodeToString(hashes[0]), nil
}
