package envelope

import "testing"

func TestComputeManifest_DeterministicRoot(t *testing.T) {
	chunks := [][]byte{[]byte("chunk0"), []byte("chunk1"), []byte("chunk2")}
	m1, err := ComputeManifest("sess-1", chunks)
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}
	m2, err := ComputeManifest("sess-1", chunks)
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}
	if m1.MerkleRoot != m2.MerkleRoot {
		t.Fatal("expected deterministic merkle root for identical chunks")
	}
	if m1.ChunkCount != 3 || len(m1.ChunkHashes) != 3 {
		t.Fatalf("unexpected manifest shape: %+v", m1)
	}
}

func TestVerifyManifest_DetectsTampering(t *testing.T) {
	chunks := [][]byte{[]byte("chunk0"), []byte("chunk1")}
	manifest, err := ComputeManifest("sess-1", chunks)
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if !VerifyManifest(manifest, chunks) {
		t.Fatal("expected verification to succeed against unmodified chunks")
	}

	tampered := [][]byte{[]byte("chunk0"), []byte("CHUNK1-CHANGED")}
	if VerifyManifest(manifest, tampered) {
		t.Fatal("expected verification to fail against tampered chunks")
	}
}

func TestComputeManifest_EmptyChunks(t *testing.T) {
	m, err := ComputeManifest("sess-1", nil)
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}
	if m.MerkleRoot != "" || m.ChunkCount != 0 {
		t.Fatalf("expected empty manifest, got %+v", m)
	}
}
