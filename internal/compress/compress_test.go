package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompress_Disabled_PassesThrough(t *testing.T) {
	data := []byte("hello world")
	out, stats, err := Compress(data, Config{Enabled: false})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("expected pass-through, got %q", out)
	}
	if stats.Enabled || stats.Ratio != 1.0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCompress_Deflate_RoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 100))
	cfg := Config{Enabled: true, Level: 6, Algorithm: Deflate}

	compressed, stats, err := Compress(data, cfg)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !stats.Enabled || stats.Algorithm != Deflate {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(compressed) >= len(data) {
		t.Fatalf("expected compression to shrink repetitive data")
	}

	decompressed, _, err := Decompress(compressed, cfg)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompress_Gzip_RoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("upload stage metrics ", 200))
	cfg := Config{Enabled: true, Level: 9, Algorithm: Gzip}

	compressed, _, err := Compress(data, cfg)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, stats, err := Decompress(compressed, cfg)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch")
	}
	if stats.OutputBytes != len(data) {
		t.Fatalf("stats output bytes mismatch: got %d want %d", stats.OutputBytes, len(data))
	}
}

func TestCompress_LevelClamped(t *testing.T) {
	data := []byte("clamp me")
	_, stats, err := Compress(data, Config{Enabled: true, Level: 99, Algorithm: Deflate})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if stats.Level != 9 {
		t.Fatalf("expected level clamped to 9, got %d", stats.Level)
	}
}

func TestDecompress_RejectsUnknownAlgorithm(t *testing.T) {
	_, _, err := Decompress([]byte("x"), Config{Enabled: true, Algorithm: "lz4"})
	if err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestDecompress_RejectsCorruptDeflate(t *testing.T) {
	_, _, err := Decompress([]byte{0xFF, 0xFF, 0xFF}, Config{Enabled: true, Algorithm: Deflate})
	if err == nil {
		t.Fatal("expected error decompressing garbage")
	}
}
