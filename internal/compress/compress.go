// Package compress implements the upload pipeline's decompression stage:
// raw DEFLATE and gzip, the two algorithms the sender can select in its
// upload's pipeline settings.
package compress

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// Algorithm identifies which codec a frame was compressed with.
type Algorithm string

const (
	Deflate Algorithm = "deflate"
	Gzip    Algorithm = "gzip"
)

// ErrUnknownAlgorithm is returned for any Algorithm value other than Deflate
// or Gzip.
var ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")

// Config mirrors the sender-negotiated compression settings for one upload.
// Enabled=false means frames travel uncompressed; Compress/Decompress both
// become no-ops (matching the reference pipeline's pass-through behavior).
type Config struct {
	Enabled   bool
	Level     int
	Algorithm Algorithm
}

// Stats reports the byte counts and algorithm used by one compress or
// decompress call, mirroring the reference pipeline's per-stage metrics dict.
type Stats struct {
	Enabled     bool
	Algorithm   Algorithm
	Level       int
	InputBytes  int
	OutputBytes int
	Ratio       float64
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 9 {
		return 9
	}
	return level
}

// Compress applies cfg's algorithm at cfg's level, or passes data through
// unchanged when cfg.Enabled is false.
func Compress(data []byte, cfg Config) ([]byte, Stats, error) {
	if !cfg.Enabled {
		return data, Stats{
			Enabled:     false,
			InputBytes:  len(data),
			OutputBytes: len(data),
			Ratio:       1.0,
		}, nil
	}

	level := clampLevel(cfg.Level)
	var out []byte
	var err error
	switch cfg.Algorithm {
	case Gzip:
		out, err = compressGzip(data, level)
	case Deflate, "":
		out, err = compressDeflate(data, level)
	default:
		return nil, Stats{}, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if err != nil {
		return nil, Stats{}, err
	}

	ratio := 1.0
	if len(data) > 0 {
		ratio = float64(len(out)) / float64(len(data))
	}
	return out, Stats{
		Enabled:     true,
		Algorithm:   cfg.Algorithm,
		Level:       level,
		InputBytes:  len(data),
		OutputBytes: len(out),
		Ratio:       ratio,
	}, nil
}

// Decompress reverses Compress, or passes data through unchanged when
// cfg.Enabled is false.
func Decompress(data []byte, cfg Config) ([]byte, Stats, error) {
	if !cfg.Enabled {
		return data, Stats{
			Enabled:     false,
			InputBytes:  len(data),
			OutputBytes: len(data),
		}, nil
	}

	var out []byte
	var err error
	switch cfg.Algorithm {
	case Gzip:
		out, err = decompressGzip(data)
	case Deflate, "":
		out, err = decompressDeflate(data)
	default:
		return nil, Stats{}, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if err != nil {
		return nil, Stats{}, err
	}

	return out, Stats{
		Enabled:     true,
		Algorithm:   cfg.Algorithm,
		InputBytes:  len(data),
		OutputBytes: len(out),
	}, nil
}

func compressDeflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("compress: deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: deflate decode: %w", err)
	}
	return out, nil
}

func compressGzip(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("compress: gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compress: gzip open: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: gzip decode: %w", err)
	}
	return out, nil
}
