// Package upload is the receive-pipeline orchestrator: it owns the
// handshake and upload registries, drives chunk ingestion through the noise
// engine, and on finish runs FEC decode, AES-GCM decrypt, decompression,
// and a size check before persisting the result. Grounded on
// original_source/server/app/storage.py (registry shapes, locking) and
// original_source/server/app/http/routes_upload.py (stage sequencing).
package upload

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/imagelab/relay/internal/compress"
	"github.com/imagelab/relay/internal/crypto"
	"github.com/imagelab/relay/internal/envelope"
	"github.com/imagelab/relay/internal/fec"
	"github.com/imagelab/relay/internal/noise"
)

var tracer = otel.Tracer("github.com/imagelab/relay/internal/upload")

// Orchestrator wires the registries and per-stage codecs together into the
// receive-pipeline contract of spec §4.7.
type Orchestrator struct {
	handshakes *HandshakeRegistry
	uploads    *Registry
	engine     *noise.Engine
	dataDir    string
	chunkSize  int
	defaultRSN int
	defaultRSK int
	fecAdvisor *fec.AdaptivePolicy
}

// Options carries the subset of config.Config the orchestrator needs.
// Zero values fall back to spec §6's defaults (chunk size 262144, RS
// n=120/k=100).
type Options struct {
	ChunkSize  int
	DefaultRSN int
	DefaultRSK int
}

// NewOrchestrator creates the raw/final directory tree under dataDir and
// returns a ready orchestrator. noiseSeed seeds the channel emulator's PRNG.
func NewOrchestrator(dataDir string, noiseSeed int64, opts Options) (*Orchestrator, error) {
	rawDir := filepath.Join(dataDir, "raw")
	finalDir := filepath.Join(dataDir, "final")
	for _, dir := range []string{rawDir, finalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("upload: create data directory %s: %w", dir, err)
		}
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = maxChunkSize
	}
	rsN := opts.DefaultRSN
	rsK := opts.DefaultRSK
	if rsN <= 0 || rsK <= 0 || rsK > rsN {
		rsN, rsK = 120, 100
	}

	return &Orchestrator{
		handshakes: NewHandshakeRegistry(),
		uploads:    NewRegistry(),
		engine:     noise.NewEngine(noiseSeed),
		dataDir:    dataDir,
		chunkSize:  chunkSize,
		defaultRSN: rsN,
		defaultRSK: rsK,
		fecAdvisor: fec.NewAdaptivePolicy(fec.DefaultPolicyConfig()),
	}, nil
}

// Handshake performs the server side of the X25519 handshake and stores the
// resulting context in the handshake registry, keyed by its session id.
func (o *Orchestrator) Handshake(clientPublicKeyB64 string) (crypto.HandshakeResponse, error) {
	ctx, err := crypto.GenerateServerHandshake(clientPublicKeyB64)
	if err != nil {
		return crypto.HandshakeResponse{}, newError(KindBadRequest, "invalid handshake request", err)
	}
	o.handshakes.Store(ctx)
	return ctx.AsResponse(), nil
}

// ConfigureChannel clamps and installs cfg as the noise engine's active
// configuration, returning the clamped value.
func (o *Orchestrator) ConfigureChannel(cfg noise.Config) noise.Config {
	return o.engine.Configure(cfg)
}

func newFileID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// InitUpload allocates a new upload record and returns the negotiated
// pipeline echo.
func (o *Orchestrator) InitUpload(req InitRequest) (InitResponse, error) {
	if req.Pipeline.Encryption.Enabled && req.SessionID == "" {
		return InitResponse{}, newError(KindBadRequest, "encryption enabled but no session_id supplied", nil)
	}

	if req.Pipeline.FEC.Mode == "rs" && (req.Pipeline.FEC.N <= 0 || req.Pipeline.FEC.K <= 0) {
		req.Pipeline.FEC.N = o.defaultRSN
		req.Pipeline.FEC.K = o.defaultRSK
	}

	fileID := newFileID()
	rec := NewRecord(fileID, req.Filename, req.MimeType, req.Pipeline, req.SessionID)
	rec.SetStageMetrics("init", StageMetrics{
		"filename":  req.Filename,
		"mime_type": req.MimeType,
	})
	o.uploads.Store(rec)

	return InitResponse{
		FileID:    fileID,
		ChunkSize: o.chunkSize,
		FEC:       req.Pipeline.FEC,
		Pipeline:  req.Pipeline,
	}, nil
}

func (o *Orchestrator) getRecord(fileID string) (*Record, error) {
	rec, ok := o.uploads.Get(fileID)
	if !ok {
		return nil, newError(KindNotFound, fmt.Sprintf("unknown file_id %q", fileID), nil)
	}
	return rec, nil
}

func chunkRequestToEnvelope(req ChunkRequest) envelope.Envelope {
	return envelope.Envelope{
		ChunkID:     req.FileID,
		Sequence:    req.Sequence,
		Payload:     req.Payload,
		IsParity:    req.IsParity,
		FECIndex:    req.FECIndex,
		TotalChunks: req.TotalSequences,
		Metadata:    req.Meta,
	}
}

// IngestChunk locates the upload, runs the envelope through the noise
// engine, merges first-writer-wins metadata, and records it in the
// assembler.
func (o *Orchestrator) IngestChunk(req ChunkRequest) (noise.Stats, error) {
	return o.ingest(req)
}

// IngestParity is IngestChunk with IsParity forced true.
func (o *Orchestrator) IngestParity(req ChunkRequest) (noise.Stats, error) {
	req.IsParity = true
	return o.ingest(req)
}

func (o *Orchestrator) ingest(req ChunkRequest) (noise.Stats, error) {
	rec, err := o.getRecord(req.FileID)
	if err != nil {
		return noise.Stats{}, err
	}

	env := chunkRequestToEnvelope(req)
	processed, stats := o.engine.Apply([]envelope.Envelope{env})
	for _, item := range processed {
		rec.MergeMeta(item.Metadata)
		if err := rec.AddEnvelope(item); err != nil {
			return stats, newError(KindBadRequest, "chunk id mismatch", err)
		}
	}
	if stats.Input > 0 {
		o.fecAdvisor.Update(float64(stats.Loss) / float64(stats.Input) * 100)
	}
	return stats, nil
}

// Finish runs shard collection, FEC decode, decrypt, decompress, size-check
// and persistence, in that order, recording each stage's metrics before the
// next stage runs.
func (o *Orchestrator) Finish(ctx context.Context, fileID string) (FinishResult, error) {
	ctx, span := tracer.Start(ctx, "upload.Finish", trace.WithAttributes(attribute.String("file_id", fileID)))
	defer span.End()

	rec, err := o.getRecord(fileID)
	if err != nil {
		span.RecordError(err)
		return FinishResult{}, err
	}

	data, err := tracedStage(ctx, "fec_decode", func(ctx context.Context) ([]byte, error) {
		return o.collectAndDecodeShards(rec)
	})
	if err != nil {
		span.RecordError(err)
		return FinishResult{}, err
	}

	_, _ = tracedStage(ctx, "manifest_check", func(ctx context.Context) (struct{}, error) {
		o.checkManifest(rec)
		return struct{}{}, nil
	})

	decrypted, err := tracedStage(ctx, "decrypt", func(ctx context.Context) ([]byte, error) {
		return o.decryptStage(rec, data)
	})
	if err != nil {
		span.RecordError(err)
		return FinishResult{}, err
	}

	decompressed, err := tracedStage(ctx, "decompress", func(ctx context.Context) ([]byte, error) {
		return o.decompressStage(rec, decrypted)
	})
	if err != nil {
		span.RecordError(err)
		return FinishResult{}, err
	}

	if _, err := tracedStage(ctx, "size_check", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.sizeCheckStage(rec, decompressed)
	}); err != nil {
		span.RecordError(err)
		return FinishResult{}, err
	}

	path, err := tracedStage(ctx, "persist", func(ctx context.Context) (string, error) {
		return o.persist(rec, decompressed)
	})
	if err != nil {
		span.RecordError(err)
		return FinishResult{}, err
	}

	return FinishResult{
		FileID:    rec.FileID,
		SavedPath: path,
		Stages:    rec.StageMetricsSnapshot(),
	}, nil
}

// tracedStage wraps a single Finish stage in its own child span, named after
// the stage, so a trace of one finish call shows the per-stage breakdown a
// StageMetrics snapshot can't: wall-clock time, not just recorded counters.
func tracedStage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "upload."+name)
	defer span.End()
	result, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (o *Orchestrator) collectAndDecodeShards(rec *Record) ([]byte, error) {
	mode := rec.Pipeline.FEC.Mode
	rsMode := mode == "rs"
	n := rec.Pipeline.FEC.N
	if !rsMode {
		n = 1
	}
	shards := rec.Shards(n, rsMode)

	empty := true
	for _, s := range shards {
		if s != nil {
			empty = false
			break
		}
	}
	if empty {
		return nil, newError(KindBadRequest, "no shards collected for finish", nil)
	}

	switch mode {
	case "rs":
		codec, err := fec.NewRSCodec(rec.Pipeline.FEC.K, rec.Pipeline.FEC.N-rec.Pipeline.FEC.K)
		if err != nil {
			return nil, newError(KindInputMalformed, "invalid rs parameters", err)
		}
		expectedLen := -1
		if v, ok := rec.Meta("rs_expected_len"); ok {
			expectedLen = metaInt(v, -1)
		} else if v, ok := rec.Meta("encrypted_size"); ok {
			expectedLen = metaInt(v, -1)
		}
		result, err := codec.Decode(shards, expectedLen)
		if err != nil {
			kind := KindInputMalformed
			if fecErrIs(err, fec.ErrTooManyErasures) {
				kind = KindUnrecoverable
			}
			return nil, newError(kind, "rs decode failed", err)
		}
		rec.SetStageMetrics("fec", StageMetrics{
			"corrected": result.Reconstructed,
			"n":         rec.Pipeline.FEC.N,
			"k":         rec.Pipeline.FEC.K,
		})
		return result.Data, nil

	case "hamming":
		codec := fec.NewHammingCodec()
		decoded, metrics, err := codec.Decode(shards[0])
		if err != nil {
			return nil, newError(KindInputMalformed, "hamming decode failed", err)
		}
		rec.SetStageMetrics("fec", StageMetrics{
			"corrected":    metrics.Corrected,
			"double_error": metrics.DoubleError,
		})
		return decoded, nil

	default: // "off"
		rec.SetStageMetrics("fec", StageMetrics{"corrected": 0})
		return shards[0], nil
	}
}

// checkManifest is an advisory-only cross-check: if the sender carried a
// "manifest_root" in chunk metadata, recompute the Merkle root over the
// collected data envelopes' payloads and compare. A mismatch is recorded
// as a stage-metric flag, never as a finish failure — spec §7's
// SIZE_MISMATCH remains the sole hard integrity failure.
func (o *Orchestrator) checkManifest(rec *Record) {
	rootVal, ok := rec.Meta("manifest_root")
	if !ok {
		return
	}
	root, ok := rootVal.(string)
	if !ok {
		return
	}

	envelopes := rec.DataEnvelopes()
	sort.Slice(envelopes, func(i, j int) bool { return envelopes[i].Sequence < envelopes[j].Sequence })
	dataChunks := make([][]byte, len(envelopes))
	for i, e := range envelopes {
		dataChunks[i] = e.Payload
	}

	matched := envelope.VerifyManifest(envelope.ChunkManifest{SessionID: rec.FileID, MerkleRoot: root}, dataChunks)
	rec.SetStageMetrics("manifest", StageMetrics{
		"checked": true,
		"matches": matched,
	})
}

func fecErrIs(err error, target error) bool {
	for {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}

func metaInt(v any, fallback int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

func (o *Orchestrator) decryptStage(rec *Record, data []byte) ([]byte, error) {
	if !rec.Pipeline.Encryption.Enabled {
		rec.SetStageMetrics("encryption", StageMetrics{
			"enabled":      false,
			"input_bytes":  len(data),
			"output_bytes": len(data),
		})
		return data, nil
	}

	sessionID := rec.HandshakeSessionID
	if sessionID == "" {
		sessionID = rec.Pipeline.Encryption.SessionID
	}
	if sessionID == "" {
		return nil, newError(KindCryptoSessionMissing, "encryption enabled but no session id resolvable", nil)
	}

	ctx, ok := o.handshakes.Get(sessionID)
	if !ok {
		return nil, newError(KindCryptoSessionNotFound, fmt.Sprintf("no handshake context for session %q", sessionID), nil)
	}

	nonce := crypto.NonceForSequence(ctx.NonceBase, 0)
	plaintext, err := crypto.Open(ctx.AESKey[:], nonce[:], nil, data)
	if err != nil {
		return nil, newError(KindCryptoAuthFailed, "AES-GCM authentication failed", err)
	}

	rec.SetStageMetrics("encryption", StageMetrics{
		"enabled":      true,
		"input_bytes":  len(data),
		"output_bytes": len(plaintext),
		"session_id":   sessionID,
	})
	return plaintext, nil
}

func (o *Orchestrator) decompressStage(rec *Record, data []byte) ([]byte, error) {
	cfg := compress.Config{
		Enabled:   rec.Pipeline.Compression.Enabled,
		Level:     rec.Pipeline.Compression.Level,
		Algorithm: compress.Algorithm(rec.Pipeline.Compression.Algorithm),
	}
	out, stats, err := compress.Decompress(data, cfg)
	if err != nil {
		return nil, newError(KindInputMalformed, "decompression failed", err)
	}
	rec.SetStageMetrics("compression", StageMetrics{
		"enabled":      stats.Enabled,
		"algorithm":    string(stats.Algorithm),
		"input_bytes":  stats.InputBytes,
		"output_bytes": stats.OutputBytes,
	})
	return out, nil
}

func (o *Orchestrator) sizeCheckStage(rec *Record, data []byte) error {
	rawSize, ok := rec.Meta("original_size")
	if !ok {
		return nil
	}
	expected, ok := parseOriginalSize(rawSize)
	if !ok {
		return nil
	}
	rec.SetOriginalSize(expected)
	if int64(len(data)) != expected {
		return newError(KindSizeMismatch, fmt.Sprintf(
			"reassembled size %d does not match declared original_size %d; lower noise or enable FEC",
			len(data), expected), nil)
	}
	return nil
}

func parseOriginalSize(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (o *Orchestrator) persist(rec *Record, data []byte) (string, error) {
	safeName := sanitizeFilename(rec.Filename)
	finalPath := filepath.Join(o.dataDir, "final", rec.FileID+"_"+safeName)
	if err := os.WriteFile(finalPath, data, 0o644); err != nil {
		return "", newError(KindBadRequest, "failed to persist final blob", err)
	}
	rec.SetFinalPath(finalPath)

	expected, hasExpected := rec.OriginalSize()
	final := StageMetrics{
		"size_bytes":          len(data),
		"expected_size_bytes": nil,
	}
	if hasExpected {
		final["expected_size_bytes"] = expected
		final["matches_expected_size"] = int64(len(data)) == expected
	}
	rec.SetStageMetrics("final", final)
	return finalPath, nil
}

// Status returns the upload's current assembler gaps, readiness, and
// accumulated stage metrics.
func (o *Orchestrator) Status(fileID string) (StatusResult, error) {
	rec, err := o.getRecord(fileID)
	if err != nil {
		return StatusResult{}, err
	}
	advice := o.fecAdvisor.GetState()
	return StatusResult{
		FileID:  fileID,
		Missing: rec.MissingSequences(),
		Ready:   rec.Ready(),
		Stages:  rec.StageMetricsSnapshot(),
		FECAdvice: FECAdvice{
			Enabled:  advice.Enabled,
			K:        advice.K,
			R:        advice.R,
			LossRate: advice.LossRate,
		},
	}, nil
}

// FinalPath returns fileID's persisted blob path, or "" if it has not
// finished (or does not exist).
func (o *Orchestrator) FinalPath(fileID string) string {
	rec, ok := o.uploads.Get(fileID)
	if !ok {
		return ""
	}
	return rec.FinalPath()
}

// DecodeClientPublicKey decodes a base64 X25519 public key and checks that
// it is 32 bytes long. cmd/server does not call it; Handshake applies the
// same checks through crypto.GenerateServerHandshake.
func DecodeClientPublicKey(b64 string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("client public key must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
