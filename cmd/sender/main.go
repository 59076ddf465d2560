// Command sender exercises the encode direction of every core primitive
// against a running cmd/server: it compresses a file, optionally encrypts
// it behind a fresh handshake, optionally wraps it in Hamming or
// Reed-Solomon FEC, slices the result into chunk envelopes, and posts the
// whole sequence through the HTTP API before calling finish. Flag shape and
// stderr progress reporting follow cmd/keygen's CLI conventions.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/imagelab/relay/internal/compress"
	"github.com/imagelab/relay/internal/crypto"
	"github.com/imagelab/relay/internal/envelope"
	"github.com/imagelab/relay/internal/fec"
	"github.com/imagelab/relay/internal/upload"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "base URL of a running cmd/server")
	chunkSize := flag.Int("chunk-size", 256*1024, "payload bytes per chunk envelope")
	compressAlgo := flag.String("compress", "", "compression algorithm: deflate, gzip, or empty to disable")
	compressLevel := flag.Int("level", 6, "compression level (0-9)")
	encrypt := flag.Bool("encrypt", false, "negotiate a handshake and AES-GCM encrypt the payload")
	fecMode := flag.String("fec", "off", "FEC mode: off, hamming, or rs")
	rsN := flag.Int("rs-n", 12, "Reed-Solomon total shard count (rs mode only)")
	rsK := flag.Int("rs-k", 8, "Reed-Solomon data shard count (rs mode only)")
	corruptRate := flag.Float64("corrupt-rate", 0, "fraction of bytes to flip in one chunk, for demoing FEC recovery")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sender [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	filePath := flag.Arg(0)

	raw, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", filePath, err)
		os.Exit(2)
	}
	originalSize := len(raw)
	fmt.Fprintf(os.Stderr, "Read %s: %d bytes\n", filePath, originalSize)

	client := &http.Client{}

	compCfg := compress.Config{Enabled: *compressAlgo != "", Algorithm: compress.Algorithm(*compressAlgo), Level: *compressLevel}
	compressed, compStats, err := compress.Compress(raw, compCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: compression failed: %v\n", err)
		os.Exit(3)
	}
	fmt.Fprintf(os.Stderr, "Compression (%s): %d -> %d bytes\n", compCfg.Algorithm, compStats.InputBytes, compStats.OutputBytes)

	var sessionID string
	payload := compressed
	if *encrypt {
		var err error
		payload, sessionID, err = encryptPayload(client, *server, compressed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: handshake/encryption failed: %v\n", err)
			os.Exit(4)
		}
		fmt.Fprintf(os.Stderr, "Handshake established, session %s; ciphertext %d bytes\n", sessionID, len(payload))
	}

	initReq := upload.InitRequest{
		Filename: filepath.Base(filePath),
		MimeType: detectMimeType(filePath, raw),
		Pipeline: upload.PipelineSettings{
			Compression: upload.CompressionSettings{Enabled: compCfg.Enabled, Level: compCfg.Level, Algorithm: string(compCfg.Algorithm)},
			Encryption:  upload.EncryptionSettings{Enabled: *encrypt, SessionID: sessionID},
			FEC:         upload.FECSettings{Mode: *fecMode, N: *rsN, K: *rsK},
		},
		SessionID: sessionID,
	}

	var initResp upload.InitResponse
	if err := postJSON(client, *server+"/api/upload", initReq, &initResp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init_upload failed: %v\n", err)
		os.Exit(5)
	}
	fmt.Fprintf(os.Stderr, "Upload initialized: file_id=%s chunk_size=%d\n", initResp.FileID, initResp.ChunkSize)

	baseMeta := map[string]any{"original_size": originalSize}

	switch *fecMode {
	case "rs":
		if err := sendRS(client, *server, initResp.FileID, payload, *rsN, *rsK, *chunkSize, baseMeta, *corruptRate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: RS shard upload failed: %v\n", err)
			os.Exit(6)
		}
	case "hamming":
		codec := fec.NewHammingCodec()
		encoded := codec.Encode(payload)
		if err := sendPlainChunks(client, *server, initResp.FileID, encoded, *chunkSize, baseMeta, *corruptRate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Hamming chunk upload failed: %v\n", err)
			os.Exit(6)
		}
	default:
		if err := sendPlainChunks(client, *server, initResp.FileID, payload, *chunkSize, baseMeta, *corruptRate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: chunk upload failed: %v\n", err)
			os.Exit(6)
		}
	}

	var finishResult map[string]any
	finishReq := map[string]string{"file_id": initResp.FileID}
	if err := postJSON(client, *server+"/api/finish", finishReq, &finishResult); err != nil {
		fmt.Fprintf(os.Stderr, "Error: finish failed: %v\n", err)
		os.Exit(7)
	}

	out, _ := json.MarshalIndent(finishResult, "", "  ")
	fmt.Println(string(out))
}

// encryptPayload performs the client side of the X25519 handshake against
// server, derives the session's AES-GCM key, and seals plaintext as one
// frame at sequence 0, matching the orchestrator's whole-blob decrypt.
func encryptPayload(client *http.Client, server string, plaintext []byte) ([]byte, string, error) {
	clientKP, err := crypto.GenerateX25519()
	if err != nil {
		return nil, "", fmt.Errorf("generate client keypair: %w", err)
	}

	var resp crypto.HandshakeResponse
	req := map[string]string{"client_public_key": base64.StdEncoding.EncodeToString(clientKP.PublicKey[:])}
	if err := postJSON(client, server+"/api/handshake", req, &resp); err != nil {
		return nil, "", fmt.Errorf("handshake request: %w", err)
	}

	serverPubBytes, err := base64.StdEncoding.DecodeString(resp.ServerPublicKey)
	if err != nil || len(serverPubBytes) != 32 {
		return nil, "", fmt.Errorf("invalid server_public_key in handshake response")
	}
	var serverPub [32]byte
	copy(serverPub[:], serverPubBytes)

	shared, err := crypto.X25519Exchange(&clientKP.PrivateKey, &serverPub)
	if err != nil {
		return nil, "", fmt.Errorf("ECDH exchange: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(resp.Salt)
	if err != nil {
		return nil, "", fmt.Errorf("invalid salt in handshake response")
	}
	key, err := crypto.DeriveSessionKey(shared[:], salt)
	if err != nil {
		return nil, "", fmt.Errorf("derive session key: %w", err)
	}

	nonceBaseBytes, err := base64.StdEncoding.DecodeString(resp.NonceBase)
	if err != nil || len(nonceBaseBytes) != 12 {
		return nil, "", fmt.Errorf("invalid nonce_base in handshake response")
	}
	var nonceBase [12]byte
	copy(nonceBase[:], nonceBaseBytes)
	nonce := crypto.NonceForSequence(nonceBase, 0)

	ciphertext, err := crypto.Seal(key[:], nonce[:], nil, plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("seal: %w", err)
	}
	return ciphertext, resp.SessionID, nil
}

// sendPlainChunks slices data into sequential envelopes and posts each as a
// non-parity chunk. corruptRate, if positive, flips that fraction of bytes
// in the final chunk before sending, to demonstrate FEC recovery.
func sendPlainChunks(client *http.Client, server, fileID string, data []byte, chunkSize int, baseMeta map[string]any, corruptRate float64) error {
	envelopes := envelope.BuildEnvelopes(fileID, data, chunkSize)

	meta := withManifestRoot(baseMeta, fileID, envelopes)
	maybeCorruptLast(envelopes, corruptRate)

	for i, env := range envelopes {
		chunkMeta := map[string]any(nil)
		if i == 0 {
			chunkMeta = meta
		}
		req := upload.ChunkRequest{
			FileID:         fileID,
			Sequence:       env.Sequence,
			TotalSequences: env.TotalChunks,
			Payload:        env.Payload,
			Meta:           chunkMeta,
		}
		var stats map[string]any
		if err := postJSON(client, server+"/api/chunk", req, &stats); err != nil {
			return fmt.Errorf("chunk %d: %w", env.Sequence, err)
		}
	}
	fmt.Fprintf(os.Stderr, "Sent %d chunks (%d bytes)\n", len(envelopes), len(data))
	return nil
}

// sendRS encodes data into k data shards and n-k parity shards and posts
// each shard whole as one envelope: data shards to /api/chunk and parity
// shards to /api/parity, with sequence and fec_index set to the shard's
// slot. chunkSize is not applied to shards; each shard goes out in a single
// request whatever its length.
func sendRS(client *http.Client, server, fileID string, data []byte, n, k, chunkSize int, baseMeta map[string]any, corruptRate float64) error {
	codec, err := fec.NewRSCodec(k, n-k)
	if err != nil {
		return fmt.Errorf("construct RS codec: %w", err)
	}
	result, err := codec.Encode(data)
	if err != nil {
		return fmt.Errorf("RS encode: %w", err)
	}

	meta := make(map[string]any, len(baseMeta)+1)
	for key, v := range baseMeta {
		meta[key] = v
	}
	meta["rs_expected_len"] = len(data)
	meta = withManifestRoot(meta, fileID, dataShardEnvelopes(fileID, result.Shards[:k]))

	maybeCorruptShard(result.Shards, corruptRate)

	for idx, shard := range result.Shards {
		isParity := idx >= k
		var shardMeta map[string]any
		if idx == 0 {
			shardMeta = meta
		}
		fecIdx := idx
		req := upload.ChunkRequest{
			FileID:   fileID,
			Sequence: idx,
			Payload:  shard,
			IsParity: isParity,
			FECIndex: &fecIdx,
			Meta:     shardMeta,
		}
		path := "/api/chunk"
		if isParity {
			path = "/api/parity"
		}
		var stats map[string]any
		if err := postJSON(client, server+path, req, &stats); err != nil {
			return fmt.Errorf("shard %d: %w", idx, err)
		}
	}
	fmt.Fprintf(os.Stderr, "Sent %d RS shards (%d data, %d parity)\n", len(result.Shards), k, n-k)
	return nil
}

// maybeCorruptLast flips corruptRate's fraction of bytes in the last
// envelope's payload, for demoing channel-noise/FEC recovery paths.
func maybeCorruptLast(envelopes []envelope.Envelope, corruptRate float64) {
	if corruptRate <= 0 || len(envelopes) == 0 {
		return
	}
	corruptBytes(envelopes[len(envelopes)-1].Payload, corruptRate)
}

func maybeCorruptShard(shards [][]byte, corruptRate float64) {
	if corruptRate <= 0 || len(shards) == 0 {
		return
	}
	corruptBytes(shards[0], corruptRate)
}

func corruptBytes(payload []byte, rate float64) {
	flips := int(float64(len(payload)) * rate)
	for i := 0; i < flips && i < len(payload); i++ {
		payload[i] ^= 0xFF
	}
}

// withManifestRoot computes a Merkle manifest over envs' payloads (the exact
// bytes about to be posted, before any demo corruption) and returns meta
// with "manifest_root" added, per SPEC_FULL §3.1/§4.8. The receiver treats a
// mismatch as advisory only.
func withManifestRoot(meta map[string]any, fileID string, envs []envelope.Envelope) map[string]any {
	chunks := make([][]byte, len(envs))
	for i, e := range envs {
		chunks[i] = e.Payload
	}
	manifest, err := envelope.ComputeManifest(fileID, chunks)
	if err != nil {
		return meta
	}
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["manifest_root"] = manifest.MerkleRoot
	return out
}

// dataShardEnvelopes wraps RS data shards as envelopes so withManifestRoot
// can treat them uniformly with the non-RS chunking path.
func dataShardEnvelopes(fileID string, shards [][]byte) []envelope.Envelope {
	out := make([]envelope.Envelope, len(shards))
	for i, s := range shards {
		out[i] = envelope.Envelope{ChunkID: fileID, Sequence: i, Payload: s}
	}
	return out
}

func detectMimeType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func postJSON(client *http.Client, url string, body any, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := client.Post(url, "application/json", buf)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
