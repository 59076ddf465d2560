package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// handshakeInfo is the HKDF domain-separation label for deriving the
// session's AES-GCM key, matching the reference implementation exactly so
// a client computing the same X25519 exchange derives the identical key.
const handshakeInfo = "image-http-lab-handshake"

// HandshakeContext is the server-side record of one upload's key exchange.
// It is kept in the handshake registry for the lifetime of the upload it
// was negotiated for.
type HandshakeContext struct {
	SessionID       string
	ClientPublicKey [32]byte
	ServerPrivateKey [32]byte
	ServerPublicKey [32]byte
	SharedSecret    [32]byte
	Salt            [16]byte
	AESKey          [32]byte
	NonceBase       [12]byte
	CreatedAt       time.Time
}

// GenerateServerHandshake performs the server side of an X25519 handshake
// given the client's base64-encoded public key, returning a fully derived
// HandshakeContext. Grounded on generate_server_handshake /
// derive_aes_gcm_key in the reference Python implementation.
func GenerateServerHandshake(clientPublicB64 string) (*HandshakeContext, error) {
	clientPublicBytes, err := base64.StdEncoding.DecodeString(clientPublicB64)
	if err != nil {
		return nil, fmt.Errorf("decode client public key: %w", err)
	}
	if len(clientPublicBytes) != 32 {
		return nil, fmt.Errorf("client public key must be 32 bytes, got %d", len(clientPublicBytes))
	}
	var clientPublic [32]byte
	copy(clientPublic[:], clientPublicBytes)

	serverKP, err := GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("generate server ephemeral keypair: %w", err)
	}

	sharedSecret, err := X25519Exchange(&serverKP.PrivateKey, &clientPublic)
	if err != nil {
		return nil, fmt.Errorf("ECDH exchange: %w", err)
	}

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	aesKey, err := deriveAESGCMKey(sharedSecret[:], salt[:])
	if err != nil {
		return nil, err
	}

	var nonceBase [12]byte
	if _, err := rand.Read(nonceBase[:]); err != nil {
		return nil, fmt.Errorf("generate nonce base: %w", err)
	}

	sessionID, err := randomSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	return &HandshakeContext{
		SessionID:        sessionID,
		ClientPublicKey:  clientPublic,
		ServerPrivateKey: serverKP.PrivateKey,
		ServerPublicKey:  serverKP.PublicKey,
		SharedSecret:     sharedSecret,
		Salt:             salt,
		AESKey:           aesKey,
		NonceBase:        nonceBase,
		CreatedAt:        time.Now(),
	}, nil
}

// deriveAESGCMKey derives a 32-byte AES key via HKDF-SHA256 over the X25519
// shared secret, using salt as the HKDF salt and handshakeInfo as the info
// label.
func deriveAESGCMKey(sharedSecret, salt []byte) ([32]byte, error) {
	var key [32]byte
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte(handshakeInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

// DeriveSessionKey runs the same HKDF-SHA256 derivation as the server side
// of the handshake, so a client holding its own X25519 shared secret and the
// server's advertised salt can compute the identical AES-GCM session key.
func DeriveSessionKey(sharedSecret, salt []byte) ([32]byte, error) {
	return deriveAESGCMKey(sharedSecret, salt)
}

func randomSessionID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HandshakeResponse is the wire-level shape returned to the client after a
// successful handshake (spec §6 HandshakeResponse).
type HandshakeResponse struct {
	SessionID       string `json:"session_id"`
	ServerPublicKey string `json:"server_public_key"`
	Salt            string `json:"salt"`
	NonceBase       string `json:"nonce_base"`
	Algorithm       string `json:"algorithm"`
}

// AsResponse renders the public fields of the handshake for transmission to
// the client. The private key, shared secret, and derived AES key never
// leave the server.
func (h *HandshakeContext) AsResponse() HandshakeResponse {
	return HandshakeResponse{
		SessionID:       h.SessionID,
		ServerPublicKey: base64.StdEncoding.EncodeToString(h.ServerPublicKey[:]),
		Salt:            base64.StdEncoding.EncodeToString(h.Salt[:]),
		NonceBase:       base64.StdEncoding.EncodeToString(h.NonceBase[:]),
		Algorithm:       "x25519-hkdf-sha256/aes-gcm",
	}
}
