package fec

import (
	"bytes"
	"testing"
)

func TestHamming_RoundTripClean(t *testing.T) {
	codec := NewHammingCodec()
	original := []byte("the quick brown fox jumps")
	encoded := codec.Encode(original)
	decoded, metrics, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, original)
	}
	if metrics.Corrected != 0 || metrics.DoubleError != 0 {
		t.Fatalf("expected no corrections on clean payload, got %+v", metrics)
	}
}

func TestHamming_SingleBitCorrection(t *testing.T) {
	codec := NewHammingCodec()
	original := []byte{0xAF, 0x10, 0xFF}
	encoded := codec.Encode(original)
	encoded[2] ^= 0b00000100

	decoded, metrics, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Fatalf("expected single-bit error to be corrected: got %x want %x", decoded, original)
	}
	if metrics.Corrected < 1 {
		t.Fatalf("expected at least one correction, got %+v", metrics)
	}
}

func TestHamming_TwoBitCorruptionMiscorrects(t *testing.T) {
	// Hamming(7,4) is single-error-correcting only: a genuine two-bit error
	// within one codeword is silently miscorrected to the wrong nibble
	// rather than reliably flagged, since a 3-bit syndrome cannot always
	// distinguish it from a different single-bit error.
	codec := NewHammingCodec()
	original := []byte{0x7A}
	encoded := codec.Encode(original)
	encoded[0] ^= 0b00000101

	decoded, _, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bytes.Equal(decoded, original) {
		t.Fatalf("expected two-bit corruption to produce a wrong nibble, got original back")
	}
}

func TestHamming_OddPayloadRejected(t *testing.T) {
	codec := NewHammingCodec()
	if _, _, err := codec.Decode([]byte{0x00}); err != ErrOddHammingPayload {
		t.Fatalf("expected ErrOddHammingPayload, got %v", err)
	}
}
