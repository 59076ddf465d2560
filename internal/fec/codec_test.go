package fec

import (
	"bytes"
	"errors"
	"testing"
)

func TestRSCodec_RoundTripNoLoss(t *testing.T) {
	codec, err := NewRSCodec(4, 2)
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := []byte("image/http/lab interleaved reed-solomon payload")

	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.Shards) != codec.N() {
		t.Fatalf("expected %d shards, got %d", codec.N(), len(enc.Shards))
	}

	dec, err := codec.Decode(enc.Shards, len(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(dec.Data, data) {
		t.Fatalf("round trip mismatch: got %q want %q", dec.Data, data)
	}
	if dec.Reconstructed != 0 {
		t.Fatalf("expected no reconstruction needed, got %d", dec.Reconstructed)
	}
}

func TestRSCodec_ReconstructsWithinParityBudget(t *testing.T) {
	codec, err := NewRSCodec(6, 3)
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 37)

	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	lossy := make([][]byte, len(enc.Shards))
	copy(lossy, enc.Shards)
	lossy[1] = nil
	lossy[4] = nil
	lossy[7] = nil // a parity shard

	dec, err := codec.Decode(lossy, len(data))
	if err != nil {
		t.Fatalf("Decode with 3 missing shards (budget r=3): %v", err)
	}
	if !bytes.Equal(dec.Data, data) {
		t.Fatalf("reconstructed data mismatch")
	}
	if dec.Reconstructed != 3 {
		t.Fatalf("expected 3 reconstructed shards, got %d", dec.Reconstructed)
	}
}

func TestRSCodec_TooManyErasures(t *testing.T) {
	codec, err := NewRSCodec(4, 2)
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := []byte("short payload")

	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	lossy := make([][]byte, len(enc.Shards))
	copy(lossy, enc.Shards)
	lossy[0] = nil
	lossy[1] = nil
	lossy[2] = nil

	if _, err := codec.Decode(lossy, len(data)); err == nil {
		t.Fatal("expected error when erasures exceed parity budget")
	}
}

func TestRSCodec_AllShardsNullIsDistinctFromTooManyErasures(t *testing.T) {
	codec, err := NewRSCodec(4, 2)
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := []byte("short payload")
	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	allNull := make([][]byte, len(enc.Shards))
	_, err = codec.Decode(allNull, len(data))
	if !errors.Is(err, ErrAllShardsNull) {
		t.Fatalf("expected ErrAllShardsNull, got %v", err)
	}
	if errors.Is(err, ErrTooManyErasures) {
		t.Fatal("all-null shard set must not be reported as ErrTooManyErasures")
	}
}

func TestRSCodec_InconsistentShardLengthsRejected(t *testing.T) {
	codec, err := NewRSCodec(4, 2)
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := []byte("short payload")
	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	lossy := make([][]byte, len(enc.Shards))
	copy(lossy, enc.Shards)
	lossy[0] = lossy[0][:len(lossy[0])-1] // truncate one shard by a byte

	if _, err := codec.Decode(lossy, len(data)); !errors.Is(err, ErrInconsistentShardLength) {
		t.Fatalf("expected ErrInconsistentShardLength, got %v", err)
	}
}

func TestRSCodec_ConcreteRecoveryScenario(t *testing.T) {
	codec, err := NewRSCodec(8, 4) // n=12, k=8
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := make([]byte, 120)
	for i := range data {
		data[i] = byte(i)
	}

	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.Shards) != 12 {
		t.Fatalf("expected 12 shards, got %d", len(enc.Shards))
	}

	lossy := make([][]byte, len(enc.Shards))
	copy(lossy, enc.Shards)
	lossy[1] = nil
	lossy[7] = nil
	lossy[10] = nil

	dec, err := codec.Decode(lossy, 120)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(dec.Data, data) {
		t.Fatalf("reconstructed data mismatch")
	}
	if dec.Reconstructed < 3 {
		t.Fatalf("expected at least 3 reconstructed shards, got %d", dec.Reconstructed)
	}
}

func TestRSCodec_ConcreteUnrecoverableScenario(t *testing.T) {
	codec, err := NewRSCodec(4, 4) // n=8, k=4
	if err != nil {
		t.Fatalf("NewRSCodec: %v", err)
	}
	data := []byte("example-payload")

	enc, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	lossy := make([][]byte, len(enc.Shards))
	copy(lossy, enc.Shards)
	for i := 0; i <= 4; i++ {
		lossy[i] = nil
	}

	if _, err := codec.Decode(lossy, len(data)); err == nil {
		t.Fatal("expected UNRECOVERABLE error with 5 null shards exceeding parity budget 4")
	}
}

func TestColumnSplitInterleaving(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6}
	shards := columnSplit(data, 3)
	// byte i lands at shards[i%k][i/k]
	want := [][]byte{{0, 3, 6}, {1, 4, 0}, {2, 5, 0}}
	for i := range want {
		if !bytes.Equal(shards[i], want[i]) {
			t.Fatalf("shard %d: got %v want %v", i, shards[i], want[i])
		}
	}
}
