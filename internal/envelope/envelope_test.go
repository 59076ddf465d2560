package envelope

import (
	"bytes"
	"testing"
)

func TestBuildEnvelopes_SlicesSequentially(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 2500)
	envelopes := BuildEnvelopes("abc123", data, 1000)

	if len(envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envelopes))
	}
	if len(envelopes[0].Payload) != 1000 || len(envelopes[2].Payload) != 500 {
		t.Fatalf("unexpected payload lengths: %d, %d, %d",
			len(envelopes[0].Payload), len(envelopes[1].Payload), len(envelopes[2].Payload))
	}
	for _, e := range envelopes {
		if *e.TotalChunks != 3 {
			t.Fatalf("expected TotalChunks=3, got %d", *e.TotalChunks)
		}
	}
}

func TestBuildEnvelopes_EmptyDataYieldsOneEnvelope(t *testing.T) {
	envelopes := BuildEnvelopes("empty", nil, 1000)
	if len(envelopes) != 1 || len(envelopes[0].Payload) != 0 {
		t.Fatalf("expected one empty envelope, got %+v", envelopes)
	}
}

func TestReassemble_OrdersBySequence(t *testing.T) {
	e1 := Envelope{ChunkID: "x", Sequence: 1, Payload: []byte("world")}
	e0 := Envelope{ChunkID: "x", Sequence: 0, Payload: []byte("hello ")}
	out := Reassemble([]Envelope{e1, e0})
	if string(out) != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestClone_DoesNotAliasPayload(t *testing.T) {
	original := Envelope{ChunkID: "x", Sequence: 0, Payload: []byte{1, 2, 3}}
	clone := original.Clone()
	clone.Payload[0] = 0xFF
	if original.Payload[0] == 0xFF {
		t.Fatal("clone aliased the original payload")
	}
}

func TestBuildEnvelopes_ConcreteChunkingScenario(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 64) // 640 bytes
	envelopes := BuildEnvelopes("chunking-scenario", payload, 32)

	if len(envelopes) != 20 { // ceil(640/32) = 20
		t.Fatalf("expected 20 envelopes, got %d", len(envelopes))
	}

	asm := NewAssembler("chunking-scenario")
	for _, e := range envelopes {
		if err := asm.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if missing := asm.MissingSequences(); len(missing) != 0 {
		t.Fatalf("expected no missing sequences, got %v", missing)
	}
	out, err := asm.Reassemble()
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestSlot_PrefersFECIndexOverSequence(t *testing.T) {
	idx := 7
	e := Envelope{Sequence: 2, FECIndex: &idx}
	if e.Slot() != 7 {
		t.Fatalf("expected slot 7, got %d", e.Slot())
	}
	e2 := Envelope{Sequence: 3}
	if e2.Slot() != 3 {
		t.Fatalf("expected slot 3, got %d", e2.Slot())
	}
}
