package envelope

import "testing"

func total(n int) *int { return &n }

func TestAssembler_AddRejectsMismatchedChunkID(t *testing.T) {
	a := NewAssembler("upload-1")
	err := a.Add(Envelope{ChunkID: "upload-2", Sequence: 0})
	if err == nil {
		t.Fatal("expected chunk id mismatch error")
	}
}

func TestAssembler_DataAndParityAreDistinctNamespaces(t *testing.T) {
	a := NewAssembler("u")
	must := func(err error) {
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	must(a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("data"), TotalChunks: total(1)}))
	must(a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("parity"), IsParity: true}))

	if len(a.DataEnvelopes()) != 1 || len(a.ParityEnvelopes()) != 1 {
		t.Fatalf("expected one data and one parity envelope at the same sequence")
	}
}

func TestAssembler_MissingSequencesAndHasAllData(t *testing.T) {
	a := NewAssembler("u")
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("a"), TotalChunks: total(3)})
	a.Add(Envelope{ChunkID: "u", Sequence: 2, Payload: []byte("c")})

	if a.HasAllData() {
		t.Fatal("expected HasAllData false with one chunk missing")
	}
	missing := a.MissingSequences()
	if len(missing) != 1 || missing[0] != 1 {
		t.Fatalf("expected missing=[1], got %v", missing)
	}

	a.Add(Envelope{ChunkID: "u", Sequence: 1, Payload: []byte("b")})
	if !a.HasAllData() {
		t.Fatal("expected HasAllData true once all sequences arrive")
	}
}

func TestAssembler_Reassemble(t *testing.T) {
	a := NewAssembler("u")
	a.Add(Envelope{ChunkID: "u", Sequence: 1, Payload: []byte("world"), TotalChunks: total(2)})
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("hello ")})

	out, err := a.Reassemble()
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestAssembler_ReassembleFailsWhenIncomplete(t *testing.T) {
	a := NewAssembler("u")
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("a"), TotalChunks: total(2)})
	if _, err := a.Reassemble(); err == nil {
		t.Fatal("expected ErrIncomplete")
	}
}

func TestAssembler_ShardsRSMode(t *testing.T) {
	a := NewAssembler("u")
	idx0, idx1, idx2 := 0, 1, 2
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("d0"), FECIndex: &idx0})
	a.Add(Envelope{ChunkID: "u", Sequence: 1, Payload: []byte("d1"), FECIndex: &idx1})
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("p0"), IsParity: true, FECIndex: &idx2})

	shards := a.Shards(3, true)
	if string(shards[0]) != "d0" || string(shards[1]) != "d1" || string(shards[2]) != "p0" {
		t.Fatalf("unexpected shard placement: %v", shards)
	}
}

func TestAssembler_ShardsNonRSModeConcatenates(t *testing.T) {
	a := NewAssembler("u")
	a.Add(Envelope{ChunkID: "u", Sequence: 1, Payload: []byte("world"), TotalChunks: total(2)})
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("hello ")})

	shards := a.Shards(1, false)
	if len(shards) != 1 || string(shards[0]) != "hello world" {
		t.Fatalf("unexpected shards: %v", shards)
	}
}

func TestAssembler_ShardsNonRSModeConcatenatesWhateverArrivedEvenIfIncomplete(t *testing.T) {
	a := NewAssembler("u")
	a.Add(Envelope{ChunkID: "u", Sequence: 0, Payload: []byte("hello "), TotalChunks: total(3)})
	a.Add(Envelope{ChunkID: "u", Sequence: 2, Payload: []byte("!")})
	// sequence 1 never arrives

	shards := a.Shards(1, false)
	if len(shards) != 1 || string(shards[0]) != "hello !" {
		t.Fatalf("expected concatenation of whatever arrived, got %v", shards)
	}
}

func TestAssembler_ShardsNonRSModeEmptyYieldsSingleNilSlot(t *testing.T) {
	a := NewAssembler("u")
	shards := a.Shards(1, false)
	if len(shards) != 1 || shards[0] != nil {
		t.Fatalf("expected a single nil slot for zero envelopes, got %v", shards)
	}
}
