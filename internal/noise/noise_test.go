package noise

import (
	"testing"

	"github.com/imagelab/relay/internal/envelope"
)

func makeEnvelopes(n int) []envelope.Envelope {
	out := make([]envelope.Envelope, n)
	for i := range out {
		out[i] = envelope.Envelope{ChunkID: "u", Sequence: i, Payload: []byte{0xAA, 0xBB, 0xCC}}
	}
	return out
}

func TestEngine_NoNoiseIsIdentity(t *testing.T) {
	e := NewEngine(1)
	e.Configure(Config{})
	in := makeEnvelopes(5)

	out, stats := e.Apply(in)
	if len(out) != 5 || stats.Loss != 0 || stats.BitFlips != 0 || stats.Duplicate != 0 {
		t.Fatalf("expected identity pass-through, got %+v", stats)
	}
	for i, env := range out {
		if string(env.Payload) != string(in[i].Payload) {
			t.Fatalf("payload mutated with zero BER")
		}
	}
}

func TestEngine_FullLossDropsEverything(t *testing.T) {
	e := NewEngine(2)
	e.Configure(Config{Loss: 1.0})
	out, stats := e.Apply(makeEnvelopes(10))
	if len(out) != 0 || stats.Loss != 10 || stats.Output != 0 {
		t.Fatalf("expected all envelopes lost, got %+v", stats)
	}
}

func TestEngine_FullDuplicateDoublesOutput(t *testing.T) {
	e := NewEngine(3)
	e.Configure(Config{Duplicate: 1.0})
	out, stats := e.Apply(makeEnvelopes(4))
	if len(out) != 8 || stats.Duplicate != 4 {
		t.Fatalf("expected every envelope duplicated, got %+v", stats)
	}
}

func TestEngine_ClonesDoNotAliasInput(t *testing.T) {
	e := NewEngine(4)
	e.Configure(Config{BER: 1.0})
	in := makeEnvelopes(1)
	original := append([]byte{}, in[0].Payload...)

	_, _ = e.Apply(in)
	if string(in[0].Payload) != string(original) {
		t.Fatal("Apply mutated the caller's input envelope")
	}
}

func TestEngine_ConfigureClampsOutOfRangeValues(t *testing.T) {
	e := NewEngine(5)
	clamped := e.Configure(Config{Loss: -1, BER: 2, Duplicate: 1.5, Reorder: -0.5})
	if clamped.Loss != 0 || clamped.BER != 1 || clamped.Duplicate != 1 || clamped.Reorder != 0 {
		t.Fatalf("expected all fields clamped into [0,1], got %+v", clamped)
	}
}

func TestEngine_ConcreteDeterminismScenario(t *testing.T) {
	cfg := Config{Loss: 0.2, BER: 0, Duplicate: 0.5, Reorder: 1.0}

	e1 := NewEngine(1234)
	e1.Configure(cfg)
	out1, stats1 := e1.Apply(makeEnvelopes(5))

	e2 := NewEngine(1234)
	e2.Configure(cfg)
	out2, stats2 := e2.Apply(makeEnvelopes(5))

	if stats1.Input != 5 || stats2.Input != 5 {
		t.Fatalf("expected stats.input == 5, got %d and %d", stats1.Input, stats2.Input)
	}
	if stats1.Reordered != 0 && stats1.Reordered != 1 {
		t.Fatalf("expected reordered in {0,1}, got %d", stats1.Reordered)
	}
	if stats1 != stats2 {
		t.Fatalf("expected identical stats for identical seed: %+v vs %+v", stats1, stats2)
	}
	if len(out1) != len(out2) {
		t.Fatalf("expected identical output length for identical seed")
	}
	for i := range out1 {
		if string(out1[i].Payload) != string(out2[i].Payload) || out1[i].Sequence != out2[i].Sequence {
			t.Fatalf("expected identical ordering for identical seed at index %d", i)
		}
	}
}

func TestEngine_DeterministicForSameSeed(t *testing.T) {
	cfg := Config{Loss: 0.3, BER: 0.01, Duplicate: 0.2, Reorder: 0.5}

	e1 := NewEngine(42)
	e1.Configure(cfg)
	out1, stats1 := e1.Apply(makeEnvelopes(20))

	e2 := NewEngine(42)
	e2.Configure(cfg)
	out2, stats2 := e2.Apply(makeEnvelopes(20))

	if stats1 != stats2 || len(out1) != len(out2) {
		t.Fatalf("expected identical runs for identical seed: %+v vs %+v", stats1, stats2)
	}
	for i := range out1 {
		if string(out1[i].Payload) != string(out2[i].Payload) || out1[i].Sequence != out2[i].Sequence {
			t.Fatalf("expected identical envelope sequence for identical seed at index %d", i)
		}
	}
}
