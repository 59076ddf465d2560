// Package noise emulates a lossy channel: envelope loss, per-bit errors,
// duplication, and reordering, grounded on the reference implementation's
// NoiseEngine (original_source/server/app/noise.py).
package noise

import (
	"math/rand"

	"github.com/imagelab/relay/internal/envelope"
)

// Config holds the four clamp-on-ingest probabilities controlling the
// channel's emulated behavior (spec §6 POST /api/config/channel wire
// shape: loss, ber, duplicate, reorder).
type Config struct {
	Loss      float64 `json:"loss"`
	BER       float64 `json:"ber"`
	Duplicate float64 `json:"duplicate"`
	Reorder   float64 `json:"reorder"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp returns cfg with every field restricted to [0,1].
func (cfg Config) Clamp() Config {
	return Config{
		Loss:      clamp01(cfg.Loss),
		BER:       clamp01(cfg.BER),
		Duplicate: clamp01(cfg.Duplicate),
		Reorder:   clamp01(cfg.Reorder),
	}
}

// Stats reports the counters produced by one Engine.Apply call (spec §4.3
// wire shape: input, output, loss, bit_flips, duplicate, reordered).
type Stats struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	Loss      int `json:"loss"`
	BitFlips  int `json:"bit_flips"`
	Duplicate int `json:"duplicate"`
	Reordered int `json:"reordered"`
}

// Engine applies Config's distortions to a batch of envelopes using its own
// seeded PRNG, so test runs are reproducible.
type Engine struct {
	config Config
	rng    *rand.Rand
}

// NewEngine returns an Engine seeded with seed. The same seed always
// produces the same sequence of distortions for the same input and config.
func NewEngine(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Configure clamps and stores cfg as the engine's active configuration,
// returning the clamped value.
func (e *Engine) Configure(cfg Config) Config {
	e.config = cfg.Clamp()
	return e.config
}

// CurrentConfig returns the engine's active configuration.
func (e *Engine) CurrentConfig() Config { return e.config }

// Apply runs the loss/BER/duplicate/reorder pipeline over envelopes in
// order: each survives loss independently, then its payload bits are
// flipped independently at rate BER, then it may be duplicated, and finally
// the whole emitted batch may be shuffled once.
func (e *Engine) Apply(envelopes []envelope.Envelope) ([]envelope.Envelope, Stats) {
	cfg := e.config
	stats := Stats{Input: len(envelopes)}

	processed := make([]envelope.Envelope, 0, len(envelopes))
	for _, env := range envelopes {
		if e.rng.Float64() < cfg.Loss {
			stats.Loss++
			continue
		}

		mutated := env.Clone()
		for byteIdx := range mutated.Payload {
			for bitIdx := 0; bitIdx < 8; bitIdx++ {
				if e.rng.Float64() < cfg.BER {
					mutated.Payload[byteIdx] ^= 1 << uint(bitIdx)
					stats.BitFlips++
				}
			}
		}
		processed = append(processed, mutated)

		if e.rng.Float64() < cfg.Duplicate {
			stats.Duplicate++
			processed = append(processed, mutated)
		}
	}

	if len(processed) > 0 && e.rng.Float64() < cfg.Reorder {
		stats.Reordered = 1
		e.rng.Shuffle(len(processed), func(i, j int) {
			processed[i], processed[j] = processed[j], processed[i]
		})
	}

	stats.Output = len(processed)
	return processed, stats
}
