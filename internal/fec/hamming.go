package fec

// HammingCodec implements Hamming(7,4) single-error-correcting coding over
// nibbles. Each nibble is packed into one byte: bit 7 is always zero, and
// bits 6..0 hold p1 p2 d3 p3 d2 d1 d0 (position numbers 1..7 in that order).
type HammingCodec struct{}

// NewHammingCodec returns a ready-to-use Hamming(7,4) codec.
func NewHammingCodec() *HammingCodec {
	return &HammingCodec{}
}

func bit(value byte, index uint) byte {
	return (value >> index) & 1
}

func parity(bits ...byte) byte {
	var acc byte
	for _, b := range bits {
		acc ^= b & 1
	}
	return acc
}

func encodeNibble(nibble byte) byte {
	d3 := bit(nibble, 3)
	d2 := bit(nibble, 2)
	d1 := bit(nibble, 1)
	d0 := bit(nibble, 0)

	p1 := parity(d3, d2, d0)
	p2 := parity(d3, d1, d0)
	p3 := parity(d2, d1, d0)

	return (p1 << 6) | (p2 << 5) | (d3 << 4) | (p3 << 3) | (d2 << 2) | (d1 << 1) | d0
}

// decodeCodeword returns the recovered nibble along with correction counters.
// A nonzero syndrome always resolves to a position in 0..6 for a 7-bit
// codeword, so the double-error branch below is unreachable for genuine
// single-bit noise; it exists because Hamming(7,4) alone cannot distinguish
// a double-bit error from a different single-bit error, and silently
// miscorrecting (rather than detecting) double errors is a real, documented
// limitation of this code, not a bug to engineer around.
func decodeCodeword(code byte) (nibble byte, corrected int, doubleError int) {
	bits := [7]byte{
		bit(code, 6), bit(code, 5), bit(code, 4),
		bit(code, 3), bit(code, 2), bit(code, 1), bit(code, 0),
	}
	p1, p2, d3, p3, d2, d1, d0 := bits[0], bits[1], bits[2], bits[3], bits[4], bits[5], bits[6]

	s1 := parity(p1, d3, d2, d0)
	s2 := parity(p2, d3, d1, d0)
	s3 := parity(p3, d2, d1, d0)

	// s1 is the low bit, so syndrome-1 is the index of the flipped bit.
	syndrome := int(s3)<<2 | int(s2)<<1 | int(s1)
	if syndrome != 0 {
		pos := syndrome - 1
		if pos >= 0 && pos < 7 {
			bits[pos] ^= 1
			corrected = 1
		} else {
			doubleError = 1
		}
	}

	d3, d2, d1, d0 = bits[2], bits[4], bits[5], bits[6]
	nibble = (d3 << 3) | (d2 << 2) | (d1 << 1) | d0
	return nibble, corrected, doubleError
}

// HammingMetrics accumulates decode outcomes across a payload.
type HammingMetrics struct {
	Corrected   int
	DoubleError int
}

// Encode packs payload into a Hamming(7,4) codeword stream, two codewords
// (high nibble then low nibble) per input byte.
func (HammingCodec) Encode(payload []byte) []byte {
	encoded := make([]byte, 0, len(payload)*2)
	for _, b := range payload {
		high := (b >> 4) & 0x0F
		low := b & 0x0F
		encoded = append(encoded, encodeNibble(high), encodeNibble(low))
	}
	return encoded
}

// Decode reverses Encode, reporting how many nibbles were corrected or
// flagged as unrecoverable double errors.
func (HammingCodec) Decode(payload []byte) ([]byte, HammingMetrics, error) {
	if len(payload)%2 != 0 {
		return nil, HammingMetrics{}, ErrOddHammingPayload
	}

	var metrics HammingMetrics
	decoded := make([]byte, 0, len(payload)/2)
	for i := 0; i < len(payload); i += 2 {
		high, corrHigh, dblHigh := decodeCodeword(payload[i])
		low, corrLow, dblLow := decodeCodeword(payload[i+1])
		metrics.Corrected += corrHigh + corrLow
		metrics.DoubleError += dblHigh + dblLow
		decoded = append(decoded, (high<<4)|low)
	}
	return decoded, metrics, nil
}
