package crypto

// NonceForSequence computes the AES-GCM nonce for a given sequence number as
// (nonce_base + sequence) mod 2^96, treating the 12-byte base as a big-endian
// unsigned integer. This additive scheme (rather than an XOR'd counter) is
// deliberately brittle: a single whole-blob frame always uses sequence 0, so
// reusing the same handshake's nonce_base for a second frame requires the
// caller to bump sequence itself — there is no implicit per-call counter.
func NonceForSequence(base [12]byte, sequence uint64) [12]byte {
	var seqBytes [12]byte
	for i := 0; i < 8; i++ {
		seqBytes[11-i] = byte(sequence >> (8 * i))
	}

	var nonce [12]byte
	var carry uint16
	for i := 11; i >= 0; i-- {
		sum := uint16(base[i]) + uint16(seqBytes[i]) + carry
		nonce[i] = byte(sum)
		carry = sum >> 8
	}
	return nonce
}
