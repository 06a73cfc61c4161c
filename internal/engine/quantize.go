package engine

// QuantizeBinary packs a float vector into its ubinary form: one sign bit per
// dimension, most significant bit first, zero-padded to a whole byte. A
// component contributes a 1 bit only when strictly positive. For a 256-dim
// vector the result is 32 bytes.
func QuantizeBinary(vec []float32) []byte {
	out := make([]byte, (len(vec)+7)/8)
	for i, v := range vec {
		if v > 0 {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}
