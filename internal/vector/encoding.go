package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode encodes v as a little-endian sequence of IEEE 754 float32 values.
// The length is derived from the BLOB size on decode.
func Encode(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*size:], math.Float32bits(x))
	}
	return out
}

// Decode decodes a BLOB produced by Encode.
func Decode(b []byte) ([]float32, error) {
	const size = 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("vector: invalid blob length %d (not multiple of 4)", len(b))
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size:]))
	}
	return out, nil
}
