package vecstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SerializeEmbedding packs vec into the blob format of the vec0 virtual
// tables: consecutive little-endian IEEE-754 32-bit floats, 4 bytes per
// dimension. The encoding is exact, so a round trip through
// DeserializeEmbedding reproduces the input bit for bit.
func SerializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DeserializeEmbedding decodes a blob written by SerializeEmbedding.
func DeserializeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a whole number of float32 values: %w", len(data), ErrSerialization)
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
