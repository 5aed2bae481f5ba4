package vecstore

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestSerializeEmbeddingRoundTrip(t *testing.T) {
	vecs := [][]float32{
		{},
		{0},
		{1.5, -2.25, 3.75},
		{math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(1)), float32(math.Inf(-1))},
		{math.Float32frombits(0x7fc00001)}, // NaN with payload
	}
	for _, vec := range vecs {
		blob := SerializeEmbedding(vec)
		if len(blob) != 4*len(vec) {
			t.Fatalf("blob length = %d, want %d", len(blob), 4*len(vec))
		}
		got, err := DeserializeEmbedding(blob)
		if err != nil {
			t.Fatalf("DeserializeEmbedding: %v", err)
		}
		if len(got) != len(vec) {
			t.Fatalf("round trip length = %d, want %d", len(got), len(vec))
		}
		for i := range vec {
			if math.Float32bits(got[i]) != math.Float32bits(vec[i]) {
				t.Errorf("element %d = %#08x, want %#08x", i, math.Float32bits(got[i]), math.Float32bits(vec[i]))
			}
		}
	}
}

func TestSerializeEmbeddingLittleEndian(t *testing.T) {
	// 1.0 is 0x3f800000, stored least significant byte first.
	got := SerializeEmbedding([]float32{1.0})
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	if !bytes.Equal(got, want) {
		t.Fatalf("SerializeEmbedding([1.0]) = %x, want %x", got, want)
	}
}

func TestDeserializeEmbeddingBadLength(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7} {
		_, err := DeserializeEmbedding(make([]byte, n))
		if !errors.Is(err, ErrSerialization) {
			t.Errorf("DeserializeEmbedding(%d bytes) error = %v, want ErrSerialization", n, err)
		}
	}
}

func TestDeserializeEmbeddingEmpty(t *testing.T) {
	got, err := DeserializeEmbedding(nil)
	if err != nil {
		t.Fatalf("DeserializeEmbedding(nil): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("DeserializeEmbedding(nil) = %v, want empty", got)
	}
}
