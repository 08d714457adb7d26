// Package embedding produces fixed-dimension vectors for memory text.
//
// Providers never return errors: a failed or unavailable embedding service
// yields ok=false and every consumer must carry a non-vector fallback path.
package embedding

import (
	"context"
	"encoding/binary"
	"math"
)

// Provider converts text to an embedding vector.
type Provider interface {
	// Model identifies the backing embedding model.
	Model() string
	// Embed returns the vector for text, or ok=false when the service is
	// unreachable, times out, or returns a malformed payload.
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Zero vectors or mismatched lengths score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EncodeBlob packs a vector into little-endian float32 bytes for BLOB storage.
func EncodeBlob(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// DecodeBlob unpacks EncodeBlob output. Trailing partial floats are dropped.
func DecodeBlob(blob []byte) []float32 {
	n := len(blob) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
