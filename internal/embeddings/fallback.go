package embeddings

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// Fallback derives a deterministic pseudo-embedding from the normalized
// text: the content hash seeds a reproducible generator, so identical text
// always yields an identical vector and provider outages never block writes.
// Empty text maps to the zero vector.
func Fallback(normalized string, dim int) []float32 {
	vec := make([]float32, dim)
	if normalized == "" {
		return vec
	}
	sum := sha256.Sum256([]byte(normalized))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))
	for i := range vec {
		vec[i] = float32(rng.Float64()*2 - 1)
	}
	return vec
}
