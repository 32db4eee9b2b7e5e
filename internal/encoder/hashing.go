package encoder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

const defaultHashingDimension = 512

// HashingEncoder embeds text with signed feature hashing over word tokens.
// It needs no vocabulary, so vectors stay comparable across index rebuilds.
type HashingEncoder struct {
	dim int
}

// NewHashingEncoder creates a hashing encoder with the given number of buckets
func NewHashingEncoder(dim int) (*HashingEncoder, error) {
	if dim < 8 {
		return nil, fmt.Errorf("hashing dimension must be at least 8, got %d", dim)
	}
	return &HashingEncoder{dim: dim}, nil
}

// Encode embeds each text independently
func (e *HashingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashingEncoder) embed(text string) []float32 {
	termFreq := make(map[string]int)
	for _, word := range tokenize(text) {
		termFreq[word]++
	}

	vec := make([]float32, e.dim)
	for word, count := range termFreq {
		bucket, sign := e.hash(word)
		// Sublinear TF damps repeated words
		vec[bucket] += sign * float32(1+math.Log(float64(count)))
	}

	return normalize(vec)
}

// hash maps a token to a bucket and a sign taken from the top hash bit
func (e *HashingEncoder) hash(word string) (int, float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	sum := h.Sum32()

	sign := float32(1)
	if sum>>31 == 1 {
		sign = -1
	}
	return int(sum % uint32(e.dim)), sign
}

// Dimension returns the number of hash buckets
func (e *HashingEncoder) Dimension() int {
	return e.dim
}

// ModelID returns "hashing:<dim>"
func (e *HashingEncoder) ModelID() string {
	return fmt.Sprintf("hashing:%d", e.dim)
}
