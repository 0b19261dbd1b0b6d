// Package shuffle provides the deterministic reordering used when a quiz
// attempt is created. The same (sequence, seed) pair always yields the same
// permutation, so a saved attempt renders identically on every reload.
package shuffle

import (
	"hash/fnv"
	"math/rand"
)

// NewSeed returns a fresh seed for a new attempt.
func NewSeed() int64 {
	return rand.Int63()
}

// OptionSeed derives the per-question seed from the attempt seed, so that
// each question's options shuffle independently but reproducibly.
func OptionSeed(seed int64, questionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(questionID))
	return seed ^ int64(h.Sum64())
}

// Shuffle returns a seeded Fisher-Yates permutation of ids. The input is
// never mutated; sequences of length <= 1 come back as plain copies.
func Shuffle(ids []string, seed int64) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	if len(out) <= 1 {
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	for i := len(out) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
