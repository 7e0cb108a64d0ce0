// Package similarity ranks embedding vectors by cosine similarity.
package similarity

import (
	"math"
	"sort"
)

// DefaultTopK is the number of candidates returned when the caller does not
// ask for a specific count.
const DefaultTopK = 5

// Candidate pairs an identifier with its embedding vector. Candidates are
// ranked in slice order, which doubles as the tie-break order.
type Candidate struct {
	ID     int
	Vector []float32
}

// Match is a ranked candidate with its similarity score.
type Match struct {
	ID    int
	Score float64
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different lengths are compared over the shorter prefix. A zero-norm input
// yields 0 rather than an error.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FindMostSimilar scores every candidate against query and returns at most
// topK matches sorted by score descending. Ties keep the candidates' input
// order. A topK below 1 falls back to DefaultTopK; a topK beyond the candidate
// count returns everything.
func FindMostSimilar(query []float32, candidates []Candidate, topK int) []Match {
	if topK < 1 {
		topK = DefaultTopK
	}

	matches := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		matches = append(matches, Match{ID: cand.ID, Score: Cosine(query, cand.Vector)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
