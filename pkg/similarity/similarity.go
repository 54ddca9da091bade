// Package similarity compares embedding vectors for the
// deduplication stage, deciding whether a newly-extracted failure
// pattern matches one already on record.
package similarity

import "math"

// CosineSimilarity returns the cosine of the angle between a and b,
// in [-1, 1]. Vectors of mismatched length, empty vectors, or a zero
// vector all yield 0, the conventional "no signal" result rather than
// a NaN or a panic.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Candidate pairs an identifier with the embedding it was indexed
// under, so BestMatch can report which candidate won without the
// caller re-deriving it from a parallel slice.
type Candidate struct {
	ID        string
	Embedding []float64
}

// Match is the winning candidate from BestMatch, along with the
// similarity score that won it.
type Match struct {
	ID    string
	Score float64
}

// BestMatch scores query against every candidate and returns the
// highest-scoring one. ok is false when candidates is empty.
func BestMatch(query []float64, candidates []Candidate) (Match, bool) {
	if len(candidates) == 0 {
		return Match{}, false
	}

	best := Match{ID: candidates[0].ID, Score: CosineSimilarity(query, candidates[0].Embedding)}
	for _, c := range candidates[1:] {
		score := CosineSimilarity(query, c.Embedding)
		if score > best.Score {
			best = Match{ID: c.ID, Score: score}
		}
	}
	return best, true
}

// BatchSimilarity scores query against every candidate and returns
// every resulting Match in candidate order, for callers that need the
// full ranking rather than just the winner (e.g. surfacing the top-N
// near-duplicates to a human reviewer).
func BatchSimilarity(query []float64, candidates []Candidate) []Match {
	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		matches[i] = Match{ID: c.ID, Score: CosineSimilarity(query, c.Embedding)}
	}
	return matches
}

// FindBestMatch is the deduplication entry point: it returns the
// candidate whose score is strictly greater than every
// earlier-considered candidate's score (first-seen tie-break) and at
// least threshold, or ok=false if no candidate clears the threshold.
func FindBestMatch(target []float64, candidates []Candidate, threshold float64) (Match, bool) {
	var winner Match
	found := false

	for i := range candidates {
		score := CosineSimilarity(target, candidates[i].Embedding)
		if score < threshold {
			continue
		}
		if !found || score > winner.Score {
			winner = Match{ID: candidates[i].ID, Score: score}
			found = true
		}
	}

	return winner, found
}

// BatchCosineSimilarity scores target against every row of matrix,
// returning one similarity per row in row order.
func BatchCosineSimilarity(matrix [][]float64, target []float64) []float64 {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		scores[i] = CosineSimilarity(row, target)
	}
	return scores
}
