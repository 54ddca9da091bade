package similarity

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
	}{
		{"identical vectors", []float64{1.0, 2.0, 3.0}, []float64{1.0, 2.0, 3.0}, 1.0},
		{"orthogonal vectors", []float64{1.0, 0.0}, []float64{0.0, 1.0}, 0.0},
		{"opposite vectors", []float64{1.0, 0.0}, []float64{-1.0, 0.0}, -1.0},
		{"different lengths", []float64{1.0, 2.0}, []float64{1.0, 2.0, 3.0}, 0.0},
		{"empty vectors", []float64{}, []float64{}, 0.0},
		{"zero vector", []float64{0.0, 0.0, 0.0}, []float64{1.0, 2.0, 3.0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	query := []float64{1.0, 0.0}
	candidates := []Candidate{
		{ID: "p-1", Embedding: []float64{0.0, 1.0}},
		{ID: "p-2", Embedding: []float64{1.0, 0.0}},
		{ID: "p-3", Embedding: []float64{0.7, 0.7}},
	}

	match, ok := BestMatch(query, candidates)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.ID != "p-2" {
		t.Errorf("BestMatch id = %q, want p-2", match.ID)
	}
	if math.Abs(match.Score-1.0) > 1e-9 {
		t.Errorf("BestMatch score = %v, want 1.0", match.Score)
	}
}

func TestBestMatch_Empty(t *testing.T) {
	_, ok := BestMatch([]float64{1.0}, nil)
	if ok {
		t.Error("expected ok=false for no candidates")
	}
}

func TestFindBestMatch(t *testing.T) {
	target := []float64{1.0, 0.0}
	candidates := []Candidate{
		{ID: "p-1", Embedding: []float64{0.6, 0.8}}, // score 0.6, below threshold
		{ID: "p-2", Embedding: []float64{1.0, 0.0}}, // score 1.0
		{ID: "p-3", Embedding: []float64{0.9, 0.1}}, // lower than p-2
	}

	match, ok := FindBestMatch(target, candidates, 0.85)
	if !ok {
		t.Fatal("expected a match above threshold")
	}
	if match.ID != "p-2" {
		t.Errorf("FindBestMatch id = %q, want p-2", match.ID)
	}
}

func TestFindBestMatch_NoneAboveThreshold(t *testing.T) {
	target := []float64{1.0, 0.0}
	candidates := []Candidate{{ID: "p-1", Embedding: []float64{0.0, 1.0}}}

	_, ok := FindBestMatch(target, candidates, 0.85)
	if ok {
		t.Error("expected no match below threshold")
	}
}

func TestFindBestMatch_TieBreaksFirstSeen(t *testing.T) {
	target := []float64{1.0, 0.0}
	candidates := []Candidate{
		{ID: "first", Embedding: []float64{1.0, 0.0}},
		{ID: "second", Embedding: []float64{1.0, 0.0}},
	}

	match, ok := FindBestMatch(target, candidates, 0.5)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.ID != "first" {
		t.Errorf("FindBestMatch id = %q, want first (first-seen tie-break)", match.ID)
	}
}

func TestBatchCosineSimilarity(t *testing.T) {
	matrix := [][]float64{{1.0, 0.0}, {0.0, 1.0}}
	scores := BatchCosineSimilarity(matrix, []float64{1.0, 0.0})

	if math.Abs(scores[0]-1.0) > 1e-9 {
		t.Errorf("scores[0] = %v, want 1.0", scores[0])
	}
	if math.Abs(scores[1]-0.0) > 1e-9 {
		t.Errorf("scores[1] = %v, want 0.0", scores[1])
	}
}

func TestBatchSimilarity(t *testing.T) {
	query := []float64{1.0, 0.0}
	candidates := []Candidate{
		{ID: "p-1", Embedding: []float64{0.0, 1.0}},
		{ID: "p-2", Embedding: []float64{1.0, 0.0}},
	}

	matches := BatchSimilarity(query, candidates)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "p-1" || matches[1].ID != "p-2" {
		t.Error("BatchSimilarity should preserve candidate order")
	}
	if math.Abs(matches[1].Score-1.0) > 1e-9 {
		t.Errorf("matches[1].Score = %v, want 1.0", matches[1].Score)
	}
}
