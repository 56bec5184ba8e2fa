// Package knn implements exact nearest-neighbor search over small vector
// sets with configurable distance metrics and temporal decay.
//
// Search is a linear scan, O(n) per query. That is the right trade below
// DefaultCandidateCeiling candidates; past that an indexing structure
// (LSH, HNSW, or an external vector store) would be needed. Nothing in
// this package shards or indexes, which is a known scaling limit.
package knn

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Metric selects the vector comparison function.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricManhattan Metric = "manhattan"
)

// DefaultHalfLife is the temporal decay half-life applied to similarity
// scores when none is configured: a match thirty days old carries half
// the weight of a match made now.
const DefaultHalfLife = 30 * 24 * time.Hour

// DefaultCandidateCeiling is the candidate-set size beyond which linear
// scans stop being a sensible strategy. Callers stay responsible for
// bounding their stores; the ceiling is advisory, not enforced.
const DefaultCandidateCeiling = 100_000

// Candidate pairs a vector with an arbitrary payload and the moment the
// payload was produced.
type Candidate[T any] struct {
	Vector    []float64
	Payload   T
	Timestamp time.Time
}

// Match is a scored search result. Similarity is the raw metric value in
// [0,1]; Score is the similarity after temporal decay and is the value
// results are ranked by.
type Match[T any] struct {
	Payload    T
	Similarity float64
	Score      float64
	Timestamp  time.Time
}

// Options tunes a search.
type Options struct {
	// HalfLife controls temporal decay. Zero disables decay entirely;
	// negative values are rejected.
	HalfLife time.Duration

	// Now anchors age computation. Zero means time.Now().
	Now time.Time
}

// FindNearest returns up to k candidates ranked by decayed similarity to
// the query, highest first. Ties are broken by the most recent timestamp.
func FindNearest[T any](query []float64, candidates []Candidate[T], k int, metric Metric, opts Options) ([]Match[T], error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if opts.HalfLife < 0 {
		return nil, fmt.Errorf("half-life must not be negative, got %s", opts.HalfLife)
	}
	switch metric {
	case MetricCosine, MetricEuclidean, MetricManhattan:
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	matches := make([]Match[T], 0, len(candidates))
	for i, c := range candidates {
		if len(c.Vector) != len(query) {
			return nil, fmt.Errorf("candidate %d has %d dimensions, query has %d", i, len(c.Vector), len(query))
		}
		sim, err := Similarity(query, c.Vector, metric)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match[T]{
			Payload:    c.Payload,
			Similarity: sim,
			Score:      sim * decayWeight(now.Sub(c.Timestamp), opts.HalfLife),
			Timestamp:  c.Timestamp,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Timestamp.After(matches[j].Timestamp)
		}
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Similarity computes a similarity in [0,1] between two equal-length
// vectors under the given metric. Distance metrics are folded into
// similarity via 1/(1+distance).
func Similarity(a, b []float64, metric Metric) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	switch metric {
	case MetricCosine:
		return cosine(a, b), nil
	case MetricEuclidean:
		return 1 / (1 + euclidean(a, b)), nil
	case MetricManhattan:
		return 1 / (1 + manhattan(a, b)), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func cosine(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattan(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

// decayWeight halves the weight of a match every halfLife of age.
func decayWeight(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	if age <= 0 {
		return 1
	}
	ageDays := age.Hours() / 24
	halfLifeDays := halfLife.Hours() / 24
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays)
}
