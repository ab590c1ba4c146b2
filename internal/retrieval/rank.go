// Package retrieval ranks chunk embeddings against a query and selects a
// diverse subset of the ranked candidates.
//
// All vectors are expected to be L2-normalized, so cosine similarity is a
// plain dot product. Corpora are per user and small enough for exhaustive
// scoring; there is no approximate index.
package retrieval

import (
	"slices"
)

const (
	// DefaultTopK is the number of results kept when the caller passes k <= 0.
	DefaultTopK = 4

	// Threshold is the minimum best score for retrieval to count as
	// relevant. Below it the answer pipeline widens or gives up.
	Threshold = 0.28
)

// Scored pairs an item with its similarity to the query.
type Scored[T any] struct {
	Score float64
	Item  T
}

// Similarity returns the dot product of a and b. Extra trailing elements of
// the longer vector are ignored.
func Similarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Rank scores every item against query, sorts by descending score and keeps
// the first k. Ties keep their input order.
func Rank[T any](query []float32, items []T, vector func(T) []float32, k int) []Scored[T] {
	if k <= 0 {
		k = DefaultTopK
	}
	scored := make([]Scored[T], len(items))
	for i, item := range items {
		scored[i] = Scored[T]{Score: Similarity(query, vector(item)), Item: item}
	}
	slices.SortStableFunc(scored, func(a, b Scored[T]) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Best returns the top score, or false when ranked is empty.
func Best[T any](ranked []Scored[T]) (float64, bool) {
	if len(ranked) == 0 {
		return 0, false
	}
	return ranked[0].Score, true
}

// Weak reports whether retrieval is below Threshold. An empty result is weak.
func Weak[T any](ranked []Scored[T]) bool {
	best, ok := Best(ranked)
	return !ok || best < Threshold
}

// Items strips the scores from ranked.
func Items[T any](ranked []Scored[T]) []T {
	out := make([]T, len(ranked))
	for i, s := range ranked {
		out[i] = s.Item
	}
	return out
}
