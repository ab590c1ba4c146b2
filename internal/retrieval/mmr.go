package retrieval

import "math"

// DefaultLambda weights relevance against redundancy in SelectMMR.
const DefaultLambda = 0.7

// SelectMMR picks up to k candidates by maximal marginal relevance.
//
// candidates must already be sorted by relevance, and vectors[i] is the
// embedding of candidates[i]. The first candidate is always selected. Each
// following pick maximizes
//
//	lambda*sim(query, c) - (1-lambda)*max(sim(c, s) for s in selected)
//
// with ties going to the lowest index. With lambda = 1 the result is the
// input order.
func SelectMMR[T any](query []float32, candidates []T, vectors [][]float32, k int, lambda float64) []T {
	n := min(len(candidates), len(vectors))
	if k <= 0 || n == 0 {
		return nil
	}
	k = min(k, n)

	relevance := make([]float64, n)
	for i := 0; i < n; i++ {
		relevance[i] = Similarity(query, vectors[i])
	}

	selected := make([]int, 0, k)
	taken := make([]bool, n)
	selected = append(selected, 0)
	taken[0] = true

	// redundancy[i] tracks max similarity of candidate i to the selected set.
	redundancy := make([]float64, n)
	for i := 1; i < n; i++ {
		redundancy[i] = Similarity(vectors[i], vectors[0])
	}

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := 0; i < n; i++ {
			if taken[i] {
				continue
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy[i]
			if score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, bestIdx)
		taken[bestIdx] = true
		for i := 0; i < n; i++ {
			if !taken[i] {
				redundancy[i] = max(redundancy[i], Similarity(vectors[i], vectors[bestIdx]))
			}
		}
	}

	out := make([]T, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx]
	}
	return out
}
