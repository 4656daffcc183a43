package vectorstore

import (
	"math"
	"sort"

	"bioscout/internal/domain"
)

// DefaultTopK is used when a search asks for a non-positive number of results.
const DefaultTopK = 5

// Cosine returns the cosine similarity of a and b, 0 when either has zero length or norm.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank orders results by score descending, then newest CreatedAt, then chunk id, and
// truncates to k. Every index implementation ranks through here so ties resolve the same way.
func Rank(results []domain.SearchResult, k int) []domain.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ta, tb := a.Chunk.Metadata.CreatedAt, b.Chunk.Metadata.CreatedAt
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.Chunk.ID < b.Chunk.ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
