package pipeline

import (
	"fmt"
	"sort"

	"github.com/phrazzld/signal-api/internal/domain"
)

// SelectCount returns how many of n analyzed results are selected. An
// explicit select_count wins, capped at n. Otherwise open-ended kinds select
// ratio of n, at least one, and the other kinds select everything.
func SelectCount(task *domain.Task, n int, ratio float64) int {
	if n == 0 {
		return 0
	}
	if sc := task.Params.SelectCount; sc != nil {
		if *sc > n {
			return n
		}
		return *sc
	}
	if !task.Kind.OpenEnded() {
		return n
	}
	k := int(float64(n) * ratio)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Rank sorts results by fused score descending, keeping analysis order among
// equal scores, assigns dense ranks 1..N and selects the first k.
func Rank(results []*domain.Result, k int) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FusedScore > results[j].FusedScore
	})

	for i, r := range results {
		r.Rank = i + 1
		r.Selected = i < k
		if r.Selected {
			r.RecommendationReason = fmt.Sprintf("ranked %d of %d with fused score %.2f (%s)",
				r.Rank, len(results), r.FusedScore, r.Action)
		} else {
			r.RecommendationReason = ""
		}
	}
}
