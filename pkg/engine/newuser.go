package engine

import (
	"sort"

	"github.com/umputun/newsrec/pkg/domain"
)

// newUserRecommendations serves users with no history. Half of the slots (n/2) go to
// the most popular articles inside the recency window, zero popularity allowed, so fresh
// news gets exposure. Remaining slots are filled from the all-time popularity ranking,
// skipping articles already picked. Returning fewer than n is fine.
func (e *Engine) newUserRecommendations(st *state, n int) []domain.Recommendation {
	recent := e.recentRows(st)
	sort.SliceStable(recent, func(i, j int) bool {
		return st.popular.Score(st.articles.Row(recent[i]).ID) > st.popular.Score(st.articles.Row(recent[j]).ID)
	})

	res := make([]domain.Recommendation, 0, n)
	picked := make(map[int]struct{}, n)
	for _, row := range recent {
		if len(res) >= n/2 {
			break
		}
		a := st.articles.Row(row)
		res = append(res, domain.NewRecommendation(a, st.popular.Score(a.ID), domain.SourceRecent))
		picked[row] = struct{}{}
	}

	for _, row := range st.ranked {
		if len(res) >= n {
			break
		}
		if _, ok := picked[row]; ok {
			continue
		}
		a := st.articles.Row(row)
		res = append(res, domain.NewRecommendation(a, st.popular.Score(a.ID), domain.SourcePopularity))
	}
	return res
}
