// Package popularity scores articles by how often they appear in user histories,
// discounted by article age.
//
// The score of an article is computed as:
//
//	raw(a)   = count(a) / (1 + decayRate * max(daysSincePublish(a), 0))
//	score(a) = raw(a) / max(raw)
//
// so every score lies in [0,1]. The index is always rebuilt from the whole
// interaction log, it is never updated incrementally.
package popularity

import (
	"math"
	"sort"
	"time"

	"github.com/umputun/newsrec/pkg/domain"
)

// DefaultDecayRate is the decay rate used when none is given
const DefaultDecayRate = 0.1

// Scorer computes popularity indices
type Scorer struct {
	decayRate float64
	now       func() time.Time
}

// NewScorer makes a scorer with decayRate, negative means default.
// Zero disables age decay.
func NewScorer(decayRate float64, now func() time.Time) *Scorer {
	if decayRate < 0 {
		decayRate = DefaultDecayRate
	}
	if now == nil {
		now = time.Now
	}
	return &Scorer{decayRate: decayRate, now: now}
}

// ComputeIndex flattens every user's history, counts views per article and applies
// age decay. Ids missing from the article table are ignored, they can't be served.
func (s *Scorer) ComputeIndex(users []domain.UserProfile, articles *domain.ArticleTable) Index {
	counts := map[string]int{}
	for _, u := range users {
		for _, id := range u.History {
			counts[id]++
		}
	}
	if len(counts) == 0 {
		return Index{}
	}

	now := s.now()
	raw := make(map[string]float64, len(counts))
	var maxScore float64
	for id, cnt := range counts {
		a, _, ok := articles.Get(id)
		if !ok {
			continue
		}
		score := float64(cnt) * s.Decay(a.Published, now)
		raw[id] = score
		if score > maxScore {
			maxScore = score
		}
	}
	if maxScore > 0 {
		for id := range raw {
			raw[id] /= maxScore
		}
	}
	return Index{scores: raw}
}

// Decay returns the age discount for an article published at published.
// Zero publish time and future dates are not discounted.
func (s *Scorer) Decay(published, now time.Time) float64 {
	if published.IsZero() {
		return 1
	}
	days := math.Floor(now.Sub(published).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return 1 / (1 + s.decayRate*days)
}

// Index maps article ids to normalized popularity. Zero value is an empty index.
type Index struct {
	scores map[string]float64
}

// NewIndex restores an index from persisted scores, values are clamped to [0,1]
func NewIndex(scores map[string]float64) Index {
	res := make(map[string]float64, len(scores))
	for id, v := range scores {
		res[id] = math.Min(math.Max(v, 0), 1)
	}
	return Index{scores: res}
}

// Score returns article popularity, 0 for unknown ids
func (ix Index) Score(id string) float64 {
	return ix.scores[id]
}

// Len returns number of scored articles
func (ix Index) Len() int { return len(ix.scores) }

// Scores returns a copy of all scores
func (ix Index) Scores() map[string]float64 {
	res := make(map[string]float64, len(ix.scores))
	for id, v := range ix.scores {
		res[id] = v
	}
	return res
}

// Rank returns table rows with positive popularity, most popular first,
// ties broken by table order.
func (ix Index) Rank(articles *domain.ArticleTable) []int {
	res := make([]int, 0, len(ix.scores))
	for i := 0; i < articles.Len(); i++ {
		if ix.Score(articles.Row(i).ID) > 0 {
			res = append(res, i)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return ix.Score(articles.Row(res[i]).ID) > ix.Score(articles.Row(res[j]).ID)
	})
	return res
}
