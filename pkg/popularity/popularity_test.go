package popularity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/umputun/newsrec/pkg/domain"
)

var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func TestScorer_ComputeIndex(t *testing.T) {
	articles := domain.NewArticleTable([]domain.Article{
		{ID: "a1", Published: testNow},
		{ID: "a2", Published: testNow.Add(-10 * 24 * time.Hour)},
		{ID: "a3", Published: testNow},
	})
	users := []domain.UserProfile{
		{UserID: "u1", History: []string{"a1", "a2"}},
		{UserID: "u2", History: []string{"a2", "a1"}},
		{UserID: "u3", History: []string{"a2", "zz"}},
	}

	ix := NewScorer(0.1, fixedNow).ComputeIndex(users, articles)
	assert.Equal(t, 2, ix.Len(), "unknown and unseen articles are not scored")
	assert.InDelta(t, 1.0, ix.Score("a1"), 1e-9)
	assert.InDelta(t, 0.75, ix.Score("a2"), 1e-9, "3 views with 0.5 decay vs 2 fresh views")
	assert.InDelta(t, 0.0, ix.Score("a3"), 1e-9)
	assert.InDelta(t, 0.0, ix.Score("zz"), 1e-9)
	assert.Equal(t, []int{0, 1}, ix.Rank(articles))

	for id, v := range ix.Scores() {
		assert.GreaterOrEqual(t, v, 0.0, id)
		assert.LessOrEqual(t, v, 1.0, id)
	}
}

func TestScorer_ComputeIndex_MonotonicInViews(t *testing.T) {
	articles := domain.NewArticleTable([]domain.Article{
		{ID: "a1", Published: testNow.Add(-48 * time.Hour)},
		{ID: "a2", Published: testNow.Add(-48 * time.Hour)},
		{ID: "a3", Published: testNow.Add(-48 * time.Hour)},
	})
	users := []domain.UserProfile{
		{UserID: "u1", History: []string{"a1", "a2", "a3"}},
		{UserID: "u2", History: []string{"a2", "a3"}},
		{UserID: "u3", History: []string{"a3"}},
	}
	ix := NewScorer(0.1, fixedNow).ComputeIndex(users, articles)
	assert.Less(t, ix.Score("a1"), ix.Score("a2"))
	assert.Less(t, ix.Score("a2"), ix.Score("a3"))
	assert.InDelta(t, 1.0, ix.Score("a3"), 1e-9)
	assert.Equal(t, []int{2, 1, 0}, ix.Rank(articles))
}

func TestScorer_ComputeIndex_Empty(t *testing.T) {
	articles := domain.NewArticleTable([]domain.Article{{ID: "a1"}})

	ix := NewScorer(0.1, fixedNow).ComputeIndex(nil, articles)
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.Rank(articles))

	ix = NewScorer(0.1, fixedNow).ComputeIndex([]domain.UserProfile{{UserID: "u1"}}, articles)
	assert.Equal(t, 0, ix.Len())
	assert.InDelta(t, 0.0, ix.Score("a1"), 1e-9)
}

func TestIndex_RankTies(t *testing.T) {
	articles := domain.NewArticleTable([]domain.Article{{ID: "b1"}, {ID: "b2"}, {ID: "b3"}})
	ix := NewIndex(map[string]float64{"b3": 0.5, "b1": 0.5, "b2": 1})
	assert.Equal(t, []int{1, 0, 2}, ix.Rank(articles))
}

func TestScorer_Decay(t *testing.T) {
	s := NewScorer(0.1, fixedNow)
	tests := []struct {
		name      string
		published time.Time
		want      float64
	}{
		{"zero time", time.Time{}, 1},
		{"fresh", testNow.Add(-time.Hour), 1},
		{"future", testNow.Add(72 * time.Hour), 1},
		{"ten days", testNow.Add(-10 * 24 * time.Hour), 0.5},
		{"partial day floors", testNow.Add(-36 * time.Hour), 1 / 1.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Decay(tt.published, testNow), 1e-9)
		})
	}

	assert.InDelta(t, 1.0, NewScorer(0, fixedNow).Decay(testNow.Add(-100*24*time.Hour), testNow), 1e-9, "zero rate disables decay")
	assert.InDelta(t, 0.5, NewScorer(-1, fixedNow).Decay(testNow.Add(-10*24*time.Hour), testNow), 1e-9, "negative rate means default")
}

func TestNewIndex_Clamps(t *testing.T) {
	ix := NewIndex(map[string]float64{"a": 2, "b": -1, "c": 0.3})
	assert.InDelta(t, 1.0, ix.Score("a"), 1e-9)
	assert.InDelta(t, 0.0, ix.Score("b"), 1e-9)
	assert.InDelta(t, 0.3, ix.Score("c"), 1e-9)
}
