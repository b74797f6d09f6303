package vectorizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsrec/pkg/domain"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"lowercase and punctuation", "Hello, World!", []string{"hello", "world"}},
		{"drops single runes", "a b cd e", []string{"cd"}},
		{"unicode letters", "Olá São_Paulo 2024", []string{"olá", "são_paulo", "2024"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestVectorizer_Fit(t *testing.T) {
	t.Run("rows aligned with corpus and normalized", func(t *testing.T) {
		space := New(0).Fit([]string{"go is fun", "go is fast", "cats sleep"})
		require.Equal(t, 3, space.Rows())
		assert.Equal(t, []string{"cats", "fast", "fun", "go", "is", "sleep"}, space.Vocabulary())

		for i := 0; i < space.Rows(); i++ {
			row, err := space.Row(i)
			require.NoError(t, err)
			var norm float64
			for _, v := range row.Values {
				norm += v * v
			}
			assert.InDelta(t, 1.0, norm, 1e-9, "row %d", i)
		}
	})

	t.Run("smoothed idf", func(t *testing.T) {
		space := New(0).Fit([]string{"go is fun", "go is fast", "cats sleep"})
		idx := map[string]int{}
		for i, term := range space.Vocabulary() {
			idx[term] = i
		}
		assert.InDelta(t, math.Log(4.0/3.0)+1, space.IDF()[idx["go"]], 1e-9)
		assert.InDelta(t, math.Log(4.0/2.0)+1, space.IDF()[idx["fun"]], 1e-9)
	})

	t.Run("vocabulary bounded by corpus frequency", func(t *testing.T) {
		space := New(2).Fit([]string{"apple apple banana", "banana cherry", "cherry date"})
		assert.Equal(t, []string{"apple", "banana"}, space.Vocabulary())
		row, err := space.Row(2)
		require.NoError(t, err)
		assert.Empty(t, row.Indices, "no kept terms in last document")
	})

	t.Run("empty corpus", func(t *testing.T) {
		space := New(10).Fit(nil)
		assert.Equal(t, 0, space.Rows())
		assert.Empty(t, space.Vocabulary())
		_, err := space.Similar(0, 5)
		assert.ErrorIs(t, err, domain.ErrArticleNotFound)
	})
}

func TestSpace_Similar(t *testing.T) {
	space := New(0).Fit([]string{"go is fun", "go is fast", "cats sleep", "go fun fun"})

	t.Run("ranked and self excluded", func(t *testing.T) {
		res, err := space.Similar(0, 0)
		require.NoError(t, err)
		require.Len(t, res, 3)
		for _, m := range res {
			assert.NotEqual(t, 0, m.Row)
		}
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
		assert.Equal(t, 2, res[2].Row, "unrelated doc is last")
		assert.InDelta(t, 0.0, res[2].Score, 1e-12)
	})

	t.Run("truncated to n", func(t *testing.T) {
		res, err := space.Similar(1, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, 0, res[0].Row)
	})

	t.Run("ties keep row order", func(t *testing.T) {
		s := New(0).Fit([]string{"aa bb", "aa bb", "aa bb", "cc"})
		res, err := s.Similar(1, 0)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, []int{0, 2, 3}, []int{res[0].Row, res[1].Row, res[2].Row})
		assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	})

	t.Run("unknown row", func(t *testing.T) {
		_, err := space.Similar(10, 1)
		assert.ErrorIs(t, err, domain.ErrArticleNotFound)
		_, err = space.Similar(-1, 1)
		assert.ErrorIs(t, err, domain.ErrArticleNotFound)
	})

	t.Run("not prepared", func(t *testing.T) {
		var s *Space
		_, err := s.Similar(0, 1)
		assert.ErrorIs(t, err, domain.ErrEngineNotPrepared)
		assert.Equal(t, 0, s.Rows())
	})
}

func TestRestore(t *testing.T) {
	orig := New(0).Fit([]string{"go is fun", "go is fast"})
	rows := make([]Vector, orig.Rows())
	for i := range rows {
		rows[i], _ = orig.Row(i)
	}

	t.Run("round trip", func(t *testing.T) {
		s, err := Restore(orig.Vocabulary(), orig.IDF(), rows)
		require.NoError(t, err)
		want, err := orig.Similar(0, 0)
		require.NoError(t, err)
		got, err := s.Similar(0, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("idf size mismatch", func(t *testing.T) {
		_, err := Restore(orig.Vocabulary(), orig.IDF()[:1], rows)
		require.Error(t, err)
	})

	t.Run("index out of vocabulary", func(t *testing.T) {
		bad := []Vector{{Indices: []int{100}, Values: []float64{1}}}
		_, err := Restore(orig.Vocabulary(), orig.IDF(), bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid term index")
	})

	t.Run("values mismatch", func(t *testing.T) {
		bad := []Vector{{Indices: []int{0, 1}, Values: []float64{1}}}
		_, err := Restore(orig.Vocabulary(), orig.IDF(), bad)
		require.Error(t, err)
	})

	t.Run("duplicate term", func(t *testing.T) {
		_, err := Restore([]string{"go", "go"}, []float64{1, 1}, nil)
		require.Error(t, err)
	})
}
