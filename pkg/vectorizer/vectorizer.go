// Package vectorizer builds a bounded TF-IDF term-weight space over article content
// and ranks articles by cosine similarity inside that space.
//
// Row i of a Space always corresponds to document i of the corpus passed to Fit.
// Rows are L2-normalized, so cosine similarity is a plain dot product.
package vectorizer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/umputun/newsrec/pkg/domain"
)

// DefaultMaxFeatures is the vocabulary bound used when none is given
const DefaultMaxFeatures = 5000

// Vectorizer fits TF-IDF spaces with a bounded vocabulary
type Vectorizer struct {
	maxFeatures int
}

// New makes a vectorizer keeping at most maxFeatures terms, non-positive means default
func New(maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Vectorizer{maxFeatures: maxFeatures}
}

// Vector is a sparse row, Indices are sorted ascending and index into the vocabulary
type Vector struct {
	Indices []int
	Values  []float64
}

// Match is a single similarity result
type Match struct {
	Row   int
	Score float64
}

// Space is a fitted, read-only TF-IDF space
type Space struct {
	vocabulary []string
	terms      map[string]int
	idf        []float64
	rows       []Vector
}

// Fit builds the space for corpus. Terms are selected by corpus-wide frequency,
// ties broken alphabetically, and the kept vocabulary is sorted alphabetically.
// An empty corpus gives an empty, well-formed space.
func (v *Vectorizer) Fit(corpus []string) *Space {
	docs := make([]map[string]int, len(corpus))
	totals := map[string]int{}
	for i, text := range corpus {
		counts := map[string]int{}
		for _, tok := range Tokenize(text) {
			counts[tok]++
			totals[tok]++
		}
		docs[i] = counts
	}

	// select top terms by total frequency
	candidates := make([]string, 0, len(totals))
	for term := range totals {
		candidates = append(candidates, term)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if totals[candidates[i]] != totals[candidates[j]] {
			return totals[candidates[i]] > totals[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > v.maxFeatures {
		candidates = candidates[:v.maxFeatures]
	}
	sort.Strings(candidates)

	s := &Space{vocabulary: candidates, terms: make(map[string]int, len(candidates)), idf: make([]float64, len(candidates))}
	for i, term := range candidates {
		s.terms[term] = i
	}

	// smoothed idf, ln((1+n)/(1+df)) + 1
	df := make([]int, len(candidates))
	for _, counts := range docs {
		for term := range counts {
			if idx, ok := s.terms[term]; ok {
				df[idx]++
			}
		}
	}
	n := float64(len(corpus))
	for i := range s.idf {
		s.idf[i] = math.Log((1+n)/(1+float64(df[i]))) + 1
	}

	s.rows = make([]Vector, len(docs))
	for i, counts := range docs {
		s.rows[i] = s.weigh(counts)
	}
	return s
}

// Restore rebuilds a space from persisted parts. It fails if idf does not match the
// vocabulary or if any row references a term outside of it.
func Restore(vocabulary []string, idf []float64, rows []Vector) (*Space, error) {
	if len(vocabulary) != len(idf) {
		return nil, fmt.Errorf("vocabulary size %d does not match idf size %d", len(vocabulary), len(idf))
	}
	s := &Space{vocabulary: vocabulary, terms: make(map[string]int, len(vocabulary)), idf: idf, rows: rows}
	for i, term := range vocabulary {
		if _, dup := s.terms[term]; dup {
			return nil, fmt.Errorf("duplicate term %q in vocabulary", term)
		}
		s.terms[term] = i
	}
	for r, row := range rows {
		if len(row.Indices) != len(row.Values) {
			return nil, fmt.Errorf("row %d: %d indices for %d values", r, len(row.Indices), len(row.Values))
		}
		prev := -1
		for _, idx := range row.Indices {
			if idx <= prev || idx >= len(vocabulary) {
				return nil, fmt.Errorf("row %d: invalid term index %d", r, idx)
			}
			prev = idx
		}
	}
	return s, nil
}

// Rows returns the number of vectorized documents
func (s *Space) Rows() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

// Vocabulary returns the kept terms in column order
func (s *Space) Vocabulary() []string {
	if s == nil {
		return nil
	}
	return s.vocabulary
}

// IDF returns idf weights in column order
func (s *Space) IDF() []float64 {
	if s == nil {
		return nil
	}
	return s.idf
}

// Row returns the vector of document i
func (s *Space) Row(i int) (Vector, error) {
	if s == nil {
		return Vector{}, domain.ErrEngineNotPrepared
	}
	if i < 0 || i >= len(s.rows) {
		return Vector{}, fmt.Errorf("row %d: %w", i, domain.ErrArticleNotFound)
	}
	return s.rows[i], nil
}

// Similar ranks every other row by cosine similarity to row, descending.
// The row itself is excluded, ties keep row order. n <= 0 returns all rows.
func (s *Space) Similar(row, n int) ([]Match, error) {
	query, err := s.Row(row)
	if err != nil {
		return nil, err
	}
	res := make([]Match, 0, len(s.rows))
	for i, other := range s.rows {
		if i == row {
			continue
		}
		res = append(res, Match{Row: i, Score: Dot(query, other)})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	if n > 0 && len(res) > n {
		res = res[:n]
	}
	return res, nil
}

// weigh turns term counts into an L2-normalized tf-idf vector
func (s *Space) weigh(counts map[string]int) Vector {
	idxs := make([]int, 0, len(counts))
	for term := range counts {
		if idx, ok := s.terms[term]; ok {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)

	vals := make([]float64, len(idxs))
	var norm float64
	for i, idx := range idxs {
		vals[i] = float64(counts[s.vocabulary[idx]]) * s.idf[idx]
		norm += vals[i] * vals[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vals {
			vals[i] /= norm
		}
	}
	return Vector{Indices: idxs, Values: vals}
}

// Dot returns the dot product of two sparse vectors with sorted indices
func Dot(a, b Vector) float64 {
	var res float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			res += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return res
}

// Tokenize lowercases text and splits it into runs of letters and digits,
// dropping single-rune tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	res := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			res = append(res, f)
		}
	}
	return res
}
