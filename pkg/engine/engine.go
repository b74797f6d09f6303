// Package engine implements the recommendation engine. It keeps a trained state of
// article and user tables, the TF-IDF vector space and the popularity index, and serves
// personalized, popular, recent and cold-start recommendations from it.
//
// The state is immutable. Readers load it once per call through an atomic pointer,
// writers (Train, AddNews, Restore) serialize on a mutex and publish a new state with a
// single pointer store, so a reader never sees a partially updated state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/umputun/newsrec/pkg/coldstart"
	"github.com/umputun/newsrec/pkg/config"
	"github.com/umputun/newsrec/pkg/domain"
	"github.com/umputun/newsrec/pkg/popularity"
	"github.com/umputun/newsrec/pkg/snapshot"
	"github.com/umputun/newsrec/pkg/vectorizer"
)

// ErrNoResolver returned by SimilarToTitle when no cold-start resolver is configured
var ErrNoResolver = errors.New("cold-start resolver not configured")

// Tables are the raw source tables used for training
type Tables struct {
	Articles []domain.Article
	Users    []domain.UserProfile
}

// Source loads training tables
type Source interface {
	Load(ctx context.Context) (Tables, error)
}

// Resolver ranks corpus articles by title similarity
type Resolver interface {
	Resolve(ctx context.Context, title string, corpus []domain.Article, topN int) ([]coldstart.Match, error)
}

// Engine serves recommendations from the current trained state
type Engine struct {
	cfg      config.EngineConfig
	source   Source
	resolver Resolver
	now      func() time.Time
	metrics  *Metrics

	mu        sync.Mutex // serializes writers
	state     atomic.Pointer[state]
	fallbacks atomic.Int64
}

// state is never modified after publishing
type state struct {
	articles   *domain.ArticleTable // vectorized rows first, pending rows after them
	vectorized int
	users      *domain.UserTable
	space      *vectorizer.Space
	popular    popularity.Index
	ranked     []int // article rows by popularity, only positive scores
	trainedAt  time.Time
}

// Option configures Engine
type Option func(*Engine)

// WithResolver sets cold-start resolver used for title similarity and content misses
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithClock sets time source, used for recency and popularity decay
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRegisterer registers engine metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = NewMetrics(reg) }
}

// New makes an engine with no state, Train or Restore must be called before reads.
// Zero config values are unset and get defaults.
func New(cfg config.EngineConfig, source Source, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, source: source, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.cfg.DecayRate == 0 {
		e.cfg.DecayRate = popularity.DefaultDecayRate
	}
	if e.cfg.RecencyWindow <= 0 {
		e.cfg.RecencyWindow = 48 * time.Hour
	}
	if e.cfg.MergeMode == "" {
		e.cfg.MergeMode = config.MergeRaw
	}
	return e
}

// Load makes an engine and restores its state from the snapshot at path
func Load(path string, cfg config.EngineConfig, source Source, opts ...Option) (*Engine, error) {
	b, err := snapshot.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	e := New(cfg, source, opts...)
	if err := e.Restore(b); err != nil {
		return nil, err
	}
	lgr.Printf("[INFO] engine loaded from %s, %d articles, %d users", path, e.Stats().Articles, e.Stats().Users)
	return e, nil
}

// Train loads source tables and rebuilds the whole state. On failure the previous
// state stays in place.
func (e *Engine) Train(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	if e.source == nil {
		return fmt.Errorf("no training source: %w", domain.ErrSourceData)
	}
	tables, err := e.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load source tables: %w", err)
	}
	for i, a := range tables.Articles {
		if a.ID == "" {
			return fmt.Errorf("article %d has empty id: %w", i, domain.ErrSourceData)
		}
	}
	for i, u := range tables.Users {
		if u.UserID == "" {
			return fmt.Errorf("user %d has empty id: %w", i, domain.ErrSourceData)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	articles := domain.NewArticleTable(tables.Articles)
	users := domain.NewUserTable(tables.Users)
	corpus := make([]string, articles.Len())
	for i := range corpus {
		corpus[i] = articles.Row(i).Content()
	}
	space := vectorizer.New(e.cfg.MaxFeatures).Fit(corpus)
	popular := popularity.NewScorer(e.cfg.DecayRate, e.now).ComputeIndex(users.All(), articles)

	e.publish(&state{
		articles:   articles,
		vectorized: articles.Len(),
		users:      users,
		space:      space,
		popular:    popular,
		ranked:     popular.Rank(articles),
		trainedAt:  e.now(),
	})
	e.metrics.trainDuration.Observe(time.Since(started).Seconds())
	if articles.Len() == 0 {
		lgr.Printf("[WARN] trained on empty article table")
	}
	lgr.Printf("[INFO] trained on %d articles, %d users, vocabulary %d, popular %d in %v",
		articles.Len(), users.Len(), len(space.Vocabulary()), popular.Len(), time.Since(started))
	return nil
}

// Restore replaces the state with a snapshot bundle
func (e *Engine) Restore(b snapshot.Bundle) error {
	if b.Space.Rows() != len(b.Articles) {
		return fmt.Errorf("%w: vector space has %d rows for %d articles", domain.ErrSnapshotCorrupt, b.Space.Rows(), len(b.Articles))
	}
	articles := domain.NewArticleTable(b.Articles)
	if articles.Len() != len(b.Articles) {
		return fmt.Errorf("%w: duplicate article ids", domain.ErrSnapshotCorrupt)
	}
	articles, _ = articles.Append(b.Pending...)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish(&state{
		articles:   articles,
		vectorized: len(b.Articles),
		users:      domain.NewUserTable(b.Users),
		space:      b.Space,
		popular:    b.Popularity,
		ranked:     b.Popularity.Rank(articles),
		trainedAt:  b.TrainedAt,
	})
	return nil
}

// Snapshot returns the current state as a bundle ready to be persisted
func (e *Engine) Snapshot() (snapshot.Bundle, error) {
	st := e.state.Load()
	if st == nil {
		return snapshot.Bundle{}, domain.ErrDataNotLoaded
	}
	all := st.articles.All()
	return snapshot.Bundle{
		Articles:   all[:st.vectorized],
		Pending:    all[st.vectorized:],
		Users:      st.users.All(),
		Space:      st.space,
		Popularity: st.popular,
		TrainedAt:  st.trainedAt,
	}, nil
}

// Save persists the current state to path
func (e *Engine) Save(path string) error {
	b, err := e.Snapshot()
	if err != nil {
		return err
	}
	if err := snapshot.Save(path, b); err != nil {
		return fmt.Errorf("save snapshot %s: %w", path, err)
	}
	lgr.Printf("[INFO] snapshot saved to %s, %d articles, %d pending", path, len(b.Articles), len(b.Pending))
	return nil
}

// AddNews appends articles without retraining. Added articles are served by recent and
// cold-start paths right away, they get content vectors and popularity on the next Train.
// Ids already present are skipped, returns number of added articles.
func (e *Engine) AddNews(articles ...domain.Article) (int, error) {
	for i, a := range articles {
		if a.ID == "" {
			return 0, fmt.Errorf("article %d has empty id: %w", i, domain.ErrSourceData)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Load()
	if st == nil {
		return 0, domain.ErrDataNotLoaded
	}
	table, added := st.articles.Append(articles...)
	if added == 0 {
		return 0, nil
	}
	next := *st
	next.articles = table
	e.publish(&next)
	lgr.Printf("[DEBUG] added %d of %d articles, %d pending", added, len(articles), table.Len()-next.vectorized)
	return added, nil
}

// UserRecommendations returns up to n articles for user. Users with no history get
// NewUserStrategy results, others get content candidates similar to the last visited
// article merged with popular candidates.
func (e *Engine) UserRecommendations(ctx context.Context, userID string, n int) ([]domain.Recommendation, error) {
	st := e.state.Load()
	if st == nil {
		return nil, domain.ErrDataNotLoaded
	}
	if n <= 0 {
		return []domain.Recommendation{}, nil
	}

	user, ok := st.users.Get(userID)
	if !ok || user.IsNew() {
		e.metrics.requests.WithLabelValues("new_user").Inc()
		return e.newUserRecommendations(st, n), nil
	}
	e.metrics.requests.WithLabelValues("user").Inc()

	last, _ := user.LastVisited()
	content := e.contentCandidates(ctx, st, last, n)
	popular := st.popularCandidates(n)
	return merge(e.cfg.MergeMode, content, popular, n), nil
}

// PopularRecommendations returns up to n most popular articles, articles with zero
// popularity are never returned
func (e *Engine) PopularRecommendations(n int) ([]domain.Recommendation, error) {
	st := e.state.Load()
	if st == nil {
		return nil, domain.ErrDataNotLoaded
	}
	e.metrics.requests.WithLabelValues("popular").Inc()
	return st.popularCandidates(n), nil
}

// RecentNews returns up to n articles published inside the recency window, in table order
func (e *Engine) RecentNews(n int) ([]domain.Recommendation, error) {
	st := e.state.Load()
	if st == nil {
		return nil, domain.ErrDataNotLoaded
	}
	e.metrics.requests.WithLabelValues("recent").Inc()
	res := []domain.Recommendation{}
	for _, row := range e.recentRows(st) {
		if len(res) >= n {
			break
		}
		a := st.articles.Row(row)
		res = append(res, domain.NewRecommendation(a, st.popular.Score(a.ID), domain.SourceRecent))
	}
	return res, nil
}

// SimilarToTitle ranks all articles, pending included, by title similarity
func (e *Engine) SimilarToTitle(ctx context.Context, title string, n int) ([]domain.Recommendation, error) {
	st := e.state.Load()
	if st == nil {
		return nil, domain.ErrDataNotLoaded
	}
	if e.resolver == nil {
		return nil, ErrNoResolver
	}
	e.metrics.requests.WithLabelValues("similar").Inc()
	matches, err := e.resolver.Resolve(ctx, title, st.articles.All(), n)
	if err != nil {
		return nil, fmt.Errorf("resolve similar titles: %w", err)
	}
	return st.fromMatches(matches), nil
}

// Stats describes the current state
type Stats struct {
	Loaded           bool      `json:"loaded"`
	Articles         int       `json:"articles"`
	Pending          int       `json:"pending"`
	Users            int       `json:"users"`
	Vocabulary       int       `json:"vocabulary"`
	Popular          int       `json:"popular"`
	TrainedAt        time.Time `json:"trained_at"`
	ContentFallbacks int64     `json:"content_fallbacks"`
	EmptyCorpus      bool      `json:"empty_corpus"`
	MergeMode        string    `json:"merge_mode"`
	ColdStart        bool      `json:"cold_start"`
}

// Stats returns current state counters
func (e *Engine) Stats() Stats {
	res := Stats{ContentFallbacks: e.fallbacks.Load(), MergeMode: e.cfg.MergeMode, ColdStart: e.resolver != nil}
	st := e.state.Load()
	if st == nil {
		return res
	}
	res.Loaded = true
	res.Articles = st.articles.Len()
	res.Pending = st.articles.Len() - st.vectorized
	res.Users = st.users.Len()
	res.Vocabulary = len(st.space.Vocabulary())
	res.Popular = len(st.ranked)
	res.TrainedAt = st.trainedAt
	res.EmptyCorpus = st.vectorized == 0
	return res
}

func (e *Engine) publish(st *state) {
	e.state.Store(st)
	e.metrics.articles.Set(float64(st.articles.Len()))
	e.metrics.pending.Set(float64(st.articles.Len() - st.vectorized))
}

// contentCandidates returns up to n articles similar to the article with id last
func (e *Engine) contentCandidates(ctx context.Context, st *state, last string, n int) []domain.Recommendation {
	a, row, ok := st.articles.Get(last)
	if !ok || row >= st.vectorized {
		return e.contentFallback(ctx, st, a, ok, n)
	}
	matches, err := st.space.Similar(row, n)
	if err != nil {
		lgr.Printf("[WARN] content similarity for %s failed: %v", last, err)
		return e.contentFallback(ctx, st, a, ok, n)
	}
	res := make([]domain.Recommendation, len(matches))
	for i, m := range matches {
		res[i] = domain.NewRecommendation(st.articles.Row(m.Row), m.Score, domain.SourceContent)
	}
	return res
}

// contentFallback handles a last visited article with no content vector. It ranks by
// title similarity when a resolver is set and the article is known, otherwise the
// content part of the merge is empty.
func (e *Engine) contentFallback(ctx context.Context, st *state, a domain.Article, known bool, n int) []domain.Recommendation {
	e.fallbacks.Add(1)
	e.metrics.fallbacks.Inc()
	if e.resolver == nil || !known {
		lgr.Printf("[DEBUG] no content vector for %q, known %v, content candidates skipped", a.ID, known)
		return []domain.Recommendation{}
	}

	corpus := make([]domain.Article, 0, st.articles.Len())
	for _, c := range st.articles.All() {
		if c.ID != a.ID {
			corpus = append(corpus, c)
		}
	}
	matches, err := e.resolver.Resolve(ctx, a.Title, corpus, n)
	if err != nil {
		lgr.Printf("[WARN] cold-start fallback for %s failed: %v", a.ID, err)
		return []domain.Recommendation{}
	}
	return st.fromMatches(matches)
}

// recentRows returns rows published inside the recency window, in table order.
// Articles without publish time are never recent.
func (e *Engine) recentRows(st *state) []int {
	since := e.now().Add(-e.cfg.RecencyWindow)
	res := []int{}
	for i := 0; i < st.articles.Len(); i++ {
		p := st.articles.Row(i).Published
		if !p.IsZero() && !p.Before(since) {
			res = append(res, i)
		}
	}
	return res
}

func (st *state) popularCandidates(n int) []domain.Recommendation {
	res := []domain.Recommendation{}
	for _, row := range st.ranked {
		if len(res) >= n {
			break
		}
		a := st.articles.Row(row)
		res = append(res, domain.NewRecommendation(a, st.popular.Score(a.ID), domain.SourcePopularity))
	}
	return res
}

func (st *state) fromMatches(matches []coldstart.Match) []domain.Recommendation {
	res := make([]domain.Recommendation, 0, len(matches))
	for _, m := range matches {
		a, _, ok := st.articles.Get(m.ArticleID)
		if !ok {
			continue
		}
		res = append(res, domain.NewRecommendation(a, m.Score, domain.SourceColdStart))
	}
	return res
}

// merge concatenates content and popular candidates, drops repeated articles keeping
// the first one, sorts by score descending with ties in concatenation order and
// truncates to n. In normalized mode each list is min-max scaled first.
func merge(mode string, content, popular []domain.Recommendation, n int) []domain.Recommendation {
	if mode == config.MergeNormalized {
		content, popular = normalize(content), normalize(popular)
	}
	seen := make(map[string]struct{}, len(content)+len(popular))
	res := make([]domain.Recommendation, 0, len(content)+len(popular))
	for _, r := range append(append([]domain.Recommendation{}, content...), popular...) {
		if _, ok := seen[r.ArticleID]; ok {
			continue
		}
		seen[r.ArticleID] = struct{}{}
		res = append(res, r)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	if len(res) > n {
		res = res[:n]
	}
	return res
}

// normalize scales scores to [0,1]. A list of equal positive scores maps to 1.
func normalize(recs []domain.Recommendation) []domain.Recommendation {
	if len(recs) == 0 {
		return recs
	}
	lo, hi := recs[0].Score, recs[0].Score
	for _, r := range recs[1:] {
		lo, hi = min(lo, r.Score), max(hi, r.Score)
	}
	res := make([]domain.Recommendation, len(recs))
	for i, r := range recs {
		switch {
		case hi > lo:
			r.Score = (r.Score - lo) / (hi - lo)
		case hi > 0:
			r.Score = 1
		default:
			r.Score = 0
		}
		res[i] = r
	}
	return res
}
