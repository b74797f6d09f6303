// Package scheduler runs periodic feed imports and engine retraining
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/newsrec/pkg/domain"
)

//go:generate moq -out mocks/engine.go -pkg mocks -skip-ensure -fmt goimports . Engine
//go:generate moq -out mocks/importer.go -pkg mocks -skip-ensure -fmt goimports . Importer
//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store

// Engine is the part of the recommendation engine driven by the scheduler
type Engine interface {
	Train(ctx context.Context) error
	AddNews(articles ...domain.Article) (int, error)
	Save(path string) error
}

// Importer reads articles from a feed location
type Importer interface {
	Import(ctx context.Context, location string) ([]domain.Article, error)
}

// Store persists imported articles so the next training picks them up
type Store interface {
	AddArticles(ctx context.Context, articles []domain.Article) (int, error)
}

// Params for the scheduler
type Params struct {
	Engine         Engine
	Importer       Importer
	Store          Store // optional
	Feeds          []string
	SnapshotPath   string
	ImportInterval time.Duration
	TrainInterval  time.Duration // zero or negative disables retraining
	MaxWorkers     int
}

// Scheduler imports feeds as pending news and retrains the engine on intervals
type Scheduler struct {
	engine         Engine
	importer       Importer
	store          Store
	feeds          []string
	snapshotPath   string
	importInterval time.Duration
	trainInterval  time.Duration
	maxWorkers     int

	mu     sync.Mutex // serializes imports and retrains
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler instance
func NewScheduler(p Params) *Scheduler {
	if p.ImportInterval <= 0 {
		p.ImportInterval = 30 * time.Minute
	}
	if p.MaxWorkers <= 0 {
		p.MaxWorkers = 4
	}
	return &Scheduler{
		engine:         p.Engine,
		importer:       p.Importer,
		store:          p.Store,
		feeds:          p.Feeds,
		snapshotPath:   p.SnapshotPath,
		importInterval: p.ImportInterval,
		trainInterval:  p.TrainInterval,
		maxWorkers:     p.MaxWorkers,
	}
}

// Start begins the scheduler, feeds are imported right away
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.worker(ctx, s.importInterval, true, func(ctx context.Context) {
		if _, err := s.ImportFeeds(ctx); err != nil {
			lgr.Printf("[ERROR] feed import failed: %v", err)
		}
	})

	if s.trainInterval > 0 {
		s.wg.Add(1)
		go s.worker(ctx, s.trainInterval, false, func(ctx context.Context) {
			if err := s.Retrain(ctx); err != nil {
				lgr.Printf("[ERROR] retrain failed: %v", err)
			}
		})
	}

	lgr.Printf("[INFO] scheduler started with %d feeds, import interval %v, train interval %v",
		len(s.feeds), s.importInterval, s.trainInterval)
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

func (s *Scheduler) worker(ctx context.Context, interval time.Duration, immediate bool, fn func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		fn(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ImportFeeds fetches all feeds concurrently and adds their items to the engine.
// A failed feed is logged and skipped. The snapshot is saved when anything was added.
func (s *Scheduler) ImportFeeds(ctx context.Context) (int, error) {
	parts := make([][]domain.Article, len(s.feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for i, f := range s.feeds {
		g.Go(func() error {
			articles, err := s.importer.Import(gctx, f)
			if err != nil {
				lgr.Printf("[WARN] failed to import feed %s: %v", f, err)
				return nil
			}
			parts[i] = articles
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var articles []domain.Article
	for _, p := range parts {
		articles = append(articles, p...)
	}
	if len(articles) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := s.engine.AddNews(articles...)
	if err != nil {
		return 0, fmt.Errorf("add news: %w", err)
	}
	if s.store != nil {
		if _, err := s.store.AddArticles(ctx, articles); err != nil {
			lgr.Printf("[WARN] failed to store imported articles: %v", err)
		}
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.engine.Save(s.snapshotPath); err != nil {
		return added, fmt.Errorf("save after import: %w", err)
	}
	lgr.Printf("[INFO] imported %d new articles from %d feeds", added, len(s.feeds))
	return added, nil
}

// Retrain rebuilds the engine state from its source and saves the snapshot
func (s *Scheduler) Retrain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Train(ctx); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := s.engine.Save(s.snapshotPath); err != nil {
		return fmt.Errorf("save after train: %w", err)
	}
	return nil
}
