// Package source loads training tables. CSVSource reads multi-part CSV exports,
// Store keeps the same tables in SQLite. Both implement engine.Source.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/newsrec/pkg/domain"
	"github.com/umputun/newsrec/pkg/engine"
)

// column aliases, first match wins
var (
	articleColumns = map[string][]string{
		"id":        {"page", "id", "article_id"},
		"url":       {"url", "link"},
		"published": {"issued", "published"},
		"modified":  {"modified"},
		"title":     {"title"},
		"body":      {"body", "content"},
		"caption":   {"caption"},
	}
	userColumns = map[string][]string{
		"user":    {"userid", "user_id", "user"},
		"history": {"history"},
		"size":    {"historysize", "history_size"},
	}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CSVSource loads tables from CSV part files matched by glob patterns
type CSVSource struct {
	News       []string
	Users      []string
	MaxWorkers int
}

// Load reads all news and user parts, rows are kept in file order and then row order
func (s *CSVSource) Load(ctx context.Context) (engine.Tables, error) {
	articles, err := LoadArticles(ctx, s.MaxWorkers, s.News...)
	if err != nil {
		return engine.Tables{}, fmt.Errorf("load news: %w", err)
	}
	users, err := LoadUsers(ctx, s.MaxWorkers, s.Users...)
	if err != nil {
		return engine.Tables{}, fmt.Errorf("load users: %w", err)
	}
	return engine.Tables{Articles: articles, Users: users}, nil
}

// LoadArticles parses news parts matching patterns. Repeated ids are dropped, first one wins.
func LoadArticles(ctx context.Context, workers int, patterns ...string) ([]domain.Article, error) {
	parts, err := loadParts(ctx, workers, patterns, parseArticles)
	if err != nil {
		return nil, err
	}
	res := []domain.Article{}
	seen := map[string]struct{}{}
	for _, part := range parts {
		for _, a := range part {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			res = append(res, a)
		}
	}
	return res, nil
}

// LoadUsers parses user history parts matching patterns. Repeated user ids are dropped, first one wins.
func LoadUsers(ctx context.Context, workers int, patterns ...string) ([]domain.UserProfile, error) {
	parts, err := loadParts(ctx, workers, patterns, parseUsers)
	if err != nil {
		return nil, err
	}
	res := []domain.UserProfile{}
	seen := map[string]struct{}{}
	for _, part := range parts {
		for _, u := range part {
			if _, ok := seen[u.UserID]; ok {
				continue
			}
			seen[u.UserID] = struct{}{}
			res = append(res, u)
		}
	}
	return res, nil
}

// loadParts expands patterns and parses matched files concurrently. A file that fails
// to parse or has no rows is logged and skipped, it is an error only if nothing was loaded.
func loadParts[T any](ctx context.Context, workers int, patterns []string, parse func(io.Reader) ([]T, error)) ([][]T, error) {
	files, err := expand(patterns)
	if err != nil {
		return nil, err
	}

	parts := make([][]T, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lgr.Printf("[DEBUG] loading %s", file)
			rows, err := parseFile(file, parse)
			if err != nil {
				lgr.Printf("[WARN] failed to load %s: %v", file, err)
				return nil
			}
			if len(rows) == 0 {
				lgr.Printf("[WARN] file %s is empty", file)
				return nil
			}
			parts[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range parts {
		if len(p) > 0 {
			return parts, nil
		}
	}
	return nil, fmt.Errorf("no rows loaded from %s: %w", strings.Join(patterns, ", "), domain.ErrSourceData)
}

func expand(patterns []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match %s: %w", strings.Join(patterns, ", "), domain.ErrSourceData)
	}
	return files, nil
}

func parseFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	fh, err := os.Open(path) //nolint:gosec // path comes from configured glob
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer fh.Close()
	return parse(fh)
}

// header maps logical column names to positions, missing columns are absent from the map
type header map[string]int

func readHeader(r *csv.Reader, columns map[string][]string) (header, error) {
	names, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pos := make(map[string]int, len(names))
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(n, "\ufeff")))
		if _, ok := pos[n]; !ok {
			pos[n] = i
		}
	}
	res := header{}
	for key, aliases := range columns {
		for _, alias := range aliases {
			if i, ok := pos[alias]; ok {
				res[key] = i
				break
			}
		}
	}
	return res, nil
}

func (h header) get(rec []string, key string) string {
	i, ok := h[key]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return cr
}

func parseArticles(r io.Reader) ([]domain.Article, error) {
	cr := newReader(r)
	h, err := readHeader(cr, articleColumns)
	if err != nil || h == nil {
		return nil, err
	}
	if _, ok := h["id"]; !ok {
		return nil, errors.New("no article id column")
	}

	var res []domain.Article
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a := domain.Article{
			ID:      h.get(rec, "id"),
			URL:     h.get(rec, "url"),
			Title:   h.get(rec, "title"),
			Body:    h.get(rec, "body"),
			Caption: h.get(rec, "caption"),
		}
		if a.ID == "" {
			lgr.Printf("[DEBUG] line %d has no article id, skipped", line)
			continue
		}
		a.Published = parseTime(h.get(rec, "published"))
		if a.Published.IsZero() {
			a.Published = parseTime(h.get(rec, "modified"))
		}
		res = append(res, a)
	}
}

func parseUsers(r io.Reader) ([]domain.UserProfile, error) {
	cr := newReader(r)
	h, err := readHeader(cr, userColumns)
	if err != nil || h == nil {
		return nil, err
	}
	if _, ok := h["user"]; !ok {
		return nil, errors.New("no user id column")
	}

	var res []domain.UserProfile
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		u := domain.UserProfile{UserID: h.get(rec, "user"), History: domain.ParseHistory(h.get(rec, "history"))}
		if u.UserID == "" {
			lgr.Printf("[DEBUG] line %d has no user id, skipped", line)
			continue
		}
		u.HistorySize = len(u.History)
		if v := h.get(rec, "size"); v != "" {
			if size, err := strconv.Atoi(v); err == nil {
				u.HistorySize = size
			}
		}
		res = append(res, u)
	}
}

// parseTime tries known layouts, unparsable and empty values give zero time
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
