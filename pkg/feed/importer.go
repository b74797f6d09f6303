// Package feed converts RSS/Atom feeds into articles for the recommendation engine
package feed

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/umputun/newsrec/pkg/domain"
)

const userAgent = "newsrec/1.0 (+https://github.com/umputun/newsrec)"

// Importer reads feeds from URLs or local files
type Importer struct {
	client *http.Client
	policy *bluemonday.Policy
}

// NewImporter creates a feed importer with the given fetch timeout
func NewImporter(timeout time.Duration) *Importer {
	return &Importer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: bluemonday.StrictPolicy(),
	}
}

// Import reads the feed at location, an http(s) URL or a file path
func (im *Importer) Import(ctx context.Context, location string) ([]domain.Article, error) {
	var r io.ReadCloser
	var err error
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		r, err = im.fetch(ctx, location)
	} else {
		r, err = os.Open(location) //nolint:gosec // user supplied feed file
	}
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", location, err)
	}
	defer r.Close()

	articles, err := im.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", location, err)
	}
	lgr.Printf("[DEBUG] imported %d articles from %s", len(articles), location)
	return articles, nil
}

// Parse converts feed items to articles. Article id is the item GUID, the link if GUID
// is empty, and items with neither are skipped. Bodies are stripped of HTML, content
// preferred over description.
func (im *Importer) Parse(r io.Reader) ([]domain.Article, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	res := make([]domain.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := domain.Article{
			ID:    strings.TrimSpace(item.GUID),
			Title: im.text(item.Title),
			URL:   strings.TrimSpace(item.Link),
			Body:  im.text(item.Content),
		}
		if a.ID == "" {
			a.ID = a.URL
		}
		if a.ID == "" {
			lgr.Printf("[WARN] feed item %q has no guid or link, skipped", item.Title)
			continue
		}
		if a.Body == "" {
			a.Body = im.text(item.Description)
		} else {
			a.Caption = im.text(item.Description)
		}

		switch {
		case item.PublishedParsed != nil:
			a.Published = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			a.Published = item.UpdatedParsed.UTC()
		}
		res = append(res, a)
	}
	return res, nil
}

// text strips markup and collapses whitespace
func (im *Importer) text(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(im.policy.Sanitize(s))), " ")
}

// fetch retrieves content from a URL
func (im *Importer) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,*/*;q=0.5")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}
