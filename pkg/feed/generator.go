package feed

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/umputun/newsrec/pkg/domain"
)

type rss struct {
	XMLName xml.Name    `xml:"rss"`
	Version string      `xml:"version,attr"`
	Atom    string      `xml:"xmlns:atom,attr"`
	Channel *rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string     `xml:"title"`
	Link          string     `xml:"link"`
	Description   string     `xml:"description"`
	AtomLink      *atomLink  `xml:"atom:link"`
	LastBuildDate string     `xml:"lastBuildDate"`
	Items         []*rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link,omitempty"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	Category    string `xml:"category"`
}

// Generator renders recommendations as an RSS 2.0 feed
type Generator struct {
	baseURL string
	now     func() time.Time
}

// NewGenerator creates a new feed generator, baseURL is used for channel and self links
func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// GenerateRSS creates a feed titled for the given audience, items keep recommendation order
func (g *Generator) GenerateRSS(title string, recs []domain.Recommendation) (string, error) {
	items := make([]*rssItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, &rssItem{
			Title:       r.Title,
			Link:        r.URL,
			GUID:        r.ArticleID,
			Description: fmt.Sprintf("Score: %.4f (%s)", r.Score, r.Source),
			Category:    string(r.Source),
		})
	}

	feed := &rss{
		Version: "2.0",
		Atom:    "http://www.w3.org/2005/Atom",
		Channel: &rssChannel{
			Title:         "newsrec - " + title,
			Link:          g.baseURL + "/",
			Description:   fmt.Sprintf("%d recommended articles", len(items)),
			AtomLink:      &atomLink{Href: g.baseURL + "/rss", Rel: "self", Type: "application/rss+xml"},
			LastBuildDate: g.now().Format(time.RFC1123Z),
			Items:         items,
		},
	}

	output, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal RSS: %w", err)
	}
	return xml.Header + string(output), nil
}
