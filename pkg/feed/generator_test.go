package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsrec/pkg/domain"
)

func TestGenerator_GenerateRSS(t *testing.T) {
	gen := NewGenerator("https://example.com/")
	gen.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	recs := []domain.Recommendation{
		{ArticleID: "a1", Title: "Go & Rust", URL: "https://example.com/a1", Score: 0.75, Source: domain.SourceContent},
		{ArticleID: "a2", Title: "Fresh", Score: 1, Source: domain.SourceRecent},
	}
	out, err := gen.GenerateRSS("user u1", recs)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "<title>newsrec - user u1</title>")
	assert.Contains(t, out, `<atom:link href="https://example.com/rss" rel="self" type="application/rss+xml"></atom:link>`)
	assert.Contains(t, out, "<lastBuildDate>Mon, 01 Jan 2024 12:00:00 +0000</lastBuildDate>")
	assert.Contains(t, out, "<title>Go &amp; Rust</title>")
	assert.Contains(t, out, "<guid>a1</guid>")
	assert.Contains(t, out, "<description>Score: 0.7500 (content)</description>")
	assert.Contains(t, out, "<category>recent</category>")
	assert.Less(t, strings.Index(out, "<guid>a1</guid>"), strings.Index(out, "<guid>a2</guid>"))

	// generated feed is readable by the importer
	articles, err := NewImporter(time.Second).Parse(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "a1", articles[0].ID)
	assert.Equal(t, "Go & Rust", articles[0].Title)

	out, err = gen.GenerateRSS("popular", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "<description>0 recommended articles</description>")
}
