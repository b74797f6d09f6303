package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsrec/pkg/config"
	"github.com/umputun/newsrec/pkg/domain"
	"github.com/umputun/newsrec/pkg/engine"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Test Feed</title>
	<item>
		<title>Go generics deep dive</title>
		<link>http://example.com/f1</link>
		<guid>f1</guid>
		<description>generics in go</description>
	</item>
	<item>
		<title>Duplicate of a1</title>
		<guid>a1</guid>
	</item>
</channel>
</rss>`

// setupWorkspace writes CSV sources and a config file, returns options pointing to them
func setupWorkspace(t *testing.T, sourceType string) Opts {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("itens-parte1.csv", "page,url,issued,title,body,caption\n"+
		"a1,http://example.com/a1,2024-01-10 10:00:00+00:00,Go compiler release,go compiler speed,\n"+
		"a2,http://example.com/a2,2024-01-09 10:00:00+00:00,Go compiler internals,go compiler optimization,\n")
	write("itens-parte2.csv", "page,url,issued,title,body,caption\n"+
		"a3,http://example.com/a3,2024-01-01 10:00:00+00:00,Football finals,football match goal,sports\n")
	write("treino_parte1.csv", "userId,history,historySize\n"+
		"u1,\"a3, a1\",2\n"+
		"u2,a3,1\n"+
		"u3,,0\n")
	write("feed.xml", testFeed)

	cfg := `
engine:
  max_features: 100
  merge_mode: raw
source:
  type: ` + sourceType + `
  news: ["` + filepath.Join(dir, "itens-parte*.csv") + `"]
  users: ["` + filepath.Join(dir, "treino_parte*.csv") + `"]
  max_workers: 2
database:
  dsn: "file:` + filepath.Join(dir, "test.db") + `?mode=rwc&_txlock=immediate"
  max_open_conns: 1
snapshot:
  path: ` + filepath.Join(dir, "models", "newsrec.snapshot") + `
`
	write("config.yml", cfg)
	return Opts{Config: filepath.Join(dir, "config.yml"), Metrics: filepath.Join(dir, "metrics.prom")}
}

func runCmd(t *testing.T, opts Opts, cmd string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	err := run(ctx, opts, cmd, &out)
	return out.String(), err
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("invalid: yaml: content: ["), 0o600))
	_, err := runCmd(t, Opts{Config: path}, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRun_NotLoaded(t *testing.T) {
	opts := setupWorkspace(t, "csv")

	_, err := runCmd(t, opts, "popular")
	require.ErrorIs(t, err, domain.ErrDataNotLoaded)

	out, err := runCmd(t, opts, "status")
	require.NoError(t, err)
	var st struct {
		Stats engine.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.Stats.Loaded)
	assert.NotContains(t, out, `"store"`)
}

func TestRun_TrainAndQuery(t *testing.T) {
	opts := setupWorkspace(t, "csv")

	out, err := runCmd(t, opts, "train")
	require.NoError(t, err)
	var stats engine.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Articles)
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, 2, stats.Popular)

	metrics, err := os.ReadFile(opts.Metrics)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "newsrec_train_duration_seconds")

	t.Run("popular", func(t *testing.T) {
		opts.Popular.N = 5
		out, err := runCmd(t, opts, "popular")
		require.NoError(t, err)
		var recs []domain.Recommendation
		require.NoError(t, json.Unmarshal([]byte(out), &recs))
		require.Len(t, recs, 2)
		assert.Equal(t, "a3", recs[0].ArticleID)
		assert.Equal(t, "a1", recs[1].ArticleID)
	})

	t.Run("recommend", func(t *testing.T) {
		opts.Recommend.User = "u1"
		opts.Recommend.N = 2
		out, err := runCmd(t, opts, "recommend")
		require.NoError(t, err)
		var recs []domain.Recommendation
		require.NoError(t, json.Unmarshal([]byte(out), &recs))
		assert.Len(t, recs, 2)
	})

	t.Run("recommend rss", func(t *testing.T) {
		opts.Recommend.User = "u3"
		opts.Recommend.N = 3
		opts.Recommend.RSS = true
		out, err := runCmd(t, opts, "recommend")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "<?xml"))
		assert.Contains(t, out, "newsrec - user u3")
	})

	t.Run("similar without provider", func(t *testing.T) {
		opts.Similar.Title = "go"
		opts.Similar.N = 3
		_, err := runCmd(t, opts, "similar")
		require.ErrorIs(t, err, engine.ErrNoResolver)
	})

	t.Run("import feed", func(t *testing.T) {
		opts.ImportFeed.Timeout = time.Second
		opts.ImportFeed.Args.Feeds = []string{filepath.Join(filepath.Dir(opts.Config), "feed.xml")}
		out, err := runCmd(t, opts, "import-feed")
		require.NoError(t, err)
		var res map[string]int
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, map[string]int{"fetched": 2, "added": 1, "pending": 1}, res)

		out, err = runCmd(t, opts, "status")
		require.NoError(t, err)
		var st struct {
			Stats engine.Stats `json:"stats"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &st))
		assert.True(t, st.Stats.Loaded)
		assert.Equal(t, 4, st.Stats.Articles)
		assert.Equal(t, 1, st.Stats.Pending)
	})
}

func TestRun_SQLiteSource(t *testing.T) {
	opts := setupWorkspace(t, "sqlite")

	out, err := runCmd(t, opts, "import-csv")
	require.NoError(t, err)
	assert.JSONEq(t, `{"articles": 3, "users": 3}`, out)

	out, err = runCmd(t, opts, "train")
	require.NoError(t, err)
	var stats engine.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Articles)
	assert.Equal(t, 3, stats.Users)

	opts.ImportFeed.Timeout = time.Second
	opts.ImportFeed.Args.Feeds = []string{filepath.Join(filepath.Dir(opts.Config), "feed.xml")}
	_, err = runCmd(t, opts, "import-feed")
	require.NoError(t, err)

	// stored feed items are vectorized on the next train
	out, err = runCmd(t, opts, "train")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 4, stats.Articles)
	assert.Equal(t, 0, stats.Pending)

	out, err = runCmd(t, opts, "status")
	require.NoError(t, err)
	var st struct {
		Store string       `json:"store"`
		Stats engine.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "ok", st.Store)
	assert.Equal(t, 4, st.Stats.Articles)
}

func TestRun_UnknownCommand(t *testing.T) {
	opts := setupWorkspace(t, "csv")
	_, err := runCmd(t, opts, "dance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "dance"`)
}

func TestRun_Watch(t *testing.T) {
	opts := setupWorkspace(t, "csv")

	_, err := runCmd(t, opts, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feeds to watch")

	opts.Watch.Feeds = []string{filepath.Join(filepath.Dir(opts.Config), "feed.xml")}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	require.NoError(t, run(ctx, opts, "watch", &out))

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.True(t, stats.Loaded)
	assert.Equal(t, 4, stats.Articles)
	assert.Equal(t, 1, stats.Pending)

	// initial train and import are both persisted
	out2, err := runCmd(t, opts, "status")
	require.NoError(t, err)
	var st struct {
		Stats engine.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out2), &st))
	assert.Equal(t, 1, st.Stats.Pending)
}

func TestLogOptions_MasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := lgr.New(logOptions(true, &buf, "sk-test-key")...)
	l.Logf("[INFO] embedding client with key sk-test-key")
	assert.NotContains(t, buf.String(), "sk-test-key")
	assert.Contains(t, buf.String(), "******")

	buf.Reset()
	l = lgr.New(logOptions(false, &buf, "sk-test-key")...)
	l.Logf("[INFO] hidden in non-debug mode")
	l.Logf("[ERROR] request with sk-test-key failed")
	assert.NotContains(t, buf.String(), "hidden in non-debug mode")
	assert.NotContains(t, buf.String(), "sk-test-key")
	assert.Contains(t, buf.String(), "request with ****** failed")
}

func TestEmbeddingKeyPrefix(t *testing.T) {
	assert.Equal(t, "openai:text-embedding-3-small:",
		embeddingKeyPrefix(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"}))
	assert.Equal(t, "cohere:default:", embeddingKeyPrefix(config.EmbeddingConfig{Provider: "cohere"}))
	assert.NotEqual(t, embeddingKeyPrefix(config.EmbeddingConfig{Provider: "openai", Model: "a"}),
		embeddingKeyPrefix(config.EmbeddingConfig{Provider: "openai", Model: "b"}))
}
