// Package snapshot persists a trained engine state: article and user tables, the
// TF-IDF vector space and the popularity index.
//
// A snapshot is a gzip-compressed JSON envelope:
//
//	{"format_version":1, "id":"...", "created_at":"...", "checksum":"<sha256 of payload>", "payload":{...}}
//
// The payload uses named fields only, unknown fields are ignored on read, so a newer
// writer adding fields does not break an older reader. Any integrity or alignment
// failure is reported as domain.ErrSnapshotCorrupt.
package snapshot

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/umputun/newsrec/pkg/domain"
	"github.com/umputun/newsrec/pkg/popularity"
	"github.com/umputun/newsrec/pkg/vectorizer"
)

// FormatVersion is the envelope version written by this package
const FormatVersion = 1

// Bundle is the state stored in a snapshot. Articles are the vectorized rows, row i of
// Space belongs to Articles[i]. Pending articles were added after training and have no rows.
type Bundle struct {
	ID         string
	CreatedAt  time.Time
	Articles   []domain.Article
	Pending    []domain.Article
	Users      []domain.UserProfile
	Space      *vectorizer.Space
	Popularity popularity.Index
	TrainedAt  time.Time
}

type envelope struct {
	FormatVersion int             `json:"format_version"`
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload"`
}

type payload struct {
	Articles    []articleRecord    `json:"articles"`
	Pending     []articleRecord    `json:"pending"`
	Users       []userRecord       `json:"users"`
	VectorSpace vectorSpaceRecord  `json:"vector_space"`
	Popularity  map[string]float64 `json:"popularity"`
	TrainedAt   time.Time          `json:"trained_at"`
}

type articleRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	URL       string    `json:"url,omitempty"`
	Published time.Time `json:"published"`
}

type userRecord struct {
	UserID      string   `json:"user_id"`
	History     []string `json:"history"`
	HistorySize int      `json:"history_size"`
}

type vectorSpaceRecord struct {
	Vocabulary []string       `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	Rows       []vectorRecord `json:"rows"`
}

type vectorRecord struct {
	Indices []int     `json:"i"`
	Values  []float64 `json:"v"`
}

// Save writes bundle to path atomically, via a temp file in the same directory
func Save(path string, b Bundle) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = Write(w, b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Write encodes bundle to w. Missing id and creation time are generated.
func Write(w io.Writer, b Bundle) error {
	if b.Space.Rows() != len(b.Articles) {
		return fmt.Errorf("vector space has %d rows for %d articles", b.Space.Rows(), len(b.Articles))
	}

	p := payload{
		Articles:   toArticleRecords(b.Articles),
		Pending:    toArticleRecords(b.Pending),
		Users:      make([]userRecord, len(b.Users)),
		Popularity: b.Popularity.Scores(),
		TrainedAt:  b.TrainedAt,
		VectorSpace: vectorSpaceRecord{
			Vocabulary: b.Space.Vocabulary(),
			IDF:        b.Space.IDF(),
			Rows:       make([]vectorRecord, b.Space.Rows()),
		},
	}
	for i, u := range b.Users {
		p.Users[i] = userRecord{UserID: u.UserID, History: u.History, HistorySize: u.HistorySize}
	}
	for i := range p.VectorSpace.Rows {
		row, err := b.Space.Row(i)
		if err != nil {
			return fmt.Errorf("read vector row %d: %w", i, err)
		}
		p.VectorSpace.Rows[i] = vectorRecord{Indices: row.Indices, Values: row.Values}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}
	sum := sha256.Sum256(data)

	env := envelope{FormatVersion: FormatVersion, ID: b.ID, CreatedAt: b.CreatedAt, Checksum: hex.EncodeToString(sum[:]), Payload: data}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(env); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	return nil
}

// Load reads bundle from path
func Load(path string) (Bundle, error) {
	fh, err := os.Open(path) //nolint:gosec // snapshot path comes from config
	if err != nil {
		return Bundle{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer fh.Close()
	return Read(bufio.NewReader(fh))
}

// Read decodes and validates a bundle from r
func Read(r io.Reader) (Bundle, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Bundle{}, corrupt("not a gzip stream: %v", err)
	}
	defer gz.Close()

	var env envelope
	if err := json.NewDecoder(gz).Decode(&env); err != nil {
		return Bundle{}, corrupt("decode envelope: %v", err)
	}
	if env.FormatVersion < 1 {
		return Bundle{}, corrupt("unsupported format version %d", env.FormatVersion)
	}
	if env.FormatVersion > FormatVersion {
		lgr.Printf("[WARN] snapshot %s has newer format version %d, reading as %d", env.ID, env.FormatVersion, FormatVersion)
	}

	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return Bundle{}, corrupt("checksum mismatch")
	}

	var p payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Bundle{}, corrupt("decode payload: %v", err)
	}
	if len(p.VectorSpace.Rows) != len(p.Articles) {
		return Bundle{}, corrupt("vector space has %d rows for %d articles", len(p.VectorSpace.Rows), len(p.Articles))
	}

	seen := make(map[string]struct{}, len(p.Articles)+len(p.Pending))
	for _, a := range append(append([]articleRecord{}, p.Articles...), p.Pending...) {
		if _, ok := seen[a.ID]; ok {
			return Bundle{}, corrupt("duplicate article id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}

	rows := make([]vectorizer.Vector, len(p.VectorSpace.Rows))
	for i, vr := range p.VectorSpace.Rows {
		rows[i] = vectorizer.Vector{Indices: vr.Indices, Values: vr.Values}
	}
	space, err := vectorizer.Restore(p.VectorSpace.Vocabulary, p.VectorSpace.IDF, rows)
	if err != nil {
		return Bundle{}, corrupt("restore vector space: %v", err)
	}

	b := Bundle{
		ID:         env.ID,
		CreatedAt:  env.CreatedAt,
		Articles:   fromArticleRecords(p.Articles),
		Pending:    fromArticleRecords(p.Pending),
		Users:      make([]domain.UserProfile, len(p.Users)),
		Space:      space,
		Popularity: popularity.NewIndex(p.Popularity),
		TrainedAt:  p.TrainedAt,
	}
	for i, u := range p.Users {
		b.Users[i] = domain.UserProfile{UserID: u.UserID, History: u.History, HistorySize: u.HistorySize}
	}
	return b, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrSnapshotCorrupt, fmt.Sprintf(format, args...))
}

func toArticleRecords(articles []domain.Article) []articleRecord {
	res := make([]articleRecord, len(articles))
	for i, a := range articles {
		res[i] = articleRecord{ID: a.ID, Title: a.Title, Body: a.Body, Caption: a.Caption, URL: a.URL, Published: a.Published}
	}
	return res
}

func fromArticleRecords(records []articleRecord) []domain.Article {
	res := make([]domain.Article, len(records))
	for i, r := range records {
		res[i] = domain.Article{ID: r.ID, Title: r.Title, Body: r.Body, Caption: r.Caption, URL: r.URL, Published: r.Published}
	}
	return res
}
