package source

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/umputun/newsrec/pkg/domain"
	"github.com/umputun/newsrec/pkg/engine"
)

//go:embed schema.sql
var schemaFS embed.FS

// DBConfig represents database configuration
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store keeps articles and user histories in SQLite, rows come back in insertion order
type Store struct {
	db *sqlx.DB
}

type articleRow struct {
	Seq       int64        `db:"seq"`
	ID        string       `db:"id"`
	Title     string       `db:"title"`
	Body      string       `db:"body"`
	Caption   string       `db:"caption"`
	URL       string       `db:"url"`
	Published sql.NullTime `db:"published"`
}

type userRow struct {
	Seq         int64  `db:"seq"`
	UserID      string `db:"user_id"`
	History     string `db:"history"`
	HistorySize int    `db:"history_size"`
}

// NewStore opens the database and creates tables if they don't exist
func NewStore(ctx context.Context, cfg DBConfig) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file:newsrec.db?cache=shared&mode=rwc&_txlock=immediate"
	}

	db, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000", // 5 second timeout for locks
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveArticles inserts or updates articles, updated rows keep their original position
func (s *Store) SaveArticles(ctx context.Context, articles []domain.Article) error {
	query := `
		INSERT INTO articles (id, title, body, caption, url, published)
		VALUES (:id, :title, :body, :caption, :url, :published)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			caption = excluded.caption,
			url = excluded.url,
			published = excluded.published
	`
	_, err := s.insertArticles(ctx, query, articles)
	if err != nil {
		return fmt.Errorf("save articles: %w", err)
	}
	return nil
}

// AddArticles inserts articles with new ids and skips existing ones, returns number of inserted rows
func (s *Store) AddArticles(ctx context.Context, articles []domain.Article) (int, error) {
	query := `
		INSERT INTO articles (id, title, body, caption, url, published)
		VALUES (:id, :title, :body, :caption, :url, :published)
		ON CONFLICT(id) DO NOTHING
	`
	added, err := s.insertArticles(ctx, query, articles)
	if err != nil {
		return 0, fmt.Errorf("add articles: %w", err)
	}
	return added, nil
}

// SaveUsers inserts or replaces user histories
func (s *Store) SaveUsers(ctx context.Context, users []domain.UserProfile) error {
	query := `
		INSERT INTO users (user_id, history, history_size)
		VALUES (:user_id, :history, :history_size)
		ON CONFLICT(user_id) DO UPDATE SET
			history = excluded.history,
			history_size = excluded.history_size,
			updated_at = CURRENT_TIMESTAMP
	`
	rows := make([]userRow, len(users))
	for i, u := range users {
		if u.UserID == "" {
			return fmt.Errorf("user %d has empty id: %w", i, domain.ErrSourceData)
		}
		rows[i] = userRow{UserID: u.UserID, History: strings.Join(u.History, ","), HistorySize: u.HistorySize}
	}
	err := s.inTransaction(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r); err != nil {
				return fmt.Errorf("user %s: %w", r.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// Articles returns all articles in insertion order
func (s *Store) Articles(ctx context.Context) ([]domain.Article, error) {
	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT seq, id, title, body, caption, url, published FROM articles ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	res := make([]domain.Article, len(rows))
	for i, r := range rows {
		res[i] = domain.Article{ID: r.ID, Title: r.Title, Body: r.Body, Caption: r.Caption, URL: r.URL}
		if r.Published.Valid {
			res[i].Published = r.Published.Time.UTC()
		}
	}
	return res, nil
}

// Users returns all user histories in insertion order
func (s *Store) Users(ctx context.Context) ([]domain.UserProfile, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT seq, user_id, history, history_size FROM users ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	res := make([]domain.UserProfile, len(rows))
	for i, r := range rows {
		res[i] = domain.UserProfile{UserID: r.UserID, History: domain.ParseHistory(r.History), HistorySize: r.HistorySize}
	}
	return res, nil
}

// Load returns both tables for training
func (s *Store) Load(ctx context.Context) (engine.Tables, error) {
	articles, err := s.Articles(ctx)
	if err != nil {
		return engine.Tables{}, err
	}
	users, err := s.Users(ctx)
	if err != nil {
		return engine.Tables{}, err
	}
	lgr.Printf("[DEBUG] loaded %d articles and %d users from database", len(articles), len(users))
	return engine.Tables{Articles: articles, Users: users}, nil
}

func (s *Store) insertArticles(ctx context.Context, query string, articles []domain.Article) (int, error) {
	rows := make([]articleRow, len(articles))
	for i, a := range articles {
		if a.ID == "" {
			return 0, fmt.Errorf("article %d has empty id: %w", i, domain.ErrSourceData)
		}
		rows[i] = articleRow{ID: a.ID, Title: a.Title, Body: a.Body, Caption: a.Caption, URL: a.URL,
			Published: sql.NullTime{Time: a.Published.UTC(), Valid: !a.Published.IsZero()}}
	}

	var affected int
	err := s.inTransaction(ctx, func(tx *sqlx.Tx) error {
		affected = 0 // transaction can be retried
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			res, err := stmt.ExecContext(ctx, r)
			if err != nil {
				return fmt.Errorf("article %s: %w", r.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			affected += int(n)
		}
		return nil
	})
	return affected, err
}

// inTransaction runs fn in a transaction, retrying the whole transaction on lock errors
func (s *Store) inTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("begin transaction: %w", err)}
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: err}
		}
		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("commit: %w", err)}
		}
		return nil
	}, errCritical)
}

// errCritical matches any criticalError and stops the retries
var errCritical = errors.New("critical database error")

// criticalError wraps an error that is not worth retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

func (e *criticalError) Unwrap() error {
	return e.err
}

func (e *criticalError) Is(target error) bool {
	return target == errCritical //nolint:errorlint // sentinel identity
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
