package domain

import "errors"

// errors shared across packages, check with errors.Is
var (
	// ErrDataNotLoaded returned by engine reads when no tables are loaded
	ErrDataNotLoaded = errors.New("data not loaded")
	// ErrArticleNotFound returned when an article is not part of the vector space
	ErrArticleNotFound = errors.New("article not found")
	// ErrEngineNotPrepared returned when similarity is requested before the space is fitted
	ErrEngineNotPrepared = errors.New("vector space not prepared")
	// ErrSnapshotCorrupt returned when a snapshot fails integrity or alignment checks
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
	// ErrSourceData returned when source tables are missing or malformed
	ErrSourceData = errors.New("source data error")
)
