package domain

import (
	"strings"
	"time"
)

// Article represents a news article
type Article struct {
	ID        string
	Title     string
	Body      string
	Caption   string
	URL       string
	Published time.Time
}

// Content returns the text used for content vectorization: title, body and caption
func (a Article) Content() string {
	return a.Title + " " + a.Body + " " + a.Caption
}

// UserProfile represents the reading history of a single user
type UserProfile struct {
	UserID      string
	History     []string // article ids, chronological, last is the most recent
	HistorySize int
}

// IsNew reports whether the profile carries no usable history
func (u UserProfile) IsNew() bool {
	return u.HistorySize == 0 || len(u.History) == 0
}

// LastVisited returns the most recent article id from history
func (u UserProfile) LastVisited() (string, bool) {
	if len(u.History) == 0 {
		return "", false
	}
	return u.History[len(u.History)-1], true
}

// ParseHistory splits a comma-separated history string into article ids,
// trimming spaces and dropping empty entries.
func ParseHistory(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

// RecommendationSource identifies the signal a recommendation was produced from
type RecommendationSource string

// enum of recommendation sources
const (
	SourceContent    RecommendationSource = "content"
	SourcePopularity RecommendationSource = "popularity"
	SourceRecent     RecommendationSource = "recent"
	SourceColdStart  RecommendationSource = "coldstart"
)

// Recommendation is a single ranked article.
// Score semantics depend on Source: cosine similarity for content and coldstart,
// normalized popularity for popularity and recent.
type Recommendation struct {
	ArticleID string               `json:"article_id"`
	Title     string               `json:"title"`
	URL       string               `json:"url"`
	Score     float64              `json:"score"`
	Source    RecommendationSource `json:"source"`
}

// NewRecommendation makes a recommendation for the given article
func NewRecommendation(a Article, score float64, src RecommendationSource) Recommendation {
	return Recommendation{ArticleID: a.ID, Title: a.Title, URL: a.URL, Score: score, Source: src}
}
