package domain

// ArticleTable is an immutable, id-indexed table of articles kept in insertion order.
// Row positions are stable, so row i of a table always refers to the same article.
type ArticleTable struct {
	rows  []Article
	index map[string]int
}

// NewArticleTable builds a table from articles, the first occurrence of an id wins
func NewArticleTable(articles []Article) *ArticleTable {
	t := &ArticleTable{rows: make([]Article, 0, len(articles)), index: make(map[string]int, len(articles))}
	for _, a := range articles {
		if _, ok := t.index[a.ID]; ok {
			continue
		}
		t.index[a.ID] = len(t.rows)
		t.rows = append(t.rows, a)
	}
	return t
}

// Len returns number of rows
func (t *ArticleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Get returns article and its row by id
func (t *ArticleTable) Get(id string) (Article, int, bool) {
	if t == nil {
		return Article{}, -1, false
	}
	i, ok := t.index[id]
	if !ok {
		return Article{}, -1, false
	}
	return t.rows[i], i, true
}

// Row returns article at row i, panics on out of range like a slice
func (t *ArticleTable) Row(i int) Article {
	return t.rows[i]
}

// All returns a copy of all rows
func (t *ArticleTable) All() []Article {
	if t == nil {
		return nil
	}
	res := make([]Article, len(t.rows))
	copy(res, t.rows)
	return res
}

// Append returns a new table with articles appended, skipping ids already present.
// The receiver is not modified. Returns the new table and the number of appended rows.
func (t *ArticleTable) Append(articles ...Article) (*ArticleTable, int) {
	res := &ArticleTable{rows: make([]Article, t.Len(), t.Len()+len(articles)), index: make(map[string]int, t.Len()+len(articles))}
	if t != nil {
		copy(res.rows, t.rows)
		for id, i := range t.index {
			res.index[id] = i
		}
	}
	added := 0
	for _, a := range articles {
		if _, ok := res.index[a.ID]; ok {
			continue
		}
		res.index[a.ID] = len(res.rows)
		res.rows = append(res.rows, a)
		added++
	}
	return res, added
}

// UserTable is an immutable, id-indexed table of user profiles
type UserTable struct {
	rows  []UserProfile
	index map[string]int
}

// NewUserTable builds a table from profiles, the first occurrence of a user id wins
func NewUserTable(users []UserProfile) *UserTable {
	t := &UserTable{rows: make([]UserProfile, 0, len(users)), index: make(map[string]int, len(users))}
	for _, u := range users {
		if _, ok := t.index[u.UserID]; ok {
			continue
		}
		t.index[u.UserID] = len(t.rows)
		t.rows = append(t.rows, u)
	}
	return t
}

// Len returns number of users
func (t *UserTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Get returns profile by user id
func (t *UserTable) Get(userID string) (UserProfile, bool) {
	if t == nil {
		return UserProfile{}, false
	}
	i, ok := t.index[userID]
	if !ok {
		return UserProfile{}, false
	}
	return t.rows[i], true
}

// All returns a copy of all profiles
func (t *UserTable) All() []UserProfile {
	if t == nil {
		return nil
	}
	res := make([]UserProfile, len(t.rows))
	copy(res, t.rows)
	return res
}
