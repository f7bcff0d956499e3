package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID             int64  `json:"id"`
	AuthorNickname string `json:"authorNickname"`
	Snippet        string `json:"snippet"`
	ImageURL       string `json:"imageUrl"`
	ParentID       *int64 `json:"parentId"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push story records into a search index.
type Indexer interface {
	IndexStories(ctx context.Context, records []StoryRecord) error
}

// Backend is a search engine that is also fed by the service.
type Backend interface {
	Searcher
	Indexer
}

// RecordLoader returns every story for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]StoryRecord, error)
}

// StoryRecord is the data we index for a story node.
type StoryRecord struct {
	ID             int64  `json:"id"`
	AuthorNickname string `json:"authorNickname"`
	Content        string `json:"content"`
	ImageURL       string `json:"imageUrl"`
	ParentID       *int64 `json:"parentId"`
	CreatedAt      int64  `json:"createdAt"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
