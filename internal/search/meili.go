package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxStories = "nextpage_stories"

// Meili implements Backend via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *zap.Logger
}

// NewMeili creates a Meilisearch client and configures the story index.
// An unreachable server is not an error; the health loop keeps retrying.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxStories,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("search: create index (may already exist)", zap.String("index", idxStories), zap.Error(err))
	}

	index := m.client.Index(idxStories)
	filterable := []interface{}{"parentId", "authorNickname"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("search: update filterable attrs", zap.Error(err))
	}
	searchable := []string{"content", "authorNickname"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("search: update searchable attrs", zap.Error(err))
	}
	sortable := []string{"createdAt", "id"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("search: update sortable attrs", zap.Error(err))
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	q = q.normalized()

	resp, err := m.client.MultiSearchWithContext(ctx, &meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxStories,
			Query:                 q.Text,
			Limit:                 int64(q.Limit),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"content"},
			AttributesToCrop:      []string{"content"},
			CropLength:            30,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:             decodeInt64(hit, "id"),
		AuthorNickname: decodeString(hit, "authorNickname"),
		ImageURL:       decodeString(hit, "imageUrl"),
		Snippet:        firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content")),
	}
	if raw, ok := hit["parentId"]; ok {
		var parentID *int64
		if err := json.Unmarshal(raw, &parentID); err == nil {
			r.ParentID = parentID
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt64(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexStories adds stories to the index. Stories never change, so re-adding
// an id is a no-op in practice.
func (m *Meili) IndexStories(ctx context.Context, records []StoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxStories).AddDocumentsWithContext(ctx, records, nil)
	return err
}
