package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const snippetRunes = 160

// MemoryIndex is a case-insensitive substring index used when the service runs
// without Postgres.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[int64]StoryRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[int64]StoryRecord)}
}

func (m *MemoryIndex) Healthy() bool {
	return true
}

func (m *MemoryIndex) IndexStories(_ context.Context, records []StoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.ID] = rec
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	q = q.normalized()

	m.mu.RLock()
	matches := make([]StoryRecord, 0)
	for _, rec := range m.records {
		if strings.Contains(strings.ToLower(rec.Content), needle) ||
			strings.Contains(strings.ToLower(rec.AuthorNickname), needle) {
			matches = append(matches, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	total := len(matches)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-q.Offset)
	for _, rec := range matches[q.Offset:end] {
		results = append(results, Result{
			ID:             rec.ID,
			AuthorNickname: rec.AuthorNickname,
			Snippet:        truncate(rec.Content, snippetRunes),
			ImageURL:       rec.ImageURL,
			ParentID:       rec.ParentID,
		})
	}
	return results, total, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
