package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service is the facade that tries the primary engine first and falls back to
// the secondary searcher.
type Service struct {
	primary  Backend
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. primary may be nil if Meilisearch is not configured.
func NewService(primary Backend, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger}
}

// Search tries the primary engine if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: primary engine failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("search: fallback failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexStory indexes a story (fire-and-forget to the primary engine). A
// fallback that keeps its own index is updated synchronously.
func (s *Service) IndexStory(rec StoryRecord) {
	if idx, ok := s.fallback.(Indexer); ok {
		if err := idx.IndexStories(context.Background(), []StoryRecord{rec}); err != nil {
			s.logger.Warn("search: fallback index failed", zap.Int64("story_id", rec.ID), zap.Error(err))
		}
	}
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.primary.IndexStories(ctx, []StoryRecord{rec}); err != nil {
			s.logger.Warn("search: index story failed", zap.Int64("story_id", rec.ID), zap.Error(err))
		}
	}()
}

// ReindexAll loads every story and pushes it to the primary engine.
// Called at startup when the primary engine is healthy.
func (s *Service) ReindexAll(ctx context.Context, loader RecordLoader) int {
	if s.primary == nil || !s.primary.Healthy() || loader == nil {
		return 0
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("search: reindex load failed", zap.Error(err))
		return 0
	}
	if len(records) == 0 {
		return 0
	}
	if err := s.primary.IndexStories(ctx, records); err != nil {
		s.logger.Error("search: reindex failed", zap.Error(err))
		return 0
	}
	return len(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
