package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// ftsQuery ORs an english and a simple tsquery. The fts column stems content
// with english but keeps nicknames unstemmed under simple.
const ftsQuery = `(plainto_tsquery('english', $1) || plainto_tsquery('simple', $1))`

// Search matches the generated stories.fts column with ftsQuery and ranks by
// ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = q.normalized()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM stories WHERE fts @@ `+ftsQuery, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_nickname,
			ts_headline('english', content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			image_url, parent_id
		FROM stories
		WHERE fts @@ `+ftsQuery+`
		ORDER BY ts_rank(fts, `+ftsQuery+`) DESC, id ASC
		LIMIT $2 OFFSET $3
	`, q.Text, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var parentID sql.NullInt64
		if err := rows.Scan(&r.ID, &r.AuthorNickname, &r.Snippet, &r.ImageURL, &parentID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			r.ParentID = &id
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all stories for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]StoryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_nickname, content, image_url, parent_id, created_at
		FROM stories
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", err)
	}
	defer rows.Close()

	records := make([]StoryRecord, 0)
	for rows.Next() {
		var rec StoryRecord
		var parentID sql.NullInt64
		var createdAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.AuthorNickname, &rec.Content, &rec.ImageURL, &parentID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			rec.ParentID = &id
		}
		if createdAt.Valid {
			rec.CreatedAt = createdAt.Time.Unix()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return records, nil
}
