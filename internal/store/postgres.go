package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

const storyColumns = `id, user_nickname, content, image_url, parent_id, created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (StoryNode, error) {
	var node StoryNode
	var parentID sql.NullInt64
	if err := row.Scan(&node.ID, &node.AuthorNickname, &node.Content, &node.ImageURL, &parentID, &node.CreatedAt); err != nil {
		return StoryNode{}, err
	}
	if parentID.Valid {
		node.ParentID = Int64Ptr(parentID.Int64)
	}
	return node, nil
}

func (s *PostgresStore) queryStories(ctx context.Context, op, query string, args ...any) ([]StoryNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]StoryNode, 0)
	for rows.Next() {
		node, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story (%s): %w", op, err)
		}
		items = append(items, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories (%s): %w", op, err)
	}
	return items, nil
}

func (s *PostgresStore) FindRoots(ctx context.Context) ([]StoryNode, error) {
	return s.queryStories(ctx, "find roots", `
		SELECT `+storyColumns+`
		FROM stories
		WHERE parent_id IS NULL
		ORDER BY id ASC
	`)
}

func (s *PostgresStore) FindChildren(ctx context.Context, storyID int64) ([]StoryNode, error) {
	return s.queryStories(ctx, "find children", `
		SELECT `+storyColumns+`
		FROM stories
		WHERE parent_id = $1
		ORDER BY id ASC
	`, storyID)
}

// FindDescendants returns rootID and every node below it ordered by depth, then id.
// The trail array stops the walk from revisiting a node on the same branch.
func (s *PostgresStore) FindDescendants(ctx context.Context, rootID int64) ([]StoryNode, error) {
	return s.queryStories(ctx, "find descendants", `
		WITH RECURSIVE tree AS (
			SELECT `+storyColumns+`, 0 AS depth, ARRAY[id] AS trail
			FROM stories
			WHERE id = $1
			UNION ALL
			SELECT c.id, c.user_nickname, c.content, c.image_url, c.parent_id, c.created_at,
				t.depth + 1, t.trail || c.id
			FROM stories c
			JOIN tree t ON c.parent_id = t.id
			WHERE NOT c.id = ANY(t.trail)
		)
		SELECT `+storyColumns+`
		FROM tree
		ORDER BY depth ASC, id ASC
	`, rootID)
}

// FindAncestorChain returns leafID followed by its ancestors, ending at a root.
func (s *PostgresStore) FindAncestorChain(ctx context.Context, leafID int64) ([]StoryNode, error) {
	return s.queryStories(ctx, "find ancestor chain", `
		WITH RECURSIVE chain AS (
			SELECT `+storyColumns+`, 0 AS depth, ARRAY[id] AS trail
			FROM stories
			WHERE id = $1
			UNION ALL
			SELECT p.id, p.user_nickname, p.content, p.image_url, p.parent_id, p.created_at,
				c.depth + 1, c.trail || p.id
			FROM stories p
			JOIN chain c ON p.id = c.parent_id
			WHERE NOT p.id = ANY(c.trail)
		)
		SELECT `+storyColumns+`
		FROM chain
		ORDER BY depth ASC
	`, leafID)
}

func (s *PostgresStore) FindByID(ctx context.Context, storyID int64) (StoryNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, storyID)
	node, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoryNode{}, ErrNotFound
	}
	if err != nil {
		return StoryNode{}, fmt.Errorf("find story %d: %w", storyID, err)
	}
	return node, nil
}

func (s *PostgresStore) Save(ctx context.Context, node StoryNode) (StoryNode, error) {
	var parentID sql.NullInt64
	if node.ParentID != nil {
		parentID = sql.NullInt64{Int64: *node.ParentID, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stories (user_nickname, content, image_url, parent_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, node.AuthorNickname, node.Content, node.ImageURL, parentID).Scan(&node.ID, &node.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return StoryNode{}, ErrParentNotFound
		}
		return StoryNode{}, fmt.Errorf("insert story: %w", err)
	}
	return node, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, nickname, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, user.Email, user.Nickname, user.PasswordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, nickname, password_hash, created_at
		FROM users `+where, arg).Scan(&user.ID, &user.Email, &user.Nickname, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	return user, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
