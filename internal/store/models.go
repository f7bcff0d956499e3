package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a story or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrParentNotFound is returned by Save when ParentID references a missing story.
	ErrParentNotFound = errors.New("parent story not found")
	// ErrEmailTaken is returned when a user with the same email already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// StoryNode is a single contribution to a story tree. A nil ParentID marks a root.
type StoryNode struct {
	ID             int64
	AuthorNickname string
	Content        string
	ImageURL       string
	ParentID       *int64
	CreatedAt      time.Time
}

// IsRoot reports whether the node starts its own tree.
func (n StoryNode) IsRoot() bool {
	return n.ParentID == nil
}

type User struct {
	ID           int64
	Email        string
	Nickname     string
	PasswordHash string
	CreatedAt    time.Time
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
