package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps the story forest as a flat arena indexed by id with a child
// adjacency list. Traversals are explicit walks guarded by visited sets, so a
// corrupted arena can never loop forever.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    []StoryNode // nodes[id-1]
	children map[int64][]int64
	users    []User // users[id-1]
	byEmail  map[string]int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		children: make(map[int64][]int64),
		byEmail:  make(map[string]int64),
		now:      time.Now,
	}
}

// lookup returns a copy of the node that shares no memory with the arena.
func (s *MemoryStore) lookup(id int64) (StoryNode, bool) {
	if id <= 0 || id > int64(len(s.nodes)) {
		return StoryNode{}, false
	}
	return detached(s.nodes[id-1]), true
}

func detached(n StoryNode) StoryNode {
	if n.ParentID != nil {
		n.ParentID = Int64Ptr(*n.ParentID)
	}
	return n
}

func (s *MemoryStore) FindRoots(ctx context.Context) ([]StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roots := make([]StoryNode, 0)
	for _, node := range s.nodes {
		if node.IsRoot() {
			roots = append(roots, detached(node))
		}
	}
	return roots, nil
}

func (s *MemoryStore) FindChildren(ctx context.Context, storyID int64) ([]StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.children[storyID]
	children := make([]StoryNode, 0, len(ids))
	for _, id := range ids {
		if node, ok := s.lookup(id); ok {
			children = append(children, node)
		}
	}
	return children, nil
}

// FindDescendants walks breadth-first from rootID. Each level is ordered by id,
// which gives the same (depth, id) ordering as the Postgres query.
func (s *MemoryStore) FindDescendants(ctx context.Context, rootID int64) ([]StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.lookup(rootID)
	if !ok {
		return []StoryNode{}, nil
	}

	result := []StoryNode{root}
	visited := map[int64]bool{rootID: true}
	frontier := []int64{rootID}
	for len(frontier) > 0 {
		var next []int64
		for _, id := range frontier {
			for _, childID := range s.children[id] {
				if visited[childID] {
					continue
				}
				visited[childID] = true
				next = append(next, childID)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, id := range next {
			if node, ok := s.lookup(id); ok {
				result = append(result, node)
			}
		}
		frontier = next
	}
	return result, nil
}

// FindAncestorChain returns leafID and its ancestors in leaf-to-root order.
func (s *MemoryStore) FindAncestorChain(ctx context.Context, leafID int64) ([]StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := make([]StoryNode, 0)
	visited := make(map[int64]bool)
	current, ok := s.lookup(leafID)
	for ok && !visited[current.ID] {
		visited[current.ID] = true
		chain = append(chain, current)
		if current.ParentID == nil {
			break
		}
		current, ok = s.lookup(*current.ParentID)
	}
	return chain, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, storyID int64) (StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.lookup(storyID)
	if !ok {
		return StoryNode{}, ErrNotFound
	}
	return node, nil
}

func (s *MemoryStore) Save(ctx context.Context, node StoryNode) (StoryNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.ParentID != nil {
		if _, ok := s.lookup(*node.ParentID); !ok {
			return StoryNode{}, ErrParentNotFound
		}
	}

	node.ID = int64(len(s.nodes)) + 1
	node.CreatedAt = s.now().UTC()
	if node.ParentID != nil {
		parentID := *node.ParentID
		node.ParentID = &parentID
		s.children[parentID] = append(s.children[parentID], node.ID)
	}
	s.nodes = append(s.nodes, node)
	return detached(node), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, exists := s.byEmail[email]; exists {
		return User{}, ErrEmailTaken
	}
	user.ID = int64(len(s.users)) + 1
	user.Email = email
	user.CreatedAt = s.now().UTC()
	s.users = append(s.users, user)
	s.byEmail[email] = user.ID
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id-1], nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID <= 0 || userID > int64(len(s.users)) {
		return User{}, ErrNotFound
	}
	return s.users[userID-1], nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
