package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(nodes []StoryNode) []int64 {
	out := make([]int64, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.ID)
	}
	return out
}

func mustSave(t *testing.T, s *MemoryStore, content string, parentID *int64) StoryNode {
	t.Helper()
	node, err := s.Save(context.Background(), StoryNode{
		AuthorNickname: "ada",
		Content:        content,
		ImageURL:       "https://img.test/" + content + ".png",
		ParentID:       parentID,
	})
	require.NoError(t, err)
	return node
}

// seedTree builds
//
//	A
//	├── B
//	│   └── D
//	└── C
//	E
func seedTree(t *testing.T) (*MemoryStore, map[string]StoryNode) {
	t.Helper()
	s := NewMemoryStore()
	n := map[string]StoryNode{}
	n["A"] = mustSave(t, s, "A", nil)
	n["B"] = mustSave(t, s, "B", Int64Ptr(n["A"].ID))
	n["C"] = mustSave(t, s, "C", Int64Ptr(n["A"].ID))
	n["D"] = mustSave(t, s, "D", Int64Ptr(n["B"].ID))
	n["E"] = mustSave(t, s, "E", nil)
	return s, n
}

func TestMemoryStoreSaveAssignsIDsAndTimestamps(t *testing.T) {
	s := NewMemoryStore()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	first := mustSave(t, s, "first", nil)
	second := mustSave(t, s, "second", Int64Ptr(first.ID))

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, fixed, second.CreatedAt)
	assert.True(t, first.IsRoot())
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.ID, *second.ParentID)
}

func TestMemoryStoreSaveRejectsMissingParent(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Save(context.Background(), StoryNode{Content: "orphan", ParentID: Int64Ptr(42)})
	require.ErrorIs(t, err, ErrParentNotFound)

	roots, err := s.FindRoots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestMemoryStoreSaveCopiesParentPointer(t *testing.T) {
	s := NewMemoryStore()
	root := mustSave(t, s, "root", nil)

	parentID := root.ID
	child := mustSave(t, s, "child", &parentID)
	parentID = 999

	stored, err := s.FindByID(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, *stored.ParentID)
}

func TestMemoryStoreReturnedNodesDoNotAliasStoredParent(t *testing.T) {
	s, n := seedTree(t)
	ctx := context.Background()
	leaf := n["D"]
	parentID := *leaf.ParentID
	*leaf.ParentID = leaf.ID

	got, err := s.FindByID(ctx, leaf.ID)
	require.NoError(t, err)
	*got.ParentID = got.ID

	children, err := s.FindChildren(ctx, parentID)
	require.NoError(t, err)
	for _, child := range children {
		*child.ParentID = child.ID
	}
	descendants, err := s.FindDescendants(ctx, n["A"].ID)
	require.NoError(t, err)
	for _, node := range descendants {
		if node.ParentID != nil {
			*node.ParentID = node.ID
		}
	}

	stored, err := s.FindByID(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, parentID, *stored.ParentID)

	chain, err := s.FindAncestorChain(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
	for _, node := range chain {
		if node.ParentID != nil {
			*node.ParentID = node.ID
		}
	}
	chain, err = s.FindAncestorChain(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestMemoryStoreFindRootsAndChildren(t *testing.T) {
	s, n := seedTree(t)
	ctx := context.Background()

	roots, err := s.FindRoots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["A"].ID, n["E"].ID}, ids(roots))

	children, err := s.FindChildren(ctx, n["A"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["B"].ID, n["C"].ID}, ids(children))

	leafChildren, err := s.FindChildren(ctx, n["D"].ID)
	require.NoError(t, err)
	assert.NotNil(t, leafChildren)
	assert.Empty(t, leafChildren)
}

func TestMemoryStoreFindDescendantsBreadthFirst(t *testing.T) {
	s, n := seedTree(t)

	got, err := s.FindDescendants(context.Background(), n["A"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["A"].ID, n["B"].ID, n["C"].ID, n["D"].ID}, ids(got))

	got, err = s.FindDescendants(context.Background(), n["E"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["E"].ID}, ids(got))
}

func TestMemoryStoreFindDescendantsMissingRoot(t *testing.T) {
	s, _ := seedTree(t)

	got, err := s.FindDescendants(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreFindAncestorChainLeafFirst(t *testing.T) {
	s, n := seedTree(t)

	got, err := s.FindAncestorChain(context.Background(), n["D"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["D"].ID, n["B"].ID, n["A"].ID}, ids(got))

	got, err = s.FindAncestorChain(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreWalksStopOnCorruptedCycle(t *testing.T) {
	s, n := seedTree(t)

	// Point A at D so that A -> B -> D -> A loops.
	s.mu.Lock()
	s.nodes[n["A"].ID-1].ParentID = Int64Ptr(n["D"].ID)
	s.children[n["D"].ID] = append(s.children[n["D"].ID], n["A"].ID)
	s.mu.Unlock()

	chain, err := s.FindAncestorChain(context.Background(), n["D"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["D"].ID, n["B"].ID, n["A"].ID}, ids(chain))

	descendants, err := s.FindDescendants(context.Background(), n["B"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{n["B"].ID, n["D"].ID, n["A"].ID, n["C"].ID}, ids(descendants))
}

func TestMemoryStoreFindByID(t *testing.T) {
	s, n := seedTree(t)

	got, err := s.FindByID(context.Background(), n["C"].ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.Content)

	_, err = s.FindByID(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConcurrentChildrenUnderOneParent(t *testing.T) {
	s := NewMemoryStore()
	root := mustSave(t, s, "root", nil)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Save(context.Background(), StoryNode{Content: "same", ParentID: Int64Ptr(root.ID)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	children, err := s.FindChildren(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Len(t, children, workers)
}

func TestMemoryStoreUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Email: " Ada@Example.com ", Nickname: "ada", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "ada@example.com", user.Email)

	_, err = s.CreateUser(ctx, User{Email: "ADA@example.com", Nickname: "other"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	byEmail, err := s.GetUserByEmail(ctx, "ada@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, user, byEmail)

	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", byID.Nickname)

	_, err = s.GetUserByID(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
