package app

import "nextpage/api/internal/store"

// RootView is one entry of the root listing.
type RootView struct {
	ID             int64  `json:"id"`
	AuthorNickname string `json:"authorNickname"`
	Content        string `json:"content"`
	ImageURL       string `json:"imageUrl"`
}

// NodeDetailView is a node with its direct children. ChildIDs[i] and
// ChildContents[i] always describe the same child.
type NodeDetailView struct {
	ID             int64    `json:"id"`
	AuthorNickname string   `json:"authorNickname"`
	Content        string   `json:"content"`
	ImageURL       string   `json:"imageUrl"`
	ParentID       *int64   `json:"parentId"`
	ChildIDs       []int64  `json:"childIds"`
	ChildContents  []string `json:"childContents"`
}

type ScenarioNodeView struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parentId"`
	ImageURL string `json:"imageUrl"`
}

type PathNodeView struct {
	ID             int64  `json:"id"`
	ParentID       *int64 `json:"parentId"`
	AuthorNickname string `json:"authorNickname"`
	Content        string `json:"content"`
	ImageURL       string `json:"imageUrl"`
}

// NodeView is the response of a successful create.
type NodeView struct {
	ID             int64  `json:"id"`
	AuthorNickname string `json:"authorNickname"`
	Content        string `json:"content"`
	ImageURL       string `json:"imageUrl"`
	ParentID       *int64 `json:"parentId"`
	CreatedAt      int64  `json:"createdAt"`
}

func nodeView(n store.StoryNode) NodeView {
	return NodeView{
		ID:             n.ID,
		AuthorNickname: n.AuthorNickname,
		Content:        n.Content,
		ImageURL:       n.ImageURL,
		ParentID:       n.ParentID,
		CreatedAt:      n.CreatedAt.Unix(),
	}
}
