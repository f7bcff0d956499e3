package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"nextpage/api/internal/authpw"
	"nextpage/api/internal/export"
	"nextpage/api/internal/identity"
	"nextpage/api/internal/search"
	"nextpage/api/internal/store"
)

// StoryRepository is implemented by store.PostgresStore and store.MemoryStore.
type StoryRepository interface {
	FindRoots(ctx context.Context) ([]store.StoryNode, error)
	FindChildren(ctx context.Context, storyID int64) ([]store.StoryNode, error)
	FindDescendants(ctx context.Context, rootID int64) ([]store.StoryNode, error)
	FindAncestorChain(ctx context.Context, leafID int64) ([]store.StoryNode, error)
	FindByID(ctx context.Context, storyID int64) (store.StoryNode, error)
	Save(ctx context.Context, node store.StoryNode) (store.StoryNode, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, creds identity.Credentials) (string, error)
}

type ImagePipeline interface {
	Materialize(ctx context.Context, sourceURL string) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, content string) (string, error)
}

type StorySearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexStory(rec search.StoryRecord)
}

type PathExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Accounts interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (authpw.Session, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (authpw.Session, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional collaborators. A nil collaborator disables the
// operations that need it.
type Options struct {
	Generator ImageGenerator
	Search    StorySearch
	Exporter  PathExporter
	Accounts  Accounts
	Metrics   *Metrics
	Logger    *zap.Logger
}

type Service struct {
	stories  StoryRepository
	identity IdentityResolver
	images   ImagePipeline

	generator ImageGenerator
	search    StorySearch
	exporter  PathExporter
	accounts  Accounts
	metrics   *Metrics
	logger    *zap.Logger
}

func New(stories StoryRepository, resolver IdentityResolver, images ImagePipeline, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stories:   stories,
		identity:  resolver,
		images:    images,
		generator: opts.Generator,
		search:    opts.Search,
		exporter:  opts.Exporter,
		accounts:  opts.Accounts,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

type CreateNodeInput struct {
	Content        string
	ImageSourceURL string
	ParentID       *int64
}

// CreateNode resolves the author, materializes the image, then persists the
// node. Identity and image failures happen before anything is written.
//
// A ParentID that does not resolve is dropped and the node becomes a new root.
func (s *Service) CreateNode(ctx context.Context, input CreateNodeInput, creds identity.Credentials) (store.StoryNode, error) {
	nickname, err := s.identity.Resolve(ctx, creds)
	if err != nil {
		s.metrics.createFailed(failureAuth)
		return store.StoryNode{}, err
	}

	imageURL, err := s.images.Materialize(ctx, input.ImageSourceURL)
	if err != nil {
		s.metrics.createFailed(failureImage)
		return store.StoryNode{}, err
	}

	parentID, err := s.resolveParent(ctx, input.ParentID)
	if err != nil {
		s.metrics.createFailed(failureStorage)
		return store.StoryNode{}, err
	}

	saved, err := s.stories.Save(ctx, store.StoryNode{
		AuthorNickname: nickname,
		Content:        input.Content,
		ImageURL:       imageURL,
		ParentID:       parentID,
	})
	if err != nil {
		if errors.Is(err, store.ErrParentNotFound) {
			s.metrics.createFailed(failureParent)
			return store.StoryNode{}, &DomainError{Status: http.StatusNotFound, Code: "PARENT_NOT_FOUND", Message: "Parent story not found", Cause: err}
		}
		s.metrics.createFailed(failureStorage)
		return store.StoryNode{}, fmt.Errorf("save story: %w", err)
	}

	s.metrics.storyCreated()
	if s.search != nil {
		s.search.IndexStory(storyRecord(saved))
	}
	s.logger.Info("story created",
		zap.Int64("story_id", saved.ID),
		zap.Bool("root", saved.IsRoot()),
		zap.String("author", saved.AuthorNickname))
	return saved, nil
}

func (s *Service) resolveParent(ctx context.Context, requested *int64) (*int64, error) {
	if requested == nil {
		return nil, nil
	}
	parent, err := s.stories.FindByID(ctx, *requested)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("parent story not found, creating root", zap.Int64("parent_id", *requested))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup parent %d: %w", *requested, err)
	}
	id := parent.ID
	return &id, nil
}

func (s *Service) ListRoots(ctx context.Context) ([]RootView, error) {
	roots, err := s.stories.FindRoots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	if len(roots) == 0 {
		return nil, notFound("No stories yet", store.ErrNotFound)
	}
	views := make([]RootView, 0, len(roots))
	for _, n := range roots {
		views = append(views, RootView{
			ID:             n.ID,
			AuthorNickname: n.AuthorNickname,
			Content:        n.Content,
			ImageURL:       n.ImageURL,
		})
	}
	return views, nil
}

func (s *Service) GetNodeDetail(ctx context.Context, storyID int64) (NodeDetailView, error) {
	node, err := s.stories.FindByID(ctx, storyID)
	if errors.Is(err, store.ErrNotFound) {
		return NodeDetailView{}, notFound(fmt.Sprintf("Story %d not found", storyID), err)
	}
	if err != nil {
		return NodeDetailView{}, fmt.Errorf("get story %d: %w", storyID, err)
	}

	children, err := s.stories.FindChildren(ctx, storyID)
	if err != nil {
		return NodeDetailView{}, fmt.Errorf("list children of %d: %w", storyID, err)
	}
	view := NodeDetailView{
		ID:             node.ID,
		AuthorNickname: node.AuthorNickname,
		Content:        node.Content,
		ImageURL:       node.ImageURL,
		ParentID:       node.ParentID,
		ChildIDs:       make([]int64, 0, len(children)),
		ChildContents:  make([]string, 0, len(children)),
	}
	for _, child := range children {
		view.ChildIDs = append(view.ChildIDs, child.ID)
		view.ChildContents = append(view.ChildContents, child.Content)
	}
	return view, nil
}

// GetScenario returns the subtree under rootID, root first, in breadth-first
// order. Parent ids come from each node's own stored parent reference.
func (s *Service) GetScenario(ctx context.Context, rootID int64) ([]ScenarioNodeView, error) {
	nodes, err := s.stories.FindDescendants(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("scenario %d: %w", rootID, err)
	}
	if len(nodes) == 0 {
		return nil, notFound(fmt.Sprintf("Story %d not found", rootID), store.ErrNotFound)
	}
	views := make([]ScenarioNodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, ScenarioNodeView{ID: n.ID, ParentID: n.ParentID, ImageURL: n.ImageURL})
	}
	return views, nil
}

// GetPath returns the chain from the root down to leafID.
func (s *Service) GetPath(ctx context.Context, leafID int64) ([]PathNodeView, error) {
	chain, err := s.stories.FindAncestorChain(ctx, leafID)
	if err != nil {
		return nil, fmt.Errorf("path %d: %w", leafID, err)
	}
	if len(chain) == 0 {
		return nil, notFound(fmt.Sprintf("Story %d not found", leafID), store.ErrNotFound)
	}
	views := make([]PathNodeView, len(chain))
	for i, n := range chain {
		views[len(chain)-1-i] = PathNodeView{
			ID:             n.ID,
			ParentID:       n.ParentID,
			AuthorNickname: n.AuthorNickname,
			Content:        n.Content,
			ImageURL:       n.ImageURL,
		}
	}
	return views, nil
}

// GenerateImage illustrates content for an authenticated caller and returns
// the hosted URL.
func (s *Service) GenerateImage(ctx context.Context, content string, creds identity.Credentials) (string, error) {
	if _, err := s.identity.Resolve(ctx, creds); err != nil {
		return "", err
	}
	if s.generator == nil {
		return "", domainError(http.StatusServiceUnavailable, "IMAGE_GENERATION_UNAVAILABLE", "Image generation is not configured", nil)
	}
	return s.generator.Generate(ctx, content)
}

func (s *Service) SearchStories(ctx context.Context, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset})
}

// ExportPath renders the path ending at leafID as a storybook.
func (s *Service) ExportPath(ctx context.Context, leafID int64, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	path, err := s.GetPath(ctx, leafID)
	if err != nil {
		return nil, err
	}
	pages := make([]export.Page, 0, len(path))
	for _, n := range path {
		pages = append(pages, export.Page{
			ID:             n.ID,
			AuthorNickname: n.AuthorNickname,
			Content:        n.Content,
			ImageURL:       n.ImageURL,
		})
	}
	return s.exporter.Export(ctx, export.Request{
		Title:  "story-" + strconv.FormatInt(path[0].ID, 10) + "-" + strconv.FormatInt(leafID, 10),
		Pages:  pages,
		Format: format,
	})
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (authpw.Session, error) {
	if s.accounts == nil {
		return authpw.Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	return s.accounts.SignUp(ctx, req)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (authpw.Session, error) {
	if s.accounts == nil {
		return authpw.Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	return s.accounts.SignIn(ctx, req)
}

// Ping checks the story store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.stories.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func storyRecord(n store.StoryNode) search.StoryRecord {
	return search.StoryRecord{
		ID:             n.ID,
		AuthorNickname: n.AuthorNickname,
		Content:        n.Content,
		ImageURL:       n.ImageURL,
		ParentID:       n.ParentID,
		CreatedAt:      n.CreatedAt.Unix(),
	}
}
