// Package imagegen turns story text into a hosted illustration.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const promptPrefix = "When generating an image, observe: no text in image; illustration only. "

var (
	ErrUnavailable = errors.New("image generation is not configured")
	ErrClient      = errors.New("image generation rejected the request")
	ErrServer      = errors.New("image generation provider failed")
	ErrResponse    = errors.New("image generation returned no image")
)

// Materializer copies a generated image into our own storage.
type Materializer interface {
	Materialize(ctx context.Context, sourceURL string) (string, error)
}

type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Logger  *zap.Logger
}

type Generator struct {
	client *openai.Client
	model  string
	images Materializer
	logger *zap.Logger
}

// New returns a Generator. Without an API key every call fails with ErrUnavailable.
func New(opts Options, images Materializer) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{model: opts.Model, images: images, logger: logger}
	if g.model == "" {
		g.model = openai.CreateImageModelDallE2
	}
	if opts.APIKey != "" {
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
		}
		g.client = openai.NewClientWithConfig(cfg)
	}
	return g
}

func (g *Generator) Enabled() bool {
	return g.client != nil
}

// Generate asks the provider for one 1024x1024 illustration of content and
// returns the hosted URL of our copy.
func (g *Generator) Generate(ctx context.Context, content string) (string, error) {
	if g.client == nil {
		return "", ErrUnavailable
	}

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         promptPrefix + content,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", g.classify(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrResponse
	}

	return g.images.Materialize(ctx, resp.Data[0].URL)
}

func (g *Generator) classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	g.logger.Warn("image generation failed", zap.Int("status", status), zap.Error(err))
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: %w", ErrClient, err)
	}
	return fmt.Errorf("%w: %w", ErrServer, err)
}
