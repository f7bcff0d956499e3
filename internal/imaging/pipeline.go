// Package imaging copies a source image into object storage and returns the
// URL of the resized copy produced by the storage-side resize hook.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultExt       = ".png"
	defaultKeyPrefix = "dalle/"
)

// Outcome labels reported to Options.Observe.
const (
	OutcomeOK            = "ok"
	OutcomeDownloadError = "download_error"
	OutcomeUploadError   = "upload_error"
)

type Options struct {
	HTTPClient      *http.Client
	DownloadTimeout time.Duration
	MaxBytes        int64

	// Hosted URLs are PublicBaseURL/<bucket><ResizedBucketSuffix>/<ResizedKeyPrefix><key>.
	PublicBaseURL       string
	ResizedBucketSuffix string
	ResizedKeyPrefix    string
	KeyPrefix           string

	// Observe, when set, receives the outcome and duration of every Materialize call.
	Observe func(outcome string, elapsed time.Duration)
	Logger  *zap.Logger
	NewID   func() string
}

type Pipeline struct {
	objects ObjectStore
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	opts    Options
	logger  *zap.Logger
}

func NewPipeline(objects ObjectStore, opts Options) *Pipeline {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 15 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		objects: objects,
		client:  opts.HTTPClient,
		breaker: newUploadBreaker(logger),
		opts:    opts,
		logger:  logger,
	}
}

func newUploadBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "object-store-upload",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Materialize downloads sourceURL, uploads it under a fresh key and returns the
// hosted URL. Every failure is an *AcquisitionError; nothing is retried.
func (p *Pipeline) Materialize(ctx context.Context, sourceURL string) (hosted string, err error) {
	started := time.Now()
	defer func() {
		if p.opts.Observe != nil {
			p.opts.Observe(outcomeOf(err), time.Since(started))
		}
	}()

	data, contentType, ext, err := p.download(ctx, sourceURL)
	if err != nil {
		return "", &AcquisitionError{Kind: KindDownload, Source: sourceURL, Err: err}
	}

	key := p.opts.KeyPrefix + p.opts.NewID() + ext
	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.objects.Put(ctx, key, data, contentType)
	})
	if err != nil {
		return "", &AcquisitionError{Kind: KindUpload, Source: sourceURL, Err: err}
	}

	hosted = p.hostedURL(key)
	p.logger.Debug("image materialized", zap.String("key", key), zap.Int("bytes", len(data)))
	return hosted, nil
}

func (p *Pipeline) download(ctx context.Context, sourceURL string) ([]byte, string, string, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return nil, "", "", fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", "", fmt.Errorf("unsupported source url scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("fetch source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("fetch source image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBytes+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("read source image: %w", err)
	}
	if int64(len(data)) > p.opts.MaxBytes {
		return nil, "", "", fmt.Errorf("source image exceeds %d bytes", p.opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, "", "", errors.New("source image is empty")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, extension(u.Path), nil
}

func (p *Pipeline) hostedURL(key string) string {
	base := strings.TrimRight(p.opts.PublicBaseURL, "/")
	return base + "/" + p.objects.Bucket() + p.opts.ResizedBucketSuffix + "/" + p.opts.ResizedKeyPrefix + key
}

// extension keeps the source file extension so the resize hook can pick a
// codec. Paths without a short alphanumeric extension default to .png.
func extension(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 5 {
		return defaultExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExt
		}
	}
	return ext
}

func outcomeOf(err error) string {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		if acqErr.Kind == KindDownload {
			return OutcomeDownloadError
		}
		return OutcomeUploadError
	}
	return OutcomeOK
}
