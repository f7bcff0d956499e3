package imaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	mu    sync.Mutex
	putFn func(ctx context.Context, key string, data []byte, contentType string) error
	puts  []string
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	f.puts = append(f.puts, key)
	f.mu.Unlock()
	if f.putFn != nil {
		return f.putFn(ctx, key, data, contentType)
	}
	return nil
}

func (f *fakeObjectStore) Bucket() string {
	return "nextpage-images"
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cat.JPG", "/noext":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
		case "/huge.png":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/empty.png":
			w.WriteHeader(http.StatusOK)
		case "/slow.png":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(objects ObjectStore, observe func(string, time.Duration)) *Pipeline {
	return NewPipeline(objects, Options{
		DownloadTimeout:     50 * time.Millisecond,
		MaxBytes:            32,
		PublicBaseURL:       "https://cdn.test/",
		ResizedBucketSuffix: "-resize",
		ResizedKeyPrefix:    "resized-",
		Observe:             observe,
		NewID:               func() string { return "0b5e0d1c-1111-4c1e-9a57-5c1e2b7a9f00" },
	})
}

func TestMaterializeUploadsAndReturnsResizedURL(t *testing.T) {
	srv := imageServer(t)
	var gotType string
	var gotData []byte
	objects := &fakeObjectStore{putFn: func(_ context.Context, _ string, data []byte, contentType string) error {
		gotType, gotData = contentType, data
		return nil
	}}
	var outcomes []string
	p := newTestPipeline(objects, func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) })

	hosted, err := p.Materialize(context.Background(), srv.URL+"/cat.JPG")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.test/nextpage-images-resize/resized-dalle/0b5e0d1c-1111-4c1e-9a57-5c1e2b7a9f00.jpg", hosted)
	assert.Equal(t, []string{"dalle/0b5e0d1c-1111-4c1e-9a57-5c1e2b7a9f00.jpg"}, objects.puts)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "jpeg-bytes", string(gotData))
	assert.Equal(t, []string{OutcomeOK}, outcomes)
}

func TestMaterializeDefaultsToPNGExtension(t *testing.T) {
	srv := imageServer(t)
	objects := &fakeObjectStore{}
	p := newTestPipeline(objects, nil)

	_, err := p.Materialize(context.Background(), srv.URL+"/noext")
	require.NoError(t, err)
	require.Len(t, objects.puts, 1)
	assert.True(t, strings.HasSuffix(objects.puts[0], ".png"), objects.puts[0])
}

func TestMaterializeDownloadFailures(t *testing.T) {
	srv := imageServer(t)
	cases := map[string]string{
		"not found":  srv.URL + "/missing.png",
		"too large":  srv.URL + "/huge.png",
		"empty body": srv.URL + "/empty.png",
		"timeout":    srv.URL + "/slow.png",
		"bad scheme": "ftp://example.com/cat.png",
		"unparsable": "http://[::1",
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			objects := &fakeObjectStore{}
			var outcomes []string
			p := newTestPipeline(objects, func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) })

			_, err := p.Materialize(context.Background(), source)

			var acqErr *AcquisitionError
			require.ErrorAs(t, err, &acqErr)
			assert.Equal(t, KindDownload, acqErr.Kind)
			assert.Empty(t, objects.puts, "nothing may be uploaded after a failed download")
			assert.Equal(t, []string{OutcomeDownloadError}, outcomes)
		})
	}
}

func TestMaterializeUploadFailure(t *testing.T) {
	srv := imageServer(t)
	boom := errors.New("bucket unavailable")
	objects := &fakeObjectStore{putFn: func(context.Context, string, []byte, string) error { return boom }}
	p := newTestPipeline(objects, nil)

	_, err := p.Materialize(context.Background(), srv.URL+"/cat.JPG")

	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, KindUpload, acqErr.Kind)
	assert.ErrorIs(t, err, boom)
}

func TestMaterializeBreakerOpensAfterRepeatedUploadFailures(t *testing.T) {
	srv := imageServer(t)
	objects := &fakeObjectStore{putFn: func(context.Context, string, []byte, string) error {
		return errors.New("bucket unavailable")
	}}
	p := newTestPipeline(objects, nil)

	for i := 0; i < 5; i++ {
		_, err := p.Materialize(context.Background(), srv.URL+"/cat.JPG")
		require.Error(t, err)
	}

	_, err := p.Materialize(context.Background(), srv.URL+"/cat.JPG")
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, KindUpload, acqErr.Kind)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, objects.puts, 5)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"/a/b/image.webp":  ".webp",
		"/a/b/IMAGE.PNG":   ".png",
		"/img":             ".png",
		"/img.":            ".png",
		"/img.toolongext":  ".png",
		"/img.p%20g":       ".png",
		"/dir.v2/filename": ".png",
	}
	for input, want := range cases {
		assert.Equal(t, want, extension(input), input)
	}
}
