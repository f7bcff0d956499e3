package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaterializer struct {
	materializeFn func(ctx context.Context, sourceURL string) (string, error)
}

func (f fakeMaterializer) Materialize(ctx context.Context, sourceURL string) (string, error) {
	return f.materializeFn(ctx, sourceURL)
}

func providerServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateMaterializesProviderImage(t *testing.T) {
	var request map[string]any
	srv := providerServer(t, http.StatusOK, `{"created":1,"data":[{"url":"https://provider.test/img.png"}]}`, &request)

	var source string
	g := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, fakeMaterializer{materializeFn: func(_ context.Context, sourceURL string) (string, error) {
		source = sourceURL
		return "https://cdn.test/hosted.png", nil
	}})

	hosted, err := g.Generate(context.Background(), "a dragon reading a map")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/hosted.png", hosted)
	assert.Equal(t, "https://provider.test/img.png", source)

	assert.Equal(t, "When generating an image, observe: no text in image; illustration only. a dragon reading a map", request["prompt"])
	assert.Equal(t, "dall-e-2", request["model"])
	assert.Equal(t, "1024x1024", request["size"])
	assert.EqualValues(t, 1, request["n"])
}

func TestGenerateWithoutKeyIsUnavailable(t *testing.T) {
	g := New(Options{}, nil)

	assert.False(t, g.Enabled())
	_, err := g.Generate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGenerateClassifiesProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "client", status: http.StatusBadRequest, body: `{"error":{"message":"bad prompt","type":"invalid_request_error"}}`, want: ErrClient},
		{name: "server", status: http.StatusBadGateway, body: `{"error":{"message":"upstream","type":"server_error"}}`, want: ErrServer},
		{name: "no data", status: http.StatusOK, body: `{"created":1,"data":[]}`, want: ErrResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := providerServer(t, tc.status, tc.body, nil)
			g := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, fakeMaterializer{materializeFn: func(context.Context, string) (string, error) {
				t.Fatal("materialize must not run after a provider failure")
				return "", nil
			}})

			_, err := g.Generate(context.Background(), "x")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGeneratePropagatesPipelineErrors(t *testing.T) {
	srv := providerServer(t, http.StatusOK, `{"created":1,"data":[{"url":"https://provider.test/img.png"}]}`, nil)
	boom := errors.New("upload failed")
	g := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, fakeMaterializer{materializeFn: func(context.Context, string) (string, error) {
		return "", boom
	}})

	_, err := g.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}
