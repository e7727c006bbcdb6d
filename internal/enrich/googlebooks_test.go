package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGoogleBooks(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/volumes", r.URL.Path)
		assert.Equal(t, "isbn:9780142437179", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

const huckFinnResponse = `{
  "kind": "books#volumes",
  "totalItems": 1,
  "items": [{
    "volumeInfo": {
      "title": "Adventures of Huckleberry Finn",
      "authors": ["Mark Twain"],
      "publisher": "Penguin",
      "publishedDate": "2002-12-31"
    }
  }]
}`

func TestLookupISBN(t *testing.T) {
	srv, calls := fakeGoogleBooks(t, http.StatusOK, huckFinnResponse)
	g := NewGoogleBooks(GoogleBooksConfig{BaseURL: srv.URL})

	vol, err := g.LookupISBN(context.Background(), "9780142437179")
	require.NoError(t, err)
	assert.Equal(t, &Volume{
		Title:         "Adventures of Huckleberry Finn",
		Authors:       []string{"Mark Twain"},
		Publisher:     "Penguin",
		PublishedDate: "2002-12-31",
	}, vol)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookupISBNSendsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(huckFinnResponse))
	}))
	defer srv.Close()

	_, err := NewGoogleBooks(GoogleBooksConfig{BaseURL: srv.URL + "/", APIKey: "secret"}).
		LookupISBN(context.Background(), "9780142437179")
	require.NoError(t, err)
}

func TestLookupISBNPartialVolume(t *testing.T) {
	srv, _ := fakeGoogleBooks(t, http.StatusOK, `{"totalItems":1,"items":[{"volumeInfo":{"title":"x"}}]}`)
	vol, err := NewGoogleBooks(GoogleBooksConfig{BaseURL: srv.URL}).LookupISBN(context.Background(), "9780142437179")
	require.NoError(t, err)
	assert.Empty(t, vol.Authors)
	assert.Empty(t, vol.Publisher)
	assert.Empty(t, vol.PublishedDate)
}

func TestLookupISBNFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"zero items", http.StatusOK, `{"kind":"books#volumes","totalItems":0}`, ErrVolumeNotFound},
		{"empty items", http.StatusOK, `{"totalItems":3,"items":[]}`, ErrVolumeNotFound},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, ErrUnavailable},
		{"malformed body", http.StatusOK, `{"totalItems":`, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeGoogleBooks(t, tt.status, tt.body)
			_, err := NewGoogleBooks(GoogleBooksConfig{BaseURL: srv.URL}).LookupISBN(context.Background(), "9780142437179")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLookupISBNTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewGoogleBooks(GoogleBooksConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := g.LookupISBN(context.Background(), "9780142437179")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupISBNUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewGoogleBooks(GoogleBooksConfig{BaseURL: url}).LookupISBN(context.Background(), "9780142437179")
	assert.ErrorIs(t, err, ErrUnavailable)
}
