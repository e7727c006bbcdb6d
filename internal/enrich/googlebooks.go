package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/books/v1"
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrVolumeNotFound means the service answered but knows no volume for the ISBN.
	ErrVolumeNotFound = errors.New("volume not found")
	// ErrUnavailable covers transport failures, timeouts, non-2xx answers
	// and bodies that cannot be decoded.
	ErrUnavailable = errors.New("metadata service unavailable")
)

// Volume is the metadata of the best matching volume.
type Volume struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Publisher     string   `json:"publisher"`
	PublishedDate string   `json:"publishedDate"`
}

// GoogleBooksConfig configures a GoogleBooks client. Zero values select the
// defaults.
type GoogleBooksConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond limits outbound calls; 0 disables limiting.
	RequestsPerSecond float64
}

// GoogleBooks looks up volumes by ISBN in the Google Books API.
type GoogleBooks struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// NewGoogleBooks creates a client.
func NewGoogleBooks(cfg GoogleBooksConfig) *GoogleBooks {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &GoogleBooks{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: otel.Tracer("bookcatalog/enrich"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// googleBooksResponse matches the parts of the volumes answer we read.
type googleBooksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo Volume `json:"volumeInfo"`
	} `json:"items"`
}

// LookupISBN issues one request for isbn and returns the first volume.
func (g *GoogleBooks) LookupISBN(ctx context.Context, isbn string) (*Volume, error) {
	ctx, span := g.tracer.Start(ctx, "googlebooks.lookup",
		trace.WithAttributes(attribute.String("book.isbn", isbn)),
	)
	defer span.End()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
		}
	}

	q := url.Values{}
	q.Set("q", "isbn:"+isbn)
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	reqURL := g.baseURL + "/volumes?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: upstream returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result googleBooksResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}

	if result.TotalItems == 0 || len(result.Items) == 0 {
		span.SetAttributes(attribute.Bool("volume.found", false))
		return nil, ErrVolumeNotFound
	}

	vol := result.Items[0].VolumeInfo
	span.SetAttributes(attribute.Bool("volume.found", true))
	return &vol, nil
}
