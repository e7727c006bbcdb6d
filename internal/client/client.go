// Package client is a typed HTTP client for the book catalog API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bookcatalog/internal/catalog"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api: %d: %s", e.StatusCode, e.Message)
}

// Kind recovers the catalog kind where the status identifies one. The 422
// family shares one status, so those report KindUnknown.
func (e *APIError) Kind() catalog.Kind {
	switch e.StatusCode {
	case http.StatusNotFound:
		return catalog.KindBookNotFound
	default:
		return catalog.KindUnknown
	}
}

// Is lets errors.Is(err, catalog.ErrBookNotFound) work across the wire.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*catalog.Error)
	if !ok {
		return false
	}
	return t.Kind != catalog.KindUnknown && t.Kind == e.Kind() && t.Op == "" && t.Msg == "" && t.Err == nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewWithHTTPClient uses hc as is.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

type idResponse struct {
	ID uuid.UUID `json:"id"`
}

func (c *Client) CreateBook(ctx context.Context, isbn, title string, genre catalog.Genre) (uuid.UUID, error) {
	body := map[string]string{"ISBN": isbn, "title": title, "genre": string(genre)}
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/books", body, http.StatusCreated, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}

func (c *Client) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/books/"+id.String(), nil, http.StatusOK, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks lists every book, or those of genre when it is not empty.
func (c *Client) ListBooks(ctx context.Context, genre catalog.Genre) ([]catalog.Book, error) {
	path := "/books"
	if genre != "" {
		path += "?" + url.Values{"genre": {string(genre)}}.Encode()
	}
	var books []catalog.Book
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) UpdateBook(ctx context.Context, id uuid.UUID, fields catalog.BookFields) error {
	return c.do(ctx, http.MethodPut, "/books/"+id.String(), fields, http.StatusOK, nil)
}

func (c *Client) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/books/"+id.String(), nil, http.StatusOK, nil)
}

func (c *Client) GetRating(ctx context.Context, id uuid.UUID) (*catalog.Rating, error) {
	var rating catalog.Rating
	if err := c.do(ctx, http.MethodGet, "/ratings/"+id.String(), nil, http.StatusOK, &rating); err != nil {
		return nil, err
	}
	return &rating, nil
}

func (c *Client) ListRatings(ctx context.Context) ([]catalog.Rating, error) {
	var ratings []catalog.Rating
	if err := c.do(ctx, http.MethodGet, "/ratings", nil, http.StatusOK, &ratings); err != nil {
		return nil, err
	}
	return ratings, nil
}

// AddRating records value and returns the new average.
func (c *Client) AddRating(ctx context.Context, id uuid.UUID, value int) (float64, error) {
	var out map[string]float64
	if err := c.do(ctx, http.MethodPost, "/ratings/"+id.String()+"/values", map[string]int{"value": value}, http.StatusCreated, &out); err != nil {
		return 0, err
	}
	avg, ok := out["new average"]
	if !ok {
		return 0, fmt.Errorf("catalog api: response missing %q", "new average")
	}
	return avg, nil
}

func (c *Client) Top(ctx context.Context) ([]catalog.TopEntry, error) {
	var top []catalog.TopEntry
	if err := c.do(ctx, http.MethodGet, "/top", nil, http.StatusOK, &top); err != nil {
		return nil, err
	}
	return top, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog api: decode response: %w", err)
	}
	return nil
}
