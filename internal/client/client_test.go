package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/store/memory"
)

type staticMetadata struct {
	md  catalog.Metadata
	err error
}

func (s *staticMetadata) FetchMetadata(ctx context.Context, isbn string) (catalog.Metadata, error) {
	return s.md, s.err
}

func newTestClient(t *testing.T) (*Client, *staticMetadata) {
	t.Helper()
	store := memory.New()
	fetcher := &staticMetadata{md: catalog.Metadata{Authors: "Mark Twain", Publisher: "Penguin", PublishedDate: "2002-12-31"}}
	log := zap.NewNop()
	ratings := catalog.NewRatingAggregator(store, 0, log)
	books := catalog.NewBookCatalog(store, fetcher, ratings, nil, log)

	r := chi.NewRouter()
	catalog.NewHandler(catalog.NewService(store, books, ratings, 2), log).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(srv.URL, srv.Client()), fetcher
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateBook(ctx, "9780142437179", "Adventures of Huckleberry Finn", catalog.GenreFiction)
	require.NoError(t, err)

	book, err := c.GetBook(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Mark Twain", book.Authors)
	assert.Equal(t, catalog.GenreFiction, book.Genre)

	avg, err := c.AddRating(ctx, id, 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, avg)
	avg, err = c.AddRating(ctx, id, 5)
	require.NoError(t, err)
	assert.Equal(t, 4.5, avg)

	rating, err := c.GetRating(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rating.BookID)
	assert.Equal(t, []int{4, 5}, rating.Values)

	require.NoError(t, c.UpdateBook(ctx, id, catalog.BookFields{
		Title:         "Huckleberry Finn",
		Genre:         string(catalog.GenreChildren),
		Authors:       "Mark Twain",
		Publisher:     "Penguin",
		PublishedDate: "2002-12-31",
	}))
	children, err := c.ListBooks(ctx, catalog.GenreChildren)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Huckleberry Finn", children[0].Title)

	ratings, err := c.ListRatings(ctx)
	require.NoError(t, err)
	assert.Len(t, ratings, 1)

	require.NoError(t, c.DeleteBook(ctx, id))
	_, err = c.GetBook(ctx, id)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestClientTop(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for i, v := range []int{2, 5, 4} {
		id, err := c.CreateBook(ctx, string(rune('a'+i)), string(rune('A'+i)), catalog.GenreOther)
		require.NoError(t, err)
		_, err = c.AddRating(ctx, id, v)
		require.NoError(t, err)
	}

	top, err := c.Top(ctx)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].Title)
	assert.Equal(t, "C", top[1].Title)
}

func TestClientErrors(t *testing.T) {
	c, fetcher := newTestClient(t)
	ctx := context.Background()

	_, err := c.CreateBook(ctx, "1", "t", "Poetry")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "genre")
	assert.NotErrorIs(t, err, catalog.ErrBookNotFound)

	_, err = c.AddRating(ctx, uuid.New(), 3)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	fetcher.err = &catalog.Error{Kind: catalog.KindExternalService, Msg: "down"}
	_, err = c.CreateBook(ctx, "2", "t", catalog.GenreFiction)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, catalog.KindUnknown, apiErr.Kind())
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Top(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}
