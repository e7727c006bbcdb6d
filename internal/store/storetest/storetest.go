// Package storetest holds the behaviour every catalog.Store must show.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/catalog"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) catalog.Store

func sampleBook(isbn string, genre catalog.Genre) catalog.Book {
	return catalog.Book{
		ID:            uuid.New(),
		ISBN:          isbn,
		Title:         "Title " + isbn,
		Genre:         genre,
		Authors:       "Mark Twain",
		Publisher:     "Penguin",
		PublishedDate: "2002-12-31",
	}
}

func insertPair(t *testing.T, s catalog.Store, b catalog.Book) {
	t.Helper()
	err := s.Atomic(context.Background(), func(tx catalog.Tx) error {
		if err := tx.InsertBook(context.Background(), b); err != nil {
			return err
		}
		return tx.InsertRating(context.Background(), catalog.NewRating(b.ID, b.Title))
	})
	require.NoError(t, err)
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("BookRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := sampleBook("9780142437179", catalog.GenreFiction)
		insertPair(t, s, b)

		got, err := s.GetBook(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b, got)

		byISBN, err := s.FindBookByISBN(ctx, b.ISBN)
		require.NoError(t, err)
		assert.Equal(t, b.ID, byISBN.ID)

		r, err := s.GetRating(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.Title, r.Title)
		assert.Empty(t, r.Values)
		assert.Equal(t, 0.0, r.Average)
		assert.Equal(t, 1, r.Version)
	})

	t.Run("MissingDocuments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.New()

		_, err := s.GetBook(ctx, id)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		_, err = s.FindBookByISBN(ctx, "nope")
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		_, err = s.GetRating(ctx, id)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		assert.ErrorIs(t, s.DeleteBook(ctx, id), catalog.ErrNoDocument)
		assert.ErrorIs(t, s.DeleteRating(ctx, id), catalog.ErrNoDocument)
		assert.ErrorIs(t, s.ReplaceBook(ctx, sampleBook("x", catalog.GenreOther)), catalog.ErrNoDocument)
		assert.ErrorIs(t, s.SwapRating(ctx, catalog.NewRating(id, "t"), 1), catalog.ErrNoDocument)
	})

	t.Run("DuplicateISBN", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := sampleBook("111", catalog.GenreFiction)
		insertPair(t, s, first)

		second := sampleBook("111", catalog.GenreScience)
		err := s.Atomic(ctx, func(tx catalog.Tx) error {
			return tx.InsertBook(ctx, second)
		})
		assert.ErrorIs(t, err, catalog.ErrDuplicateKey)

		_, err = s.GetBook(ctx, second.ID)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		got, err := s.GetBook(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	})

	t.Run("AtomicRollsBackPair", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := sampleBook("222", catalog.GenreFantasy)
		boom := errors.New("boom")

		err := s.Atomic(ctx, func(tx catalog.Tx) error {
			if err := tx.InsertBook(ctx, b); err != nil {
				return err
			}
			if err := tx.InsertRating(ctx, catalog.NewRating(b.ID, b.Title)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.GetBook(ctx, b.ID)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		_, err = s.GetRating(ctx, b.ID)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		_, err = s.FindBookByISBN(ctx, b.ISBN)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
	})

	t.Run("AtomicDeletePair", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := sampleBook("333", catalog.GenreFiction)
		insertPair(t, s, b)

		err := s.Atomic(ctx, func(tx catalog.Tx) error {
			if err := tx.DeleteRating(ctx, b.ID); err != nil {
				return err
			}
			return tx.DeleteBook(ctx, b.ID)
		})
		require.NoError(t, err)

		_, err = s.GetBook(ctx, b.ID)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)
		_, err = s.GetRating(ctx, b.ID)
		assert.ErrorIs(t, err, catalog.ErrNoDocument)

		// The ISBN is free again.
		insertPair(t, s, sampleBook("333", catalog.GenreFiction))
	})

	t.Run("SwapRatingVersionCheck", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := sampleBook("444", catalog.GenreScience)
		insertPair(t, s, b)

		r, err := s.GetRating(ctx, b.ID)
		require.NoError(t, err)

		next := r.Clone()
		next.Values = append(next.Values, 4)
		next.Average = 4
		require.NoError(t, s.SwapRating(ctx, next, r.Version))

		stale := r.Clone()
		stale.Values = append(stale.Values, 1)
		stale.Average = 1
		assert.ErrorIs(t, s.SwapRating(ctx, stale, r.Version), catalog.ErrVersionConflict)

		got, err := s.GetRating(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{4}, got.Values)
		assert.Equal(t, 4.0, got.Average)
		assert.Equal(t, r.Version+1, got.Version)
	})

	t.Run("ListBooksInsertionOrderAndGenre", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := sampleBook("a", catalog.GenreFiction)
		b := sampleBook("b", catalog.GenreScience)
		c := sampleBook("c", catalog.GenreFiction)
		for _, bk := range []catalog.Book{a, b, c} {
			insertPair(t, s, bk)
		}

		all, err := s.ListBooks(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

		fiction, err := s.ListBooks(ctx, catalog.GenreFiction)
		require.NoError(t, err)
		require.Len(t, fiction, 2)
		assert.Equal(t, a.ID, fiction[0].ID)
		assert.Equal(t, c.ID, fiction[1].ID)

		none, err := s.ListBooks(ctx, catalog.GenreBiography)
		require.NoError(t, err)
		assert.Empty(t, none)

		ratings, err := s.ListRatings(ctx)
		require.NoError(t, err)
		assert.Len(t, ratings, 3)
	})

	t.Run("ReplaceBook", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := sampleBook("555", catalog.GenreFiction)
		insertPair(t, s, b)

		b.Title = "New Title"
		b.Genre = catalog.GenreOther
		require.NoError(t, s.ReplaceBook(ctx, b))

		got, err := s.GetBook(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b, got)
	})
}
