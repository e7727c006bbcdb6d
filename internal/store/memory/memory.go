// Package memory is an in-process catalog store for development and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"bookcatalog/internal/catalog"
)

type bookEntry struct {
	book catalog.Book
	seq  uint64
}

type ratingEntry struct {
	rating catalog.Rating
	seq    uint64
}

// Store keeps books and ratings in maps guarded by one mutex.
type Store struct {
	mu      sync.RWMutex
	books   map[uuid.UUID]bookEntry
	isbns   map[string]uuid.UUID
	ratings map[uuid.UUID]ratingEntry
	seq     uint64
}

var _ catalog.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		books:   make(map[uuid.UUID]bookEntry),
		isbns:   make(map[string]uuid.UUID),
		ratings: make(map[uuid.UUID]ratingEntry),
	}
}

// Atomic runs fn under the write lock and undoes its writes if it fails.
func (s *Store) Atomic(ctx context.Context, fn func(tx catalog.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, journal: true}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) InsertBook(ctx context.Context, book catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).InsertBook(ctx, book)
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).GetBook(ctx, id)
}

func (s *Store) FindBookByISBN(ctx context.Context, isbn string) (catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).FindBookByISBN(ctx, isbn)
}

func (s *Store) ListBooks(ctx context.Context, genre catalog.Genre) ([]catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).ListBooks(ctx, genre)
}

func (s *Store) ReplaceBook(ctx context.Context, book catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).ReplaceBook(ctx, book)
}

func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).DeleteBook(ctx, id)
}

func (s *Store) InsertRating(ctx context.Context, rating catalog.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).InsertRating(ctx, rating)
}

func (s *Store) GetRating(ctx context.Context, bookID uuid.UUID) (catalog.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).GetRating(ctx, bookID)
}

func (s *Store) ListRatings(ctx context.Context) ([]catalog.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).ListRatings(ctx)
}

func (s *Store) SwapRating(ctx context.Context, rating catalog.Rating, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).SwapRating(ctx, rating, expectedVersion)
}

func (s *Store) DeleteRating(ctx context.Context, bookID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).DeleteRating(ctx, bookID)
}

// memTx works on the maps directly; the caller holds the lock. With journal
// set every write records how to undo itself.
type memTx struct {
	s       *Store
	journal bool
	undo    []func()
}

func (t *memTx) record(fn func()) {
	if t.journal {
		t.undo = append(t.undo, fn)
	}
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) nextSeq() uint64 {
	t.s.seq++
	return t.s.seq
}

func (t *memTx) InsertBook(_ context.Context, book catalog.Book) error {
	s := t.s
	if _, ok := s.books[book.ID]; ok {
		return catalog.ErrDuplicateKey
	}
	if _, ok := s.isbns[book.ISBN]; ok {
		return catalog.ErrDuplicateKey
	}
	s.books[book.ID] = bookEntry{book: book, seq: t.nextSeq()}
	s.isbns[book.ISBN] = book.ID
	t.record(func() {
		delete(s.books, book.ID)
		delete(s.isbns, book.ISBN)
	})
	return nil
}

func (t *memTx) GetBook(_ context.Context, id uuid.UUID) (catalog.Book, error) {
	e, ok := t.s.books[id]
	if !ok {
		return catalog.Book{}, catalog.ErrNoDocument
	}
	return e.book, nil
}

func (t *memTx) FindBookByISBN(ctx context.Context, isbn string) (catalog.Book, error) {
	id, ok := t.s.isbns[isbn]
	if !ok {
		return catalog.Book{}, catalog.ErrNoDocument
	}
	return t.GetBook(ctx, id)
}

func (t *memTx) ListBooks(_ context.Context, genre catalog.Genre) ([]catalog.Book, error) {
	entries := make([]bookEntry, 0, len(t.s.books))
	for _, e := range t.s.books {
		if genre == "" || e.book.Genre == genre {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b bookEntry) int { return cmpSeq(a.seq, b.seq) })

	books := make([]catalog.Book, 0, len(entries))
	for _, e := range entries {
		books = append(books, e.book)
	}
	return books, nil
}

func (t *memTx) ReplaceBook(_ context.Context, book catalog.Book) error {
	s := t.s
	old, ok := s.books[book.ID]
	if !ok {
		return catalog.ErrNoDocument
	}
	if book.ISBN != old.book.ISBN {
		if _, taken := s.isbns[book.ISBN]; taken {
			return catalog.ErrDuplicateKey
		}
		delete(s.isbns, old.book.ISBN)
		s.isbns[book.ISBN] = book.ID
	}
	s.books[book.ID] = bookEntry{book: book, seq: old.seq}
	t.record(func() {
		delete(s.isbns, book.ISBN)
		s.isbns[old.book.ISBN] = old.book.ID
		s.books[book.ID] = old
	})
	return nil
}

func (t *memTx) DeleteBook(_ context.Context, id uuid.UUID) error {
	s := t.s
	old, ok := s.books[id]
	if !ok {
		return catalog.ErrNoDocument
	}
	delete(s.books, id)
	delete(s.isbns, old.book.ISBN)
	t.record(func() {
		s.books[id] = old
		s.isbns[old.book.ISBN] = id
	})
	return nil
}

func (t *memTx) InsertRating(_ context.Context, rating catalog.Rating) error {
	s := t.s
	if _, ok := s.ratings[rating.BookID]; ok {
		return catalog.ErrDuplicateKey
	}
	s.ratings[rating.BookID] = ratingEntry{rating: rating.Clone(), seq: t.nextSeq()}
	t.record(func() { delete(s.ratings, rating.BookID) })
	return nil
}

func (t *memTx) GetRating(_ context.Context, bookID uuid.UUID) (catalog.Rating, error) {
	e, ok := t.s.ratings[bookID]
	if !ok {
		return catalog.Rating{}, catalog.ErrNoDocument
	}
	return e.rating.Clone(), nil
}

func (t *memTx) ListRatings(_ context.Context) ([]catalog.Rating, error) {
	entries := make([]ratingEntry, 0, len(t.s.ratings))
	for _, e := range t.s.ratings {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b ratingEntry) int { return cmpSeq(a.seq, b.seq) })

	ratings := make([]catalog.Rating, 0, len(entries))
	for _, e := range entries {
		ratings = append(ratings, e.rating.Clone())
	}
	return ratings, nil
}

func (t *memTx) SwapRating(_ context.Context, rating catalog.Rating, expectedVersion int) error {
	s := t.s
	old, ok := s.ratings[rating.BookID]
	if !ok {
		return catalog.ErrNoDocument
	}
	if old.rating.Version != expectedVersion {
		return catalog.ErrVersionConflict
	}
	next := rating.Clone()
	next.Version = expectedVersion + 1
	s.ratings[rating.BookID] = ratingEntry{rating: next, seq: old.seq}
	t.record(func() { s.ratings[rating.BookID] = old })
	return nil
}

func (t *memTx) DeleteRating(_ context.Context, bookID uuid.UUID) error {
	s := t.s
	old, ok := s.ratings[bookID]
	if !ok {
		return catalog.ErrNoDocument
	}
	delete(s.ratings, bookID)
	t.record(func() { s.ratings[bookID] = old })
	return nil
}

func cmpSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
