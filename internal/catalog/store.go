package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Tx is the keyed document access the catalog needs from storage. Lookups
// that find nothing return ErrNoDocument. Inserts that collide on a key or on
// the ISBN return ErrDuplicateKey.
type Tx interface {
	InsertBook(ctx context.Context, book Book) error
	GetBook(ctx context.Context, id uuid.UUID) (Book, error)
	FindBookByISBN(ctx context.Context, isbn string) (Book, error)
	// ListBooks returns live books in insertion order. An empty genre
	// matches every book.
	ListBooks(ctx context.Context, genre Genre) ([]Book, error)
	ReplaceBook(ctx context.Context, book Book) error
	DeleteBook(ctx context.Context, id uuid.UUID) error

	InsertRating(ctx context.Context, rating Rating) error
	GetRating(ctx context.Context, bookID uuid.UUID) (Rating, error)
	ListRatings(ctx context.Context) ([]Rating, error)
	// SwapRating replaces the stored rating only if its version still equals
	// expectedVersion, and stores it with expectedVersion+1. A stale version
	// yields ErrVersionConflict.
	SwapRating(ctx context.Context, rating Rating, expectedVersion int) error
	DeleteRating(ctx context.Context, bookID uuid.UUID) error
}

// Store is the storage collaborator. Calls made directly on the Store run
// outside any transaction.
type Store interface {
	Tx
	// Atomic runs fn so that either every write it makes is applied or none
	// are. fn must use only the Tx it is given.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Publisher receives catalog events after the change they describe has been
// committed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// HealthReporter is implemented by publishers holding a broker connection.
type HealthReporter interface {
	IsHealthy() bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
