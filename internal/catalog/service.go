// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	CreateBook(ctx context.Context, isbn, title, genre string) (uuid.UUID, error)
	UpdateBook(ctx context.Context, id string, fields BookFields) (uuid.UUID, error)
	GetBook(ctx context.Context, id string) (Book, error)
	ListBooks(ctx context.Context, genre string) ([]Book, error)
	DeleteBook(ctx context.Context, id string) (uuid.UUID, error)

	GetRating(ctx context.Context, id string) (Rating, error)
	ListRatings(ctx context.Context) ([]Rating, error)
	AddRating(ctx context.Context, id string, value int) (float64, error)
	Top(ctx context.Context) ([]TopEntry, error)

	Health(ctx context.Context) error
}
