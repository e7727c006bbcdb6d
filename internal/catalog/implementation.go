// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultTopN is the leaderboard size served by Top.
const DefaultTopN = 3

// service implements the Service interface.
type service struct {
	books   *BookCatalog
	ratings *RatingAggregator
	store   Store
	topN    int
}

// NewService creates a new catalog service instance. topN outside
// [1, DefaultTopN] selects DefaultTopN.
func NewService(store Store, books *BookCatalog, ratings *RatingAggregator, topN int) Service {
	if topN <= 0 || topN > DefaultTopN {
		topN = DefaultTopN
	}
	return &service{
		books:   books,
		ratings: ratings,
		store:   store,
		topN:    topN,
	}
}

func (s *service) CreateBook(ctx context.Context, isbn, title, genre string) (uuid.UUID, error) {
	return s.books.Create(ctx, isbn, title, genre)
}

func (s *service) UpdateBook(ctx context.Context, id string, fields BookFields) (uuid.UUID, error) {
	return s.books.Update(ctx, id, fields)
}

func (s *service) GetBook(ctx context.Context, id string) (Book, error) {
	return s.books.Get(ctx, id)
}

func (s *service) ListBooks(ctx context.Context, genre string) ([]Book, error) {
	return s.books.List(ctx, genre)
}

func (s *service) DeleteBook(ctx context.Context, id string) (uuid.UUID, error) {
	return s.books.Delete(ctx, id)
}

func (s *service) GetRating(ctx context.Context, id string) (Rating, error) {
	bookID, err := parseID("get rating", id)
	if err != nil {
		return Rating{}, err
	}
	return s.ratings.Get(ctx, bookID)
}

func (s *service) ListRatings(ctx context.Context) ([]Rating, error) {
	return s.ratings.List(ctx)
}

// AddRating records one value. The value is checked before the id so a bad
// value never costs a lookup.
func (s *service) AddRating(ctx context.Context, id string, value int) (float64, error) {
	if err := ValidateRatingValue(value); err != nil {
		return 0, err
	}
	bookID, err := parseID("add rating", id)
	if err != nil {
		return 0, err
	}
	avg, err := s.ratings.AddRating(ctx, bookID, value)
	if err != nil {
		return 0, err
	}
	s.books.publish(ctx, EventRatingAdded, bookID, RatingAddedEvent{Value: value, NewAverage: avg})
	return avg, nil
}

func (s *service) Top(ctx context.Context) ([]TopEntry, error) {
	return s.ratings.TopN(ctx, s.topN)
}

func (s *service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if !s.books.publisherHealthy() {
		return errors.New("event publisher disconnected")
	}
	return nil
}
