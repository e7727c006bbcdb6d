package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds how often AddRating retries after losing a
// version race to another writer.
const DefaultMaxRetries = 8

// Average is the mean of values rounded to two decimals, or 0 when empty.
func Average(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	mean := float64(sum) / float64(len(values))
	return math.Round(mean*100) / 100
}

// NewRating is the rating every book starts with.
func NewRating(bookID uuid.UUID, title string) Rating {
	return Rating{BookID: bookID, Title: title, Values: []int{}, Average: 0, Version: 1}
}

// RatingAggregator owns the rating record lifecycle.
type RatingAggregator struct {
	store      Store
	locks      *keyLock
	maxRetries int
	log        *zap.Logger
	tracer     trace.Tracer
	metrics    *instruments
}

// AggregatorOption configures a RatingAggregator.
type AggregatorOption func(*aggregatorOptions)

type aggregatorOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider records the catalog counters on mp instead of the
// global meter provider.
func WithMeterProvider(mp metric.MeterProvider) AggregatorOption {
	return func(o *aggregatorOptions) { o.meterProvider = mp }
}

// NewRatingAggregator creates an aggregator over store. maxRetries <= 0
// selects DefaultMaxRetries.
func NewRatingAggregator(store Store, maxRetries int, log *zap.Logger, opts ...AggregatorOption) *RatingAggregator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	var o aggregatorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &RatingAggregator{
		store:      store,
		locks:      newKeyLock(),
		maxRetries: maxRetries,
		log:        log,
		tracer:     otel.Tracer("bookcatalog/catalog"),
		metrics:    newInstruments(o.meterProvider),
	}
}

// CreateFor writes the empty companion rating of a book inside tx.
func (a *RatingAggregator) CreateFor(ctx context.Context, tx Tx, bookID uuid.UUID, title string) error {
	if err := tx.InsertRating(ctx, NewRating(bookID, title)); err != nil {
		return fmt.Errorf("failed to insert rating for %s: %w", bookID, err)
	}
	return nil
}

// DeleteFor removes the companion rating of a book inside tx. The caller
// guarantees it exists.
func (a *RatingAggregator) DeleteFor(ctx context.Context, tx Tx, bookID uuid.UUID) error {
	if err := tx.DeleteRating(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete rating for %s: %w", bookID, err)
	}
	return nil
}

// Get returns the rating of a book.
func (a *RatingAggregator) Get(ctx context.Context, bookID uuid.UUID) (Rating, error) {
	r, err := a.store.GetRating(ctx, bookID)
	if err != nil {
		if errors.Is(err, ErrNoDocument) {
			return Rating{}, newError(KindBookNotFound, "get rating", "no rating for book "+bookID.String(), nil)
		}
		return Rating{}, fmt.Errorf("failed to get rating: %w", err)
	}
	return r, nil
}

// List returns every rating.
func (a *RatingAggregator) List(ctx context.Context) ([]Rating, error) {
	ratings, err := a.store.ListRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	return ratings, nil
}

// AddRating appends value to the book's rating and returns the new average.
// Writers in this process queue on a per-book lock; writers in other
// processes are caught by the version check and retried.
func (a *RatingAggregator) AddRating(ctx context.Context, bookID uuid.UUID, value int) (float64, error) {
	ctx, span := a.tracer.Start(ctx, "ratings.add",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.Int("rating.value", value),
		),
	)
	defer span.End()

	if err := ValidateRatingValue(value); err != nil {
		return 0, err
	}

	unlock := a.locks.Lock(bookID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		current, err := a.store.GetRating(ctx, bookID)
		if err != nil {
			if errors.Is(err, ErrNoDocument) {
				return 0, newError(KindBookNotFound, "add rating", "no rating for book "+bookID.String(), nil)
			}
			span.RecordError(err)
			return 0, fmt.Errorf("failed to load rating: %w", err)
		}

		next := current.Clone()
		next.Values = append(next.Values, value)
		next.Average = Average(next.Values)

		err = a.store.SwapRating(ctx, next, current.Version)
		if err == nil {
			a.metrics.ratingsAdded.Add(ctx, 1)
			span.SetAttributes(
				attribute.Int("attempts", attempt+1),
				attribute.Float64("rating.average", next.Average),
			)
			return next.Average, nil
		}
		if errors.Is(err, ErrNoDocument) {
			return 0, newError(KindBookNotFound, "add rating", "book "+bookID.String()+" was deleted", nil)
		}
		if !errors.Is(err, ErrVersionConflict) {
			span.RecordError(err)
			return 0, fmt.Errorf("failed to store rating: %w", err)
		}

		a.metrics.ratingConflicts.Add(ctx, 1)
		if attempt >= a.maxRetries {
			span.SetStatus(codes.Error, "retries exhausted")
			return 0, fmt.Errorf("failed to store rating after %d attempts: %w", attempt+1, err)
		}
		a.log.Debug("Rating version conflict, retrying",
			zap.String("book_id", bookID.String()),
			zap.Int("attempt", attempt+1),
		)
		if err := sleepBackoff(ctx, attempt); err != nil {
			return 0, err
		}
	}
}

// TopN returns at most n entries ordered by average, highest first. Ties
// are broken by ascending book id so equal data always yields equal output.
func (a *RatingAggregator) TopN(ctx context.Context, n int) ([]TopEntry, error) {
	if n <= 0 {
		return []TopEntry{}, nil
	}
	ratings, err := a.store.ListRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	return RankTop(ratings, n), nil
}

// RankTop is the pure ranking behind TopN.
func RankTop(ratings []Rating, n int) []TopEntry {
	entries := make([]TopEntry, 0, len(ratings))
	for _, r := range ratings {
		entries = append(entries, TopEntry{BookID: r.BookID, Title: r.Title, Average: r.Average})
	}
	slices.SortFunc(entries, func(x, y TopEntry) int {
		if x.Average != y.Average {
			if x.Average > y.Average {
				return -1
			}
			return 1
		}
		return strings.Compare(x.BookID.String(), y.BookID.String())
	})
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(attempt+1) * 2 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}
