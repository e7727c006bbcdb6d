package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MetadataFetcher is the first phase of book construction.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, isbn string) (Metadata, error)
}

// DefaultPublishTimeout bounds how long a request waits on event delivery
// after its change has been committed.
const DefaultPublishTimeout = 2 * time.Second

// BookCatalog orchestrates the book lifecycle and keeps every live book
// paired with exactly one rating.
type BookCatalog struct {
	store    Store
	enricher MetadataFetcher
	ratings  *RatingAggregator
	events   Publisher
	log      *zap.Logger
	tracer   trace.Tracer
	metrics  *instruments

	publishTimeout time.Duration
}

// CatalogOption configures a BookCatalog.
type CatalogOption func(*BookCatalog)

// WithPublishTimeout overrides DefaultPublishTimeout. d <= 0 keeps the
// default.
func WithPublishTimeout(d time.Duration) CatalogOption {
	return func(c *BookCatalog) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// NewBookCatalog wires a catalog. A nil publisher discards events.
func NewBookCatalog(store Store, enricher MetadataFetcher, ratings *RatingAggregator, events Publisher, log *zap.Logger, opts ...CatalogOption) *BookCatalog {
	if events == nil {
		events = nopPublisher{}
	}
	c := &BookCatalog{
		store:          store,
		enricher:       enricher,
		ratings:        ratings,
		events:         events,
		log:            log,
		tracer:         otel.Tracer("bookcatalog/catalog"),
		metrics:        ratings.metrics,
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates, enriches and stores a new book together with its empty
// rating.
func (c *BookCatalog) Create(ctx context.Context, isbn, title, genre string) (uuid.UUID, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.create",
		trace.WithAttributes(attribute.String("book.isbn", isbn)),
	)
	defer span.End()

	if err := ValidateNewBook(isbn, title, genre); err != nil {
		return uuid.Nil, err
	}
	isbn = strings.TrimSpace(isbn)

	// Checked before the network call so a duplicate never costs a lookup.
	// The unique key on ISBN still decides when two creates race.
	if _, err := c.store.FindBookByISBN(ctx, isbn); err == nil {
		return uuid.Nil, duplicate(isbn)
	} else if !errors.Is(err, ErrNoDocument) {
		return uuid.Nil, fmt.Errorf("failed to check ISBN: %w", err)
	}

	md, err := c.enricher.FetchMetadata(ctx, isbn)
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, err
	}

	book := BuildBook(uuid.New(), isbn, title, Genre(genre), md)
	err = c.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertBook(ctx, book); err != nil {
			return fmt.Errorf("failed to insert book: %w", err)
		}
		return c.ratings.CreateFor(ctx, tx, book.ID, book.Title)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return uuid.Nil, duplicate(isbn)
		}
		span.RecordError(err)
		return uuid.Nil, fmt.Errorf("failed to store book: %w", err)
	}

	span.SetAttributes(attribute.String("book.id", book.ID.String()))
	c.metrics.booksCreated.Add(ctx, 1)
	c.log.Info("Book created",
		zap.String("book_id", book.ID.String()),
		zap.String("isbn", book.ISBN),
		zap.String("genre", string(book.Genre)),
	)
	c.publish(ctx, EventBookCreated, book.ID, book)
	return book.ID, nil
}

// Update replaces the mutable fields of a book.
func (c *BookCatalog) Update(ctx context.Context, rawID string, fields BookFields) (uuid.UUID, error) {
	id, err := parseID("update book", rawID)
	if err != nil {
		return uuid.Nil, err
	}

	current, err := c.getBook(ctx, "update book", id)
	if err != nil {
		return uuid.Nil, err
	}
	if err := ValidateUpdate(fields); err != nil {
		return uuid.Nil, err
	}
	if isbn := strings.TrimSpace(fields.ISBN); isbn != "" && isbn != current.ISBN {
		return uuid.Nil, newError(KindImmutableField, "update book", "ISBN cannot be changed", nil)
	}

	updated := current
	updated.Title = strings.TrimSpace(fields.Title)
	updated.Genre = Genre(fields.Genre)
	updated.Authors = strings.TrimSpace(fields.Authors)
	updated.Publisher = strings.TrimSpace(fields.Publisher)
	updated.PublishedDate = strings.TrimSpace(fields.PublishedDate)

	if err := c.store.ReplaceBook(ctx, updated); err != nil {
		if errors.Is(err, ErrNoDocument) {
			return uuid.Nil, notFound("update book", id)
		}
		return uuid.Nil, fmt.Errorf("failed to replace book: %w", err)
	}

	c.publish(ctx, EventBookUpdated, id, updated)
	return id, nil
}

// Get returns a live book.
func (c *BookCatalog) Get(ctx context.Context, rawID string) (Book, error) {
	id, err := parseID("get book", rawID)
	if err != nil {
		return Book{}, err
	}
	return c.getBook(ctx, "get book", id)
}

// List returns all live books, or those of one genre when genre is set.
func (c *BookCatalog) List(ctx context.Context, genre string) ([]Book, error) {
	books, err := c.store.ListBooks(ctx, Genre(genre))
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// Delete removes a book and its rating in one atomic unit.
func (c *BookCatalog) Delete(ctx context.Context, rawID string) (uuid.UUID, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.delete",
		trace.WithAttributes(attribute.String("book.id", rawID)),
	)
	defer span.End()

	id, err := parseID("delete book", rawID)
	if err != nil {
		return uuid.Nil, err
	}

	err = c.store.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.GetBook(ctx, id); err != nil {
			if errors.Is(err, ErrNoDocument) {
				return notFound("delete book", id)
			}
			return fmt.Errorf("failed to load book: %w", err)
		}
		if err := c.ratings.DeleteFor(ctx, tx, id); err != nil {
			if !errors.Is(err, ErrNoDocument) {
				return err
			}
			c.log.Warn("Book had no rating at delete", zap.String("book_id", id.String()))
		}
		if err := tx.DeleteBook(ctx, id); err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindUnknown {
			span.RecordError(err)
		}
		return uuid.Nil, err
	}

	c.metrics.booksDeleted.Add(ctx, 1)
	c.log.Info("Book deleted", zap.String("book_id", id.String()))
	c.publish(ctx, EventBookDeleted, id, nil)
	return id, nil
}

func (c *BookCatalog) getBook(ctx context.Context, op string, id uuid.UUID) (Book, error) {
	book, err := c.store.GetBook(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoDocument) {
			return Book{}, notFound(op, id)
		}
		return Book{}, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// publish hands the event to the publisher under its own deadline. The
// change is already committed, so a client that went away does not cancel
// delivery and a slow broker cannot hold the response past publishTimeout.
func (c *BookCatalog) publish(ctx context.Context, eventType string, id uuid.UUID, data interface{}) {
	event := Event{Type: eventType, BookID: id, OccurredAt: time.Now().UTC(), Data: data}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
	defer cancel()
	if err := c.events.Publish(ctx, event); err != nil {
		c.log.Warn("Failed to publish event",
			zap.String("event_type", eventType),
			zap.String("book_id", id.String()),
			zap.Error(err),
		)
	}
}

// publisherHealthy reports false only for a publisher that can tell its
// broker connection is gone.
func (c *BookCatalog) publisherHealthy() bool {
	if h, ok := c.events.(HealthReporter); ok {
		return h.IsHealthy()
	}
	return true
}

// parseID treats a malformed id as an unknown book.
func parseID(op, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, newError(KindBookNotFound, op, fmt.Sprintf("no book with id %q", raw), nil)
	}
	return id, nil
}

func notFound(op string, id uuid.UUID) error {
	return newError(KindBookNotFound, op, "no book with id "+id.String(), nil)
}

func duplicate(isbn string) error {
	return newError(KindDuplicateBook, "create book", "a book with ISBN "+isbn+" already exists", nil)
}
