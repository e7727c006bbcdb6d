// Package postgres stores the catalog in PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookcatalog/internal/catalog"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
)

// Schema creates the two collections. Ratings reference books so a rating
// can never outlive its book.
const Schema = `
CREATE TABLE IF NOT EXISTS books (
	id             UUID PRIMARY KEY,
	isbn           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	genre          TEXT NOT NULL,
	authors        TEXT NOT NULL,
	publisher      TEXT NOT NULL,
	published_date TEXT NOT NULL,
	seq            BIGSERIAL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS books_genre_idx ON books (genre);

CREATE TABLE IF NOT EXISTS ratings (
	book_id       UUID PRIMARY KEY REFERENCES books (id),
	title         TEXT NOT NULL,
	rating_values INTEGER[] NOT NULL DEFAULT '{}',
	average       DOUBLE PRECISION NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 1,
	seq           BIGSERIAL,
	CONSTRAINT rating_values_range CHECK (1 <= ALL (rating_values) AND 5 >= ALL (rating_values))
);
`

// Store implements catalog.Store on a *sql.DB.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

var _ catalog.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("bookcatalog/store/postgres"),
	}
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Atomic runs fn inside one transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx catalog.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "postgres.atomic")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{q: tx, tracer: s.tracer}); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	span.SetAttributes(attribute.Bool("tx.committed", true))
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) direct() *pgTx { return &pgTx{q: s.db, tracer: s.tracer} }

func (s *Store) InsertBook(ctx context.Context, book catalog.Book) error {
	return s.direct().InsertBook(ctx, book)
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (catalog.Book, error) {
	return s.direct().GetBook(ctx, id)
}

func (s *Store) FindBookByISBN(ctx context.Context, isbn string) (catalog.Book, error) {
	return s.direct().FindBookByISBN(ctx, isbn)
}

func (s *Store) ListBooks(ctx context.Context, genre catalog.Genre) ([]catalog.Book, error) {
	return s.direct().ListBooks(ctx, genre)
}

func (s *Store) ReplaceBook(ctx context.Context, book catalog.Book) error {
	return s.direct().ReplaceBook(ctx, book)
}

func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return s.direct().DeleteBook(ctx, id)
}

func (s *Store) InsertRating(ctx context.Context, rating catalog.Rating) error {
	return s.direct().InsertRating(ctx, rating)
}

func (s *Store) GetRating(ctx context.Context, bookID uuid.UUID) (catalog.Rating, error) {
	return s.direct().GetRating(ctx, bookID)
}

func (s *Store) ListRatings(ctx context.Context) ([]catalog.Rating, error) {
	return s.direct().ListRatings(ctx)
}

func (s *Store) SwapRating(ctx context.Context, rating catalog.Rating, expectedVersion int) error {
	return s.direct().SwapRating(ctx, rating, expectedVersion)
}

func (s *Store) DeleteRating(ctx context.Context, bookID uuid.UUID) error {
	return s.direct().DeleteRating(ctx, bookID)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type pgTx struct {
	q      queryer
	tracer trace.Tracer
}

const bookColumns = `id, isbn, title, genre, authors, publisher, published_date`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row scanner) (catalog.Book, error) {
	var b catalog.Book
	var genre string
	err := row.Scan(&b.ID, &b.ISBN, &b.Title, &genre, &b.Authors, &b.Publisher, &b.PublishedDate)
	b.Genre = catalog.Genre(genre)
	return b, err
}

func scanRating(row scanner) (catalog.Rating, error) {
	var r catalog.Rating
	var values pq.Int64Array
	if err := row.Scan(&r.BookID, &r.Title, &values, &r.Average, &r.Version); err != nil {
		return catalog.Rating{}, err
	}
	r.Values = make([]int, len(values))
	for i, v := range values {
		r.Values[i] = int(v)
	}
	return r, nil
}

func (t *pgTx) InsertBook(ctx context.Context, b catalog.Book) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, genre, authors, publisher, published_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.ISBN, b.Title, string(b.Genre), b.Authors, b.Publisher, b.PublishedDate)
	if err != nil {
		return fmt.Errorf("insert book: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetBook(ctx context.Context, id uuid.UUID) (catalog.Book, error) {
	b, err := scanBook(t.q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if err != nil {
		return catalog.Book{}, notFoundOr(err, "get book")
	}
	return b, nil
}

func (t *pgTx) FindBookByISBN(ctx context.Context, isbn string) (catalog.Book, error) {
	b, err := scanBook(t.q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE isbn = $1`, isbn))
	if err != nil {
		return catalog.Book{}, notFoundOr(err, "find book by isbn")
	}
	return b, nil
}

func (t *pgTx) ListBooks(ctx context.Context, genre catalog.Genre) ([]catalog.Book, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE $1 = '' OR genre = $1
		ORDER BY seq ASC
	`, string(genre))
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	books := []catalog.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (t *pgTx) ReplaceBook(ctx context.Context, b catalog.Book) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE books
		SET isbn = $2, title = $3, genre = $4, authors = $5, publisher = $6, published_date = $7
		WHERE id = $1
	`, b.ID, b.ISBN, b.Title, string(b.Genre), b.Authors, b.Publisher, b.PublishedDate)
	if err != nil {
		return fmt.Errorf("replace book: %w", classify(err))
	}
	return requireRow(res, "replace book")
}

func (t *pgTx) DeleteBook(ctx context.Context, id uuid.UUID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", classify(err))
	}
	return requireRow(res, "delete book")
}

func (t *pgTx) InsertRating(ctx context.Context, r catalog.Rating) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ratings (book_id, title, rating_values, average, version)
		VALUES ($1, $2, $3, $4, $5)
	`, r.BookID, r.Title, toInt64Array(r.Values), r.Average, r.Version)
	if err != nil {
		return fmt.Errorf("insert rating: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetRating(ctx context.Context, bookID uuid.UUID) (catalog.Rating, error) {
	r, err := scanRating(t.q.QueryRowContext(ctx, `
		SELECT book_id, title, rating_values, average, version
		FROM ratings
		WHERE book_id = $1
	`, bookID))
	if err != nil {
		return catalog.Rating{}, notFoundOr(err, "get rating")
	}
	return r, nil
}

func (t *pgTx) ListRatings(ctx context.Context) ([]catalog.Rating, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT book_id, title, rating_values, average, version
		FROM ratings
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	ratings := []catalog.Rating{}
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// SwapRating is the optimistic concurrency write: the row only changes if
// nobody bumped its version since it was read.
func (t *pgTx) SwapRating(ctx context.Context, r catalog.Rating, expectedVersion int) error {
	ctx, span := t.tracer.Start(ctx, "postgres.swap_rating",
		trace.WithAttributes(
			attribute.String("book.id", r.BookID.String()),
			attribute.Int("expected.version", expectedVersion),
		),
	)
	defer span.End()

	res, err := t.q.ExecContext(ctx, `
		UPDATE ratings
		SET title = $2, rating_values = $3, average = $4, version = version + 1
		WHERE book_id = $1 AND version = $5
	`, r.BookID, r.Title, toInt64Array(r.Values), r.Average, expectedVersion)
	if err != nil {
		return fmt.Errorf("swap rating: %w", classify(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap rating: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := t.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ratings WHERE book_id = $1)`, r.BookID).Scan(&exists); err != nil {
		return fmt.Errorf("swap rating: %w", err)
	}
	if !exists {
		return catalog.ErrNoDocument
	}
	span.SetAttributes(attribute.Bool("conflict.detected", true))
	return catalog.ErrVersionConflict
}

func (t *pgTx) DeleteRating(ctx context.Context, bookID uuid.UUID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM ratings WHERE book_id = $1`, bookID)
	if err != nil {
		return fmt.Errorf("delete rating: %w", classify(err))
	}
	return requireRow(res, "delete rating")
}

func toInt64Array(values []int) pq.Int64Array {
	out := make(pq.Int64Array, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return catalog.ErrNoDocument
	}
	return nil
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrNoDocument
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classify maps postgres error codes onto the store sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return catalog.ErrDuplicateKey
		case codeSerializationFailure:
			return catalog.ErrVersionConflict
		}
	}
	return err
}
