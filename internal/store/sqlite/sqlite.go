// Package sqlite stores the catalog in an embedded SQLite database through
// gorm, for single-node deployments.
package sqlite

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bookcatalog/internal/catalog"
)

type bookRow struct {
	ID            uuid.UUID `gorm:"type:text;primaryKey"`
	ISBN          string    `gorm:"column:isbn;uniqueIndex;not null"`
	Title         string    `gorm:"not null"`
	Genre         string    `gorm:"index;not null"`
	Authors       string    `gorm:"not null"`
	Publisher     string    `gorm:"not null"`
	PublishedDate string    `gorm:"not null"`
}

func (bookRow) TableName() string { return "books" }

type ratingRow struct {
	BookID  uuid.UUID `gorm:"type:text;primaryKey"`
	Title   string    `gorm:"not null"`
	Values  intList   `gorm:"column:rating_values;type:text;not null"`
	Average float64   `gorm:"not null"`
	Version int       `gorm:"not null"`
}

func (ratingRow) TableName() string { return "ratings" }

// intList is stored as a JSON array.
type intList []int

func (l intList) Value() (driver.Value, error) {
	if l == nil {
		l = intList{}
	}
	b, err := json.Marshal([]int(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *intList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		*l = intList{}
		return nil
	default:
		return fmt.Errorf("unsupported rating_values type %T", src)
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return err
	}
	if values == nil {
		values = []int{}
	}
	*l = values
	return nil
}

func toBookRow(b catalog.Book) bookRow {
	return bookRow{
		ID:            b.ID,
		ISBN:          b.ISBN,
		Title:         b.Title,
		Genre:         string(b.Genre),
		Authors:       b.Authors,
		Publisher:     b.Publisher,
		PublishedDate: b.PublishedDate,
	}
}

func (r bookRow) toBook() catalog.Book {
	return catalog.Book{
		ID:            r.ID,
		ISBN:          r.ISBN,
		Title:         r.Title,
		Genre:         catalog.Genre(r.Genre),
		Authors:       r.Authors,
		Publisher:     r.Publisher,
		PublishedDate: r.PublishedDate,
	}
}

func (r ratingRow) toRating() catalog.Rating {
	values := []int(r.Values)
	if values == nil {
		values = []int{}
	}
	return catalog.Rating{BookID: r.BookID, Title: r.Title, Values: values, Average: r.Average, Version: r.Version}
}

// Store implements catalog.Store on gorm.
type Store struct {
	db *gorm.DB
}

var _ catalog.Store = (*Store)(nil)

// Open opens the database at dsn (":memory:" for a throwaway one) and
// migrates it. SQLite allows one writer, so the pool holds one connection.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&bookRow{}, &ratingRow{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Atomic runs fn inside a gorm transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx catalog.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) direct() *gormTx { return &gormTx{db: s.db} }

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

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) InsertBook(ctx context.Context, book catalog.Book) error {
	row := toBookRow(book)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert book: %w", classify(err))
	}
	return nil
}

func (t *gormTx) GetBook(ctx context.Context, id uuid.UUID) (catalog.Book, error) {
	var row bookRow
	if err := t.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return catalog.Book{}, notFoundOr(err, "get book")
	}
	return row.toBook(), nil
}

func (t *gormTx) FindBookByISBN(ctx context.Context, isbn string) (catalog.Book, error) {
	var row bookRow
	if err := t.db.WithContext(ctx).Where("isbn = ?", isbn).First(&row).Error; err != nil {
		return catalog.Book{}, notFoundOr(err, "find book by isbn")
	}
	return row.toBook(), nil
}

func (t *gormTx) ListBooks(ctx context.Context, genre catalog.Genre) ([]catalog.Book, error) {
	q := t.db.WithContext(ctx).Order("rowid")
	if genre != "" {
		q = q.Where("genre = ?", string(genre))
	}
	var rows []bookRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	books := make([]catalog.Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.toBook())
	}
	return books, nil
}

func (t *gormTx) ReplaceBook(ctx context.Context, book catalog.Book) error {
	res := t.db.WithContext(ctx).Model(&bookRow{}).Where("id = ?", book.ID).Updates(map[string]interface{}{
		"isbn":           book.ISBN,
		"title":          book.Title,
		"genre":          string(book.Genre),
		"authors":        book.Authors,
		"publisher":      book.Publisher,
		"published_date": book.PublishedDate,
	})
	if res.Error != nil {
		return fmt.Errorf("replace book: %w", classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return catalog.ErrNoDocument
	}
	return nil
}

func (t *gormTx) DeleteBook(ctx context.Context, id uuid.UUID) error {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&bookRow{})
	if res.Error != nil {
		return fmt.Errorf("delete book: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return catalog.ErrNoDocument
	}
	return nil
}

func (t *gormTx) InsertRating(ctx context.Context, rating catalog.Rating) error {
	row := ratingRow{
		BookID:  rating.BookID,
		Title:   rating.Title,
		Values:  intList(rating.Values),
		Average: rating.Average,
		Version: rating.Version,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert rating: %w", classify(err))
	}
	return nil
}

func (t *gormTx) GetRating(ctx context.Context, bookID uuid.UUID) (catalog.Rating, error) {
	var row ratingRow
	if err := t.db.WithContext(ctx).Where("book_id = ?", bookID).First(&row).Error; err != nil {
		return catalog.Rating{}, notFoundOr(err, "get rating")
	}
	return row.toRating(), nil
}

func (t *gormTx) ListRatings(ctx context.Context) ([]catalog.Rating, error) {
	var rows []ratingRow
	if err := t.db.WithContext(ctx).Order("rowid").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	ratings := make([]catalog.Rating, 0, len(rows))
	for _, r := range rows {
		ratings = append(ratings, r.toRating())
	}
	return ratings, nil
}

func (t *gormTx) SwapRating(ctx context.Context, rating catalog.Rating, expectedVersion int) error {
	db := t.db.WithContext(ctx)
	res := db.Model(&ratingRow{}).
		Where("book_id = ? AND version = ?", rating.BookID, expectedVersion).
		Updates(map[string]interface{}{
			"title":         rating.Title,
			"rating_values": intList(rating.Values),
			"average":       rating.Average,
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("swap rating: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.Model(&ratingRow{}).Where("book_id = ?", rating.BookID).Count(&count).Error; err != nil {
		return fmt.Errorf("swap rating: %w", err)
	}
	if count == 0 {
		return catalog.ErrNoDocument
	}
	return catalog.ErrVersionConflict
}

func (t *gormTx) DeleteRating(ctx context.Context, bookID uuid.UUID) error {
	res := t.db.WithContext(ctx).Where("book_id = ?", bookID).Delete(&ratingRow{})
	if res.Error != nil {
		return fmt.Errorf("delete rating: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return catalog.ErrNoDocument
	}
	return nil
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.ErrNoDocument
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classify(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return catalog.ErrDuplicateKey
	}
	return err
}
