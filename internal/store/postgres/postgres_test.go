package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/store/storetest"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	pgUser := getenv("PGUSER", "user")
	pgPassword := getenv("PGPASSWORD", "password")
	pgHost := getenv("PGHOST", "localhost")
	pgPort := getenv("PGPORT", "5432")
	pgDB := getenv("PGDATABASE", "testdb")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newTestStore(t *testing.T) catalog.Store {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	_, err := db.ExecContext(ctx, `TRUNCATE ratings, books`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestRatingRangeConstraint(t *testing.T) {
	s := newTestStore(t).(*Store)
	ctx := context.Background()

	db := s.db
	_, err := db.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, genre, authors, publisher, published_date)
		VALUES ('00000000-0000-0000-0000-000000000001', 'x', 't', 'Fiction', 'a', 'p', 'd')
	`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO ratings (book_id, title, rating_values)
		VALUES ('00000000-0000-0000-0000-000000000001', 't', '{6}')
	`)
	require.Error(t, err)
}
