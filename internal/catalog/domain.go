// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// MissingField marks metadata the lookup service did not provide.
const MissingField = "missing"

// Genre is one of the fixed genres a book may be filed under.
type Genre string

const (
	GenreBiography      Genre = "Biography"
	GenreChildren       Genre = "Children"
	GenreFantasy        Genre = "Fantasy"
	GenreFiction        Genre = "Fiction"
	GenreOther          Genre = "Other"
	GenreScience        Genre = "Science"
	GenreScienceFiction Genre = "Science Fiction"
)

var genres = map[Genre]struct{}{
	GenreBiography:      {},
	GenreChildren:       {},
	GenreFantasy:        {},
	GenreFiction:        {},
	GenreOther:          {},
	GenreScience:        {},
	GenreScienceFiction: {},
}

// Valid reports whether g is in the genre whitelist. Matching is exact.
func (g Genre) Valid() bool {
	_, ok := genres[g]
	return ok
}

// Book is a catalog entry.
type Book struct {
	ID            uuid.UUID `json:"id"`
	ISBN          string    `json:"ISBN"`
	Title         string    `json:"title"`
	Genre         Genre     `json:"genre"`
	Authors       string    `json:"authors"`
	Publisher     string    `json:"publisher"`
	PublishedDate string    `json:"publishedDate"`
}

// BookFields is the full replacement set accepted by an update. ISBN may be
// echoed back but never changed.
type BookFields struct {
	ISBN          string `json:"ISBN"`
	Title         string `json:"title"`
	Genre         string `json:"genre"`
	Authors       string `json:"authors"`
	Publisher     string `json:"publisher"`
	PublishedDate string `json:"publishedDate"`
}

// Metadata is what enrichment adds to a book.
type Metadata struct {
	Authors       string `json:"authors"`
	Publisher     string `json:"publisher"`
	PublishedDate string `json:"publishedDate"`
}

// MissingMetadata has every field set to the missing marker.
func MissingMetadata() Metadata {
	return Metadata{Authors: MissingField, Publisher: MissingField, PublishedDate: MissingField}
}

// Rating is the companion record of a book. Version increases on every
// successful write and backs the optimistic concurrency check.
type Rating struct {
	BookID  uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Values  []int     `json:"values"`
	Average float64   `json:"average"`
	Version int       `json:"-"`
}

// TopEntry is one row of the leaderboard.
type TopEntry struct {
	BookID  uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Average float64   `json:"average"`
}

// Event is handed to a Publisher after a successful mutation.
type Event struct {
	Type       string      `json:"type"`
	BookID     uuid.UUID   `json:"book_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

const (
	EventBookCreated = "catalog.book.created"
	EventBookUpdated = "catalog.book.updated"
	EventBookDeleted = "catalog.book.deleted"
	EventRatingAdded = "catalog.rating.added"
)

// RatingAddedEvent is the payload of EventRatingAdded.
type RatingAddedEvent struct {
	Value      int     `json:"value"`
	NewAverage float64 `json:"new_average"`
}

// Clone returns a copy that shares no backing array with r.
func (r Rating) Clone() Rating {
	values := make([]int, len(r.Values))
	copy(values, r.Values)
	r.Values = values
	return r
}
