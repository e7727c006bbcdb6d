package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateNewBook(t *testing.T) {
	tests := []struct {
		name  string
		isbn  string
		title string
		genre string
		want  Kind
	}{
		{"valid", "9780142437179", "Huck Finn", "Fiction", KindUnknown},
		{"valid two word genre", "1", "Dune", "Science Fiction", KindUnknown},
		{"missing isbn", "", "Huck Finn", "Fiction", KindRequiredFieldMissing},
		{"blank title", "1", "   ", "Fiction", KindRequiredFieldMissing},
		{"missing genre", "1", "t", "", KindRequiredFieldMissing},
		{"unknown genre", "1", "t", "Poetry", KindInvalidGenre},
		{"genre is case sensitive", "1", "t", "fiction", KindInvalidGenre},
		{"missing field wins over genre", "", "t", "Poetry", KindRequiredFieldMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNewBook(tt.isbn, tt.title, tt.genre)
			if tt.want == KindUnknown {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestValidateNewBookNamesField(t *testing.T) {
	err := ValidateNewBook("", "t", "Fiction")
	assert.ErrorIs(t, err, ErrRequiredFieldMissing)
	assert.Contains(t, err.Error(), `"ISBN"`)
}

func TestValidateUpdate(t *testing.T) {
	full := BookFields{
		Title:         "t",
		Genre:         "Fiction",
		Authors:       "a",
		Publisher:     "p",
		PublishedDate: "2002",
	}
	assert.NoError(t, ValidateUpdate(full))

	noDate := full
	noDate.PublishedDate = ""
	err := ValidateUpdate(noDate)
	assert.ErrorIs(t, err, ErrRequiredFieldMissing)
	assert.Contains(t, err.Error(), `"publishedDate"`)

	badGenre := full
	badGenre.Genre = "Cookbooks"
	assert.ErrorIs(t, ValidateUpdate(badGenre), ErrInvalidGenre)
}

func TestValidateRatingValue(t *testing.T) {
	for v := MinRatingValue; v <= MaxRatingValue; v++ {
		assert.NoError(t, ValidateRatingValue(v))
	}
	for _, v := range []int{-1, 0, 6, 100} {
		assert.ErrorIs(t, ValidateRatingValue(v), ErrInvalidRating, "value %d", v)
	}
}

func TestErrorIsMatchesKindOnly(t *testing.T) {
	err := newError(KindBookNotFound, "get book", "no book", nil)
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.NotErrorIs(t, err, ErrDuplicateBook)
	assert.Equal(t, "get book: no book", err.Error())
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
}
