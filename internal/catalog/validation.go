package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinRatingValue = 1
	MaxRatingValue = 5
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// validator only fails registration on an empty tag or a nil func.
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return Genre(fl.Field().String()).Valid()
	})
	return v
}

type newBookInput struct {
	ISBN  string `validate:"required"`
	Title string `validate:"required"`
	Genre string `validate:"required,genre"`
}

type updateInput struct {
	Title         string `validate:"required"`
	Genre         string `validate:"required,genre"`
	Authors       string `validate:"required"`
	Publisher     string `validate:"required"`
	PublishedDate string `validate:"required"`
}

// ValidateNewBook checks the fields a create request must carry.
func ValidateNewBook(isbn, title, genre string) error {
	return check("validate new book", newBookInput{
		ISBN:  strings.TrimSpace(isbn),
		Title: strings.TrimSpace(title),
		Genre: genre,
	})
}

// ValidateUpdate checks a full replacement field set.
func ValidateUpdate(fields BookFields) error {
	return check("validate update", updateInput{
		Title:         strings.TrimSpace(fields.Title),
		Genre:         fields.Genre,
		Authors:       strings.TrimSpace(fields.Authors),
		Publisher:     strings.TrimSpace(fields.Publisher),
		PublishedDate: strings.TrimSpace(fields.PublishedDate),
	})
}

// ValidateRatingValue rejects values outside [1,5].
func ValidateRatingValue(v int) error {
	if err := validate.Var(v, fmt.Sprintf("min=%d,max=%d", MinRatingValue, MaxRatingValue)); err != nil {
		return newError(KindInvalidRating, "validate rating",
			fmt.Sprintf("rating value %d is outside [%d,%d]", v, MinRatingValue, MaxRatingValue), nil)
	}
	return nil
}

// check runs struct validation and reports the first failing field, in
// declaration order, as a catalog error.
func check(op string, input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%s: %w", op, err)
	}

	fe := verrs[0]
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "genre":
		return newError(KindInvalidGenre, op, fmt.Sprintf("genre %q is not one of the accepted genres", fe.Value()), nil)
	default:
		return newError(KindRequiredFieldMissing, op, fmt.Sprintf("missing required field %q", field), nil)
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "ISBN":
		return "ISBN"
	case "PublishedDate":
		return "publishedDate"
	default:
		return strings.ToLower(structField)
	}
}
