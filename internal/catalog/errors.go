package catalog

import (
	"errors"
	"fmt"
)

// Kind classifies a catalog failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequiredFieldMissing
	KindInvalidGenre
	KindInvalidRating
	KindImmutableField
	KindDuplicateBook
	KindBookNotFound
	KindExternalService
	KindExternalBookNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRequiredFieldMissing:
		return "RequiredFieldMissing"
	case KindInvalidGenre:
		return "InvalidGenre"
	case KindInvalidRating:
		return "InvalidRating"
	case KindImmutableField:
		return "ImmutableField"
	case KindDuplicateBook:
		return "DuplicateBook"
	case KindBookNotFound:
		return "BookNotFound"
	case KindExternalService:
		return "ExternalServiceError"
	case KindExternalBookNotFound:
		return "ExternalBookNotFound"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by catalog operations.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can compare against the
// package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrRequiredFieldMissing = &Error{Kind: KindRequiredFieldMissing}
	ErrInvalidGenre         = &Error{Kind: KindInvalidGenre}
	ErrInvalidRating        = &Error{Kind: KindInvalidRating}
	ErrImmutableField       = &Error{Kind: KindImmutableField}
	ErrDuplicateBook        = &Error{Kind: KindDuplicateBook}
	ErrBookNotFound         = &Error{Kind: KindBookNotFound}
	ErrExternalService      = &Error{Kind: KindExternalService}
	ErrExternalBookNotFound = &Error{Kind: KindExternalBookNotFound}
)

// Errors returned by Store implementations.
var (
	ErrNoDocument      = errors.New("document not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrVersionConflict = errors.New("concurrency conflict: version mismatch")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}
