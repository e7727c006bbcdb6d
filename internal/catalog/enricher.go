package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookcatalog/internal/enrich"
)

// VolumeLookup resolves an ISBN against an external metadata service.
type VolumeLookup interface {
	LookupISBN(ctx context.Context, isbn string) (*enrich.Volume, error)
}

// MetadataEnricher turns external lookups into book metadata and classifies
// their failures.
type MetadataEnricher struct {
	lookup       VolumeLookup
	allowMissing bool
	log          *zap.Logger
}

// NewMetadataEnricher wraps lookup. With allowMissing set, an ISBN the
// upstream does not know yields all-missing metadata instead of
// ExternalBookNotFound.
func NewMetadataEnricher(lookup VolumeLookup, allowMissing bool, log *zap.Logger) *MetadataEnricher {
	return &MetadataEnricher{lookup: lookup, allowMissing: allowMissing, log: log}
}

// FetchMetadata performs the single outbound lookup for isbn.
func (e *MetadataEnricher) FetchMetadata(ctx context.Context, isbn string) (Metadata, error) {
	vol, err := e.lookup.LookupISBN(ctx, isbn)
	switch {
	case err == nil:
		return metadataFrom(vol), nil
	case errors.Is(err, enrich.ErrVolumeNotFound):
		if e.allowMissing {
			e.log.Warn("ISBN unknown upstream, storing without metadata", zap.String("isbn", isbn))
			return MissingMetadata(), nil
		}
		return Metadata{}, newError(KindExternalBookNotFound, "fetch metadata", "no volume matches ISBN "+isbn, err)
	default:
		e.log.Error("Metadata lookup failed", zap.String("isbn", isbn), zap.Error(err))
		return Metadata{}, newError(KindExternalService, "fetch metadata", "metadata service unavailable", err)
	}
}

func metadataFrom(vol *enrich.Volume) Metadata {
	md := MissingMetadata()
	if vol == nil {
		return md
	}
	var authors []string
	for _, a := range vol.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	if len(authors) > 0 {
		md.Authors = strings.Join(authors, " and ")
	}
	if p := strings.TrimSpace(vol.Publisher); p != "" {
		md.Publisher = p
	}
	if d := strings.TrimSpace(vol.PublishedDate); d != "" {
		md.PublishedDate = d
	}
	return md
}

// BuildBook assembles a book from validated input and fetched metadata.
func BuildBook(id uuid.UUID, isbn, title string, genre Genre, md Metadata) Book {
	return Book{
		ID:            id,
		ISBN:          strings.TrimSpace(isbn),
		Title:         strings.TrimSpace(title),
		Genre:         genre,
		Authors:       md.Authors,
		Publisher:     md.Publisher,
		PublishedDate: md.PublishedDate,
	}
}
