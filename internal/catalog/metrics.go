package catalog

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type instruments struct {
	booksCreated    metric.Int64Counter
	booksDeleted    metric.Int64Counter
	ratingsAdded    metric.Int64Counter
	ratingConflicts metric.Int64Counter
}

// newInstruments creates the catalog counters on mp, or on the global
// provider when mp is nil.
func newInstruments(mp metric.MeterProvider) *instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("bookcatalog/catalog")
	return &instruments{
		booksCreated:    counter(meter, "bookcatalog_books_created", "Books added to the catalog"),
		booksDeleted:    counter(meter, "bookcatalog_books_deleted", "Books removed from the catalog"),
		ratingsAdded:    counter(meter, "bookcatalog_ratings_added", "Rating values accepted"),
		ratingConflicts: counter(meter, "bookcatalog_rating_conflicts", "Rating writes that lost a version race"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter("").Int64Counter(name)
	}
	return c
}
