// Package consistency verifies that the catalog holds its steady-state
// properties and repairs records that drifted from them.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
)

// Threshold is the bound a probe value must satisfy.
type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Probe measures one steady-state property over a snapshot.
type Probe struct {
	Name      string
	Query     func(s *Snapshot) float64
	Threshold Threshold
}

// Snapshot is what a check observed. The id lists are candidates only:
// Repair re-reads each one before touching it.
type Snapshot struct {
	Books         int
	Ratings       int
	OrphanBooks   []uuid.UUID
	OrphanRatings []uuid.UUID
	Drifted       []uuid.UUID
}

// Violation is a probe whose value broke its threshold.
type Violation struct {
	Probe    string  `json:"probe"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
}

// Report is the outcome of Check.
type Report struct {
	CheckedAt  time.Time   `json:"checked_at"`
	Healthy    bool        `json:"healthy"`
	Violations []Violation `json:"violations"`
	Snapshot   *Snapshot   `json:"-"`
}

// RepairResult counts what Repair changed.
type RepairResult struct {
	RatingsCreated    int `json:"ratings_created"`
	RatingsDeleted    int `json:"ratings_deleted"`
	AveragesRewritten int `json:"averages_rewritten"`
}

// DefaultProbes are the catalog invariants: no orphans either way and
// every stored average matching its values.
func DefaultProbes() []Probe {
	return []Probe{
		{
			Name:      "orphan_books",
			Query:     func(s *Snapshot) float64 { return float64(len(s.OrphanBooks)) },
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name:      "orphan_ratings",
			Query:     func(s *Snapshot) float64 { return float64(len(s.OrphanRatings)) },
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name:      "average_drift",
			Query:     func(s *Snapshot) float64 { return float64(len(s.Drifted)) },
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

// Checker runs probes against a store.
type Checker struct {
	store  catalog.Store
	probes []Probe
	log    *zap.Logger
	tracer trace.Tracer
}

// NewChecker creates a checker with the default probes.
func NewChecker(store catalog.Store, log *zap.Logger) *Checker {
	return &Checker{
		store:  store,
		probes: DefaultProbes(),
		log:    log,
		tracer: otel.Tracer("bookcatalog/consistency"),
	}
}

// Check takes a snapshot and evaluates every probe against it.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	ctx, span := c.tracer.Start(ctx, "consistency.check")
	defer span.End()

	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{CheckedAt: time.Now().UTC(), Snapshot: snap, Violations: []Violation{}}
	for _, p := range c.probes {
		value := p.Query(snap)
		if !evaluateThreshold(value, p.Threshold) {
			report.Violations = append(report.Violations, Violation{
				Probe:    p.Name,
				Expected: p.Threshold.Value,
				Actual:   value,
			})
		}
	}
	report.Healthy = len(report.Violations) == 0

	span.SetAttributes(
		attribute.Bool("healthy", report.Healthy),
		attribute.Int("violations", len(report.Violations)),
	)
	return report, nil
}

func (c *Checker) snapshot(ctx context.Context) (*Snapshot, error) {
	books, err := c.store.ListBooks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	ratings, err := c.store.ListRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}

	snap := &Snapshot{Books: len(books), Ratings: len(ratings)}
	rated := make(map[uuid.UUID]struct{}, len(ratings))
	live := make(map[uuid.UUID]struct{}, len(books))
	for _, b := range books {
		live[b.ID] = struct{}{}
	}
	for _, r := range ratings {
		rated[r.BookID] = struct{}{}
		if _, ok := live[r.BookID]; !ok {
			snap.OrphanRatings = append(snap.OrphanRatings, r.BookID)
		}
		if r.Average != catalog.Average(r.Values) {
			snap.Drifted = append(snap.Drifted, r.BookID)
		}
	}
	for _, b := range books {
		if _, ok := rated[b.ID]; !ok {
			snap.OrphanBooks = append(snap.OrphanBooks, b.ID)
		}
	}
	return snap, nil
}

// Repair fixes what report found. Orphan books get an empty rating so no
// catalog data is lost. Orphan ratings are removed and drifted averages
// recomputed.
func (c *Checker) Repair(ctx context.Context, report *Report) (RepairResult, error) {
	ctx, span := c.tracer.Start(ctx, "consistency.repair")
	defer span.End()

	var res RepairResult
	if report == nil || report.Snapshot == nil {
		return res, nil
	}
	snap := report.Snapshot

	for _, id := range snap.OrphanBooks {
		created, err := c.repairOrphanBook(ctx, id)
		if err != nil {
			return res, err
		}
		if created {
			res.RatingsCreated++
		}
	}
	for _, id := range snap.OrphanRatings {
		deleted, err := c.repairOrphanRating(ctx, id)
		if err != nil {
			return res, err
		}
		if deleted {
			res.RatingsDeleted++
		}
	}
	for _, id := range snap.Drifted {
		fixed, err := c.repairAverage(ctx, id)
		if err != nil {
			return res, err
		}
		if fixed {
			res.AveragesRewritten++
		}
	}

	span.SetAttributes(
		attribute.Int("ratings.created", res.RatingsCreated),
		attribute.Int("ratings.deleted", res.RatingsDeleted),
		attribute.Int("averages.rewritten", res.AveragesRewritten),
	)
	c.log.Info("Consistency repair finished",
		zap.Int("ratings_created", res.RatingsCreated),
		zap.Int("ratings_deleted", res.RatingsDeleted),
		zap.Int("averages_rewritten", res.AveragesRewritten),
	)
	return res, nil
}

func (c *Checker) repairOrphanBook(ctx context.Context, id uuid.UUID) (bool, error) {
	created := false
	err := c.store.Atomic(ctx, func(tx catalog.Tx) error {
		book, err := tx.GetBook(ctx, id)
		if errors.Is(err, catalog.ErrNoDocument) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.GetRating(ctx, id); !errors.Is(err, catalog.ErrNoDocument) {
			return err
		}
		if err := tx.InsertRating(ctx, catalog.NewRating(book.ID, book.Title)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to repair orphan book %s: %w", id, err)
	}
	if created {
		c.log.Warn("Created missing rating", zap.String("book_id", id.String()))
	}
	return created, nil
}

func (c *Checker) repairOrphanRating(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted := false
	err := c.store.Atomic(ctx, func(tx catalog.Tx) error {
		if _, err := tx.GetBook(ctx, id); !errors.Is(err, catalog.ErrNoDocument) {
			return err
		}
		err := tx.DeleteRating(ctx, id)
		if errors.Is(err, catalog.ErrNoDocument) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to repair orphan rating %s: %w", id, err)
	}
	if deleted {
		c.log.Warn("Deleted orphan rating", zap.String("book_id", id.String()))
	}
	return deleted, nil
}

func (c *Checker) repairAverage(ctx context.Context, id uuid.UUID) (bool, error) {
	r, err := c.store.GetRating(ctx, id)
	if errors.Is(err, catalog.ErrNoDocument) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load rating %s: %w", id, err)
	}
	want := catalog.Average(r.Values)
	if r.Average == want {
		return false, nil
	}
	r.Average = want
	// A concurrent rating write recomputes the average itself, so losing
	// the version race leaves nothing to repair.
	if err := c.store.SwapRating(ctx, r, r.Version); err != nil {
		if errors.Is(err, catalog.ErrVersionConflict) || errors.Is(err, catalog.ErrNoDocument) {
			return false, nil
		}
		return false, fmt.Errorf("failed to rewrite average %s: %w", id, err)
	}
	return true, nil
}

// Run checks every interval until ctx is done, repairing when repair is set.
func (c *Checker) Run(ctx context.Context, interval time.Duration, repair bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := c.Check(ctx)
			if err != nil {
				c.log.Error("Consistency check failed", zap.Error(err))
				continue
			}
			if report.Healthy {
				continue
			}
			c.log.Warn("Consistency violations found", zap.Any("violations", report.Violations))
			if repair {
				if _, err := c.Repair(ctx, report); err != nil {
					c.log.Error("Consistency repair failed", zap.Error(err))
				}
			}
		}
	}
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}
