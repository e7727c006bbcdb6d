package consistency

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/store/memory"
)

func book(isbn string) catalog.Book {
	return catalog.Book{ID: uuid.New(), ISBN: isbn, Title: "Book " + isbn, Genre: catalog.GenreFiction}
}

func TestCheckHealthyCatalog(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := book("1")
	require.NoError(t, s.InsertBook(ctx, b))
	require.NoError(t, s.InsertRating(ctx, catalog.NewRating(b.ID, b.Title)))

	report, err := NewChecker(s, zap.NewNop()).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 1, report.Snapshot.Books)
	assert.Equal(t, 1, report.Snapshot.Ratings)
}

func TestCheckAndRepairViolations(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	lonelyBook := book("2")
	require.NoError(t, s.InsertBook(ctx, lonelyBook))

	lonelyRating := catalog.NewRating(uuid.New(), "gone")
	require.NoError(t, s.InsertRating(ctx, lonelyRating))

	drifted := book("3")
	require.NoError(t, s.InsertBook(ctx, drifted))
	r := catalog.NewRating(drifted.ID, drifted.Title)
	r.Values = []int{5, 4}
	r.Average = 1
	require.NoError(t, s.InsertRating(ctx, r))

	checker := NewChecker(s, zap.NewNop())
	report, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)

	probes := map[string]float64{}
	for _, v := range report.Violations {
		probes[v.Probe] = v.Actual
	}
	assert.Equal(t, map[string]float64{"orphan_books": 1, "orphan_ratings": 1, "average_drift": 1}, probes)

	res, err := checker.Repair(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, RepairResult{RatingsCreated: 1, RatingsDeleted: 1, AveragesRewritten: 1}, res)

	created, err := s.GetRating(ctx, lonelyBook.ID)
	require.NoError(t, err)
	assert.Empty(t, created.Values)
	assert.Equal(t, lonelyBook.Title, created.Title)

	_, err = s.GetRating(ctx, lonelyRating.BookID)
	assert.ErrorIs(t, err, catalog.ErrNoDocument)

	fixed, err := s.GetRating(ctx, drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.5, fixed.Average)

	after, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, after.Healthy)
}

func TestRepairSkipsResolvedCandidates(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := book("4")
	require.NoError(t, s.InsertBook(ctx, b))

	checker := NewChecker(s, zap.NewNop())
	report, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Snapshot.OrphanBooks, 1)

	// The pair completes before the repair runs.
	require.NoError(t, s.InsertRating(ctx, catalog.NewRating(b.ID, b.Title)))

	res, err := checker.Repair(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, RepairResult{}, res)
}

func TestEvaluateThreshold(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{"==", 0, true},
		{"==", 1, false},
		{">", 1, true},
		{"<", 1, false},
		{">=", 0, true},
		{"<=", 0, true},
		{"!=", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateThreshold(tt.value, Threshold{Operator: tt.op, Value: 0}))
		})
	}
}
