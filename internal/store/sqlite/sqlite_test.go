package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) catalog.Store { return newTestStore(t) })
}

func TestIntListScan(t *testing.T) {
	var l intList
	require.NoError(t, l.Scan("[1,2,3]"))
	assert.Equal(t, intList{1, 2, 3}, l)

	require.NoError(t, l.Scan([]byte("[]")))
	assert.Equal(t, intList{}, l)

	require.NoError(t, l.Scan(nil))
	assert.Equal(t, intList{}, l)

	assert.Error(t, l.Scan(42))
}

func TestIntListValue(t *testing.T) {
	v, err := intList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = intList{4, 5}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[4,5]", v)
}
