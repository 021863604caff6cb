package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/errors"
)

func TestSumIsStable(t *testing.T) {
	doc := map[string]any{"id": float64(1), "name": "Ann", "tags": []any{"a", "b"}}

	first, err := Sum(doc)
	require.NoError(t, err)
	second, err := Sum(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 16)
}

func TestSumIgnoresKeyOrder(t *testing.T) {
	// Equal documents built in different key order hash equal because
	// the JSON encoding sorts object keys.
	a := map[string]any{}
	a["zeta"] = float64(1)
	a["alpha"] = "x"

	b := map[string]any{}
	b["alpha"] = "x"
	b["zeta"] = float64(1)

	da, err := Sum(a)
	require.NoError(t, err)
	db, err := Sum(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
}

func TestSumDistinguishesDocuments(t *testing.T) {
	da, err := Sum(map[string]any{"id": float64(1)})
	require.NoError(t, err)
	db, err := Sum(map[string]any{"id": float64(2)})
	require.NoError(t, err)

	assert.NotEqual(t, da, db)
}

func TestSumRejectsUnmarshalable(t *testing.T) {
	_, err := Sum(make(chan int))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func BenchmarkSum(b *testing.B) {
	doc := map[string]any{
		"id":      "bench",
		"values":  []any{float64(1), float64(2), float64(3)},
		"details": map[string]any{"body": "some benchmark text"},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Sum(doc); err != nil {
			b.Fatal(err)
		}
	}
}
