package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
)

var people = tabular.TableDef{Name: "People", Columns: []string{"id", "name", "flag"}}

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.EnsureSchema(context.Background(), []tabular.TableDef{people}))
	return s
}

func TestAppendAndScan_InsertionOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id, err := s.Append(ctx, "People", tabular.Row{"id": fmt.Sprint(i), "name": "p", "extra": "dropped"})
		require.NoError(t, err)
		assert.Equal(t, tabular.RowID(i), id)
	}

	rows, err := s.Scan(ctx, "People", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[0]["id"])
	assert.Equal(t, "3", rows[2]["id"])
	_, hasExtra := rows[0]["extra"]
	assert.False(t, hasExtra, "unknown columns must not be persisted")
	assert.Equal(t, "", rows[0]["flag"])
}

func TestScan_ReturnsCopies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, "People", tabular.Row{"id": "1", "name": "a"})
	require.NoError(t, err)

	rows, _ := s.Scan(ctx, "People", nil)
	rows[0]["name"] = "mutated"

	again, _ := s.Scan(ctx, "People", tabular.Eq("id", "1"))
	assert.Equal(t, "a", again[0]["name"])
}

func TestUpdateWhere(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "People", tabular.Row{"id": "1", "flag": "false"})
	_, _ = s.Append(ctx, "People", tabular.Row{"id": "1", "flag": "false"})

	require.NoError(t, s.UpdateWhere(ctx, "People", "id", "1", tabular.Row{"flag": "true"}))

	rows, _ := s.Scan(ctx, "People", nil)
	assert.Equal(t, "true", rows[0]["flag"])
	assert.Equal(t, "false", rows[1]["flag"], "only the first matching row is patched")

	err := s.UpdateWhere(ctx, "People", "id", "missing", tabular.Row{"flag": "true"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = s.UpdateWhere(ctx, "People", "id", "1", tabular.Row{"nope": "x"})
	assert.ErrorIs(t, err, apperr.ErrFatal)
}

func TestUnknownTable(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), "Nope", tabular.Row{})
	assert.ErrorIs(t, err, apperr.ErrFatal)
}

func TestFailNext(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.FailNext(errors.New("network down"))

	_, err := s.Append(ctx, "People", tabular.Row{"id": "1"})
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	assert.Equal(t, 0, s.Len("People"))

	_, err = s.Append(ctx, "People", tabular.Row{"id": "1"})
	assert.NoError(t, err)
}

func TestConcurrentAppends(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Append(ctx, "People", tabular.Row{"id": fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len("People"))
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "People", tabular.Row{"id": "1"})
	require.NoError(t, s.EnsureSchema(ctx, []tabular.TableDef{people}))
	assert.Equal(t, 1, s.Len("People"))
}
