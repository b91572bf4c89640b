package tracker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunquery/internal/table"
)

func tbl(name string) table.Table {
	return table.Table{Columns: []table.Column{{Name: name, Type: table.ColumnTypeText}}, Rows: [][]any{}, Type: "table"}
}

func TestRegistry_CompletesInSlotOrder(t *testing.T) {
	r := NewRegistry()
	req := r.Begin(3)
	assert.Equal(t, 1, r.Pending())

	assert.False(t, r.Complete(req.ID, 2, tbl("c")))
	assert.False(t, r.Complete(req.ID, 0, tbl("a")))
	assert.True(t, r.Complete(req.ID, 1, tbl("b")))

	res := <-req.Done()
	require.NoError(t, res.Err)
	require.Len(t, res.Tables, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, res.Tables[i].Columns[0].Name)
	}
	assert.Equal(t, 0, r.Pending())
}

func TestRegistry_FirstErrorWins(t *testing.T) {
	r := NewRegistry()
	req := r.Begin(2)

	assert.False(t, r.Complete(req.ID, 0, tbl("a")))
	first := errors.New("connection refused")
	assert.True(t, r.Fail(req.ID, first))
	assert.False(t, r.Fail(req.ID, errors.New("second")))
	assert.False(t, r.Complete(req.ID, 1, tbl("b")))

	res := <-req.Done()
	assert.Equal(t, first, res.Err)
	assert.Nil(t, res.Tables)
	assert.Equal(t, 0, r.Pending())
	select {
	case extra := <-req.Done():
		t.Fatalf("unexpected second result %+v", extra)
	default:
	}
}

func TestRegistry_DuplicateSlotCompletion(t *testing.T) {
	r := NewRegistry()
	req := r.Begin(2)
	assert.False(t, r.Complete(req.ID, 0, tbl("a")))
	assert.False(t, r.Complete(req.ID, 0, tbl("again")))
	assert.False(t, r.Complete(req.ID, 5, tbl("out of range")))
	assert.True(t, r.Complete(req.ID, 1, tbl("b")))

	res := <-req.Done()
	assert.Equal(t, "a", res.Tables[0].Columns[0].Name)
}

func TestRegistry_UnknownRequest(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Complete("nope", 0, tbl("a")))
	assert.False(t, r.Fail("nope", errors.New("x")))
}

func TestRegistry_EmptyRequest(t *testing.T) {
	r := NewRegistry()
	req := r.Begin(0)
	res := <-req.Done()
	require.NoError(t, res.Err)
	assert.Empty(t, res.Tables)
	assert.Equal(t, 0, r.Pending())
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		req := r.Begin(1)
		require.False(t, seen[req.ID])
		seen[req.ID] = true
	}
	assert.Equal(t, 100, r.Pending())
}

func TestRegistry_ConcurrentSignalsFinalizeOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := NewRegistry()
		const n = 16
		req := r.Begin(n)

		var finalized atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var done bool
				if i == n/2 {
					done = r.Fail(req.ID, fmt.Errorf("slot %d failed", i))
				} else {
					done = r.Complete(req.ID, i, tbl(fmt.Sprint(i)))
				}
				if done {
					finalized.Add(1)
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, int32(1), finalized.Load())
		res := <-req.Done()
		require.Error(t, res.Err, "a failing slot can never yield a table result")
		assert.Equal(t, 0, r.Pending())
	}
}
