// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fredrickson/reconcile"
)

func set(path reconcile.Path, v any) reconcile.Patch {
	return reconcile.Patch{Op: reconcile.OpSet, Path: path, Value: v}
}

func TestBatchCommit(t *testing.T) {
	s, err := New(map[string]any{"a": 1}, Options{})
	require.NoError(t, err)

	commit, err := s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("b"), 2))
		// writes are visible inside the batch
		v, ok := reconcile.Resolve(reconcile.Path{}.Key("b"), tx.Root())
		assert.True(t, ok)
		assert.Equal(t, 2, v)
		return nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, commit.ID)
	assert.Len(t, commit.Patches, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, s.Snapshot())
}

func TestBatchRollbackOnError(t *testing.T) {
	s, err := New(map[string]any{"a": map[string]any{"x": 1}}, Options{})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("a").Key("x"), 2))
		tx.Apply(set(reconcile.Path{}.Key("b"), 3))
		return boom
	})
	assert.ErrorIs(t, err, ErrRolledBack)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1}}, s.Snapshot())
}

func TestBatchRollbackOnPatchError(t *testing.T) {
	s, err := New(map[string]any{"a": 1}, Options{})
	require.NoError(t, err)

	_, err = s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("a"), 2))
		tx.Apply(set(reconcile.Path{}.Key("missing").Key("x"), 3))
		tx.Apply(set(reconcile.Path{}.Key("c"), 4))
		assert.Error(t, tx.Err())
		return nil
	})
	assert.ErrorIs(t, err, ErrRolledBack)
	assert.ErrorIs(t, err, reconcile.ErrUnresolvablePath)
	assert.Equal(t, map[string]any{"a": 1}, s.Snapshot())
}

func TestBatchRollbackOnPanic(t *testing.T) {
	s, err := New(map[string]any{"a": 1}, Options{})
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = s.Batch(func(tx *Tx) error {
			tx.Apply(set(reconcile.Path{}.Key("a"), 2))
			panic("boom")
		})
	})
	assert.Equal(t, map[string]any{"a": 1}, s.Snapshot())

	// the lock was released
	_, err = s.Batch(func(tx *Tx) error { return nil })
	assert.NoError(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	s, err := New(map[string]any{"a": map[string]any{"x": 1}}, Options{})
	require.NoError(t, err)

	v, ok := s.Get(reconcile.Path{}.Key("a"))
	require.True(t, ok)
	v.(map[string]any)["x"] = 2

	v, ok = s.Get(reconcile.Path{}.Key("a").Key("x"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = s.Get(reconcile.Path{}.Key("missing"))
	assert.False(t, ok)
}

func TestSubscribe(t *testing.T) {
	s, err := New(map[string]any{}, Options{})
	require.NoError(t, err)

	var order []string
	var first []Commit
	cancelFirst := s.Subscribe(func(c Commit) {
		order = append(order, "first")
		first = append(first, c)
		// the store is readable from a subscriber
		_ = s.Snapshot()
	})
	s.Subscribe(func(c Commit) {
		order = append(order, "second")
	})

	commit, err := s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("a"), 1))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, commit.ID, first[0].ID)
	assert.Equal(t, []string{"first", "second"}, order)

	// empty and rolled back batches notify nobody
	_, err = s.Batch(func(tx *Tx) error { return nil })
	require.NoError(t, err)
	_, err = s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("b"), 1))
		return errors.New("no")
	})
	require.Error(t, err)
	assert.Len(t, first, 1)

	cancelFirst()
	_, err = s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("c"), 1))
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Equal(t, []string{"first", "second", "second"}, order)
}

func TestConcurrentReaders(t *testing.T) {
	s, err := New(map[string]any{"n": 0, "m": 0}, Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Batch(func(tx *Tx) error {
				tx.Apply(set(reconcile.Path{}.Key("n"), i))
				tx.Apply(set(reconcile.Path{}.Key("m"), i))
				return nil
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			snap := s.Snapshot().(map[string]any)
			// a batch is never observed half applied
			assert.Equal(t, snap["n"], snap["m"])
		}()
	}
	wg.Wait()
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(map[string]any{}, Options{Registerer: reg})
	require.NoError(t, err)

	_, err = s.Batch(func(tx *Tx) error {
		tx.Apply(set(reconcile.Path{}.Key("a"), 1))
		tx.Apply(reconcile.Patch{Op: reconcile.OpDelete, Path: reconcile.Path{}.Key("a")})
		return nil
	})
	require.NoError(t, err)
	_, err = s.Batch(func(tx *Tx) error { return errors.New("no") })
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.commits))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.rollbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.patches.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.patches.WithLabelValues("delete")))

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP reconcile_commits_total Total batches committed to the live store
# TYPE reconcile_commits_total counter
reconcile_commits_total 1
`), "reconcile_commits_total")
	assert.NoError(t, err)

	// a second store cannot register the same collectors
	_, err = New(nil, Options{Registerer: reg})
	assert.Error(t, err)
}
