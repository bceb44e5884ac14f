// SPDX-License-Identifier: Apache-2.0

package store

import (
	"sync"

	"github.com/sam-fredrickson/reconcile"
)

// Immutable keeps a [Store] in step with a stream of immutable snapshots.
//
// It remembers the last snapshot it was given; each [Immutable.Set] diffs the
// new snapshot against it and applies the patches as one batch. Snapshots
// handed to Set must not be modified afterwards.
type Immutable struct {
	mu    sync.Mutex
	store *Store
	rec   *reconcile.Reconciler
	prev  any
}

// NewImmutable creates a store holding a clone of init, reconciled by r.
func NewImmutable(init any, r *reconcile.Reconciler, opts Options) (*Immutable, error) {
	s, err := New(reconcile.Clone(init), opts)
	if err != nil {
		return nil, err
	}
	return &Immutable{store: s, rec: r, prev: init}, nil
}

// Set reconciles the live tree with next in one batch. On failure the live
// tree and the remembered snapshot are left unchanged.
func (im *Immutable) Set(next any) (Commit, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	commit, err := im.store.Batch(func(tx *Tx) error {
		im.rec.Diff(next, im.prev, tx)
		return nil
	})
	if err != nil {
		return Commit{}, err
	}
	im.prev = next
	return commit, nil
}

// Store returns the underlying live store.
func (im *Immutable) Store() *Store {
	return im.store
}
