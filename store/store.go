// SPDX-License-Identifier: Apache-2.0

// Package store holds a live tree that is updated only through reconciliation
// patches, applied in all-or-nothing batches.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sam-fredrickson/reconcile"
)

// ErrRolledBack is returned by [Store.Batch] when the batch was undone.
// The cause is wrapped alongside it.
var ErrRolledBack = errors.New("batch rolled back")

// Options configures a [Store].
//
// The zero value is valid: nothing is logged and no metrics are registered.
type Options struct {
	// Logger receives commit and rollback events. Nil disables logging.
	Logger *zap.Logger

	// Registerer, when set, receives the store's Prometheus collectors.
	Registerer prometheus.Registerer
}

// Commit describes one successful batch.
type Commit struct {
	// ID identifies the batch.
	ID uuid.UUID
	// Patches are the patches applied, in order.
	Patches []reconcile.Patch
}

// Store owns a live tree.
//
// Readers never see a batch half applied: [Store.Get] and [Store.Snapshot]
// wait for a running batch to finish, and subscribers are told about a
// commit only once it is complete.
type Store struct {
	mu   sync.RWMutex
	root any

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int

	log     *zap.Logger
	metrics *metrics
}

type subscriber struct {
	id int
	fn func(Commit)
}

// New creates a Store whose live tree is root. The store takes ownership of
// root; pass a clone if the caller keeps using it.
// Returns an error if the metrics cannot be registered.
func New(root any, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	return &Store{root: root, log: log, metrics: m}, nil
}

// Get returns a copy of the value at path.
func (s *Store) Get(path reconcile.Path) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := reconcile.Resolve(path, s.root)
	if !ok {
		return nil, false
	}
	return reconcile.Clone(v), true
}

// Snapshot returns a copy of the whole live tree.
func (s *Store) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reconcile.Clone(s.root)
}

// Subscribe registers fn to be called after every non-empty commit, in
// subscription order. The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(Commit)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool {
			return sub.id == id
		})
	}
}

// Batch runs fn with exclusive access to the live tree.
//
// Patches sent to the [Tx] are applied immediately, so fn observes its own
// writes through [Tx.Root]. If fn returns an error, or a patch cannot be
// applied, the tree is restored to its state before the batch and the error
// is returned wrapped with [ErrRolledBack]. Otherwise subscribers are
// notified once the lock is released.
func (s *Store) Batch(fn func(tx *Tx) error) (Commit, error) {
	started := time.Now()
	tx, err := s.run(fn)
	if err != nil {
		s.metrics.rollback()
		s.log.Warn("batch rolled back",
			zap.Int("patches", len(tx.patches)),
			zap.Error(err))
		return Commit{}, fmt.Errorf("%w: %w", ErrRolledBack, err)
	}

	commit := Commit{ID: uuid.New(), Patches: tx.patches}
	s.metrics.commit(commit, time.Since(started))
	s.log.Debug("batch committed",
		zap.Stringer("id", commit.ID),
		zap.Int("patches", len(commit.Patches)))
	if len(commit.Patches) > 0 {
		s.notify(commit)
	}
	return commit, nil
}

func (s *Store) run(fn func(tx *Tx) error) (tx *Tx, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := reconcile.Clone(s.root)
	tx = &Tx{root: s.root}
	defer func() {
		if r := recover(); r != nil {
			s.root = backup
			panic(r)
		}
	}()

	err = fn(tx)
	if err == nil {
		err = tx.err
	}
	if err != nil {
		s.root = backup
		return tx, err
	}
	s.root = tx.root
	return tx, nil
}

func (s *Store) notify(c Commit) {
	s.subMu.Lock()
	subs := slices.Clone(s.subs)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(c)
	}
}

// Tx is the view of a [Store] inside a batch. It implements
// [reconcile.Target]. A Tx must not be used after its batch returns.
type Tx struct {
	root    any
	patches []reconcile.Patch
	err     error
}

// Apply implements [reconcile.Patcher]. After the first failing patch, later
// patches are ignored and the batch rolls back.
func (tx *Tx) Apply(p reconcile.Patch) {
	if tx.err != nil {
		return
	}
	root, err := reconcile.ApplyPatch(tx.root, p)
	if err != nil {
		tx.err = err
		return
	}
	tx.root = root
	tx.patches = append(tx.patches, p)
}

// Root implements [reconcile.Target].
func (tx *Tx) Root() any {
	return tx.root
}

// Err returns the error of the first patch that failed to apply.
func (tx *Tx) Err() error {
	return tx.err
}
