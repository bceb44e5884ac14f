// SPDX-License-Identifier: Apache-2.0

// Package reconcile computes the in-place patches that turn a live tree into
// a new immutable snapshot.
//
// Trees are the shapes produced by decoding YAML, JSON or TOML into any:
// map[string]any objects, []any arrays, and scalars. A [Reconciler] compares
// the previous snapshot with the next one and sends the minimal sequence of
// [Patch] values to a [Target] holding the live tree. Unchanged subtrees are
// left alone, and array elements carrying a key field (default "id") are
// moved rather than rebuilt when they only change position.
package reconcile

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for simple error checking with [errors.Is].
// For detailed error information, use [errors.As] with the typed errors.
var (
	// ErrInvalidOptions indicates invalid reconciliation options were provided.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrInvalidTag indicates an invalid rc struct tag.
	ErrInvalidTag = errors.New("invalid tag")
	// ErrMarshal indicates a marshaling or unmarshaling operation failed.
	ErrMarshal = errors.New("marshal error")
	// ErrUnresolvablePath indicates a patch addressed a location that does not exist.
	ErrUnresolvablePath = errors.New("unresolvable path")
	// ErrInvalidPatch indicates a patch that cannot apply to the addressed node.
	ErrInvalidPatch = errors.New("invalid patch")
)

// DefaultKey is the field used to match array elements when [Options.Key] is empty.
const DefaultKey = "id"

// MarshalError is returned when unmarshaling a document fails.
type MarshalError struct {
	// Err is the underlying error returned by the unmarshal function.
	Err error
	// DocIndex is 0 for the previous document and 1 for the next one.
	DocIndex int
}

func (e *MarshalError) Error() string {
	return fmt.Sprintf("cannot unmarshal document at position %d: %v", e.DocIndex, e.Err)
}

func (e *MarshalError) Unwrap() error {
	return e.Err
}

func (e *MarshalError) Is(target error) bool {
	return target == ErrMarshal
}

// Options configures reconciliation.
//
// The zero value is valid: arrays are keyed by "id", keyed matching is used
// whenever some element carries the key, nothing is reserved, and nothing
// is logged.
type Options struct {
	// Key names the field that identifies array elements across reorders.
	// Empty means [DefaultKey].
	Key string

	// Unkeyed disables keyed matching entirely; arrays are always patched
	// position by position.
	Unkeyed bool

	// Merge requires the first element of the next array to carry the key
	// before keyed matching is attempted. Without it, keyed matching runs
	// as soon as any element of either array carries the key.
	Merge bool

	// ReservedKeys lists object keys the live tree cannot accept. Patches
	// addressed to them are dropped.
	ReservedKeys []string

	// ReplaceOnKeyChange replaces an object wholesale, instead of diffing
	// its fields, when its key value differs from the previous one.
	ReplaceOnKeyChange bool

	// Logger receives debug output. Nil disables logging.
	Logger *zap.Logger
}

// Reconciler diffs snapshots with the configured options.
//
// A Reconciler holds no per-run state and is safe for concurrent use, as
// long as each run gets its own [Target].
type Reconciler struct {
	opts     Options
	reserved map[string]struct{}
	meta     *fieldMetadata
	log      *zap.Logger
}

// NewReconciler creates a new [Reconciler] with the given options.
// Returns an error if the options are invalid.
func NewReconciler(opts Options) (*Reconciler, error) {
	if opts.Unkeyed && opts.Key != "" {
		return nil, fmt.Errorf("%w: Key %q set together with Unkeyed", ErrInvalidOptions, opts.Key)
	}
	reserved := make(map[string]struct{}, len(opts.ReservedKeys))
	for _, k := range opts.ReservedKeys {
		if k == "" {
			return nil, fmt.Errorf("%w: empty string in ReservedKeys", ErrInvalidOptions)
		}
		reserved[k] = struct{}{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{opts: opts, reserved: reserved, log: log}, nil
}

// Options returns the options configured for this [Reconciler].
func (r *Reconciler) Options() Options {
	return r.opts
}

// Diff reconciles t with next. See [Reconciler.Diff] for details.
func Diff(opts Options, next, prev any, t Target) (int, error) {
	r, err := NewReconciler(opts)
	if err != nil {
		return 0, err
	}
	return r.Diff(next, prev, t), nil
}

// DiffMarshal diffs two encoded documents. See [Reconciler.DiffMarshal] for details.
func DiffMarshal(
	opts Options,
	unmarshal func([]byte, any) error,
	prevDoc, nextDoc []byte,
) ([]Patch, error) {
	r, err := NewReconciler(opts)
	if err != nil {
		return nil, err
	}
	return r.DiffMarshal(unmarshal, prevDoc, nextDoc)
}

// Diff sends to t the patches that turn a live copy of prev into next, and
// returns how many were sent.
//
// prev must be the snapshot the live tree currently mirrors; the live tree
// itself is only read through t.Root() and only written through t.Apply.
// Neither next nor prev is modified.
//
// Mismatches never fail: a node whose kind changed, or a scalar that
// differs, is replaced by a single [OpSet]. A node of next that was already
// visited through another path is not diffed again but aliased with
// [OpAlias], which also stops recursion on cyclic trees. A node of prev that
// sits at several locations is updated in place at most once, and not at all
// while next still holds it; its other changed locations are replaced.
func (r *Reconciler) Diff(next, prev any, t Target) int {
	started := time.Now()
	d := &differ{
		r:    r,
		t:    t,
		refs: make(map[identity]Path),
	}
	if !same(next, prev) {
		d.shared = findShared(next, prev)
	}
	d.diff(next, prev, Path{}, r.meta)
	r.log.Debug("reconciled",
		zap.Int("patches", d.emitted),
		zap.Int("skipped", d.skipped),
		zap.Duration("took", time.Since(started)))
	return d.emitted
}

// DiffMarshal decodes two documents with unmarshal and returns the patches
// that turn the first into the second.
//
// Works with any serialization format (YAML, JSON, TOML, etc.) whose
// unmarshal function decodes into map[string]any and []any.
//
// Example:
//
//	import "github.com/goccy/go-yaml"
//
//	prev := []byte("users:\n  - id: 1\n    role: user")
//	next := []byte("users:\n  - id: 1\n    role: admin")
//	patches, _ := DiffMarshal(Options{}, yaml.Unmarshal, prev, next)
//	// patches: set /users/0/role = admin
func (r *Reconciler) DiffMarshal(
	unmarshal func([]byte, any) error,
	prevDoc, nextDoc []byte,
) ([]Patch, error) {
	docs := [2]any{}
	for i, doc := range [2][]byte{prevDoc, nextDoc} {
		if err := unmarshal(doc, &docs[i]); err != nil {
			return nil, &MarshalError{Err: err, DocIndex: i}
		}
	}

	rec := NewRecorder(docs[0])
	r.Diff(docs[1], docs[0], rec)
	if err := rec.Err(); err != nil {
		return nil, err
	}
	return rec.Patches(), nil
}

// nodeOptions are the array options in effect at one node of the tree.
type nodeOptions struct {
	key   string // empty when keyed matching is off
	merge bool
}

func (r *Reconciler) nodeOptions(meta *fieldMetadata) nodeOptions {
	o := nodeOptions{key: r.opts.Key, merge: r.opts.Merge}
	if o.key == "" {
		o.key = DefaultKey
	}
	if r.opts.Unkeyed {
		o.key = ""
	}
	if meta == nil {
		return o
	}
	if meta.key != "" {
		o.key = meta.key
	}
	if meta.positional {
		o.key = ""
	}
	if meta.merge != nil {
		o.merge = *meta.merge
	}
	return o
}

// absentT marks a missing object key or array slot on the previous side, so
// that a nil value in next is still written.
type absentT struct{}

var absent any = absentT{}

// differ is the state of one reconciliation run.
type differ struct {
	r    *Reconciler
	t    Target
	refs map[identity]Path // visited next node -> its live location

	shared *sharedNodes

	emitted int
	skipped int
}

func (d *differ) diff(next, prev any, path Path, meta *fieldMetadata) {
	if same(next, prev) {
		return
	}

	id, hasID := identityOf(next)
	if hasID {
		if at, seen := d.refs[id]; seen {
			d.alias(next, path, at)
			return
		}
	}

	// Register before replacing or descending, so later references to this
	// node, including cycles through it, alias the live copy. A reserved
	// location never receives the node.
	if hasID && !d.reservedAt(path) {
		d.refs[id] = path
	}

	kind := KindOf(next)
	_, prevHasID := identityOf(prev)
	if kind == KindScalar || kind != KindOf(prev) || hasID != prevHasID {
		d.set(path, next)
		return
	}

	if d.r.opts.ReplaceOnKeyChange && kind == KindObject {
		if key := d.r.nodeOptions(meta).key; key != "" && keyChanged(next, prev, key) {
			d.set(path, next)
			return
		}
	}

	if !d.shared.inPlace(prev) {
		d.set(path, next)
		return
	}

	switch kind {
	case KindObject:
		d.diffObject(next.(map[string]any), prev.(map[string]any), path, meta)
	case KindArray:
		d.diffArray(next.([]any), prev.([]any), path, meta)
	}
}

// insert writes a value that has no counterpart in prev.
func (d *differ) insert(next any, path Path, meta *fieldMetadata) {
	d.diff(next, absent, path, meta)
}

func (d *differ) alias(next any, path, at Path) {
	live, ok := Resolve(at, d.t.Root())
	if !ok {
		d.set(path, next)
		return
	}
	d.emit(Patch{Op: OpAlias, Path: path, From: at, Value: live})
}

func (d *differ) set(path Path, v any) {
	d.emit(Patch{Op: OpSet, Path: path, Value: v})
}

func (d *differ) emit(p Patch) {
	if d.reservedAt(p.Path) {
		d.skipped++
		d.r.log.Debug("skipping reserved key",
			zap.Stringer("op", p.Op),
			zap.Stringer("path", p.Path))
		return
	}
	d.t.Apply(p)
	d.emitted++
}

// reservedAt reports whether path ends in a reserved object key.
func (d *differ) reservedAt(path Path) bool {
	last, ok := path.Last()
	if !ok || last.IsIndex {
		return false
	}
	_, reserved := d.r.reserved[last.Key]
	return reserved
}

// sharedNodes tracks the composites of prev found at more than one
// location. The live tree shares them the same way, so an update in place
// through one location shows through all the others.
type sharedNodes struct {
	locations map[identity]int  // only nodes with two or more
	held      map[identity]bool // shared nodes next still holds
	edited    map[identity]bool // shared nodes already updated in place
}

func findShared(next, prev any) *sharedNodes {
	locations := make(map[identity]int)
	countLocations(prev, locations)
	for id, n := range locations {
		if n < 2 {
			delete(locations, id)
		}
	}
	s := &sharedNodes{
		locations: locations,
		held:      make(map[identity]bool),
		edited:    make(map[identity]bool),
	}
	if len(locations) > 0 {
		s.markHeld(next, make(map[identity]bool))
	}
	return s
}

// countLocations counts, for every composite reachable from v, the number
// of parent slots holding it. The root counts as one slot.
func countLocations(v any, locations map[identity]int) {
	id, ok := identityOf(v)
	if !ok {
		return
	}
	locations[id]++
	if locations[id] > 1 {
		return
	}
	switch c := v.(type) {
	case map[string]any:
		for _, child := range c {
			countLocations(child, locations)
		}
	case []any:
		for _, child := range c {
			countLocations(child, locations)
		}
	}
}

func (s *sharedNodes) markHeld(v any, seen map[identity]bool) {
	id, ok := identityOf(v)
	if !ok || seen[id] {
		return
	}
	seen[id] = true
	if s.locations[id] > 0 {
		s.held[id] = true
	}
	switch c := v.(type) {
	case map[string]any:
		for _, child := range c {
			s.markHeld(child, seen)
		}
	case []any:
		for _, child := range c {
			s.markHeld(child, seen)
		}
	}
}

// inPlace reports whether the live counterpart of prev may be updated in
// place. A shared node qualifies once per run, and never while next still
// holds it, since its unchanged locations would be skipped.
func (s *sharedNodes) inPlace(prev any) bool {
	if s == nil {
		return true
	}
	id, ok := identityOf(prev)
	if !ok || s.locations[id] == 0 {
		return true
	}
	if s.held[id] || s.edited[id] {
		return false
	}
	s.edited[id] = true
	return true
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
