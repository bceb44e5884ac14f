// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"strings"
)

// Op is the kind of mutation a [Patch] performs.
type Op int

const (
	// OpSet stores Value at Path. Value belongs to the new snapshot and must be
	// copied before it is stored in a live tree.
	OpSet Op = iota
	// OpDelete removes the object key at Path.
	OpDelete
	// OpTruncate shortens the array at Path to the int length in Value.
	OpTruncate
	// OpMove stores an already-live element, taken from From before the run
	// started, at Path.
	OpMove
	// OpAlias stores the already-live node at From at Path, so that both
	// locations share it.
	OpAlias
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpTruncate:
		return "truncate"
	case OpMove:
		return "move"
	case OpAlias:
		return "alias"
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "set":
		*o = OpSet
	case "delete":
		*o = OpDelete
	case "truncate":
		*o = OpTruncate
	case "move":
		*o = OpMove
	case "alias":
		*o = OpAlias
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, text)
	}
	return nil
}

// Patch is one in-place mutation emitted by a [Reconciler].
type Patch struct {
	Op    Op
	Path  Path
	From  Path // source location for OpMove and OpAlias
	Value any
}

func (p Patch) String() string {
	switch p.Op {
	case OpDelete:
		return fmt.Sprintf("delete %s", p.Path)
	case OpMove, OpAlias:
		return fmt.Sprintf("%s %s <- %s", p.Op, p.Path, p.From)
	default:
		return fmt.Sprintf("%s %s = %v", p.Op, p.Path, p.Value)
	}
}

// Patcher receives the patches of a reconciliation run, in order.
type Patcher interface {
	Apply(p Patch)
}

// PatcherFunc adapts a function to [Patcher].
type PatcherFunc func(p Patch)

// Apply calls f(p).
func (f PatcherFunc) Apply(p Patch) {
	f(p)
}

// Target is the live side of a reconciliation run: it applies patches and
// exposes its current root so that live nodes can be located by path.
//
// Callers that need all-or-nothing visibility should hand the reconciler a
// Target scoped to one transaction, as the store package does.
type Target interface {
	Patcher
	Root() any
}

// PatchError is returned when a patch cannot be applied to a tree.
type PatchError struct {
	// Op is the operation of the failing patch.
	Op Op
	// Path is where the patch was applied.
	Path Path
	// Err is ErrUnresolvablePath or ErrInvalidPatch, possibly wrapped.
	Err error
}

func (e *PatchError) Error() string {
	path := e.Path.String()
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("cannot %s at %s: %v", e.Op, path, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// ApplyPatch applies p to root and returns the resulting root.
//
// Objects and arrays are updated in place. When an array grows, or a nil
// object receives its first key, the new header is stored back into its
// parent, so the returned root must replace the one passed in. OpSet values
// are cloned on the way in; OpMove and OpAlias values are stored as is.
func ApplyPatch(root any, p Patch) (any, error) {
	fail := func(err error) (any, error) {
		return root, &PatchError{Op: p.Op, Path: p.Path, Err: err}
	}

	switch p.Op {
	case OpSet:
		return setAt(root, p.Path, Clone(p.Value), p.Op)
	case OpMove, OpAlias:
		return setAt(root, p.Path, p.Value, p.Op)
	case OpTruncate:
		n, ok := p.Value.(int)
		if !ok || n < 0 {
			return fail(fmt.Errorf("%w: truncate length %v", ErrInvalidPatch, p.Value))
		}
		current, ok := Resolve(p.Path, root)
		if !ok {
			return fail(ErrUnresolvablePath)
		}
		arr, ok := current.([]any)
		if !ok {
			return fail(fmt.Errorf("%w: truncate on %s", ErrInvalidPatch, KindOf(current)))
		}
		if n >= len(arr) {
			return root, nil
		}
		// Cap the slice so a later append reallocates instead of writing
		// into storage another alias may still see.
		return setAt(root, p.Path, arr[:n:n], p.Op)
	case OpDelete:
		last, ok := p.Path.Last()
		if !ok {
			return fail(fmt.Errorf("%w: delete of the root", ErrInvalidPatch))
		}
		parent, ok := Resolve(p.Path[:len(p.Path)-1], root)
		if !ok {
			return fail(ErrUnresolvablePath)
		}
		obj, ok := parent.(map[string]any)
		if !ok {
			return fail(fmt.Errorf("%w: delete on %s", ErrInvalidPatch, KindOf(parent)))
		}
		delete(obj, last.String())
		return root, nil
	default:
		return fail(fmt.Errorf("%w: unknown op %d", ErrInvalidPatch, int(p.Op)))
	}
}

// setAt stores v at path inside root and returns the resulting root.
func setAt(root any, path Path, v any, op Op) (any, error) {
	last, ok := path.Last()
	if !ok {
		return v, nil
	}
	parentPath := path[:len(path)-1]
	parent, ok := Resolve(parentPath, root)
	if !ok {
		return root, &PatchError{Op: op, Path: path, Err: ErrUnresolvablePath}
	}

	switch c := parent.(type) {
	case map[string]any:
		if c == nil {
			return setAt(root, parentPath, map[string]any{last.String(): v}, op)
		}
		c[last.String()] = v
		return root, nil
	case []any:
		i, ok := last.index()
		if !ok {
			return root, &PatchError{Op: op, Path: path,
				Err: fmt.Errorf("%w: %q is not an array index", ErrInvalidPatch, last.String())}
		}
		if i < len(c) {
			c[i] = v
			return root, nil
		}
		grown := c
		for len(grown) < i {
			grown = append(grown, nil)
		}
		grown = append(grown, v)
		return setAt(root, parentPath, grown, op)
	default:
		return root, &PatchError{Op: op, Path: path,
			Err: fmt.Errorf("%w: parent is a %s", ErrUnresolvablePath, KindOf(parent))}
	}
}

// Recorder is a [Target] over a private copy of a tree. It applies every
// patch it receives and keeps them in order.
type Recorder struct {
	root    any
	patches []Patch
	err     error
}

// NewRecorder returns a Recorder whose live tree is a clone of root.
func NewRecorder(root any) *Recorder {
	return &Recorder{root: Clone(root)}
}

// Apply implements [Patcher]. The first failing patch is kept in Err and
// later patches are still recorded.
func (r *Recorder) Apply(p Patch) {
	r.patches = append(r.patches, p)
	root, err := ApplyPatch(r.root, p)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.root = root
}

// Root implements [Target].
func (r *Recorder) Root() any {
	return r.root
}

// Patches returns the recorded patches.
func (r *Recorder) Patches() []Patch {
	return r.patches
}

// Err returns the first error met while applying patches.
func (r *Recorder) Err() error {
	return r.err
}

