// SPDX-License-Identifier: Apache-2.0

package reconcile

import "reflect"

func (d *differ) diffArray(next, prev []any, path Path, meta *fieldMetadata) {
	opts := d.r.nodeOptions(meta)
	if opts.keyed(next, prev) {
		d.diffKeyed(next, prev, path, meta, opts.key)
	} else {
		d.diffPositional(next, prev, path, meta)
	}
}

// keyed reports whether two arrays are reconciled by key rather than by
// position.
func (o nodeOptions) keyed(next, prev []any) bool {
	if o.key == "" || len(next) == 0 || len(prev) == 0 {
		return false
	}
	if o.merge {
		_, ok := keyValue(next[0], o.key)
		return ok
	}
	return hasKeyed(next, o.key) || hasKeyed(prev, o.key)
}

// diffPositional pairs elements by index, scanning the common length from
// both ends toward the middle, then appends or truncates the tail.
func (d *differ) diffPositional(next, prev []any, path Path, meta *fieldMetadata) {
	common := min(len(next), len(prev))
	for start, end := 0, common-1; start <= end; start, end = start+1, end-1 {
		d.diff(next[start], prev[start], path.Index(start), meta)
		if start == end {
			break
		}
		d.diff(next[end], prev[end], path.Index(end), meta)
	}
	for i := common; i < len(next); i++ {
		d.insert(next[i], path.Index(i), meta)
	}
	if len(prev) > len(next) {
		d.truncate(path, len(next))
	}
}

// staged is a previous element chosen to fill a slot of the next array.
type staged struct {
	prev any // the element in the previous snapshot
	live any // its live counterpart, resolved before anything moved
	from int // its index in the previous array
	ok   bool
}

// diffKeyed reconciles arrays whose elements carry a key field.
//
// Common prefix and suffix are matched first. What remains in the middle
// is matched through an index of the next array's keys; previous elements
// that find a slot are moved there and diffed in place, slots left empty
// receive new values.
func (d *differ) diffKeyed(next, prev []any, path Path, meta *fieldMetadata, key string) {
	start := 0
	for end := min(len(prev), len(next)); start < end && match(prev[start], next[start], key); start++ {
		d.diff(next[start], prev[start], path.Index(start), meta)
	}

	slots := make([]staged, len(next))
	end, newEnd := len(prev)-1, len(next)-1
	for ; end >= start && newEnd >= start && match(prev[end], next[newEnd], key); end, newEnd = end-1, newEnd-1 {
		slots[newEnd] = d.stage(path, end, prev[end])
	}

	// Nothing left to reorder: the middle is a pure insertion or removal.
	if start > newEnd || start > end {
		j := start
		for ; j <= newEnd; j++ {
			d.insert(next[j], path.Index(j), meta)
		}
		for ; j < len(next); j++ {
			d.place(next[j], slots[j], path, j, meta)
		}
		if len(prev) > len(next) {
			d.truncate(path, len(next))
		}
		return
	}

	// Index the middle of next back to front, so that each key maps to its
	// first occurrence and chains to the following ones.
	indices := make(map[any]int, newEnd-start+1)
	following := make([]int, newEnd+1)
	for j := newEnd; j >= start; j-- {
		k, ok := lookupKey(next[j], key)
		if !ok {
			continue
		}
		if i, found := indices[k]; found {
			following[j] = i
		} else {
			following[j] = -1
		}
		indices[k] = j
	}

	// Duplicate keys are consumed first come, first served.
	for i := start; i <= end; i++ {
		k, ok := lookupKey(prev[i], key)
		if !ok {
			continue
		}
		if j, found := indices[k]; found && j != -1 {
			slots[j] = d.stage(path, i, prev[i])
			indices[k] = following[j]
		}
	}

	for j := start; j < len(next); j++ {
		d.place(next[j], slots[j], path, j, meta)
	}
	if len(prev) > len(next) {
		d.truncate(path, len(next))
	}
}

// stage resolves the live counterpart of prev[i].
func (d *differ) stage(path Path, i int, prev any) staged {
	live, ok := Resolve(path.Index(i), d.t.Root())
	if !ok {
		return staged{}
	}
	return staged{prev: prev, live: live, from: i, ok: true}
}

// place fills slot j of the live array. A staged element is moved there
// unless it already sits at j, then diffed in place.
func (d *differ) place(next any, s staged, path Path, j int, meta *fieldMetadata) {
	at := path.Index(j)
	if !s.ok {
		d.insert(next, at, meta)
		return
	}
	if s.from != j {
		d.emit(Patch{Op: OpMove, Path: at, From: path.Index(s.from), Value: s.live})
	}
	d.diff(next, s.prev, at, meta)
}

func (d *differ) truncate(path Path, n int) {
	d.emit(Patch{Op: OpTruncate, Path: path, Value: n})
}

// match reports whether two elements are the same node or carry equal key
// values. Elements without the key only match by identity.
func match(prev, next any, key string) bool {
	if same(prev, next) {
		return true
	}
	pv, ok := keyValue(prev, key)
	if !ok {
		return false
	}
	nv, ok := keyValue(next, key)
	return ok && equalScalar(pv, nv)
}

// keyValue returns the key field of an object element. Missing keys, nil
// values and values that cannot be hashed are all treated as absent.
func keyValue(item any, key string) (any, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	if !ok || !keyable(v) {
		return nil, false
	}
	return v, true
}

func hasKeyed(items []any, key string) bool {
	for _, item := range items {
		if _, ok := keyValue(item, key); ok {
			return true
		}
	}
	return false
}

// keyChanged reports whether two objects disagree on their key value,
// including one carrying it and the other not.
func keyChanged(next, prev any, key string) bool {
	nv, nok := keyValue(next, key)
	pv, pok := keyValue(prev, key)
	if nok != pok {
		return true
	}
	return nok && !equalScalar(nv, pv)
}

// keyedBy wraps key values so they never collide with scalar elements used
// as their own lookup key.
type keyedBy struct {
	v any
}

// lookupKey returns the index key of an element in the unmatched middle:
// its key value, else its node identity, else the scalar itself.
func lookupKey(item any, key string) (any, bool) {
	if v, ok := keyValue(item, key); ok {
		return keyedBy{v}, true
	}
	if id, ok := identityOf(item); ok {
		return id, true
	}
	if keyable(item) {
		return item, true
	}
	return nil, false
}

// keyable reports whether v can be used as a map key without risk of a
// runtime panic.
func keyable(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}
