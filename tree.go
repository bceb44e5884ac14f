// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"math"
	"reflect"
	"unsafe"
)

// Kind classifies a tree node.
type Kind int

const (
	// KindScalar is any value that is not diffed structurally: strings, numbers,
	// bools, nil, and every typed Go value (structs, pointers, funcs, typed maps
	// and slices).
	KindScalar Kind = iota
	// KindObject is a map[string]any.
	KindObject
	// KindArray is a []any.
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// KindOf reports the kind of v.
//
// Only the plain decoded shapes are composites. A map[string]string or a
// struct is opaque and gets replaced wholesale, never diffed field by field.
func KindOf(v any) Kind {
	switch v.(type) {
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return KindScalar
	}
}

// IsComposite reports whether v is a map[string]any or a []any.
func IsComposite(v any) bool {
	return KindOf(v) != KindScalar
}

// identity is the comparable handle of a composite node.
// Arrays are identified by their backing array and length, so two headers
// over the same storage with the same length are the same node.
type identity struct {
	kind Kind
	ptr  unsafe.Pointer
	len  int
}

// identityOf returns the handle of a composite node. Nil composites have no
// identity and are never registered.
func identityOf(v any) (identity, bool) {
	switch c := v.(type) {
	case map[string]any:
		if c == nil {
			return identity{}, false
		}
		return identity{kind: KindObject, ptr: reflect.ValueOf(c).UnsafePointer()}, true
	case []any:
		if c == nil {
			return identity{}, false
		}
		return identity{kind: KindArray, ptr: unsafe.Pointer(unsafe.SliceData(c)), len: len(c)}, true
	default:
		return identity{}, false
	}
}

// same reports whether a and b are the same node: identical composites, or
// equal scalars of one comparable dynamic type.
func same(a, b any) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	if ka != KindScalar {
		ia, okA := identityOf(a)
		ib, okB := identityOf(b)
		if !okA || !okB {
			// nil composites are only the same as each other
			return !okA && !okB
		}
		return ia == ib
	}
	return equalScalar(a, b)
}

func equalScalar(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !isComparable(a) {
		return sameReference(a, b)
	}
	if bothNaN(a, b) {
		return true
	}
	// comparable struct types may still hold uncomparable interface fields
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// sameReference reports whether two uncomparable values of one type share
// their storage, so that an opaque map or slice is never replaced by itself.
func sameReference(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map:
		return va.UnsafePointer() == vb.UnsafePointer()
	case reflect.Slice:
		return va.Len() == vb.Len() && va.UnsafePointer() == vb.UnsafePointer()
	default:
		return false
	}
}

// bothNaN reports whether a and b are floats holding NaN. Two NaNs are the
// same scalar, so an unchanged NaN is never rewritten.
func bothNaN(a, b any) bool {
	va := reflect.ValueOf(a)
	switch va.Kind() {
	case reflect.Float32, reflect.Float64:
		return math.IsNaN(va.Float()) && math.IsNaN(reflect.ValueOf(b).Float())
	default:
		return false
	}
}

// isComparable checks if a value is comparable (can be used as a map key).
// Maps, slices and funcs are not comparable in Go.
func isComparable(value any) bool {
	if value == nil {
		return true
	}
	return reflect.TypeOf(value).Comparable()
}
