// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"reflect"
	"strings"
)

// TagKind identifies which rc struct tag directive had an error.
type TagKind int

const (
	// UnknownTag indicates an unknown or unsupported rc tag directive.
	UnknownTag TagKind = iota
	// KeyTag indicates an error with an rc:"key" or rc:"key=..." directive.
	KeyTag
	// FieldTag indicates an error with an rc:"field=..." directive.
	FieldTag
	// ModeTag indicates conflicting rc:"merge" and rc:"positional" directives.
	ModeTag
)

func (k TagKind) String() string {
	switch k {
	case UnknownTag:
		return "unknown"
	case KeyTag:
		return "key"
	case FieldTag:
		return "field"
	case ModeTag:
		return "mode"
	default:
		return fmt.Sprintf("TagKind(%d)", k)
	}
}

// InvalidTagError is returned when an rc struct tag contains an invalid directive or value.
type InvalidTagError struct {
	// Kind indicates which rc tag directive had the error.
	Kind TagKind
	// FieldName is the struct field name where the error occurred.
	FieldName string
	// Value is the invalid value.
	Value string
	// Message provides details about what went wrong.
	Message string
}

func (e *InvalidTagError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("field %s: invalid %s tag: %s (value: %q)",
			e.FieldName, e.Kind.String(), e.Message, e.Value)
	}
	return fmt.Sprintf("field %s: invalid %s tag: %s",
		e.FieldName, e.Kind.String(), e.Message)
}

func (e *InvalidTagError) Is(target error) bool {
	return target == ErrInvalidTag
}

// fieldMetadata holds the per-field options extracted from rc tags.
// Array nodes use their own options; their elements share the node's children.
type fieldMetadata struct {
	fieldName  string
	primary    bool   // this field is the key of its struct
	key        string // key for arrays at this node, or the key of this node's struct
	positional bool
	merge      *bool
	children   map[string]*fieldMetadata
	values     *fieldMetadata // element metadata of map-typed fields
}

func (m *fieldMetadata) child(name string) *fieldMetadata {
	if m == nil {
		return nil
	}
	if c, ok := m.children[name]; ok {
		return c
	}
	return m.values
}

// Typed is a [Reconciler] whose per-field options come from the rc struct
// tags of T.
//
// The trees it diffs are still plain decoded values; T only describes their
// shape. Struct tag format:
//   - rc:"key" marks the field identifying its struct; arrays of that struct are keyed by it
//   - rc:"key=name" keys the array held by this field by the given field name
//   - rc:"merge" requires the first element to carry the key before keyed matching
//   - rc:"positional" always patches this array by position
//   - rc:"field=name" overrides field name detection
//
// Field names are otherwise detected from yaml, json, and toml struct tags.
//
// Example:
//
//	type Item struct {
//		SKU string `json:"sku" rc:"key"`
//		Qty int    `json:"qty"`
//	}
//
//	type Inventory struct {
//		Items []Item   `json:"items"`
//		Tags  []string `json:"tags" rc:"positional"`
//	}
//
//	r, _ := NewTyped[Inventory](Options{})
//	r.Diff(next, prev, target) // items matched by "sku"
type Typed[T any] struct {
	*Reconciler
}

// NewTyped creates a new [Typed] reconciler with metadata extracted from
// the struct tags of T. The Options provide defaults for untagged fields.
//
// Returns an error if the options are invalid or if struct tags contain
// invalid directives.
func NewTyped[T any](opts Options) (*Typed[T], error) {
	r, err := NewReconciler(opts)
	if err != nil {
		return nil, err
	}

	b := &metadataBuilder{seen: make(map[reflect.Type]*fieldMetadata)}
	meta, err := b.build(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	r.meta = meta

	return &Typed[T]{Reconciler: r}, nil
}

// metadataBuilder builds metadata trees. Each struct type is described once,
// so recursive types share their node instead of recursing forever.
type metadataBuilder struct {
	seen map[reflect.Type]*fieldMetadata
}

// build recursively builds a metadata tree from a type's struct tags.
func (b *metadataBuilder) build(t reflect.Type) (*fieldMetadata, error) {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return &fieldMetadata{}, nil
	}
	if root, ok := b.seen[t]; ok {
		return root, nil
	}

	root := &fieldMetadata{
		children: make(map[string]*fieldMetadata),
	}
	b.seen[t] = root

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldName, err := getFieldName(field)
		if err != nil {
			return nil, err
		}

		meta := &fieldMetadata{fieldName: fieldName}
		if tag := field.Tag.Get("rc"); tag != "" {
			if err := parseTag(tag, field.Name, meta); err != nil {
				return nil, err
			}
		}

		if meta.primary {
			if !field.Type.Comparable() || field.Type.Kind() == reflect.Interface {
				return nil, &InvalidTagError{
					Kind:      KeyTag,
					FieldName: field.Name,
					Message:   fmt.Sprintf("key field must be a scalar type, got %s", field.Type),
				}
			}
			if root.key != "" {
				return nil, &InvalidTagError{
					Kind:      KeyTag,
					FieldName: field.Name,
					Message:   fmt.Sprintf("struct %s already keyed by %q", t, root.key),
				}
			}
			root.key = fieldName
		}

		if err := b.describeNested(field, meta); err != nil {
			return nil, err
		}

		root.children[fieldName] = meta
	}

	return root, nil
}

// describeNested fills the children of meta from the struct reached through
// the field's pointers, slices, arrays or map values.
func (b *metadataBuilder) describeNested(field reflect.StructField, meta *fieldMetadata) error {
	ft := field.Type
	isMap := false
	for {
		switch ft.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			ft = ft.Elem()
			continue
		case reflect.Map:
			isMap = true
			ft = ft.Elem()
			continue
		}
		break
	}
	if ft.Kind() != reflect.Struct {
		return nil
	}

	nested, err := b.build(ft)
	if err != nil {
		return fmt.Errorf("field %s: %w", field.Name, err)
	}
	if isMap {
		meta.values = nested
		return nil
	}
	meta.children = nested.children
	// Arrays of a keyed struct inherit its key unless the field names one.
	if meta.key == "" {
		meta.key = nested.key
	}
	return nil
}

// getFieldName extracts the serialized field name from struct tags.
// Priority: rc:field override > yaml > json > toml > struct field name.
func getFieldName(field reflect.StructField) (string, error) {
	if tag := field.Tag.Get("rc"); tag != "" {
		fieldName, err := extractFieldDirective(tag)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field.Name, err)
		}
		if fieldName != "" {
			return fieldName, nil
		}
	}

	for _, tagName := range []string{"yaml", "json", "toml"} {
		if tag := field.Tag.Get(tagName); tag != "" && tag != "-" {
			// Handle "name,omitempty,inline" format - take first part
			if idx := strings.Index(tag, ","); idx != -1 {
				if idx == 0 {
					continue
				}
				return tag[:idx], nil
			}
			return tag, nil
		}
	}

	return field.Name, nil
}

// extractFieldDirective extracts the field=name directive from an rc tag.
func extractFieldDirective(tag string) (string, error) {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "field=") {
			fieldName := strings.TrimPrefix(part, "field=")
			if fieldName == "" {
				return "", &InvalidTagError{
					Kind:    FieldTag,
					Value:   part,
					Message: "field name cannot be empty",
				}
			}
			return fieldName, nil
		}
	}
	return "", nil
}

// parseTag parses the rc struct tag and populates meta.
func parseTag(tag, goName string, meta *fieldMetadata) error {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)

		switch {
		case part == "key":
			meta.primary = true
		case strings.HasPrefix(part, "key="):
			name := strings.TrimPrefix(part, "key=")
			if name == "" {
				return &InvalidTagError{
					Kind:      KeyTag,
					FieldName: goName,
					Value:     part,
					Message:   "key name cannot be empty",
				}
			}
			meta.key = name
		case part == "merge":
			merge := true
			meta.merge = &merge
		case part == "positional":
			meta.positional = true
		case strings.HasPrefix(part, "field="):
			// handled by getFieldName
		default:
			return &InvalidTagError{
				Kind:      UnknownTag,
				FieldName: goName,
				Value:     part,
				Message:   "unknown rc tag directive",
			}
		}
	}

	if meta.positional && (meta.key != "" || meta.merge != nil) {
		return &InvalidTagError{
			Kind:      ModeTag,
			FieldName: goName,
			Value:     tag,
			Message:   "positional cannot be combined with key= or merge",
		}
	}
	return nil
}
