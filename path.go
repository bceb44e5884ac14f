// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a [Path]: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns an object key segment.
func Key(k string) Segment {
	return Segment{Key: k}
}

// Index returns an array index segment.
func Index(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

// index returns the array index addressed by s. Key segments holding a
// non-negative decimal number address the same index, so parsed pointers can
// be resolved against arrays.
func (s Segment) index() (int, bool) {
	if s.IsIndex {
		return s.Index, s.Index >= 0
	}
	i, err := strconv.Atoi(s.Key)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Path addresses a node from the root of a tree. The empty path is the root.
type Path []Segment

// Key returns a new path extended by an object key. The receiver is not modified.
func (p Path) Key(k string) Path {
	return p.child(Key(k))
}

// Index returns a new path extended by an array index. The receiver is not modified.
func (p Path) Index(i int) Path {
	return p.child(Index(i))
}

func (p Path) child(s Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

// Last returns the final segment. ok is false for the root path.
func (p Path) Last() (s Segment, ok bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// String renders p as an RFC 6901 JSON pointer; the root is "".
func (p Path) String() string {
	var b strings.Builder
	for _, s := range p {
		b.WriteByte('/')
		if s.IsIndex {
			b.WriteString(strconv.Itoa(s.Index))
		} else {
			b.WriteString(escapeToken(s.Key))
		}
	}
	return b.String()
}

// ParsePointer parses an RFC 6901 JSON pointer. Every token becomes a key
// segment; [Resolve] and [ApplyPatch] accept numeric keys on arrays.
func ParsePointer(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%w: pointer %q must start with '/'", ErrInvalidPatch, s)
	}
	tokens := strings.Split(s[1:], "/")
	p := make(Path, len(tokens))
	for i, tok := range tokens {
		p[i] = Key(unescapeToken(tok))
	}
	return p, nil
}

func escapeToken(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	return strings.ReplaceAll(key, "/", "~1")
}

func unescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	return strings.ReplaceAll(tok, "~0", "~")
}

// Resolve walks root along path and returns the addressed value.
//
// ok is false when an intermediate value is missing or is not a container, or
// when the final key or index does not exist. Resolve never panics.
func Resolve(path Path, root any) (v any, ok bool) {
	current := root
	for _, s := range path {
		switch c := current.(type) {
		case map[string]any:
			if s.IsIndex {
				current, ok = c[strconv.Itoa(s.Index)]
			} else {
				current, ok = c[s.Key]
			}
			if !ok {
				return nil, false
			}
		case []any:
			i, valid := s.index()
			if !valid || i >= len(c) {
				return nil, false
			}
			current = c[i]
		default:
			return nil, false
		}
	}
	return current, true
}
