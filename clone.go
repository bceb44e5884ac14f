// SPDX-License-Identifier: Apache-2.0

package reconcile

// Clone returns a deep copy of a tree.
//
// Objects and arrays are copied; every other value is returned as is. A node
// reachable through several paths is copied once and the copy is shared the
// same way, which also makes Clone safe on cyclic trees.
func Clone(v any) any {
	return (&cloner{refs: make(map[identity]any)}).clone(v)
}

type cloner struct {
	refs map[identity]any // source node -> its copy
}

func (c *cloner) clone(v any) any {
	id, ok := identityOf(v)
	if !ok {
		return v
	}
	if dup, seen := c.refs[id]; seen {
		return dup
	}

	switch src := v.(type) {
	case map[string]any:
		dst := make(map[string]any, len(src))
		// Register before descending so cycles resolve to dst.
		c.refs[id] = dst
		for k, child := range src {
			dst[k] = c.clone(child)
		}
		return dst
	case []any:
		dst := make([]any, len(src))
		c.refs[id] = dst
		for i, child := range src {
			dst[i] = c.clone(child)
		}
		return dst
	default:
		return v
	}
}
