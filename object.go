// SPDX-License-Identifier: Apache-2.0

package reconcile

// diffObject updates every key of next, then deletes the keys of prev that
// next no longer has. Removals come last so a key is never deleted and
// rewritten by the same run.
func (d *differ) diffObject(next, prev map[string]any, path Path, meta *fieldMetadata) {
	for _, k := range sortedKeys(next) {
		before, ok := prev[k]
		if !ok {
			before = absent
		}
		d.diff(next[k], before, path.Key(k), meta.child(k))
	}

	for _, k := range sortedKeys(prev) {
		if _, ok := next[k]; !ok {
			d.emit(Patch{Op: OpDelete, Path: path.Key(k)})
		}
	}
}
