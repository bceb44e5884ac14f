// SPDX-License-Identifier: Apache-2.0

package reconcile_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fredrickson/reconcile"
)

func TestApplyPatch(t *testing.T) {
	tests := []struct {
		name  string
		root  any
		patch reconcile.Patch
		want  any
	}{
		{
			name:  "set key",
			root:  map[string]any{"a": 1},
			patch: reconcile.Patch{Op: reconcile.OpSet, Path: path("b"), Value: 2},
			want:  map[string]any{"a": 1, "b": 2},
		},
		{
			name:  "set root",
			root:  map[string]any{"a": 1},
			patch: reconcile.Patch{Op: reconcile.OpSet, Path: reconcile.Path{}, Value: []any{1}},
			want:  []any{1},
		},
		{
			name:  "set index",
			root:  []any{1, 2},
			patch: reconcile.Patch{Op: reconcile.OpSet, Path: path(1), Value: 3},
			want:  []any{1, 3},
		},
		{
			name:  "grow array with gap",
			root:  map[string]any{"a": []any{1}},
			patch: reconcile.Patch{Op: reconcile.OpSet, Path: path("a", 3), Value: 4},
			want:  map[string]any{"a": []any{1, nil, nil, 4}},
		},
		{
			name:  "set into nil object",
			root:  map[string]any{"m": map[string]any(nil)},
			patch: reconcile.Patch{Op: reconcile.OpSet, Path: path("m", "k"), Value: "v"},
			want:  map[string]any{"m": map[string]any{"k": "v"}},
		},
		{
			name:  "delete",
			root:  map[string]any{"a": 1, "b": 2},
			patch: reconcile.Patch{Op: reconcile.OpDelete, Path: path("a")},
			want:  map[string]any{"b": 2},
		},
		{
			name:  "delete missing key",
			root:  map[string]any{"b": 2},
			patch: reconcile.Patch{Op: reconcile.OpDelete, Path: path("a")},
			want:  map[string]any{"b": 2},
		},
		{
			name:  "truncate",
			root:  map[string]any{"a": []any{1, 2, 3}},
			patch: reconcile.Patch{Op: reconcile.OpTruncate, Path: path("a"), Value: 1},
			want:  map[string]any{"a": []any{1}},
		},
		{
			name:  "truncate longer",
			root:  []any{1},
			patch: reconcile.Patch{Op: reconcile.OpTruncate, Path: reconcile.Path{}, Value: 3},
			want:  []any{1},
		},
		{
			name:  "move",
			root:  []any{"a", "b"},
			patch: reconcile.Patch{Op: reconcile.OpMove, Path: path(0), From: path(1), Value: "b"},
			want:  []any{"b", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reconcile.ApplyPatch(tt.root, tt.patch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyPatchCopiesSetValues(t *testing.T) {
	value := map[string]any{"x": 1}
	root, err := reconcile.ApplyPatch(map[string]any{}, reconcile.Patch{Op: reconcile.OpSet, Path: path("a"), Value: value})
	require.NoError(t, err)
	assert.False(t, sameMap(value, root.(map[string]any)["a"]))

	root, err = reconcile.ApplyPatch(map[string]any{}, reconcile.Patch{Op: reconcile.OpAlias, Path: path("a"), Value: value})
	require.NoError(t, err)
	assert.True(t, sameMap(value, root.(map[string]any)["a"]))
}

func TestTruncateDetachesStorage(t *testing.T) {
	arr := []any{1, 2, 3}
	root, err := reconcile.ApplyPatch(map[string]any{"a": arr}, reconcile.Patch{Op: reconcile.OpTruncate, Path: path("a"), Value: 1})
	require.NoError(t, err)
	root, err = reconcile.ApplyPatch(root, reconcile.Patch{Op: reconcile.OpSet, Path: path("a", 1), Value: 9})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 9}, root.(map[string]any)["a"])
	assert.Equal(t, 2, arr[1])
}

func TestApplyPatchErrors(t *testing.T) {
	tests := []struct {
		name  string
		root  any
		patch reconcile.Patch
		want  error
	}{
		{"missing parent", map[string]any{}, reconcile.Patch{Op: reconcile.OpSet, Path: path("a", "b"), Value: 1}, reconcile.ErrUnresolvablePath},
		{"scalar parent", map[string]any{"a": 1}, reconcile.Patch{Op: reconcile.OpSet, Path: path("a", "b"), Value: 1}, reconcile.ErrUnresolvablePath},
		{"key on array", []any{}, reconcile.Patch{Op: reconcile.OpSet, Path: path("x"), Value: 1}, reconcile.ErrInvalidPatch},
		{"truncate object", map[string]any{}, reconcile.Patch{Op: reconcile.OpTruncate, Path: reconcile.Path{}, Value: 0}, reconcile.ErrInvalidPatch},
		{"truncate bad length", []any{}, reconcile.Patch{Op: reconcile.OpTruncate, Path: reconcile.Path{}, Value: "1"}, reconcile.ErrInvalidPatch},
		{"truncate missing", map[string]any{}, reconcile.Patch{Op: reconcile.OpTruncate, Path: path("a"), Value: 0}, reconcile.ErrUnresolvablePath},
		{"delete index", []any{1}, reconcile.Patch{Op: reconcile.OpDelete, Path: path(0)}, reconcile.ErrInvalidPatch},
		{"delete root", map[string]any{"b": 2}, reconcile.Patch{Op: reconcile.OpDelete, Path: reconcile.Path{}}, reconcile.ErrInvalidPatch},
		{"delete missing parent", map[string]any{}, reconcile.Patch{Op: reconcile.OpDelete, Path: path("a", "b")}, reconcile.ErrUnresolvablePath},
		{"unknown op", map[string]any{}, reconcile.Patch{Op: reconcile.Op(99), Path: path("a")}, reconcile.ErrInvalidPatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reconcile.ApplyPatch(tt.root, tt.patch)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var perr *reconcile.PatchError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.patch.Op, perr.Op)
		})
	}
}

func TestOpText(t *testing.T) {
	for _, op := range []reconcile.Op{reconcile.OpSet, reconcile.OpDelete, reconcile.OpTruncate, reconcile.OpMove, reconcile.OpAlias} {
		text, err := op.MarshalText()
		require.NoError(t, err)
		var back reconcile.Op
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, op, back)
	}
	var op reconcile.Op
	assert.ErrorIs(t, op.UnmarshalText([]byte("copy")), reconcile.ErrInvalidPatch)
	assert.Equal(t, "Op(7)", reconcile.Op(7).String())
}

func TestPatchString(t *testing.T) {
	assert.Equal(t, "set /a = 1", reconcile.Patch{Op: reconcile.OpSet, Path: path("a"), Value: 1}.String())
	assert.Equal(t, "delete /a", reconcile.Patch{Op: reconcile.OpDelete, Path: path("a")}.String())
	assert.Equal(t, "alias /b <- /a", reconcile.Patch{Op: reconcile.OpAlias, Path: path("b"), From: path("a")}.String())
	assert.Equal(t, "truncate /l = 0", reconcile.Patch{Op: reconcile.OpTruncate, Path: path("l"), Value: 0}.String())
}

func TestRecorder(t *testing.T) {
	prev := map[string]any{"a": 1}
	rec := reconcile.NewRecorder(prev)
	rec.Apply(reconcile.Patch{Op: reconcile.OpSet, Path: path("a"), Value: 2})
	rec.Apply(reconcile.Patch{Op: reconcile.OpSet, Path: path("x", "y"), Value: 3})
	rec.Apply(reconcile.Patch{Op: reconcile.OpSet, Path: path("b"), Value: 4})

	assert.Equal(t, map[string]any{"a": 1}, prev, "recorder modified its source")
	assert.Equal(t, map[string]any{"a": 2, "b": 4}, rec.Root())
	assert.Len(t, rec.Patches(), 3)
	assert.ErrorIs(t, rec.Err(), reconcile.ErrUnresolvablePath)
}

func TestPatcherFunc(t *testing.T) {
	var got []reconcile.Patch
	var p reconcile.Patcher = reconcile.PatcherFunc(func(p reconcile.Patch) {
		got = append(got, p)
	})
	p.Apply(reconcile.Patch{Op: reconcile.OpDelete, Path: path("a")})
	assert.Len(t, got, 1)
}
