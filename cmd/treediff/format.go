// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	"github.com/sam-fredrickson/reconcile"
)

type format string

var validFormats = map[string]format{
	"":     format(""),
	"json": format("json"),
	"yaml": format("yaml"),
	"toml": format("toml"),
	"text": format("text"),
}

func parseFormat(value string) (format, error) {
	f, ok := validFormats[strings.ToLower(value)]
	if !ok {
		return "", fmt.Errorf("invalid format %q", value)
	}
	return f, nil
}

func (f format) String() string {
	return string(f)
}

// unmarshalFile decodes a document, choosing the codec by file extension.
func unmarshalFile(file string) (any, format, error) {
	contents, err := os.ReadFile(file)
	if err != nil {
		return nil, "", err
	}
	return unmarshalBytes(file, contents)
}

func unmarshalBytes(file string, contents []byte) (any, format, error) {
	extension := strings.ToLower(filepath.Ext(file))
	var f format
	var unmarshal func([]byte, any) error
	switch extension {
	case ".yaml", ".yml":
		f = validFormats["yaml"]
		unmarshal = yaml.Unmarshal
	case ".json":
		f = validFormats["json"]
		unmarshal = unmarshalJSON
	case ".toml":
		f = validFormats["toml"]
		unmarshal = toml.Unmarshal
	}
	if unmarshal == nil {
		return nil, f, fmt.Errorf("unsupported file format: %s", extension)
	}

	var doc any
	if err := unmarshal(contents, &doc); err != nil {
		return nil, f, err
	}
	return normalize(doc), f, nil
}

// unmarshalJSON keeps integers as integers so that keys decoded from JSON
// compare equal to the same keys decoded from YAML or TOML.
func unmarshalJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// normalize converts decoded values to the tree shapes: slices of tables
// become []any, and every integer becomes an int64.
func normalize(v any) any {
	switch c := v.(type) {
	case map[string]any:
		for k, child := range c {
			c[k] = normalize(child)
		}
		return c
	case []any:
		for i, child := range c {
			c[i] = normalize(child)
		}
		return c
	case []map[string]any:
		out := make([]any, len(c))
		for i, child := range c {
			out[i] = normalize(child)
		}
		return out
	case json.Number:
		if i, err := c.Int64(); err == nil {
			return i
		}
		if f, err := c.Float64(); err == nil {
			return f
		}
		return c.String()
	case int:
		return int64(c)
	case uint64:
		if c <= math.MaxInt64 {
			return int64(c)
		}
		return c
	default:
		return v
	}
}

// patchRecords renders patches as plain trees for the structured encoders.
// Moves and aliases carry their source, never the moved value.
func patchRecords(patches []reconcile.Patch) map[string]any {
	records := make([]any, 0, len(patches))
	for _, p := range patches {
		record := map[string]any{
			"op":   p.Op.String(),
			"path": p.Path.String(),
		}
		switch p.Op {
		case reconcile.OpMove, reconcile.OpAlias:
			record["from"] = p.From.String()
		case reconcile.OpSet, reconcile.OpTruncate:
			if p.Value != nil {
				record["value"] = p.Value
			}
		}
		records = append(records, record)
	}
	return map[string]any{"patches": records}
}

// writePatches encodes patches to w in format f.
func writePatches(w io.Writer, f format, patches []reconcile.Patch) error {
	var out []byte
	var err error
	switch f {
	case "text":
		var b strings.Builder
		for _, p := range patches {
			b.WriteString(p.String())
			b.WriteByte('\n')
		}
		out = []byte(b.String())
	case "json":
		out, err = json.MarshalIndent(patchRecords(patches), "", "  ")
	case "yaml":
		out, err = yaml.Marshal(patchRecords(patches))
	case "toml":
		out, err = toml.Marshal(patchRecords(patches))
	default:
		return fmt.Errorf("invalid format %q", f)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal patches as %s: %w", f, err)
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
