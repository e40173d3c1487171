// Package hashchain implements the canonical event serialization and the
// per-session SHA-256 hash chain that makes stored events tamper-evident.
package hashchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalization discipline: object keys are emitted in sorted order at
// every nesting level, numbers keep their source literal (json.Number), and
// no insignificant whitespace is emitted. The discipline is part of the wire
// contract — the hash is content-addressed, so it can never change.

// Canonicalize re-encodes raw JSON into its canonical form.
func Canonicalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeValue canonicalizes an in-memory value (maps, slices, structs).
// Structs are routed through encoding/json first, which visits them in
// declaration order; the map pass then applies the sorted-key discipline.
func CanonicalizeValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize value: %w", err)
	}
	return Canonicalize(raw)
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Decoded JSON only produces the cases above; anything else means
		// the caller passed a non-JSON value.
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}
