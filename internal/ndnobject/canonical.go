// Package ndnobject implements the canonical JSON-LD named object
// model: deterministic canonicalization, ObjId, and pure inner-path
// resolution over a decoded object tree. It generalizes a plain
// content-hash domain model to typed, structured named objects.
package ndnobject

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Canonicalize renders v as canonical JSON: object keys sorted
// lexicographically, and numbers preserved in the exact textual form
// they were given (decoding through json.Number rather than float64
// avoids the re-formatting float64 round-tripping would introduce).
// v may be a Go struct, map, or already-decoded JSON value; it is
// first marshaled to JSON bytes so both inputs follow the same path.
func Canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: marshal value", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON re-renders an already-encoded JSON document into
// canonical form.
func CanonicalizeJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: decode JSON", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return "", err
	}
	return buf.String(), nil
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
		buf.WriteString(string(val))
	case string:
		quoted, err := json.Marshal(val)
		if err != nil {
			return ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: marshal string", err)
		}
		buf.Write(quoted)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
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
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: marshal key", err)
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: unsupported JSON value type", nil)
	}
	return nil
}

// Decode parses a canonical (or any valid) JSON document into Go's
// generic representation (map[string]any, []any, json.Number, string,
// bool, nil), for callers that need to walk the object tree.
func Decode(canonical string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(canonical)))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "ndnobject: decode canonical form", err)
	}
	return generic, nil
}
