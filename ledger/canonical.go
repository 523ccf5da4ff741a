package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize returns the serialization of data that block hashes commit to:
// object keys sorted at every level, no whitespace, no HTML escaping and
// numbers emitted as their literal text. A nil map serializes as {}.
func Canonicalize(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("canonicalize data: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize round-trips data through JSON so that the in-memory payload of a
// fresh block matches what a store hands back later (numbers as json.Number,
// structs as maps).
func normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return decodeData(raw)
}

func decodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode data: trailing content")
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
