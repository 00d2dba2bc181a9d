package object

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ParseJSON parses raw bytes into the canonical in-memory JSON
// representation (maps, slices, float64/string/bool/nil), preserving
// encoding/json's usual decoding rules.
func ParseJSON(raw []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// CanonicalJSONBytes re-emits a parsed JSON value so that equal JSON values
// always produce identical bytes, independent of the original whitespace,
// key order as typed by the caller, or number formatting: encoding/json
// marshals map[string]any keys in sorted order, which is what makes this
// canonical.
func CanonicalJSONBytes(v any) ([]byte, error) {
	return json.Marshal(v)
}

// CanonicalizeJSON parses and immediately re-emits raw JSON bytes, the
// canonicalization step UPSERT_JSON and APPLY_JSON_PATCH both perform
// before handing content to the Object Store.
func CanonicalizeJSON(raw []byte) ([]byte, any, error) {
	v, err := ParseJSON(raw)
	if err != nil {
		return nil, nil, err
	}
	b, err := CanonicalJSONBytes(v)
	if err != nil {
		return nil, nil, err
	}
	return b, v, nil
}

// SanitizeText implements the Diff Engine's text sanitization rule: strip
// carriage returns and append a trailing newline if one is missing.
func SanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
