package leviton

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Text is a JSON scalar read as a string. The cloud is inconsistent about
// quoting ids and versions, so numbers keep their literal form. Null,
// objects and arrays read as "".
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text(scalarString(b))
	return nil
}

// String returns the text.
func (t Text) String() string {
	return string(t)
}

func scalarString(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ""
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ""
		}
		return s
	case 'n', '{', '[':
		return ""
	default:
		return string(b)
	}
}

// parseInt reads a JSON number or numeric string. Fractions are rounded.
// Returns nil for null, absent or non-numeric values.
func parseInt(raw json.RawMessage) *int {
	s := strings.TrimSpace(scalarString(raw))
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

// parseFlag reads a JSON boolean, number or string as a truth value.
// Returns nil for null or absent values.
func parseFlag(raw json.RawMessage) *bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var v bool
	switch raw[0] {
	case 't':
		v = true
	case 'f':
		v = false
	case '"':
		switch strings.ToLower(strings.TrimSpace(scalarString(raw))) {
		case "", "false", "off", "0", "no", "none":
			v = false
		default:
			v = true
		}
	case '{', '[':
		v = len(raw) > 2
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		v = err == nil && f != 0
	}
	return &v
}

func parseString(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	s := scalarString(raw)
	return &s
}
