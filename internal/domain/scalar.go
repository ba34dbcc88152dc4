package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type scalarKind uint8

const (
	scalarAbsent scalarKind = iota
	scalarNull
	scalarNumber
	scalarString
	scalarBool
	scalarOther
)

// Scalar holds one JSON value reported by the extraction backend without
// committing to a Go type. The backend is inconsistent about whether numeric
// fields arrive as JSON numbers or numeric strings, so decoding a Scalar never
// fails; callers ask for Float or String when they need a view of it.
type Scalar struct {
	kind scalarKind
	text string
}

func NumberScalar(f float64) Scalar {
	return Scalar{kind: scalarNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		*s = Scalar{}
	case string(trimmed) == "null":
		*s = Scalar{kind: scalarNull}
	case trimmed[0] == '"':
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			*s = Scalar{kind: scalarOther}
			return nil
		}
		*s = Scalar{kind: scalarString, text: str}
	case string(trimmed) == "true" || string(trimmed) == "false":
		*s = Scalar{kind: scalarBool, text: string(trimmed)}
	case trimmed[0] == '{' || trimmed[0] == '[':
		*s = Scalar{kind: scalarOther}
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			*s = Scalar{kind: scalarOther}
			return nil
		}
		*s = NumberScalar(f)
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case scalarNumber, scalarBool:
		return []byte(s.text), nil
	case scalarString:
		return json.Marshal(s.text)
	default:
		return []byte("null"), nil
	}
}

// Present reports whether the field carries a usable literal. Missing, null,
// empty-string and structured values are all treated as absent.
func (s Scalar) Present() bool {
	switch s.kind {
	case scalarNumber, scalarBool:
		return true
	case scalarString:
		return strings.TrimSpace(s.text) != ""
	default:
		return false
	}
}

// String returns the display literal, or "" when the value is absent.
func (s Scalar) String() string {
	if !s.Present() {
		return ""
	}
	return s.text
}

// Float is the permissive numeric view: numbers pass through, strings are
// parsed by their leading float (so "5.4 mg/dL" yields 5.4). Anything else
// reports ok=false and the caller must skip the comparison.
func (s Scalar) Float() (float64, bool) {
	switch s.kind {
	case scalarNumber:
		f, err := strconv.ParseFloat(s.text, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case scalarString:
		return ParseNumeric(s.text)
	default:
		return 0, false
	}
}

var leadingFloatRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// ParseNumeric parses the leading float of s, ignoring surrounding
// whitespace and any trailing text. Thousands separators are not accepted.
func ParseNumeric(s string) (float64, bool) {
	token := leadingFloatRe.FindString(strings.TrimSpace(s))
	if token == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
