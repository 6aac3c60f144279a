package model

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
)

// ValueKind discriminates the Value union.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindEnum
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Value is a structured field value: a free string, a number, or a member
// of a closed set of allowed strings.
type Value struct {
	kind    ValueKind
	str     string
	num     float64
	allowed []string
}

// StringValue returns a free-text value.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue returns a numeric value.
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// EnumValue returns a value constrained to allowed. It fails when s is not a
// member.
func EnumValue(s string, allowed []string) (Value, error) {
	if !slices.Contains(allowed, s) {
		return Value{}, eris.Errorf("model: %q is not one of %v", s, allowed)
	}
	return Value{kind: KindEnum, str: s, allowed: slices.Clone(allowed)}, nil
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// Number returns the numeric payload and whether v is a number.
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Allowed returns the allowed set of an enum value, or nil.
func (v Value) Allowed() []string {
	return slices.Clone(v.allowed)
}

// String renders the value for tables and prompts.
func (v Value) String() string {
	if v.kind == KindNumber {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// MarshalJSON encodes the bare scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.str)
}

// UnmarshalJSON decodes a bare scalar. Enum membership is not recoverable
// from JSON alone, so enums come back as strings; Schema.Build re-types them.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode string value")
		}
		*v = StringValue(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = NumberValue(f)
		return nil
	}
	*v = StringValue(string(data))
	return nil
}
