package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ValueKind tags the closed set of value types a claim may carry.
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindText   ValueKind = "text"
	KindRecord ValueKind = "record"
)

func ValidValueKind(k string) bool {
	switch ValueKind(k) {
	case KindNumber, KindBool, KindText, KindRecord:
		return true
	}
	return false
}

// Value is a tagged union over the claimable value types. Exactly one of the
// payload fields is meaningful, selected by Kind. Unknown kinds are rejected
// at the ledger boundary.
type Value struct {
	Kind   ValueKind        `json:"kind"`
	Number float64          `json:"number,omitempty"`
	Bool   bool             `json:"bool,omitempty"`
	Text   string           `json:"text,omitempty"`
	Fields map[string]Value `json:"fields,omitempty"`
}

func NumberValue(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

func RecordValue(fields map[string]Value) Value {
	return Value{Kind: KindRecord, Fields: fields}
}

var errUnknownKind = errors.New("unknown value kind")

// Validate rejects values with an unknown tag or malformed record fields.
func (v Value) Validate() error {
	switch v.Kind {
	case KindNumber, KindBool, KindText:
		return nil
	case KindRecord:
		for name, fv := range v.Fields {
			if err := fv.Validate(); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownKind, v.Kind)
	}
}

// Equal reports deep equality between two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number == o.Number
	case KindBool:
		return v.Bool == o.Bool
	case KindText:
		return v.Text == o.Text
	case KindRecord:
		if len(v.Fields) != len(o.Fields) {
			return false
		}
		for name, fv := range v.Fields {
			ov, ok := o.Fields[name]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// FieldNames returns a record's field names in sorted order, so every pass
// over a record value is deterministic.
func (v Value) FieldNames() []string {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String renders a compact human-readable form, used in conflict reasons
// and log fields.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindText:
		return v.Text
	case KindRecord:
		out := "{"
		for i, name := range v.FieldNames() {
			if i > 0 {
				out += ", "
			}
			out += name + ": " + v.Fields[name].String()
		}
		return out + "}"
	}
	return "<invalid>"
}
