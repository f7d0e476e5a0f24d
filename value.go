package partitionpager

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the dynamic category of an order-by value.
type Kind uint8

const (
	// KindAbsent marks a key the item has no value for.
	KindAbsent Kind = iota
	// KindNull is an explicit null.
	KindNull
	KindBoolean
	// KindNumber holds any float64, including NaN and infinities.
	KindNumber
	KindString
)

type kindInfo struct {
	name    string
	rank    int
	compare func(a, b Value) int
}

// kinds is the fixed rank and comparison table, indexed by Kind.
// Absent < Null < Boolean < Number < String.
var kinds = [...]kindInfo{
	KindAbsent:  {name: "absent", rank: 0, compare: func(Value, Value) int { return 0 }},
	KindNull:    {name: "null", rank: 1, compare: func(Value, Value) int { return 0 }},
	KindBoolean: {name: "boolean", rank: 2, compare: compareBooleans},
	KindNumber:  {name: "number", rank: 3, compare: func(a, b Value) int { return cmp.Compare(a.num, b.num) }},
	KindString:  {name: "string", rank: 4, compare: func(a, b Value) int { return strings.Compare(a.str, b.str) }},
}

func compareBooleans(a, b Value) int {
	switch {
	case a.b == b.b:
		return 0
	case !a.b:
		return -1
	default:
		return 1
	}
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kinds) {
		return kinds[k].name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Rank returns the kind's position in the cross-kind order.
func (k Kind) Rank() int { return kinds[k].rank }

// Value is a scalar order-by value tagged with its Kind. The zero Value is Absent.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
}

// AbsentValue returns the value of a key the item does not have.
func AbsentValue() Value { return Value{} }

// NullValue returns an explicit null.
func NullValue() Value { return Value{kind: KindNull} }

// BoolValue returns a Boolean value.
func BoolValue(b bool) Value { return Value{kind: KindBoolean, b: b} }

// NumberValue returns a Number value.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// StringValue returns a String value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload; false unless the kind is KindBoolean.
func (v Value) Bool() bool { return v.b }

// Number returns the numeric payload; 0 unless the kind is KindNumber.
func (v Value) Number() float64 { return v.num }

// Text returns the string payload; empty unless the kind is KindString.
func (v Value) Text() string { return v.str }

// IsMissing reports whether the value is Absent or Null.
func (v Value) IsMissing() bool { return v.kind == KindAbsent || v.kind == KindNull }

// String formats the payload, or the kind name for Absent and Null.
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	default:
		return v.kind.String()
	}
}

// ValueOf classifies a decoded scalar. nil maps to Null.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return t, nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case float32:
		return NumberValue(float64(t)), nil
	case int:
		return NumberValue(float64(t)), nil
	case int32:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case uint:
		return NumberValue(float64(t)), nil
	case uint32:
		return NumberValue(float64(t)), nil
	case uint64:
		return NumberValue(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("order-by number %q: %w", t, err)
		}
		return NumberValue(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported order-by value of type %T", x)
	}
}

// CompareValues orders two values. Values of different kinds are ordered by kind rank;
// two missing values of the same kind are equal.
func CompareValues(a, b Value) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind.Rank(), b.kind.Rank())
	}
	return kinds[a.kind].compare(a, b)
}

// MarshalJSON encodes the value as its JSON scalar. Absent encodes as null; Projection
// omits it entirely.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBoolean:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}

// valueWire is the CBOR form of a Value. Unlike JSON it keeps NaN and infinities.
type valueWire struct {
	Kind Kind    `cbor:"k"`
	Bool bool    `cbor:"b,omitempty"`
	Num  float64 `cbor:"n,omitempty"`
	Str  string  `cbor:"s,omitempty"`
}

// MarshalCBOR encodes the value with its kind tag.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(valueWire{Kind: v.kind, Bool: v.b, Num: v.num, Str: v.str})
}

// UnmarshalCBOR decodes a value written by MarshalCBOR.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w valueWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	if int(w.Kind) >= len(kinds) {
		return fmt.Errorf("unknown order-by value kind %d", w.Kind)
	}
	*v = Value{kind: w.Kind, b: w.Bool, num: w.Num, str: w.Str}
	return nil
}
