package evalctx

import (
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the dynamic type held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindList
)

// Value is a typed context field value.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []string
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue wraps a list of strings. A nil list is stored as empty.
func ListValue(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Kind: KindList, List: items}
}

// Text renders the value for templates and string comparison. Numbers are rounded to
// one decimal place; lists are comma-joined.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(math.Round(v.Num*10)/10, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		return strings.Join(v.List, ", ")
	default:
		return v.Str
	}
}

// Float coerces the value to a number. Strings are parsed; booleans and lists never coerce.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Items returns the list elements, or the single textual value for scalar kinds.
func (v Value) Items() []string {
	if v.Kind == KindList {
		return v.List
	}
	return []string{v.Text()}
}
