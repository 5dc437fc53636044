package schemas

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a captured step value: a number (element counts) or a text.
type Value struct {
	Number *float64 `json:"number,omitempty" yaml:"number,omitempty"`
	Text   *string  `json:"text,omitempty" yaml:"text,omitempty"`
}

// NumberValue wraps a number.
func NumberValue(n float64) *Value { return &Value{Number: &n} }

// TextValue wraps a string.
func TextValue(s string) *Value { return &Value{Text: &s} }

// IsNumber reports whether the value holds a number, or a text that parses as one.
func (v *Value) IsNumber() bool {
	_, ok := v.Float()
	return ok
}

// Float returns the numeric form of the value.
func (v *Value) Float() (float64, bool) {
	if v == nil {
		return 0, false
	}
	if v.Number != nil {
		return *v.Number, true
	}
	if v.Text != nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Text), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// String returns the textual form of the value.
func (v *Value) String() string {
	switch {
	case v == nil:
		return "<nil>"
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case v.Text != nil:
		return *v.Text
	default:
		return ""
	}
}

// Comparator is an assertion operator.
type Comparator string

const (
	CompareGreater      Comparator = ">"
	CompareGreaterEqual Comparator = ">="
	CompareLess         Comparator = "<"
	CompareLessEqual    Comparator = "<="
	CompareEqual        Comparator = "=="
	CompareNotEqual     Comparator = "!="
	CompareContains     Comparator = "contains"
)

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CompareGreater, CompareGreaterEqual, CompareLess, CompareLessEqual,
		CompareEqual, CompareNotEqual, CompareContains:
		return true
	}
	return false
}

// Compare evaluates `left c right`. Ordering operators require numbers on both
// sides; equality falls back to text when either side is not numeric.
func (c Comparator) Compare(left, right *Value) (bool, error) {
	if left == nil || right == nil {
		return false, fmt.Errorf("comparator %s needs two values", c)
	}
	lf, lok := left.Float()
	rf, rok := right.Float()
	numeric := lok && rok

	switch c {
	case CompareGreater, CompareGreaterEqual, CompareLess, CompareLessEqual:
		if !numeric {
			return false, fmt.Errorf("comparator %s needs numeric values, got %q and %q", c, left.String(), right.String())
		}
		switch c {
		case CompareGreater:
			return lf > rf, nil
		case CompareGreaterEqual:
			return lf >= rf, nil
		case CompareLess:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	case CompareEqual, CompareNotEqual:
		eq := left.String() == right.String()
		if numeric {
			eq = lf == rf
		}
		if c == CompareEqual {
			return eq, nil
		}
		return !eq, nil
	case CompareContains:
		return strings.Contains(left.String(), right.String()), nil
	}
	return false, fmt.Errorf("unknown comparator %q", string(c))
}
