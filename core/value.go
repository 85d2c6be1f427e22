// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

package core

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Kind tags a Value's variant.
type Kind uint8

const (
	KNull Kind = iota
	KBool
	KInt
	KFloat
	KString
	KArray
	KObject
)

func (k Kind) String() string {
	switch k {
	case KNull:
		return "null"
	case KBool:
		return "bool"
	case KInt:
		return "int"
	case KFloat:
		return "float"
	case KString:
		return "string"
	case KArray:
		return "array"
	case KObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the tagged union every rule expression computes over. Only
// the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	A    []Value
	O    map[string]Value
	// Okeys preserves the object's key insertion order, since
	// map[string]Value doesn't. Split-by-key output assignment (§4.8)
	// and JSON round-tripping both want a stable order.
	Okeys []string
}

// Null is the canonical null Value.
var Null = Value{Kind: KNull}

func Bool(b bool) Value   { return Value{Kind: KBool, B: b} }
func Int(i int64) Value   { return Value{Kind: KInt, I: i} }
func Float(f float64) Value { return Value{Kind: KFloat, F: f} }
func String(s string) Value { return Value{Kind: KString, S: s} }

func Array(xs []Value) Value {
	return Value{Kind: KArray, A: xs}
}

// Object builds an Object Value, keeping the given key order.
func Object(keys []string, m map[string]Value) Value {
	return Value{Kind: KObject, O: m, Okeys: keys}
}

// NewObject makes an empty Object Value ready for Set.
func NewObject() Value {
	return Value{Kind: KObject, O: map[string]Value{}}
}

// Set assigns a key on an Object Value, appending to Okeys the first
// time the key is seen. Set does not check v.Kind: on a non-Object
// Value it fills O and Okeys and leaves Kind as it was.
func (v *Value) Set(key string, val Value) {
	if v.O == nil {
		v.O = map[string]Value{}
	}
	if _, have := v.O[key]; !have {
		v.Okeys = append(v.Okeys, key)
	}
	v.O[key] = val
}

// FromJSON converts a decoded JSON value (as produced by
// encoding/json with UseNumber, or plain interface{} from
// json.Unmarshal) into a Value. Conversion is total: every valid JSON
// document maps to some Value.
func FromJSON(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case json.Number:
		return numberFromString(string(t))
	case float64:
		return numberFromFloat(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return String(t)
	case []interface{}:
		acc := make([]Value, len(t))
		for i, e := range t {
			acc[i] = FromJSON(e)
		}
		return Array(acc)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromJSON(e)
		}
		return Object(keys, m)
	default:
		return Null
	}
}

func numberFromString(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	f, _ := strconv.ParseFloat(s, 64)
	return Float(f)
}

// numberFromFloat recovers Int semantics from a plain json.Unmarshal
// decode, where every JSON number arrives as float64. A whole-valued
// float within int64 range that didn't need exponent notation in its
// original JSON text is ambiguous once decoded this way; we treat any
// exact integral float64 as an Int per spec.md section 3 ("JSON
// integers become Int, fractional/exponent become Float"), accepting
// that a caller who truly meant 2.0 as a float gets Int(2) back. Using
// ParseJSONValue (below) with json.Number avoids this ambiguity.
func numberFromFloat(f float64) Value {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		i := int64(f)
		if float64(i) == f {
			return Int(i)
		}
	}
	return Float(f)
}

// ParseJSONValue parses bs directly into a Value, preserving the
// int/float distinction exactly as spelled in the source text (no
// numberFromFloat ambiguity).
func ParseJSONValue(bs []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(bs))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return Null, NewParseError(InvalidStructure, err.Error())
	}
	return FromJSON(x), nil
}

// ToJSON renders a Value back into plain interface{} form, suitable
// for json.Marshal.
func (v Value) ToJSON() interface{} {
	switch v.Kind {
	case KNull:
		return nil
	case KBool:
		return v.B
	case KInt:
		return v.I
	case KFloat:
		return v.F
	case KString:
		return v.S
	case KArray:
		acc := make([]interface{}, len(v.A))
		for i, e := range v.A {
			acc[i] = e.ToJSON()
		}
		return acc
	case KObject:
		m := make(map[string]interface{}, len(v.O))
		for k, e := range v.O {
			m[k] = e.ToJSON()
		}
		return m
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToJSON())
}

func (v *Value) UnmarshalJSON(bs []byte) error {
	parsed, err := ParseJSONValue(bs)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Truthy implements spec.md section 3's truthiness law.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KNull:
		return false
	case KBool:
		return v.B
	case KInt:
		return v.I != 0
	case KFloat:
		return v.F != 0
	case KString:
		return v.S != ""
	case KArray:
		return len(v.A) != 0
	case KObject:
		return len(v.O) != 0
	default:
		return false
	}
}

// ToNumber coerces a Value to a float64: strings are parsed (failure
// yields NaN->0 per the "arrays/objects as NaN->0" convention),
// booleans become 0/1, arrays/objects become 0.
func (v Value) ToNumber() float64 {
	switch v.Kind {
	case KNull:
		return 0
	case KBool:
		if v.B {
			return 1
		}
		return 0
	case KInt:
		return float64(v.I)
	case KFloat:
		return v.F
	case KString:
		f, err := strconv.ParseFloat(v.S, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// IsNumeric reports whether v is Int or Float.
func (v Value) IsNumeric() bool {
	return v.Kind == KInt || v.Kind == KFloat
}

// StrictEq implements "===": same variant and value.
func StrictEq(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KNull:
		return true
	case KBool:
		return a.B == b.B
	case KInt:
		return a.I == b.I
	case KFloat:
		return a.F == b.F
	case KString:
		return a.S == b.S
	case KArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !StrictEq(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	case KObject:
		if len(a.O) != len(b.O) {
			return false
		}
		for k, av := range a.O {
			bv, have := b.O[k]
			if !have || !StrictEq(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// LooseEq implements "==": type-coercing equality across
// Int/Float/String/Bool/Null, matching JSON-Logic semantics.
func LooseEq(a, b Value) bool {
	if a.Kind == b.Kind {
		return StrictEq(a, b)
	}
	// Null only loosely equals null/false/0/"" in common JSON-Logic
	// implementations; we restrict Null's loose equality to Null and
	// falsy primitives with value zero, matching the common dialect.
	if a.Kind == KNull || b.Kind == KNull {
		other := a
		if a.Kind == KNull {
			other = b
		}
		switch other.Kind {
		case KNull:
			return true
		case KBool:
			return other.B == false
		case KInt:
			return other.I == 0
		case KFloat:
			return other.F == 0
		case KString:
			return other.S == ""
		default:
			return false
		}
	}
	if a.IsNumeric() && b.IsNumeric() {
		return a.ToNumber() == b.ToNumber()
	}
	if a.Kind == KBool || b.Kind == KBool {
		return boolLooseEq(a, b)
	}
	if (a.Kind == KString && b.IsNumeric()) || (b.Kind == KString && a.IsNumeric()) {
		return a.ToNumber() == b.ToNumber()
	}
	return false
}

func boolLooseEq(a, b Value) bool {
	av := a
	bv := b
	if av.Kind != KBool {
		av, bv = bv, av
	}
	return av.B == bv.Truthy()
}

// Compare implements partial_order for "<"/">": returns -1, 0, 1, or
// (ok=false) when the values aren't comparable. Numeric-vs-numeric and
// string-vs-string are the only comparable pairs; a numeric string is
// compared numerically against a number.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.IsNumeric() && b.IsNumeric() {
		return compareFloat(a.ToNumber(), b.ToNumber()), true
	}
	if a.Kind == KString && b.Kind == KString {
		switch {
		case a.S < b.S:
			return -1, true
		case a.S > b.S:
			return 1, true
		default:
			return 0, true
		}
	}
	if (a.Kind == KString && b.IsNumeric()) || (a.IsNumeric() && b.Kind == KString) {
		return compareFloat(a.ToNumber(), b.ToNumber()), true
	}
	return 0, false
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// AddValues implements numeric addition with Int/Float contagion: if
// any operand is Float, the result is Float; otherwise Int. Overflow
// of the int64 accumulation silently wraps (Go's default), matching
// "never panics" from spec.md section 9.
func AddValues(xs []Value) Value {
	isFloat := false
	var fsum float64
	var isum int64
	for _, x := range xs {
		if x.Kind == KFloat {
			isFloat = true
		}
		fsum += x.ToNumber()
		if x.Kind == KInt {
			isum += x.I
		} else {
			isum += int64(x.ToNumber())
		}
	}
	if isFloat {
		return Float(fsum)
	}
	return Int(isum)
}
