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
	"encoding/json"
	"fmt"
)

// operatorArity describes how many arguments an operator key
// requires, in terms a validator can check structurally before the
// node is built.
type operatorArity struct {
	op       ExprOp
	min, max int // max < 0 means unbounded
}

var operatorTable = map[string]operatorArity{
	"==":  {OpEq, 2, 2},
	"===": {OpStrictEq, 2, 2},
	"!=":  {OpNe, 2, 2},
	"!==": {OpStrictNe, 2, 2},
	"<":   {OpLt, 2, 3},
	"<=":  {OpLe, 2, 3},
	">":   {OpGt, 2, 3},
	">=":  {OpGe, 2, 3},

	"!":  {OpNot, 1, 1},
	"!!": {OpToBool, 1, 1},
	"and": {OpAnd, 1, -1},
	"or":  {OpOr, 1, -1},

	"if":  {OpIf, 1, -1},
	"?:":  {OpTernary, 3, 3},

	"+":   {OpAdd, 1, -1},
	"-":   {OpSub, 1, 2},
	"*":   {OpMul, 1, -1},
	"min": {OpMin, 1, -1},
	"max": {OpMax, 1, -1},
	"/":   {OpDiv, 2, 2},
	"%":   {OpMod, 2, 2},

	"cat":    {OpCat, 0, -1},
	"substr": {OpSubstr, 2, 3},

	"map":    {OpMap, 2, 2},
	"filter": {OpFilter, 2, 2},
	"reduce": {OpReduce, 3, 3},
	"all":    {OpAll, 2, 2},
	"some":   {OpSome, 2, 2},
	"none":   {OpNone, 2, 2},
	"merge":  {OpMerge, 0, -1},
	"in":     {OpIn, 2, 2},

	"missing":      {OpMissing, 0, -1},
	"missing_some": {OpMissingSome, 2, 2},

	"log": {OpLog, 1, 1},
}

// Parse turns a decoded JSON document (interface{} as produced by
// encoding/json; a Value goes through ParseValue) into an Expr. It performs no evaluation
// and resolves no variables; it is a deterministic recursive descent
// over the already-parsed JSON tree (spec.md section 4.2 — the tree
// itself is already flat data, so this recursion is bounded by
// document nesting depth, not by rule-author-controlled evaluation
// depth; the interpreter, not the parser, is the one required to be
// iterative).
func Parse(x interface{}) (Expr, error) {
	return parseValue(x)
}

// ParseValue parses an already-converted Value into an Expr. Useful
// when the caller has a Value handy (e.g. a sub-document) instead of
// raw interface{}.
func ParseValue(v Value) (Expr, error) {
	return parseValue(v.ToJSON())
}

func parseValue(x interface{}) (Expr, error) {
	switch t := x.(type) {
	case map[string]interface{}:
		return parseOperation(t)
	default:
		return Literal(FromJSON(x)), nil
	}
}

func parseOperation(m map[string]interface{}) (Expr, error) {
	if len(m) != 1 {
		return Literal(FromJSON(m)), nil
	}
	var opName string
	var argVal interface{}
	for k, v := range m {
		opName = k
		argVal = v
	}

	if opName == "var" {
		return parseVar(argVal)
	}

	arity, known := operatorTable[opName]
	if !known {
		return Expr{}, NewParseError(UnknownOperation, "unknown operator %q", opName)
	}

	args := normalizeArgs(argVal)
	if err := checkArity(opName, arity, len(args)); err != nil {
		return Expr{}, err
	}

	parsedArgs := make([]Expr, len(args))
	for i, a := range args {
		parsed, err := parseValue(a)
		if err != nil {
			return Expr{}, err
		}
		parsedArgs[i] = parsed
	}

	e := Expr{Op: arity.op, Args: parsedArgs}
	if opName == "substr" && len(parsedArgs) == 3 {
		e.HasN = true
	}
	return e, nil
}

// normalizeArgs wraps a non-array argument value as a single-element
// list, per spec.md section 4.2.
func normalizeArgs(x interface{}) []interface{} {
	if arr, ok := x.([]interface{}); ok {
		return arr
	}
	return []interface{}{x}
}

func checkArity(opName string, arity operatorArity, n int) error {
	if n < arity.min || (arity.max >= 0 && n > arity.max) {
		expected := fmt.Sprintf("%d", arity.min)
		if arity.max != arity.min {
			if arity.max < 0 {
				expected = fmt.Sprintf("at least %d", arity.min)
			} else {
				expected = fmt.Sprintf("%d-%d", arity.min, arity.max)
			}
		}
		return NewParseError(InvalidArgumentCount,
			"%s expects %s argument(s), got %d", opName, expected, n)
	}
	return nil
}

// parseVar parses the three accepted shapes for {"var": ...}: a bare
// string path, a bare number (stringified into a numeric index path),
// or a 1-2 element array [path, default?].
func parseVar(x interface{}) (Expr, error) {
	switch t := x.(type) {
	case string:
		return Expr{Op: OpVar, Var: VarExpr{Path: t}}, nil
	case float64:
		return Expr{Op: OpVar, Var: VarExpr{Path: formatNumericPath(t)}}, nil
	case json.Number:
		return Expr{Op: OpVar, Var: VarExpr{Path: string(t)}}, nil
	case nil:
		return Expr{Op: OpVar, Var: VarExpr{Path: ""}}, nil
	case []interface{}:
		if len(t) < 1 || len(t) > 2 {
			return Expr{}, NewParseError(InvalidVariablePath,
				"var array must have 1 or 2 elements, got %d", len(t))
		}
		path, ok := t[0].(string)
		if !ok {
			if f, isNum := t[0].(float64); isNum {
				path = formatNumericPath(f)
			} else {
				return Expr{}, NewParseError(InvalidVariablePath,
					"var path must be a string or number, got %T", t[0])
			}
		}
		ve := VarExpr{Path: path}
		if len(t) == 2 {
			d, err := parseValue(t[1])
			if err != nil {
				return Expr{}, err
			}
			ve.Default = &d
		}
		return Expr{Op: OpVar, Var: ve}, nil
	default:
		return Expr{}, NewParseError(InvalidVariablePath, "invalid var path of type %T", x)
	}
}

func formatNumericPath(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}
