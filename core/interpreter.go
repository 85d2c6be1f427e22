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
	"math"
	"strconv"
	"strings"
)

// Eval evaluates e against data, returning the computed Value. It
// never recurses on e's structure: rule expressions nest as deep as a
// rule author (or a generator) cares to make them, and this engine is
// required to survive depths observed up to 100k levels (spec.md
// section 4.3) without exhausting the native call stack. An explicit
// work stack stands in for the call stack instead.
func Eval(ctx *Context, e *Expr, data Value) (Value, error) {
	interp := &interpreter{ctx: ctx}
	return interp.run(e, data)
}

// frame is one entry in the interpreter's explicit work stack. phase
// distinguishes "about to push children" (enter) from "children are
// computed, reduce them" (reduce); short-circuiting operators use
// additional phases numbered beyond reduce to re-enter after
// inspecting a partial result.
type frame struct {
	expr  *Expr
	data  Value
	phase int
	// scratch holds the source array for map/filter/all/some/none/reduce,
	// fixed once the source sub-expression is evaluated.
	scratch []Value
	idx     int
	// collected accumulates map/filter's kept output values as the
	// iteratee is evaluated once per source element.
	collected []Value
	// acc holds reduce's running accumulator between element visits.
	acc Value
}

const (
	phaseEnter = iota
	phaseReduce
)

type interpreter struct {
	ctx   *Context
	stack []*frame
	// results is the value stack: each completed frame pushes exactly
	// one Value here, consumed by its parent's reduce phase.
	results []Value
}

// run drives the explicit stack to completion and returns the single
// resulting Value.
func (in *interpreter) run(root *Expr, data Value) (Value, error) {
	in.stack = append(in.stack, &frame{expr: root, data: data, phase: phaseEnter})

	for len(in.stack) > 0 {
		f := in.stack[len(in.stack)-1]

		switch f.expr.Op {
		case OpLiteral:
			in.pop()
			in.push(f.expr.Lit)

		case OpVar:
			if err := in.stepVar(f); err != nil {
				return Null, err
			}

		case OpAnd, OpOr:
			if err := in.stepShortCircuit(f); err != nil {
				return Null, err
			}

		case OpIf:
			if err := in.stepIf(f); err != nil {
				return Null, err
			}

		case OpTernary:
			if err := in.stepTernary(f); err != nil {
				return Null, err
			}

		case OpMap, OpFilter, OpAll, OpSome, OpNone:
			if err := in.stepCollection(f); err != nil {
				return Null, err
			}

		case OpReduce:
			if err := in.stepReduce(f); err != nil {
				return Null, err
			}

		default:
			if err := in.stepEager(f); err != nil {
				return Null, err
			}
		}
	}

	if len(in.results) != 1 {
		return Null, NewEvaluationError(InternalVmError, "interpreter finished with %d results, want 1", len(in.results))
	}
	return in.results[0], nil
}

func (in *interpreter) pop() *frame {
	n := len(in.stack) - 1
	f := in.stack[n]
	in.stack = in.stack[:n]
	return f
}

func (in *interpreter) push(v Value) {
	in.results = append(in.results, v)
}

func (in *interpreter) popResults(n int) []Value {
	k := len(in.results) - n
	vs := append([]Value(nil), in.results[k:]...)
	in.results = in.results[:k]
	return vs
}

func (in *interpreter) enterChild(child *Expr, data Value) {
	in.stack = append(in.stack, &frame{expr: child, data: data, phase: phaseEnter})
}

// stepEager handles every operator whose children can all be
// evaluated up front (no short-circuiting, no rebound data root)
// before the operator itself combines their results.
func (in *interpreter) stepEager(f *frame) error {
	if f.phase == phaseEnter {
		f.phase = phaseReduce
		for i := len(f.expr.Args) - 1; i >= 0; i-- {
			in.enterChild(&f.expr.Args[i], f.data)
		}
		return nil
	}

	args := in.popResults(len(f.expr.Args))
	in.pop()
	if f.expr.Op == OpLog {
		Log(INFO|USR, in.ctx, "core.Eval", "log", args[0])
		in.push(args[0])
		return nil
	}
	v, err := applyEager(f.expr, args)
	if err != nil {
		return err
	}
	in.push(v)
	return nil
}

func applyEager(e *Expr, args []Value) (Value, error) {
	switch e.Op {
	case OpEq:
		return Bool(LooseEq(args[0], args[1])), nil
	case OpStrictEq:
		return Bool(StrictEq(args[0], args[1])), nil
	case OpNe:
		return Bool(!LooseEq(args[0], args[1])), nil
	case OpStrictNe:
		return Bool(!StrictEq(args[0], args[1])), nil
	case OpLt:
		return chainedCompare(args, func(c int) bool { return c < 0 })
	case OpLe:
		return chainedCompare(args, func(c int) bool { return c <= 0 })
	case OpGt:
		return chainedCompare(args, func(c int) bool { return c > 0 })
	case OpGe:
		return chainedCompare(args, func(c int) bool { return c >= 0 })
	case OpNot:
		return Bool(!args[0].Truthy()), nil
	case OpToBool:
		return Bool(args[0].Truthy()), nil
	case OpAdd:
		return AddValues(args), nil
	case OpSub:
		return evalSub(args), nil
	case OpMul:
		return evalMul(args), nil
	case OpMin:
		return evalMinMax(args, true), nil
	case OpMax:
		return evalMinMax(args, false), nil
	case OpDiv:
		return evalDiv(args[0], args[1]), nil
	case OpMod:
		return evalMod(args[0], args[1]), nil
	case OpCat:
		return evalCat(args), nil
	case OpSubstr:
		return evalSubstr(args, e.HasN)
	case OpMerge:
		return evalMerge(args), nil
	case OpIn:
		return evalIn(args[0], args[1]), nil
	case OpMissing:
		return Null, nil // always Null: no tier computes which paths are absent
	case OpMissingSome:
		return Null, nil
	default:
		return Null, NewEvaluationError(InternalVmError, "interpreter: unhandled eager op %v", e.Op)
	}
}

func chainedCompare(args []Value, ok func(int) bool) (Value, error) {
	for i := 0; i+1 < len(args); i++ {
		cmp, comparable := Compare(args[i], args[i+1])
		if !comparable {
			return Bool(false), nil
		}
		if !ok(cmp) {
			return Bool(false), nil
		}
	}
	return Bool(true), nil
}

func evalSub(args []Value) Value {
	if len(args) == 1 {
		return negate(args[0])
	}
	isFloat := args[0].Kind == KFloat || args[1].Kind == KFloat
	if isFloat {
		return Float(args[0].ToNumber() - args[1].ToNumber())
	}
	return Int(args[0].I - args[1].I)
}

func negate(v Value) Value {
	if v.Kind == KFloat {
		return Float(-v.F)
	}
	return Int(-v.ToNumber2Int())
}

// ToNumber2Int gives an int64 view of a numeric Value without going
// through ToNumber's float64 (which would lose precision for values
// near int64's range). Only meaningful for Int/Bool/String Values the
// caller already knows to be integral; arithmetic dispatch always
// checks Kind first.
func (v Value) ToNumber2Int() int64 {
	if v.Kind == KInt {
		return v.I
	}
	return int64(v.ToNumber())
}

func evalMul(args []Value) Value {
	isFloat := false
	for _, a := range args {
		if a.Kind == KFloat {
			isFloat = true
		}
	}
	if isFloat {
		f := float64(1)
		for _, a := range args {
			f *= a.ToNumber()
		}
		return Float(f)
	}
	i := int64(1)
	for _, a := range args {
		i *= a.ToNumber2Int()
	}
	return Int(i)
}

func evalMinMax(args []Value, wantMin bool) Value {
	best := args[0]
	for _, a := range args[1:] {
		cmp, ok := Compare(a, best)
		if !ok {
			continue
		}
		if (wantMin && cmp < 0) || (!wantMin && cmp > 0) {
			best = a
		}
	}
	return best
}

func evalDiv(a, b Value) Value {
	x, y := a.ToNumber(), b.ToNumber()
	if a.Kind != KFloat && b.Kind != KFloat {
		if y == 0 {
			return Float(x / y) // +Inf/-Inf/NaN, never panics
		}
		ai, bi := a.ToNumber2Int(), b.ToNumber2Int()
		if ai%bi == 0 {
			return Int(ai / bi)
		}
	}
	return Float(x / y)
}

func evalMod(a, b Value) Value {
	if a.Kind != KFloat && b.Kind != KFloat {
		bi := b.ToNumber2Int()
		if bi == 0 {
			return Float(0) // integer mod by zero: avoid a native panic, report 0
		}
		return Int(a.ToNumber2Int() % bi)
	}
	x, y := a.ToNumber(), b.ToNumber()
	if y == 0 {
		return Float(math.NaN()) // IEEE-754 remainder by zero, never panics
	}
	return Float(floatMod(x, y))
}

func floatMod(x, y float64) float64 {
	q := float64(int64(x / y))
	return x - q*y
}

func evalCat(args []Value) Value {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(renderString(a))
	}
	return String(sb.String())
}

func renderString(v Value) string {
	switch v.Kind {
	case KString:
		return v.S
	case KNull:
		return ""
	case KBool:
		return strconv.FormatBool(v.B)
	case KInt:
		return strconv.FormatInt(v.I, 10)
	case KFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	default:
		return ""
	}
}

func evalSubstr(args []Value, hasLen bool) (Value, error) {
	s := []rune(args[0].S)
	start := int(args[1].ToNumber2Int())
	if start < 0 {
		start += len(s)
		if start < 0 {
			start = 0
		}
	}
	if start > len(s) {
		start = len(s)
	}
	end := len(s)
	if hasLen {
		length := int(args[2].ToNumber2Int())
		if length < 0 {
			end = len(s) + length
		} else {
			end = start + length
		}
	}
	if end > len(s) {
		end = len(s)
	}
	if end < start {
		end = start
	}
	return String(string(s[start:end])), nil
}

func evalMerge(args []Value) Value {
	var acc []Value
	for _, a := range args {
		if a.Kind == KArray {
			acc = append(acc, a.A...)
		} else {
			acc = append(acc, a)
		}
	}
	return Array(acc)
}

func evalIn(needle, haystack Value) Value {
	switch haystack.Kind {
	case KArray:
		for _, x := range haystack.A {
			if LooseEq(needle, x) {
				return Bool(true)
			}
		}
		return Bool(false)
	case KString:
		return Bool(strings.Contains(haystack.S, renderString(needle)))
	default:
		return Bool(false)
	}
}

// stepVar resolves a Var node's path against its frame's data. A
// dotted or slashed path traverses nested objects; a numeric segment
// indexes arrays; an unresolved path evaluates the node's declared
// default (pushed onto the same explicit stack, never a native call),
// or yields Null. Never errors: the resolver is total, per spec.md
// section 4.3.
func (in *interpreter) stepVar(f *frame) error {
	if f.phase == phaseReduce {
		// The default sub-expression was just evaluated by a child frame.
		v := in.popResults(1)[0]
		in.pop()
		in.push(v)
		return nil
	}

	resolved, ok := lookupPath(f.expr.Var.Path, f.data)
	if ok {
		in.pop()
		in.push(resolved)
		return nil
	}
	if f.expr.Var.Default == nil {
		in.pop()
		in.push(Null)
		return nil
	}
	f.phase = phaseReduce
	in.enterChild(f.expr.Var.Default, f.data)
	return nil
}

func lookupPath(path string, data Value) (Value, bool) {
	if path == "" {
		return data, true
	}
	segs := splitPath(path)
	cur := data
	for _, seg := range segs {
		switch cur.Kind {
		case KObject:
			v, have := cur.O[seg]
			if !have {
				return Null, false
			}
			cur = v
		case KArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.A) {
				return Null, false
			}
			cur = cur.A[idx]
		default:
			return Null, false
		}
	}
	return cur, true
}

// splitPath accepts both "." and "/" separated paths, matching
// spec.md section 3 ("Path is a .- or /-separated traversal").
func splitPath(path string) []string {
	sep := "."
	if strings.Contains(path, "/") {
		sep = "/"
	}
	return strings.Split(path, sep)
}

// stepShortCircuit implements And/Or: evaluate children left to
// right, stopping as soon as the running result is decisive (a falsy
// value for And, a truthy one for Or), returning that child's value
// rather than a coerced bool — matching common JSON-Logic semantics
// where "and"/"or" return one of their operands, not a boolean.
func (in *interpreter) stepShortCircuit(f *frame) error {
	if f.phase == phaseEnter {
		if len(f.expr.Args) == 0 {
			in.pop()
			in.push(Bool(f.expr.Op == OpAnd))
			return nil
		}
		f.phase = phaseReduce
		f.idx = 0
		in.enterChild(&f.expr.Args[0], f.data)
		return nil
	}

	v := in.popResults(1)[0]
	decisive := v.Truthy()
	if f.expr.Op == OpAnd {
		decisive = !decisive
	}
	f.idx++
	if decisive || f.idx >= len(f.expr.Args) {
		in.pop()
		in.push(v)
		return nil
	}
	in.enterChild(&f.expr.Args[f.idx], f.data)
	return nil
}

// stepIf implements the alternating cond/then/.../else form. Evaluate
// pairs left to right; the first truthy cond short-circuits to its
// then-branch; an odd trailing argument is the else.
func (in *interpreter) stepIf(f *frame) error {
	if f.phase == phaseEnter {
		if len(f.expr.Args) == 1 {
			in.pop()
			in.enterChild(&f.expr.Args[0], f.data)
			return nil
		}
		f.phase = phaseReduce
		f.idx = 0
		in.enterChild(&f.expr.Args[0], f.data)
		return nil
	}

	cond := in.popResults(1)[0]
	if cond.Truthy() {
		in.pop()
		in.enterChild(&f.expr.Args[f.idx+1], f.data)
		return nil
	}
	f.idx += 2
	remaining := len(f.expr.Args) - f.idx
	switch {
	case remaining == 1:
		in.pop()
		in.enterChild(&f.expr.Args[f.idx], f.data)
	case remaining <= 0:
		in.pop()
		in.push(Null)
	default:
		in.enterChild(&f.expr.Args[f.idx], f.data)
	}
	return nil
}

func (in *interpreter) stepTernary(f *frame) error {
	switch f.phase {
	case phaseEnter:
		f.phase = phaseReduce
		in.enterChild(&f.expr.Args[0], f.data)
	case phaseReduce:
		cond := in.popResults(1)[0]
		in.pop()
		if cond.Truthy() {
			in.enterChild(&f.expr.Args[1], f.data)
		} else {
			in.enterChild(&f.expr.Args[2], f.data)
		}
	}
	return nil
}

// stepCollection implements map/filter/all/some/none: evaluate the
// source array once, then rebind the data root to each element in
// turn while evaluating the iteratee sub-expression.
func (in *interpreter) stepCollection(f *frame) error {
	switch f.phase {
	case phaseEnter:
		f.phase = 1
		in.enterChild(&f.expr.Args[0], f.data)
	case 1:
		src := in.popResults(1)[0]
		if src.Kind != KArray || len(src.A) == 0 {
			in.pop()
			in.push(collectionEmptyResult(f.expr.Op))
			return nil
		}
		f.scratch = src.A
		f.idx = 0
		f.phase = 2
		fallthrough
	case 2:
		if f.idx >= len(f.scratch) {
			in.pop()
			in.push(finishCollection(f.expr.Op, f.collected))
			return nil
		}
		f.phase = 3
		in.enterChild(&f.expr.Args[1], f.scratch[f.idx])
	case 3:
		v := in.popResults(1)[0]
		elem := f.scratch[f.idx]
		f.idx++
		switch f.expr.Op {
		case OpMap:
			f.collected = append(f.collected, v)
		case OpFilter:
			if v.Truthy() {
				f.collected = append(f.collected, elem)
			}
		case OpSome:
			if v.Truthy() {
				in.pop()
				in.push(Bool(true))
				return nil
			}
		case OpNone:
			if v.Truthy() {
				in.pop()
				in.push(Bool(false))
				return nil
			}
		case OpAll:
			if !v.Truthy() {
				in.pop()
				in.push(Bool(false))
				return nil
			}
		}
		f.phase = 2
	}
	return nil
}

func collectionEmptyResult(op ExprOp) Value {
	switch op {
	case OpMap, OpFilter:
		return Array(nil)
	case OpAll:
		return Bool(false) // no elements to satisfy the predicate
	case OpSome:
		return Bool(false)
	case OpNone:
		return Bool(true)
	default:
		return Null
	}
}

// finishCollection renders the final Value once every source element
// has been visited without an early short-circuit: map/filter return
// the collected array, all/none (having never found a falsy/truthy
// element respectively) return true, and some (having never found a
// truthy element) returns false.
func finishCollection(op ExprOp, collected []Value) Value {
	switch op {
	case OpMap, OpFilter:
		return Array(collected)
	case OpAll:
		return Bool(true)
	case OpSome:
		return Bool(false)
	case OpNone:
		return Bool(true)
	default:
		return Null
	}
}

// stepReduce implements reduce(array, iteratee, initial): iteratee
// sees {"var":"current"} and {"var":"accumulator"} in its data root.
func (in *interpreter) stepReduce(f *frame) error {
	switch f.phase {
	case phaseEnter:
		f.phase = 1
		in.enterChild(&f.expr.Args[0], f.data)
	case 1:
		src := in.popResults(1)[0]
		if src.Kind != KArray {
			src = Array(nil)
		}
		f.scratch = src.A
		f.idx = 0
		f.phase = 2
		in.enterChild(&f.expr.Args[2], f.data)
	case 2:
		f.acc = in.popResults(1)[0]
		if f.idx >= len(f.scratch) {
			in.pop()
			in.push(f.acc)
			return nil
		}
		iterData := NewObject()
		iterData.Set("current", f.scratch[f.idx])
		iterData.Set("accumulator", f.acc)
		f.phase = 3
		in.enterChild(&f.expr.Args[1], iterData)
	case 3:
		next := in.popResults(1)[0]
		f.idx++
		f.acc = next
		f.phase = 2
		in.push(f.acc)
	}
	return nil
}
