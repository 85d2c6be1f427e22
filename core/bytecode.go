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

import "fmt"

// Opcode tags one bytecode instruction. The VM is a plain stack
// machine: every opcode pops its operands off an operand stack of
// Values and pushes its result back, save for the jumps.
type Opcode uint8

const (
	OpcodeLoadConst Opcode = iota
	// OpcodeLoadVar's operand indexes VarPaths/VarDefaults; a miss
	// evaluates the parallel default Expr via Eval rather than through
	// a jump, since defaults are whole sub-expressions, not flat code.
	OpcodeLoadVar

	OpcodeEq
	OpcodeStrictEq
	OpcodeNe
	OpcodeStrictNe
	OpcodeLt
	OpcodeLe
	OpcodeGt
	OpcodeGe

	OpcodeNot
	OpcodeToBool

	OpcodeAdd
	OpcodeSub
	OpcodeNeg
	OpcodeMul
	OpcodeMin
	OpcodeMax
	OpcodeDiv
	OpcodeMod

	OpcodeCat
	OpcodeSubstr
	OpcodeSubstrN

	OpcodeMerge
	OpcodeIn

	OpcodeJump
	OpcodeJumpIfFalse
	OpcodeJumpIfTrue
	// OpcodePop discards a short-circuit operand's value once it has
	// been found non-decisive and evaluation is continuing to the next
	// operand.
	OpcodePop

	OpcodeCall // operand selects a VM-native function (map/filter/reduce/all/some/none)
	OpcodeLog  // peeks the top value, logs it via the VM's Context, leaves it on the stack
)

// Instr is one bytecode instruction: an opcode plus a single integer
// operand whose meaning is opcode-specific (a constant-pool index, a
// jump target, an argument count, or a VM-native function selector).
type Instr struct {
	Op  Opcode
	Arg int
}

// NativeFn selects one of the VM-native higher-order operators, which
// need to re-enter compiled code per element rather than being
// expressible as a flat instruction sequence.
type NativeFn uint8

const (
	NativeMap NativeFn = iota
	NativeFilter
	NativeReduce
	NativeAll
	NativeSome
	NativeNone
)

// CompiledBytecode is one rule expression lowered to a flat
// instruction sequence, ready for repeated VM execution without
// re-parsing or re-walking the AST. VarPaths mirrors
// Expr.CollectVarPaths for the AST tier.
type CompiledBytecode struct {
	Instrs      []Instr
	Constants   []Value
	VarPaths    []string // indexed by OpcodeLoadVar's Arg
	VarDefaults []*Expr  // parallel to VarPaths; nil when no default was given
	Natives     []nativeCall
}

// nativeCall captures one map/filter/reduce/all/some/none site: the
// compiled source-array code range and the iteratee/initial
// sub-expressions, kept as ASTs and re-evaluated per element via Eval
// rather than lowered further, since re-entrant compiled code would
// need its own call convention for the rebound data root.
type nativeCall struct {
	Fn       NativeFn
	Source   Expr
	Iteratee Expr
	Initial  Expr // meaningful only for NativeReduce
}

// Compile lowers e into a CompiledBytecode. Compilation is a single
// pass over the AST with backpatched jump slots for And/Or/If/Ternary;
// it is the one place in this package that recurses on Expr structure,
// since compilation depth is bounded by how deeply a rule author
// nested operators in source, not by how large an input array is —
// the VM that runs the compiled output is what must stay flat.
func Compile(e *Expr) (*CompiledBytecode, error) {
	c := &compiler{}
	if err := c.compile(e); err != nil {
		return nil, err
	}
	return &CompiledBytecode{
		Instrs:      c.instrs,
		Constants:   c.consts,
		VarPaths:    c.varPaths,
		VarDefaults: c.varDefaults,
		Natives:     c.natives,
	}, nil
}

type compiler struct {
	instrs      []Instr
	consts      []Value
	varPaths    []string
	varDefaults []*Expr
	natives     []nativeCall
}

func (c *compiler) emit(op Opcode, arg int) int {
	c.instrs = append(c.instrs, Instr{Op: op, Arg: arg})
	return len(c.instrs) - 1
}

func (c *compiler) patch(at int, arg int) {
	c.instrs[at].Arg = arg
}

func (c *compiler) here() int {
	return len(c.instrs)
}

func (c *compiler) addConst(v Value) int {
	c.consts = append(c.consts, v)
	return len(c.consts) - 1
}

func (c *compiler) addVar(path string, def *Expr) int {
	c.varPaths = append(c.varPaths, path)
	c.varDefaults = append(c.varDefaults, def)
	return len(c.varPaths) - 1
}

func (c *compiler) compile(e *Expr) error {
	switch e.Op {
	case OpLiteral:
		c.emit(OpcodeLoadConst, c.addConst(e.Lit))
		return nil

	case OpVar:
		idx := c.addVar(e.Var.Path, e.Var.Default)
		c.emit(OpcodeLoadVar, idx)
		return nil

	case OpAnd, OpOr:
		return c.compileShortCircuit(e)

	case OpIf:
		return c.compileIf(e)

	case OpTernary:
		return c.compileTernary(e)

	case OpMap, OpFilter, OpAll, OpSome, OpNone:
		return c.compileUnaryNative(e)

	case OpReduce:
		return c.compileReduce(e)

	case OpMissing, OpMissingSome:
		// Both evaluate to Null, as in applyEager; neither tier
		// computes which of the named paths are absent from the data.
		c.emit(OpcodeLoadConst, c.addConst(Null))
		return nil

	case OpLog:
		if err := c.compile(&e.Args[0]); err != nil {
			return err
		}
		c.emit(OpcodeLog, 0)
		return nil

	default:
		return c.compileEager(e)
	}
}

func (c *compiler) compileEager(e *Expr) error {
	for i := range e.Args {
		if err := c.compile(&e.Args[i]); err != nil {
			return err
		}
	}
	op, ok := eagerOpcode(e)
	if !ok {
		return NewEvaluationError(InternalVmError, "compile: no opcode for %v", e.Op)
	}
	c.emit(op, len(e.Args))
	return nil
}

func eagerOpcode(e *Expr) (Opcode, bool) {
	switch e.Op {
	case OpEq:
		return OpcodeEq, true
	case OpStrictEq:
		return OpcodeStrictEq, true
	case OpNe:
		return OpcodeNe, true
	case OpStrictNe:
		return OpcodeStrictNe, true
	case OpLt:
		return OpcodeLt, true
	case OpLe:
		return OpcodeLe, true
	case OpGt:
		return OpcodeGt, true
	case OpGe:
		return OpcodeGe, true
	case OpNot:
		return OpcodeNot, true
	case OpToBool:
		return OpcodeToBool, true
	case OpAdd:
		return OpcodeAdd, true
	case OpSub:
		if len(e.Args) == 1 {
			return OpcodeNeg, true
		}
		return OpcodeSub, true
	case OpMul:
		return OpcodeMul, true
	case OpMin:
		return OpcodeMin, true
	case OpMax:
		return OpcodeMax, true
	case OpDiv:
		return OpcodeDiv, true
	case OpMod:
		return OpcodeMod, true
	case OpCat:
		return OpcodeCat, true
	case OpSubstr:
		if e.HasN {
			return OpcodeSubstrN, true
		}
		return OpcodeSubstr, true
	case OpMerge:
		return OpcodeMerge, true
	case OpIn:
		return OpcodeIn, true
	default:
		return 0, false
	}
}

// compileShortCircuit lowers And/Or to a chain of
// evaluate-then-conditionally-jump instructions, leaving the decisive
// operand's value (not a coerced bool) on the stack, matching the
// interpreter's semantics exactly (the principal cross-check
// property, spec.md section 8).
func (c *compiler) compileShortCircuit(e *Expr) error {
	if len(e.Args) == 0 {
		c.emit(OpcodeLoadConst, c.addConst(Bool(e.Op == OpAnd)))
		return nil
	}
	// JumpIfFalse/JumpIfTrue peek the top of stack without popping, so
	// a taken jump leaves exactly the decisive operand's value behind.
	// When the jump is NOT taken, that operand is no longer wanted
	// (evaluation continues to the next operand), so an explicit Pop
	// follows before compiling it — keeping the stack at exactly one
	// live value at every point, jump or fall-through alike.
	var exitJumps []int
	for i, arg := range e.Args {
		if err := c.compile(&arg); err != nil {
			return err
		}
		if i == len(e.Args)-1 {
			break
		}
		var jmp int
		if e.Op == OpAnd {
			jmp = c.emit(OpcodeJumpIfFalse, -1)
		} else {
			jmp = c.emit(OpcodeJumpIfTrue, -1)
		}
		c.emit(OpcodePop, 0)
		exitJumps = append(exitJumps, jmp)
	}
	end := c.here()
	for _, j := range exitJumps {
		c.patch(j, end)
	}
	return nil
}

// compileIf lowers the alternating cond/then/.../else form. Each
// JumpIfFalse peeks its condition without popping, so both branches
// must explicitly Pop it before pushing their own result — otherwise
// the condition value would linger under the branch's result.
func (c *compiler) compileIf(e *Expr) error {
	if len(e.Args) == 1 {
		return c.compile(&e.Args[0])
	}
	var endJumps []int
	i := 0
	for len(e.Args)-i >= 2 {
		if err := c.compile(&e.Args[i]); err != nil {
			return err
		}
		skip := c.emit(OpcodeJumpIfFalse, -1)
		c.emit(OpcodePop, 0) // true path: discard the condition
		if err := c.compile(&e.Args[i+1]); err != nil {
			return err
		}
		endJumps = append(endJumps, c.emit(OpcodeJump, -1))
		c.patch(skip, c.here())
		c.emit(OpcodePop, 0) // false path: discard the condition
		i += 2
	}
	if i < len(e.Args) {
		if err := c.compile(&e.Args[i]); err != nil {
			return err
		}
	} else {
		c.emit(OpcodeLoadConst, c.addConst(Null))
	}
	end := c.here()
	for _, j := range endJumps {
		c.patch(j, end)
	}
	return nil
}

func (c *compiler) compileTernary(e *Expr) error {
	if err := c.compile(&e.Args[0]); err != nil {
		return err
	}
	skip := c.emit(OpcodeJumpIfFalse, -1)
	c.emit(OpcodePop, 0) // true path: discard the condition
	if err := c.compile(&e.Args[1]); err != nil {
		return err
	}
	toEnd := c.emit(OpcodeJump, -1)
	c.patch(skip, c.here())
	c.emit(OpcodePop, 0) // false path: discard the condition
	if err := c.compile(&e.Args[2]); err != nil {
		return err
	}
	c.patch(toEnd, c.here())
	return nil
}

// compileUnaryNative handles map/filter/all/some/none: these rebind
// the data root per source element, which a flat linear instruction
// stream can't express without its own mini call-stack, so they are
// compiled as a native-call site that re-enters Eval per element
// rather than being expanded into further Instrs.
func (c *compiler) compileUnaryNative(e *Expr) error {
	var fn NativeFn
	switch e.Op {
	case OpMap:
		fn = NativeMap
	case OpFilter:
		fn = NativeFilter
	case OpAll:
		fn = NativeAll
	case OpSome:
		fn = NativeSome
	case OpNone:
		fn = NativeNone
	}
	idx := len(c.natives)
	c.natives = append(c.natives, nativeCall{Fn: fn, Source: e.Args[0], Iteratee: e.Args[1]})
	c.emit(OpcodeCall, idx)
	return nil
}

func (c *compiler) compileReduce(e *Expr) error {
	idx := len(c.natives)
	c.natives = append(c.natives, nativeCall{
		Fn: NativeReduce, Source: e.Args[0], Iteratee: e.Args[1], Initial: e.Args[2],
	})
	c.emit(OpcodeCall, idx)
	return nil
}

// vm executes one CompiledBytecode against one data Value.
type vm struct {
	ctx  *Context
	code *CompiledBytecode
	data Value
}

// Run executes c against data and returns the resulting Value. The VM
// loop is a flat instruction pointer walk — no recursion on bytecode
// structure, only the bounded per-native-call re-entry into Eval for
// map/filter/reduce/all/some/none, each of which evaluates a single
// already-compiled-depth iteratee AST per source element (the same
// cost the interpreter tier pays for those operators).
func (c *CompiledBytecode) Run(ctx *Context, data Value) (Value, error) {
	m := &vm{ctx: ctx, code: c, data: data}
	return m.run()
}

func (m *vm) run() (Value, error) {
	var stack []Value
	push := func(v Value) { stack = append(stack, v) }
	pop := func() Value {
		n := len(stack) - 1
		v := stack[n]
		stack = stack[:n]
		return v
	}
	popN := func(n int) []Value {
		k := len(stack) - n
		vs := append([]Value(nil), stack[k:]...)
		stack = stack[:k]
		return vs
	}

	ip := 0
	for ip < len(m.code.Instrs) {
		instr := m.code.Instrs[ip]
		switch instr.Op {
		case OpcodeLoadConst:
			push(m.code.Constants[instr.Arg])
		case OpcodeLoadVar:
			path := m.code.VarPaths[instr.Arg]
			v, ok := lookupPath(path, m.data)
			if !ok {
				def := m.code.VarDefaults[instr.Arg]
				if def == nil {
					v = Null
				} else {
					var err error
					v, err = Eval(m.ctx, def, m.data)
					if err != nil {
						return Null, err
					}
				}
			}
			push(v)
		case OpcodePop:
			pop()
		case OpcodeJump:
			ip = instr.Arg
			continue
		case OpcodeJumpIfFalse:
			if !stack[len(stack)-1].Truthy() {
				ip = instr.Arg
				continue
			}
		case OpcodeJumpIfTrue:
			if stack[len(stack)-1].Truthy() {
				ip = instr.Arg
				continue
			}
		case OpcodeEq:
			a := popN(2)
			push(Bool(LooseEq(a[0], a[1])))
		case OpcodeStrictEq:
			a := popN(2)
			push(Bool(StrictEq(a[0], a[1])))
		case OpcodeNe:
			a := popN(2)
			push(Bool(!LooseEq(a[0], a[1])))
		case OpcodeStrictNe:
			a := popN(2)
			push(Bool(!StrictEq(a[0], a[1])))
		case OpcodeLt:
			v, err := chainedCompare(popN(instr.Arg), func(c int) bool { return c < 0 })
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeLe:
			v, err := chainedCompare(popN(instr.Arg), func(c int) bool { return c <= 0 })
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeGt:
			v, err := chainedCompare(popN(instr.Arg), func(c int) bool { return c > 0 })
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeGe:
			v, err := chainedCompare(popN(instr.Arg), func(c int) bool { return c >= 0 })
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeNot:
			push(Bool(!pop().Truthy()))
		case OpcodeToBool:
			push(Bool(pop().Truthy()))
		case OpcodeAdd:
			push(AddValues(popN(instr.Arg)))
		case OpcodeSub:
			push(evalSub(popN(instr.Arg)))
		case OpcodeNeg:
			push(negate(pop()))
		case OpcodeMul:
			push(evalMul(popN(instr.Arg)))
		case OpcodeMin:
			push(evalMinMax(popN(instr.Arg), true))
		case OpcodeMax:
			push(evalMinMax(popN(instr.Arg), false))
		case OpcodeDiv:
			a := popN(2)
			push(evalDiv(a[0], a[1]))
		case OpcodeMod:
			a := popN(2)
			push(evalMod(a[0], a[1]))
		case OpcodeCat:
			push(evalCat(popN(instr.Arg)))
		case OpcodeSubstr:
			v, err := evalSubstr(popN(2), false)
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeSubstrN:
			v, err := evalSubstr(popN(3), true)
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeMerge:
			push(evalMerge(popN(instr.Arg)))
		case OpcodeIn:
			a := popN(2)
			push(evalIn(a[0], a[1]))
		case OpcodeCall:
			v, err := m.runNative(m.code.Natives[instr.Arg])
			if err != nil {
				return Null, err
			}
			push(v)
		case OpcodeLog:
			v := stack[len(stack)-1]
			Log(INFO|USR, m.ctx, "core.Run", "log", v)
		default:
			return Null, NewEvaluationError(InternalVmError, "vm: unhandled opcode %d", instr.Op)
		}
		ip++
	}

	if len(stack) != 1 {
		return Null, NewEvaluationError(InternalVmError, "vm finished with %d stack items, want 1", len(stack))
	}
	return stack[0], nil
}

// runNative executes one map/filter/reduce/all/some/none site by
// re-entering the AST evaluator once per source element. This is the
// one place compiled rule execution still calls Eval; the source
// array and iteratee are small, author-written sub-expressions, not
// the 100k-deep nesting the top-level interpreter guards against.
func (m *vm) runNative(nc nativeCall) (Value, error) {
	src, err := Eval(m.ctx, &nc.Source, m.data)
	if err != nil {
		return Null, err
	}
	// A non-array source is treated as an empty source by every
	// variant, matching the interpreter tier's stepCollection/stepReduce.
	elems := src.A
	if src.Kind != KArray {
		elems = nil
	}

	switch nc.Fn {
	case NativeReduce:
		acc, err := Eval(m.ctx, &nc.Initial, m.data)
		if err != nil {
			return Null, err
		}
		for _, elem := range elems {
			iterData := NewObject()
			iterData.Set("current", elem)
			iterData.Set("accumulator", acc)
			acc, err = Eval(m.ctx, &nc.Iteratee, iterData)
			if err != nil {
				return Null, err
			}
		}
		return acc, nil

	case NativeMap:
		out := make([]Value, 0, len(elems))
		for _, elem := range elems {
			v, err := Eval(m.ctx, &nc.Iteratee, elem)
			if err != nil {
				return Null, err
			}
			out = append(out, v)
		}
		return Array(out), nil

	case NativeFilter:
		var out []Value
		for _, elem := range elems {
			v, err := Eval(m.ctx, &nc.Iteratee, elem)
			if err != nil {
				return Null, err
			}
			if v.Truthy() {
				out = append(out, elem)
			}
		}
		return Array(out), nil

	case NativeAll:
		if len(elems) == 0 {
			return Bool(false), nil
		}
		for _, elem := range elems {
			v, err := Eval(m.ctx, &nc.Iteratee, elem)
			if err != nil {
				return Null, err
			}
			if !v.Truthy() {
				return Bool(false), nil
			}
		}
		return Bool(true), nil

	case NativeSome:
		for _, elem := range elems {
			v, err := Eval(m.ctx, &nc.Iteratee, elem)
			if err != nil {
				return Null, err
			}
			if v.Truthy() {
				return Bool(true), nil
			}
		}
		return Bool(false), nil

	case NativeNone:
		for _, elem := range elems {
			v, err := Eval(m.ctx, &nc.Iteratee, elem)
			if err != nil {
				return Null, err
			}
			if v.Truthy() {
				return Bool(false), nil
			}
		}
		return Bool(true), nil

	default:
		return Null, NewEvaluationError(InternalVmError, "vm: unknown native fn %d", nc.Fn)
	}
}

func (op Opcode) String() string {
	return fmt.Sprintf("opcode(%d)", uint8(op))
}
