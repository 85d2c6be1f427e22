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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalDoc(t *testing.T, exprDoc, dataDoc string) Value {
	t.Helper()
	e, err := Parse(parseJSONDoc(t, exprDoc))
	require.NoError(t, err)
	data, err := ParseJSONValue([]byte(dataDoc))
	require.NoError(t, err)
	v, err := Eval(NewContext("test"), &e, data)
	require.NoError(t, err)
	return v
}

func TestEvalArithmetic(t *testing.T) {
	v := evalDoc(t, `{"+": [1, 2, 3]}`, `{}`)
	assert.Equal(t, int64(6), v.I)

	v = evalDoc(t, `{"-": [{"var":"x"}, 1]}`, `{"x": 10}`)
	assert.Equal(t, int64(9), v.I)

	v = evalDoc(t, `{"*": [2, 2.5]}`, `{}`)
	assert.Equal(t, KFloat, v.Kind)
	assert.Equal(t, 5.0, v.F)

	v = evalDoc(t, `{"/": [7, 2]}`, `{}`)
	assert.Equal(t, KFloat, v.Kind)
	assert.Equal(t, 3.5, v.F)

	v = evalDoc(t, `{"/": [6, 2]}`, `{}`)
	assert.Equal(t, KInt, v.Kind)
	assert.Equal(t, int64(3), v.I)
}

func TestEvalComparisonChain(t *testing.T) {
	v := evalDoc(t, `{"<": [1, 2, 3]}`, `{}`)
	assert.True(t, v.Truthy())

	v = evalDoc(t, `{"<": [1, 3, 2]}`, `{}`)
	assert.False(t, v.Truthy())
}

func TestEvalVarPaths(t *testing.T) {
	v := evalDoc(t, `{"var": "a.b"}`, `{"a": {"b": 7}}`)
	assert.Equal(t, int64(7), v.I)

	v = evalDoc(t, `{"var": "a/b"}`, `{"a": {"b": 7}}`)
	assert.Equal(t, int64(7), v.I)

	v = evalDoc(t, `{"var": ["missing.path", "fallback"]}`, `{}`)
	assert.Equal(t, "fallback", v.S)

	v = evalDoc(t, `{"var": "arr.1"}`, `{"arr": [10, 20, 30]}`)
	assert.Equal(t, int64(20), v.I)
}

func TestEvalVarDefaultNotRecursiveCallStack(t *testing.T) {
	// The default expression itself references a var with its own
	// default, to confirm defaults are driven through the explicit
	// stack rather than a native recursive call.
	v := evalDoc(t, `{"var": ["x", {"var": ["y", 9]}]}`, `{}`)
	assert.Equal(t, int64(9), v.I)
}

func TestEvalLogicalShortCircuit(t *testing.T) {
	v := evalDoc(t, `{"and": [true, false, {"var": "unreached"}]}`, `{}`)
	assert.False(t, v.Truthy())

	v = evalDoc(t, `{"or": [false, 5, false]}`, `{}`)
	assert.Equal(t, int64(5), v.I)
}

func TestEvalIf(t *testing.T) {
	v := evalDoc(t, `{"if": [true, "yes", "no"]}`, `{}`)
	assert.Equal(t, "yes", v.S)

	v = evalDoc(t, `{"if": [false, "a", false, "b", "c"]}`, `{}`)
	assert.Equal(t, "c", v.S)

	v = evalDoc(t, `{"if": [false, "a"]}`, `{}`)
	assert.Equal(t, KNull, v.Kind)
}

func TestEvalTernary(t *testing.T) {
	v := evalDoc(t, `{"?:": [true, "a", "b"]}`, `{}`)
	assert.Equal(t, "a", v.S)
}

func TestEvalMapFilter(t *testing.T) {
	v := evalDoc(t, `{"map": [{"var":"xs"}, {"*": [{"var":""}, 2]}]}`, `{"xs": [1,2,3]}`)
	require.Equal(t, KArray, v.Kind)
	require.Len(t, v.A, 3)
	assert.Equal(t, int64(2), v.A[0].I)
	assert.Equal(t, int64(6), v.A[2].I)

	v = evalDoc(t, `{"filter": [{"var":"xs"}, {">": [{"var":""}, 1]}]}`, `{"xs": [1,2,3]}`)
	require.Len(t, v.A, 2)
	assert.Equal(t, int64(2), v.A[0].I)
}

func TestEvalAllSomeNone(t *testing.T) {
	assert.True(t, evalDoc(t, `{"all": [{"var":"xs"}, {">":[{"var":""},0]}]}`, `{"xs":[1,2,3]}`).Truthy())
	assert.False(t, evalDoc(t, `{"all": [{"var":"xs"}, {">":[{"var":""},1]}]}`, `{"xs":[1,2,3]}`).Truthy())
	assert.True(t, evalDoc(t, `{"some": [{"var":"xs"}, {">":[{"var":""},2]}]}`, `{"xs":[1,2,3]}`).Truthy())
	assert.True(t, evalDoc(t, `{"none": [{"var":"xs"}, {">":[{"var":""},9]}]}`, `{"xs":[1,2,3]}`).Truthy())
}

func TestEvalReduce(t *testing.T) {
	v := evalDoc(t, `{"reduce": [{"var":"xs"}, {"+": [{"var":"accumulator"}, {"var":"current"}]}, 0]}`, `{"xs":[1,2,3,4]}`)
	assert.Equal(t, int64(10), v.I)
}

func TestEvalCatSubstr(t *testing.T) {
	v := evalDoc(t, `{"cat": ["a", "b", 1]}`, `{}`)
	assert.Equal(t, "ab1", v.S)

	v = evalDoc(t, `{"substr": ["hello world", 6]}`, `{}`)
	assert.Equal(t, "world", v.S)

	v = evalDoc(t, `{"substr": ["hello world", 0, 5]}`, `{}`)
	assert.Equal(t, "hello", v.S)

	v = evalDoc(t, `{"substr": ["hello", -3]}`, `{}`)
	assert.Equal(t, "llo", v.S)
}

func TestEvalMergeIn(t *testing.T) {
	v := evalDoc(t, `{"merge": [[1,2], [3], 4]}`, `{}`)
	require.Len(t, v.A, 4)

	assert.True(t, evalDoc(t, `{"in": [2, [1,2,3]]}`, `{}`).Truthy())
	assert.True(t, evalDoc(t, `{"in": ["ell", "hello"]}`, `{}`).Truthy())
}

func TestEvalDeepNestingNoStackOverflow(t *testing.T) {
	// Build {"+": [1, {"+": [1, {"+": [1, ... 1]}]}]} 100k deep.
	const depth = 100000
	var x interface{} = 1
	for i := 0; i < depth; i++ {
		x = map[string]interface{}{"+": []interface{}{1, x}}
	}
	e, err := Parse(x)
	require.NoError(t, err)
	v, err := Eval(NewContext("deep"), &e, Null)
	require.NoError(t, err)
	assert.Equal(t, int64(depth+1), v.I)
}

func TestEvalAstVmAgreementSample(t *testing.T) {
	// A cross-check against the bytecode VM lives in bytecode_test.go;
	// this records the AST-side expectations the VM must match.
	docs := []struct {
		expr string
		data string
		want Value
	}{
		{`{"+": [1,2]}`, `{}`, Int(3)},
		{`{"==": [1, "1"]}`, `{}`, Bool(true)},
		{`{"if": [{">":[{"var":"x"},0]}, "pos", "nonpos"]}`, `{"x":-1}`, String("nonpos")},
	}
	for _, d := range docs {
		got := evalDoc(t, d.expr, d.data)
		assert.True(t, LooseEq(d.want, got), "%s -> %#v want %#v", d.expr, got, d.want)
	}
}
