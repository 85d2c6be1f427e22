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

// assertAstVmAgree is the principal cross-check of this package: for
// a given expression and data document, the iterative AST interpreter
// and the compiled bytecode VM must compute strictly equal Values.
func assertAstVmAgree(t *testing.T, exprDoc, dataDoc string) {
	t.Helper()
	e, err := Parse(parseJSONDoc(t, exprDoc))
	require.NoError(t, err, exprDoc)
	data, err := ParseJSONValue([]byte(dataDoc))
	require.NoError(t, err)

	ctx := NewContext("equivalence")

	astResult, err := Eval(ctx, &e, data)
	require.NoError(t, err, "ast eval: %s", exprDoc)

	bc, err := Compile(&e)
	require.NoError(t, err, "compile: %s", exprDoc)
	vmResult, err := bc.Run(ctx, data)
	require.NoError(t, err, "vm run: %s", exprDoc)

	assert.True(t, StrictEq(astResult, vmResult),
		"AST/VM mismatch for %s against %s: ast=%#v vm=%#v", exprDoc, dataDoc, astResult, vmResult)
}

func TestAstVmEquivalenceArithmeticAndComparison(t *testing.T) {
	docs := []string{
		`{"+": [1, 2, 3]}`,
		`{"+": [1, 2.5]}`,
		`{"-": [10, 3]}`,
		`{"-": [10]}`,
		`{"*": [2, 3, 4]}`,
		`{"/": [7, 2]}`,
		`{"/": [6, 2]}`,
		`{"%": [7, 3]}`,
		`{"min": [3, 1, 2]}`,
		`{"max": [3, 1, 2]}`,
		`{"<": [1, 2, 3]}`,
		`{"<": [1, 3, 2]}`,
		`{"<=": [1, 1, 2]}`,
		`{">": [3, 2, 1]}`,
		`{">=": [3, 3, 1]}`,
		`{"==": [1, "1"]}`,
		`{"===": [1, "1"]}`,
		`{"!=": [1, 2]}`,
		`{"!==": [1, 1.0]}`,
		`{"!": [false]}`,
		`{"!!": [0]}`,
	}
	for _, d := range docs {
		assertAstVmAgree(t, d, `{}`)
	}
}

func TestAstVmEquivalenceVars(t *testing.T) {
	docs := []struct{ expr, data string }{
		{`{"var": "a.b"}`, `{"a":{"b":5}}`},
		{`{"var": "missing"}`, `{}`},
		{`{"var": ["missing", "fallback"]}`, `{}`},
		{`{"var": ["missing", {"var": "other"}]}`, `{"other": 42}`},
		{`{"var": "arr.2"}`, `{"arr":[1,2,3]}`},
		{`{"+": [{"var":"x"}, {"var":"y"}]}`, `{"x":1,"y":2}`},
	}
	for _, d := range docs {
		assertAstVmAgree(t, d.expr, d.data)
	}
}

func TestAstVmEquivalenceLogicalAndControlFlow(t *testing.T) {
	docs := []struct{ expr, data string }{
		{`{"and": [true, true, true]}`, `{}`},
		{`{"and": [true, false, true]}`, `{}`},
		{`{"and": [1, 2, 3]}`, `{}`},
		{`{"or": [false, false, 5]}`, `{}`},
		{`{"or": [false, false, false]}`, `{}`},
		{`{"if": [true, "a", "b"]}`, `{}`},
		{`{"if": [false, "a", "b"]}`, `{}`},
		{`{"if": [false, "a", true, "b", "c"]}`, `{}`},
		{`{"if": [false, "a", false, "b", "c"]}`, `{}`},
		{`{"if": [false, "a"]}`, `{}`},
		{`{"?:": [true, "a", "b"]}`, `{}`},
		{`{"?:": [false, "a", "b"]}`, `{}`},
		{`{"and": [{">": [{"var":"x"}, 0]}, {"<": [{"var":"x"}, 10]}]}`, `{"x": 5}`},
	}
	for _, d := range docs {
		assertAstVmAgree(t, d.expr, d.data)
	}
}

func TestAstVmEquivalenceStringsAndCollections(t *testing.T) {
	docs := []struct{ expr, data string }{
		{`{"cat": ["a", "b", 1, true]}`, `{}`},
		{`{"substr": ["hello world", 6]}`, `{}`},
		{`{"substr": ["hello world", 0, 5]}`, `{}`},
		{`{"substr": ["hello", -3]}`, `{}`},
		{`{"merge": [[1,2],[3,4]]}`, `{}`},
		{`{"in": [2, [1,2,3]]}`, `{}`},
		{`{"in": ["ell", "hello"]}`, `{}`},
		{`{"map": [{"var":"xs"}, {"*": [{"var":""}, 2]}]}`, `{"xs":[1,2,3]}`},
		{`{"filter": [{"var":"xs"}, {">": [{"var":""}, 1]}]}`, `{"xs":[1,2,3]}`},
		{`{"reduce": [{"var":"xs"}, {"+": [{"var":"accumulator"}, {"var":"current"}]}, 0]}`, `{"xs":[1,2,3,4]}`},
		{`{"all": [{"var":"xs"}, {">":[{"var":""},0]}]}`, `{"xs":[1,2,3]}`},
		{`{"some": [{"var":"xs"}, {">":[{"var":""},2]}]}`, `{"xs":[1,2,3]}`},
		{`{"none": [{"var":"xs"}, {">":[{"var":""},9]}]}`, `{"xs":[1,2,3]}`},
		{`{"map": [{"var":"missing"}, {"var":""}]}`, `{}`},
		{`{"reduce": [{"var":"missing"}, {"+": [{"var":"accumulator"}, {"var":"current"}]}, 99]}`, `{}`},
	}
	for _, d := range docs {
		assertAstVmAgree(t, d.expr, d.data)
	}
}

func TestAstVmEquivalenceNestedRule(t *testing.T) {
	expr := `{
		"if": [
			{"and": [{">=": [{"var":"age"}, 18]}, {"!=": [{"var":"status"}, "banned"]}]},
			{"cat": ["eligible:", {"var":"name"}]},
			"ineligible"
		]
	}`
	assertAstVmAgree(t, expr, `{"age": 21, "status": "ok", "name": "alex"}`)
	assertAstVmAgree(t, expr, `{"age": 16, "status": "ok", "name": "sam"}`)
	assertAstVmAgree(t, expr, `{"age": 30, "status": "banned", "name": "jo"}`)
}

func TestAstVmEquivalenceLog(t *testing.T) {
	assertAstVmAgree(t, `{"log": [{"+": [1,2]}]}`, `{}`)
}

func TestCompileErrorPropagatesOnInvalidOp(t *testing.T) {
	_, err := Compile(&Expr{Op: ExprOp(200)})
	require.Error(t, err)
}
