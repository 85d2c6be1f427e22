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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseJSONDoc(t *testing.T, s string) interface{} {
	var x interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &x))
	return x
}

func TestParseLiterals(t *testing.T) {
	for _, doc := range []string{`null`, `true`, `false`, `1`, `1.5`, `"hi"`, `[1,2,3]`} {
		e, err := Parse(parseJSONDoc(t, doc))
		assert.NoError(t, err, doc)
		assert.Equal(t, OpLiteral, e.Op, doc)
	}
}

func TestParseVarShapes(t *testing.T) {
	e, err := Parse(parseJSONDoc(t, `{"var": "a.b"}`))
	require.NoError(t, err)
	assert.Equal(t, "a.b", e.Var.Path)

	e, err = Parse(parseJSONDoc(t, `{"var": ["a.b", 42]}`))
	require.NoError(t, err)
	assert.Equal(t, "a.b", e.Var.Path)
	require.NotNil(t, e.Var.Default)
	assert.Equal(t, int64(42), e.Var.Default.Lit.I)

	e, err = Parse(parseJSONDoc(t, `{"var": ""}`))
	require.NoError(t, err)
	assert.Equal(t, "", e.Var.Path)

	_, err = Parse(parseJSONDoc(t, `{"var": {}}`))
	assert.Error(t, err)

	_, err = Parse(parseJSONDoc(t, `{"var": ["a", "b", "c"]}`))
	assert.Error(t, err)
}

func TestParseUnknownOperation(t *testing.T) {
	_, err := Parse(parseJSONDoc(t, `{"frobnicate": [1,2]}`))
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, UnknownOperation, pe.Kind)
}

func TestParseArityViolations(t *testing.T) {
	cases := []string{
		`{"!": [1,2]}`,
		`{"/": [1]}`,
		`{"substr": [1]}`,
		`{"missing_some": [1]}`,
		`{"?:": [1,2]}`,
	}
	for _, doc := range cases {
		_, err := Parse(parseJSONDoc(t, doc))
		require.Error(t, err, doc)
		pe, ok := err.(*ParseError)
		require.True(t, ok, doc)
		assert.Equal(t, InvalidArgumentCount, pe.Kind, doc)
	}
}

func TestParseArgumentNormalization(t *testing.T) {
	e, err := Parse(parseJSONDoc(t, `{"!": true}`))
	require.NoError(t, err)
	assert.Equal(t, OpNot, e.Op)
	assert.Len(t, e.Args, 1)
}

func TestParseNestedArithmetic(t *testing.T) {
	e, err := Parse(parseJSONDoc(t, `{"*": [{"var": "x"}, 2]}`))
	require.NoError(t, err)
	assert.Equal(t, OpMul, e.Op)
	assert.Equal(t, OpVar, e.Args[0].Op)
	assert.Equal(t, OpLiteral, e.Args[1].Op)
}

func TestParseMultiKeyObjectIsLiteral(t *testing.T) {
	e, err := Parse(parseJSONDoc(t, `{"a": 1, "b": 2}`))
	require.NoError(t, err)
	assert.Equal(t, OpLiteral, e.Op)
	assert.Equal(t, KObject, e.Lit.Kind)
}

func TestParseSubstrOptionalLength(t *testing.T) {
	e, err := Parse(parseJSONDoc(t, `{"substr": [{"var":"s"}, 0, 3]}`))
	require.NoError(t, err)
	assert.True(t, e.HasN)

	e, err = Parse(parseJSONDoc(t, `{"substr": [{"var":"s"}, 0]}`))
	require.NoError(t, err)
	assert.False(t, e.HasN)
}
