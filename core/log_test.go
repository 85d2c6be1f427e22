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
	"io/ioutil"
	"testing"
)

func TestLog(t *testing.T) {
	ctx := NewContext("test")
	ctx.Verbosity = ABSURD
	Log(INFO, ctx, "TestLog", "x", 1, "y", "two", "z", struct{}{},
		"nil", nil,
		"fact", map[string]interface{}{"a": "1"})
}

func TestLogNilContext(t *testing.T) {
	Log(INFO, nil, "TestLogNilContext", "x", 1)
}

func TestLogMask(t *testing.T) {
	ctx := NewContext("test")
	ctx.Verbosity = ERROR | SYS | MISC
	if loggable(ctx, INFO|SYS|MISC) {
		t.Fatal("INFO should not be loggable under an ERROR-only mask")
	}
	if !loggable(ctx, ERROR|SYS|MISC) {
		t.Fatal("ERROR should be loggable under an ERROR mask")
	}
}

func TestMakeLogRecord(t *testing.T) {
	rec := MakeLogRecord([]interface{}{"op", "Test", "x", 1, "y"})
	if rec["op"] != "Test" || rec["x"] != 1 {
		t.Fatalf("unexpected record %#v", rec)
	}
	if v, have := rec["y"]; !have || v != nil {
		t.Fatalf("expected dangling key to map to nil, got %#v", v)
	}
}

func BenchmarkLogBasic(b *testing.B) {
	ctx := NewContext("test")
	ctx.Verbosity = ABSURD
	a := []interface{}{1, 2}
	s := struct{}{}
	m := map[string]interface{}{"foo": "bar"}
	for i := 0; i < b.N; i++ {
		Log(INFO, ctx, "BenchmarkLog", "one", 1, "two", "two",
			"struct", s,
			"array", a,
			"three", 3.0,
			"map", m)
	}
}

func benchmarkLogger(b *testing.B, logger Logger) {
	a := []interface{}{1, 2}
	s := struct{}{}
	m := map[string]interface{}{"foo": "bar"}
	for i := 0; i < b.N; i++ {
		logger.Log(ERROR,
			"op", "BenchmarkLogExternal", "one", 1, "two", "two",
			"struct", s,
			"array", a,
			"three", 3.0,
			"map", m)
	}
}

func BenchmarkLogSimple(b *testing.B) {
	benchmarkLogger(b, NewSimpleLogger(ioutil.Discard))
}

func TestLogParseVerbosity(t *testing.T) {
	n, err := ParseVerbosity("ERROR|SYS")
	if err != nil {
		t.Fatal(err)
	}
	if n != ERROR|SYS {
		t.Fatalf("ERROR|SYS %0x != %0x", ERROR|SYS, n)
	}
}

func TestLogParseVerbosityEmpty(t *testing.T) {
	n, err := ParseVerbosity("")
	if err != nil {
		t.Fatal(err)
	}
	if n != EVERYTHING {
		t.Fatalf("empty verbosity should mean EVERYTHING, got %0x", n)
	}
}
