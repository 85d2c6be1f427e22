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
)

func fromJSON(s string) map[string]interface{} {
	got, err := ParseJSON(nil, []byte(s))
	if err != nil {
		panic(err)
	}
	return got
}

func toJSON(m map[string]interface{}) string {
	js, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(js)
}

func TestStringSet(t *testing.T) {
	s := NewStringSet([]string{"a", "b", "a"})
	if len(s) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(s))
	}
	if !s.Contains("a") || !s.Contains("b") {
		t.Fatal("missing expected member")
	}
	s.Rem("a")
	if s.Contains("a") {
		t.Fatal("Rem did not remove")
	}
}

func TestStructToMap(t *testing.T) {
	x := DefaultConfig()
	m, err := StructToMap(x)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) == 0 {
		t.Fatalf("unexpected length %d", len(m))
	}
}

func TestCoerceFakeFloats(t *testing.T) {
	cases := []struct {
		in       interface{}
		wantInt  bool
	}{
		{float64(42), true},
		{float64(1439476057719), true},
		{1.23e+12 + 0.5, false},
	}
	for _, c := range cases {
		got := CoerceFakeFloats(c.in)
		_, isInt := got.(int64)
		if isInt != c.wantInt {
			t.Fatalf("CoerceFakeFloats(%v) = %#v (int64=%v), want int64=%v", c.in, got, isInt, c.wantInt)
		}
	}
}

func TestUseCores(t *testing.T) {
	UseCores(nil, true)
}

func TestUUIDUnique(t *testing.T) {
	a := UUID()
	b := UUID()
	if a == b {
		t.Fatalf("expected distinct UUIDs, got %q twice", a)
	}
}

func BenchmarkIncCounter(b *testing.B) {
	for i := 0; i < b.N; i++ {
		IncCounter()
	}
}

func BenchmarkUUID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		UUID()
	}
}
