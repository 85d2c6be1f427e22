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
	"log"
	"os"
	"reflect"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"
)

// ParseJSON parses a map from bytes.
func ParseJSON(ctx *Context, bs []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	err := json.Unmarshal(bs, &m)
	if err != nil {
		err = NewParseError(InvalidStructure, err.Error())
		Log(UERR|PARSE, ctx, "core.ParseJSON", "error", err, "bs", string(bs))
	}
	return m, err
}

// StringSet represents a set of strings. Not synchronized.
//
// Used throughout the DAG and rule validator: the set of declared
// inputs, the set of externally provided paths, the set of reachable
// attributes during impact analysis.
type StringSet map[string]struct{}

var setMember = struct{}{}

// NewStringSet does what you'd expect.
func NewStringSet(xs []string) StringSet {
	ss := make(StringSet, len(xs))
	for _, x := range xs {
		ss.Add(x)
	}
	return ss
}

// Add adds the given string to the set.
func (s StringSet) Add(x string) StringSet {
	s[x] = setMember
	return s
}

// Rem removes the given string from the set.
func (s StringSet) Rem(x string) StringSet {
	delete(s, x)
	return s
}

// Contains reports whether the given string is in the set.
func (s StringSet) Contains(x string) bool {
	_, have := s[x]
	return have
}

// Array returns the set's elements as a slice, in no particular
// order.
func (s StringSet) Array() []string {
	acc := make([]string, 0, len(s))
	for x := range s {
		acc = append(acc, x)
	}
	return acc
}

// Now returns the current time in UTC nanoseconds.
func Now() int64 {
	return time.Now().UTC().UnixNano()
}

// Timestamp renders t in UTC RFC3339Nano.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// IncCounterBase is the state for IncCounter().
var IncCounterBase = uint64(0)

// IncCounter safely returns an increasing int; used to mint
// human-debuggable sequence numbers (not rule ids, which are UUIDs).
func IncCounter() uint64 {
	return atomic.AddUint64(&IncCounterBase, uint64(1))
}

// Inc atomically updates the given counter. (CompiledRule's
// eval_count calls atomic.AddUint64 directly, not Inc.)
func Inc(p *uint64, d int64) {
	atomic.AddUint64(p, uint64(d))
}

// CheckErr logs an error if any. Useful in goroutines or other places
// where there's no caller left to hand the error to.
func CheckErr(ctx *Context, op string, err error) {
	if err != nil {
		Log(ERROR, ctx, op, "error", err)
	}
}

// UUID generates a version-4 UUID from bytes read from /dev/urandom.
var randSource *os.File

func init() {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		log.Fatal(err)
	}
	randSource = f
}

func UUID() string {
	b := make([]byte, 16)
	randSource.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// Gorep returns a string that represents the given thing in Go --
// except for plain strings. Used to homogenize log property types.
func Gorep(x interface{}) string {
	if s, ok := x.(string); ok {
		return s
	}
	return fmt.Sprintf("%#v", x)
}

// UseCores will use all cores unless the environment variable
// GOMAXPROCS is set.
func UseCores(ctx *Context, silent bool) {
	cores := os.Getenv("GOMAXPROCS")
	if cores == "" {
		n := runtime.NumCPU()
		if !silent {
			Log(INFO, ctx, "UseCores", "cores", n, "from", "NumCPU")
		}
		runtime.GOMAXPROCS(n)
	} else if !silent {
		Log(INFO, ctx, "UseCores", "cores", cores, "from", "env")
	}
}

// StructToMap converts a struct (or pointer to one) to a map, field
// name to field value.
func StructToMap(x interface{}) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("not a struct (%T)", v)
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		m[t.Field(i).Name] = v.Field(i).Interface()
	}
	return m, nil
}

// CoerceFakeFloats turns whole-valued float64s back into ints when
// possible. JSON numbers all decode as float64; a millisecond
// timestamp like 1416505007395 otherwise prints as 1.416505007395e+12.
func CoerceFakeFloats(x interface{}) interface{} {
	switch v := x.(type) {
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
	case map[string]interface{}:
		for p, val := range v {
			v[p] = CoerceFakeFloats(val)
		}
	case []interface{}:
		for i, val := range v {
			v[i] = CoerceFakeFloats(val)
		}
	}
	return x
}

// Profile starts CPU and memory profiling and returns a function that
// stops it. Usage: defer Profile("eval.prof")()
func Profile(filename string) func() {
	cpu, err := os.Create("cpu" + filename)
	if err != nil {
		panic(err)
	}
	mem, err := os.Create("mem" + filename)
	if err != nil {
		panic(err)
	}
	then := time.Now()
	log.Printf("Profile starting %s\n", filename)
	pprof.StartCPUProfile(cpu)

	return func() {
		elapsed := time.Since(then)
		log.Printf("Profile stopping %s (elapsed %v)\n", filename, elapsed)
		pprof.StopCPUProfile()
		pprof.WriteHeapProfile(mem)
		if err := mem.Close(); err != nil {
			log.Printf("error closing mem profile (%v)", err)
		}
	}
}

// ISlice attempts to convert the given thing to a []interface{} via
// reflection. If it isn't a slice, the original value is returned.
func ISlice(xs interface{}) (interface{}, bool) {
	v := reflect.ValueOf(xs)
	if v.Kind() == reflect.Slice {
		acc := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			acc[i] = v.Index(i).Interface()
		}
		return acc, true
	}
	return xs, false
}
