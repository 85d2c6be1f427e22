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

// Core logging granularity.
//
// We have three ubiquitous dimensions for log records: severity,
// origin, and component. "Origin" indicates the source of the data
// that triggered the log record: the engine itself, or data a caller
// handed us. A "level" packs all three into one bit field so a single
// mask can select severities, origins, and components at once.

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/robertkrimen/otto"
)

const (
	// LogKeyOp is the record property given to the first string arg
	// passed to Log().
	LogKeyOp = "op"
)

// Logger is a simple interface to a mostly generic logging
// functionality.
type Logger interface {
	Log(level LogLevel, args ...interface{})
	Metric(name string, args ...interface{})
}

var DefaultLogger Logger = NewSimpleLogger(os.Stdout)

// BenchLogger discards everything; handy for benchmarks and tests
// that would otherwise drown in log output.
var BenchLogger Logger = NewSimpleLogger(nil)

// LogLevel is a bit field encoding severity, origin, and component.
type LogLevel uint64

const (
	// SEVMASK is the bank of severity bits.
	SEVMASK LogLevel = 0xff
	// ORIMASK is the bank of origin bits.
	ORIMASK LogLevel = 0xff00
	// COMPMASK is the bank of component bits.
	COMPMASK LogLevel = 0xffff0000
)

const (
	CRIT LogLevel = 1 << iota
	ERROR
	WARN
	POINT
	TIMER
	INFO
	DEBUG
	ABSURD

	// SYS origin means the engine itself generated the record.
	SYS
	// USR origin means the record was caused by caller-supplied data
	// (a rule expression, rule input data).
	USR
	// APP origin means an external collaborator (a repository, a
	// pluggable evaluator) caused the record.
	APP
	// METRIC is a metric emission.
	METRIC

	_
	_
	_
	_

	// MISC is the catch-all component.
	MISC
	// PARSE is for core/parser.go.
	PARSE
	// INTERP is for the iterative AST interpreter.
	INTERP
	// VM is for the bytecode compiler and stack machine.
	VM
	// CACHE is for the tiered rule cache.
	CACHE
	// DAG is for the dependency graph builder and scheduler.
	DAG
	// EXEC is for the executor that drives one evaluation.
	EXEC
	// STORAGE is for repository implementations.
	STORAGE
	// EVAL is for pluggable evaluator dispatch.
	EVAL
)

func getCoreLogLevel(level LogLevel) string {
	switch level & SEVMASK {
	case CRIT:
		return "crit"
	case ERROR:
		return "error"
	case WARN:
		return "warn"
	case POINT:
		return "point"
	case TIMER:
		return "timer"
	case INFO:
		return "info"
	case DEBUG:
		return "debug"
	case ABSURD:
		return "absurd"
	default:
		return "unknown"
	}
}

func getLogOrigin(level LogLevel) string {
	switch level & ORIMASK {
	case APP:
		return "app"
	case SYS:
		return "sys"
	case USR:
		return "usr"
	default:
		return "unknown"
	}
}

func getLogComponent(level LogLevel) string {
	switch level & COMPMASK {
	case MISC:
		return "misc"
	case PARSE:
		return "parse"
	case INTERP:
		return "interp"
	case VM:
		return "vm"
	case CACHE:
		return "cache"
	case DAG:
		return "dag"
	case EXEC:
		return "exec"
	case STORAGE:
		return "storage"
	case EVAL:
		return "eval"
	default:
		return "unknown"
	}
}

const (
	ANYSEV  = SEVMASK
	ANYORI  = ORIMASK
	ANYCOMP = COMPMASK

	// NOTHING results in no logs.
	NOTHING LogLevel = 0x0
	// EVERYTHING results in logging everything.
	EVERYTHING LogLevel = ^NOTHING

	UERR  = ERROR | USR
	APERR = ERROR | APP

	ANYINFO = TIMER | CRIT | ERROR | WARN | INFO | ANYORI | ANYCOMP
	ANYWARN = CRIT | ERROR | WARN | ANYORI | ANYCOMP
)

// ParseVerbosity parses a log mask expression. It evaluates the
// string as Javascript with the level constants bound, so
// "ERROR|APP" and "0xff00" both work. The empty string means
// EVERYTHING.
func ParseVerbosity(s string) (LogLevel, error) {
	if s == "" {
		s = "EVERYTHING"
	}

	js := otto.New()
	js.Set("CRIT", CRIT)
	js.Set("ERROR", ERROR)
	js.Set("WARN", WARN)
	js.Set("POINT", POINT)
	js.Set("TIMER", TIMER)
	js.Set("INFO", INFO)
	js.Set("DEBUG", DEBUG)
	js.Set("ABSURD", ABSURD)
	js.Set("SYS", SYS)
	js.Set("USR", USR)
	js.Set("APP", APP)
	js.Set("MISC", MISC)
	js.Set("PARSE", PARSE)
	js.Set("INTERP", INTERP)
	js.Set("VM", VM)
	js.Set("CACHE", CACHE)
	js.Set("DAG", DAG)
	js.Set("EXEC", EXEC)
	js.Set("STORAGE", STORAGE)
	js.Set("EVAL", EVAL)
	js.Set("NOTHING", NOTHING)
	js.Set("EVERYTHING", EVERYTHING)
	js.Set("UERR", UERR)
	js.Set("APERR", APERR)
	js.Set("ANYSEV", ANYSEV)
	js.Set("ANYORI", ANYORI)
	js.Set("ANYCOMP", ANYCOMP)
	js.Set("ANYINFO", ANYINFO)
	js.Set("ANYWARN", ANYWARN)

	v, err := js.Run(s)
	if err != nil {
		return NOTHING, err
	}
	exported, err := v.Export()
	if err != nil {
		return NOTHING, err
	}
	switch n := exported.(type) {
	case float64:
		return LogLevel(n), nil
	case int32:
		return LogLevel(n), nil
	case int64:
		return LogLevel(n), nil
	case uint64:
		return LogLevel(n), nil
	default:
		return NOTHING, fmt.Errorf("can't handle verbosity of type %T", exported)
	}
}

// defaultLogFields makes sure at least one bit is set in each of
// SEVMASK, ORIMASK, COMPMASK.
func defaultLogFields(n LogLevel) LogLevel {
	if 0 == SEVMASK&n {
		n = n | DEBUG
	}
	if 0 == ORIMASK&n {
		n = n | SYS
	}
	if 0 == COMPMASK&n {
		n = n | MISC
	}
	return n
}

func getVerbosity(ctx *Context) LogLevel {
	verbosity := EVERYTHING
	if ctx != nil && ctx.Verbosity != NOTHING {
		verbosity = ctx.Verbosity
	}
	return verbosity
}

func loggable(ctx *Context, level LogLevel) bool {
	return loggableFor(level, getVerbosity(ctx))
}

func loggableFor(level LogLevel, given LogLevel) bool {
	vl := given & level
	return 0 < SEVMASK&vl && 0 < ORIMASK&vl && 0 < COMPMASK&vl
}

func abbreviateCodepath(path string) string {
	if i := strings.LastIndex(path, "/ruleengine/"); 0 <= i {
		return path[i+len("/ruleengine/"):]
	}
	return path
}

func getCallerLine(n int) string {
	_, file, line, ok := runtime.Caller(n)
	if !ok {
		return "?"
	}
	return abbreviateCodepath(file) + ":" + strconv.Itoa(line)
}

// Log is the top-level logging entry point.
//
// args should have an odd count: the first is the name of the
// calling operation, the rest are key/value pairs. If ctx's verbosity
// excludes level, the call is a no-op; a nil ctx, or a zero Verbosity,
// admits every level.
func Log(level LogLevel, ctx *Context, args ...interface{}) {
	level = defaultLogFields(level)
	if !loggable(ctx, level) {
		return
	}

	more := make([]interface{}, 0, len(args)+8)
	more = append(more, LogKeyOp)
	more = append(more, args...)
	more = append(more,
		"corelev", getCoreLogLevel(level),
		"origin", getLogOrigin(level),
		"comp", getLogComponent(level),
		"_at", getCallerLine(3))
	args = more

	logger := DefaultLogger
	if ctx != nil && ctx.Logger != nil {
		logger = ctx.Logger
	}

	metricKey, ok := args[1].(string)
	if !ok {
		metricKey = fmt.Sprintf("%v", args[1])
	}
	if level&METRIC == METRIC {
		logger.Metric(metricKey, args[2:]...)
	} else {
		logger.Log(level, args...)
	}
}

// Metric logs at METRIC severity.
func Metric(ctx *Context, args ...interface{}) {
	Log(METRIC, ctx, args...)
}

// MakeLogRecord turns Log()'s varargs into a map, for loggers (or
// tests) that want structured data instead of a formatted line.
func MakeLogRecord(args []interface{}) map[string]interface{} {
	rec := make(map[string]interface{})
	n := len(args)
	for i := 0; i < n; i += 2 {
		var key string
		var val interface{}
		if i+1 < n {
			val = args[i+1]
		}
		switch s := args[i].(type) {
		case string:
			key = s
		default:
			key = fmt.Sprintf("%v", args[i])
		}
		rec[key] = val
	}
	return rec
}
