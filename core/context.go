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

// Context is threaded through nearly every function in this package.
// It carries the logger and verbosity mask a call should use, plus an
// id for correlating the log lines a single parse, compile, or
// evaluation emits. It is not safe for concurrent mutation, but a
// *Context is normally created fresh (or cloned) per request and
// handed down a call chain read-only.
type Context struct {
	// Id identifies this Context's unit of work (an evaluation, a
	// compile) in log output. Not required to be globally unique;
	// UUID() is a reasonable source when it matters.
	Id string

	// Logger receives this Context's log records. If nil, Log() falls
	// back to DefaultLogger.
	Logger Logger

	// Verbosity masks which records Log() actually emits. NOTHING
	// means "use EVERYTHING" (see getVerbosity); set it explicitly to
	// quiet a Context down.
	Verbosity LogLevel

	// Control optionally carries the process's current runtime
	// settings (see control.go). Timer consults Control.NoTiming; a
	// nil Control means timing is enabled.
	Control *Control
}

// NewContext makes a Context with the given id and the package's
// default logger and verbosity.
func NewContext(id string) *Context {
	return &Context{
		Id:        id,
		Logger:    DefaultLogger,
		Verbosity: EVERYTHING,
	}
}

// Copy makes a shallow copy of the Context, useful when a callee wants
// to adjust verbosity or logger without affecting its caller.
func (c *Context) Copy() *Context {
	if c == nil {
		return NewContext(UUID())
	}
	target := *c
	return &target
}
