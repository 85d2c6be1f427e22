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
	"fmt"
	"regexp"
	"time"
)

// Config holds the process-wide tunables constructed once at
// startup. Per spec.md section 9, the promotion threshold and any
// default limits for pluggable evaluators are the only process-wide
// settings this engine has; the core never reads environment
// variables directly to get them (that's config/'s job, outside the
// core).
type Config struct {
	// PromotionThreshold is the eval_count at which a rule is
	// promoted from the Ast tier to the Bytecode tier.
	PromotionThreshold uint64

	// MaxCacheEntries is carried from configuration for callers that
	// wrap the rule cache in a bounded layer; RuleCache itself does
	// not read it and is unbounded.
	MaxCacheEntries int
}

// Defaults fills in the handful of settings the engine needs to run
// at all.
func (c *Config) Defaults() *Config {
	c.PromotionThreshold = DefaultPromotionThreshold
	c.MaxCacheEntries = 0
	return c
}

func DefaultConfig() *Config {
	return (&Config{}).Defaults()
}

// Control represents ephemeral, process-specific control options that
// can be changed (hopefully atomically) at will. Unlike Config, these
// are never persisted.
type Control struct {
	// NoTiming turns off per-rule/per-level timer logging.
	NoTiming bool

	// Verbosity controls what's logged. See ParseVerbosity.
	Verbosity LogLevel

	// Logging names the log format: "CSV" (one-line JSON via the
	// external logger, not comma-separated values), "pretty", or
	// "none". Nothing in core reads it; Log always hands records to the
	// Context's Logger or to DefaultLogger.
	Logging string

	// CacheTTL is a cache-entry lifetime loaded from configuration.
	// Neither RuleCache nor storage/hybrid reads it; entries there
	// are kept until removed or evicted by size.
	CacheTTL Duration

	// EvaluationDeadline is a per-evaluation timeout loaded from
	// configuration for an external caller to enforce. Executor.Run
	// does not read it and runs every level to completion.
	EvaluationDeadline Duration

	// ScriptTimeout bounds how long a pluggable "script" evaluator
	// (evaluator package, built on otto) may run before it is
	// aborted.
	ScriptTimeout Duration

	// ScriptLibraries are named snippets of Javascript source, keyed
	// by library name. The script evaluator does not load them.
	ScriptLibraries map[string]string

	// ScriptProps are miscellaneous values for scripts. The script
	// evaluator does not bind them into its global scope.
	ScriptProps map[string]interface{}
}

// Duration allows us to parse strings (or bare integers, taken as
// nanoseconds) into durations.
type Duration time.Duration

// UnmarshalJSON parses a string into a Duration. Double quotes are
// stripped; a string of all digits is nanoseconds; anything else is
// parsed via time.ParseDuration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if matched, _ := regexp.Match(`^".*"$`, data); matched {
		data = data[1 : len(data)-1]
	}
	if matched, _ := regexp.Match(`^\d+$`, data); matched {
		data = []byte(fmt.Sprintf("%sns", data))
	}
	x, err := time.ParseDuration(string(data))
	if err != nil {
		Log(ERROR, nil, "Duration.UnmarshalJSON", "data", string(data))
		return err
	}
	*d = Duration(x)
	return nil
}

// Defaults sets up reasonable values for a fresh Control.
func (c *Control) Defaults() *Control {
	c.NoTiming = false
	c.Verbosity = EVERYTHING
	c.Logging = "CSV"
	c.ScriptTimeout = Duration(2 * time.Second)
	return c
}

// DefaultControl makes a Control using Control.Defaults().
func DefaultControl() *Control {
	return (&Control{}).Defaults()
}

// Copy makes a shallow copy.
func (c *Control) Copy() *Control {
	target := *c
	return &target
}
