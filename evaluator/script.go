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

// Package evaluator implements the "script" pluggable rule tier: a
// rule whose RuleType is "script" carries a small Javascript program
// (run under otto) instead of a JSON-Logic expression. Dispatch to
// this package happens in core.Executor before the bytecode cache is
// ever consulted, per spec.md section 9 and section 6's "Evaluator
// capability" interface.
//
// Grounded on Comcast-rulio's core/javascript.go (RunJavascript):
// that file compiles and runs otto scripts with a large bespoke
// environment exposing rulio's own fact/rule/event API (AddFact,
// ProcessEvent, Search, ...). None of that API exists in this engine,
// so the environment here is cut down to what a JSON-Logic rule
// author actually needs from a scripted escape hatch: the rule's
// inputs as plain values and a place to write outputs, plus a timeout
// the same way rulio bounds RunJavascript with ctx.Control.ScriptTimeout.
//
// A misbehaving script (one that errors or times out repeatedly) is
// expensive to keep retrying: each attempt spins up a fresh otto
// runtime and, under a timeout, a goroutine to watch it. core's own
// core.OutboundBreaker (Comcast-rulio's core/breaker.go, carried over
// unmodified) guards against that the same way rulio uses a breaker
// to cap its own outbound rate: too many script failures in a short
// interval opens the breaker and further calls fail fast instead of
// running otto again.
package evaluator

import (
	"fmt"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/productfarm/ruleengine/core"
)

// scriptFailureLimit and scriptFailureInterval bound how many script
// failures (error or timeout) ScriptEvaluator tolerates before its
// breaker opens and further scripts fail fast.
const (
	scriptFailureLimit    = 5
	scriptFailureInterval = 10 * time.Second
)

// ScriptEvaluator runs otto Javascript programs for rules tagged
// "script". It implements core.Evaluator.
type ScriptEvaluator struct {
	// DefaultTimeout bounds a script's run time when the invoking
	// Context carries no Control.ScriptTimeout override. Zero means
	// no timeout, mirroring rulio's "negative means no timeout"
	// convention (see core/javascript.go's RunJavascript), except we
	// use the zero value since this field isn't a core.Duration.
	DefaultTimeout time.Duration

	// breaker opens once scriptFailureLimit scripts have failed within
	// scriptFailureInterval, so a rule author's broken script can't
	// make every evaluator call pay for a fresh otto runtime.
	breaker *core.OutboundBreaker
}

// NewScriptEvaluator builds a ScriptEvaluator with the given default
// per-script timeout.
func NewScriptEvaluator(defaultTimeout time.Duration) *ScriptEvaluator {
	breaker, err := core.NewOutboundBreaker(scriptFailureLimit, scriptFailureInterval)
	if err != nil {
		// Only NewOutboundBreaker's own constant arguments could make
		// this fail, so a failure here is a programming error.
		panic(err)
	}
	return &ScriptEvaluator{DefaultTimeout: defaultTimeout, breaker: breaker}
}

// Evaluate compiles and runs the script named by config["expression"]
// (the rule's ExpressionJson field, carrying raw Javascript source
// rather than JSON-Logic for "script"-tagged rules) against inputs,
// binding each input path as a Javascript global under "inputs", and
// reads back each declared output from the script's returned object
// (any other return value, bare or an object whose keys are not
// exactly the outputs, goes whole to every declared output).
func (se *ScriptEvaluator) Evaluate(ctx *core.Context, config core.EvaluatorConfig, inputs map[string]core.Value, outputs []string) (map[string]core.Value, error) {
	timer := core.NewTimer(ctx, "evaluator.ScriptEvaluator.Evaluate")
	defer timer.Stop()

	if status := se.breaker.Status(); !status.Closed {
		return nil, fmt.Errorf("evaluator.ScriptEvaluator: breaker open after repeated script failures (load %.2f)", status.Load)
	}

	src, ok := config["expression"].(string)
	if !ok {
		return nil, fmt.Errorf("evaluator.ScriptEvaluator: config has no string \"expression\"")
	}

	runtime := otto.New()

	inputObj := make(map[string]interface{}, len(inputs))
	for path, v := range inputs {
		inputObj[path] = v.ToJSON()
	}
	if err := runtime.Set("inputs", inputObj); err != nil {
		return nil, fmt.Errorf("evaluator.ScriptEvaluator: binding inputs: %s", err)
	}

	timeout := se.DefaultTimeout
	if ctx != nil && ctx.Control != nil && ctx.Control.ScriptTimeout != 0 {
		timeout = time.Duration(ctx.Control.ScriptTimeout)
	}

	// Halting a running otto program works only via its Interrupt
	// channel (see https://github.com/robertkrimen/otto#halting-problem,
	// the same mechanism core/javascript.go's RunJavascript uses): a
	// goroutine deadline alone would leave the script running forever
	// in the background on an infinite loop.
	value, err := se.run(ctx, runtime, src, timeout)
	if err != nil {
		se.breaker.Zap()
		return nil, err
	}

	exported, err := value.Export()
	if err != nil {
		se.breaker.Zap()
		return nil, fmt.Errorf("evaluator.ScriptEvaluator: exporting result: %s", err)
	}

	return splitOutputs(outputs, exported), nil
}

// halt is the sentinel panic value a timed-out script's Interrupt
// hook throws, mirroring core/javascript.go's package-level Halt.
var halt = fmt.Errorf("evaluator: script halted on timeout")

// run executes src on runtime, aborting it after timeout (a
// non-positive timeout means no limit) by arranging for otto itself
// to panic with halt from inside the running script, the only
// supported way to interrupt otto mid-execution.
func (se *ScriptEvaluator) run(ctx *core.Context, runtime *otto.Otto, src string, timeout time.Duration) (value otto.Value, err error) {
	if timeout > 0 {
		runtime.Interrupt = make(chan func(), 1)
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-time.After(timeout):
				runtime.Interrupt <- func() { panic(halt) }
			case <-stop:
			}
		}()
	}

	defer func() {
		if caught := recover(); caught != nil {
			if caught == halt {
				core.Log(core.WARN, ctx, "evaluator.ScriptEvaluator.run", "timedout", timeout)
				err = fmt.Errorf("evaluator.ScriptEvaluator: script exceeded timeout %s", timeout)
				return
			}
			err = fmt.Errorf("evaluator.ScriptEvaluator: panic: %v", caught)
		}
	}()

	value, err = runtime.Run(src)
	if err != nil {
		core.Log(core.WARN, ctx, "evaluator.ScriptEvaluator.run", "error", err)
	}
	return value, err
}

// splitOutputs applies the same "object keyed by output paths splits,
// otherwise the value broadcasts" convention core/executor.go's
// assignOutputs uses for the built-in tier, so a script evaluator
// behaves consistently with a JSON-Logic one from the executor's
// point of view.
func splitOutputs(outputs []string, exported interface{}) map[string]core.Value {
	result := make(map[string]core.Value, len(outputs))
	if m, ok := exported.(map[string]interface{}); ok {
		allPresent := true
		for _, o := range outputs {
			if _, have := m[o]; !have {
				allPresent = false
				break
			}
		}
		if allPresent && len(outputs) > 0 && len(m) == len(outputs) {
			for _, o := range outputs {
				result[o] = core.FromJSON(m[o])
			}
			return result
		}
	}
	v := core.FromJSON(exported)
	for _, o := range outputs {
		result[o] = v
	}
	return result
}
