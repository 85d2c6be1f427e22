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
	"time"
)

// RuleResult records the outcome of evaluating a single rule within a
// run: which outputs it produced (if any), how long it took, and
// whether it succeeded. A failed rule carries Error but never halts
// its siblings or downstream rules — see Executor.Run.
type RuleResult struct {
	RuleId   RuleId
	Outputs  map[string]Value
	Duration time.Duration
	Success  bool
	Error    string
}

// ExecutionContext accumulates one run's state: the immutable external
// inputs, the append-only map of values computed so far, and a log of
// per-rule results and per-level timings. Created fresh per run,
// returned to the caller, never mutated concurrently — levels run
// sequentially; only rules within a level may run concurrently, and
// they never write the same output key (RuleDag guarantees unique
// producers), so concurrent writes into Computed never race on a key.
type ExecutionContext struct {
	Inputs       map[string]Value
	Computed     map[string]Value
	RuleResults  []RuleResult
	LevelTimings []time.Duration
}

func newExecutionContext(inputs map[string]Value) *ExecutionContext {
	return &ExecutionContext{
		Inputs:   inputs,
		Computed: make(map[string]Value),
	}
}

// snapshot builds the per-rule Value::Object data root a rule's
// expression evaluates against: the union of external inputs and
// everything computed by earlier levels in this run.
func (ec *ExecutionContext) snapshot() Value {
	obj := NewObject()
	for k, v := range ec.Inputs {
		obj.Set(k, v)
	}
	for k, v := range ec.Computed {
		obj.Set(k, v)
	}
	return obj
}

// ExecutionResult is the full, structured outcome of one Executor.Run:
// the final context, every rule's individual result, the level
// partitioning that was followed, the total wall time, and whether
// every rule succeeded.
type ExecutionResult struct {
	Context     *ExecutionContext
	RuleResults []RuleResult
	Levels      [][]RuleId
	TotalTime   time.Duration
	Success     bool
}

// allSucceeded reports whether every RuleResult in results succeeded.
// An empty result set (no rules in the DAG) counts as success.
func allSucceeded(results []RuleResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// RuleSource resolves a RuleId to the Rule and parsed Expr an Executor
// needs to run it. Kept as an interface so an Executor doesn't need to
// know whether rules live in memory, in a RuleRepository, or both.
type RuleSource interface {
	Rule(id RuleId) (*Rule, bool)
	Expr(id RuleId) (Expr, error)
}

// Executor drives a RuleDag level by level, delegating each rule's
// evaluation to a RuleCache (so hot rules run compiled) and folding
// its outputs into the run's ExecutionContext. A rule's failure is
// recorded but never stops its siblings or any downstream rule from
// attempting to run — per-rule isolation is the point: one malformed
// expression should not take down an entire evaluation.
type Executor struct {
	Dag    *RuleDag
	Cache  *RuleCache
	Source RuleSource

	// Evaluators dispatches a rule whose RuleType is not
	// JSONLogicRuleType to a pluggable capability (a scripting
	// evaluator, an LLM-backed one) instead of the bytecode cache.
	// A rule tagged for an evaluator with no matching entry here
	// fails with a recorded error rather than falling through to the
	// JSON-Logic path silently.
	Evaluators map[string]Evaluator
}

// NewExecutor builds an Executor over dag, evaluating rules resolved
// from source and cached (and tier-promoted) in cache.
func NewExecutor(dag *RuleDag, cache *RuleCache, source RuleSource) *Executor {
	return &Executor{Dag: dag, Cache: cache, Source: source}
}

// Run evaluates every rule in the DAG, level by level, against
// inputs, and returns the accumulated ExecutionResult. Rules within a
// level have no dependency on one another (by construction) and are
// evaluated sequentially here; the DAG's unique-producer invariant is
// what would make a concurrent per-level evaluation safe, should a
// caller want to add that without changing this function's contract.
func (ex *Executor) Run(ctx *Context, inputs map[string]Value) *ExecutionResult {
	runTimer := NewTimer(ctx, "core.Executor.Run")
	ec := newExecutionContext(inputs)
	stages := ex.Dag.Stages()
	levels := make([][]RuleId, len(stages))

	for lvl, ruleIds := range stages {
		levels[lvl] = ruleIds
		levelTimer := NewTimer(ctx, "core.Executor.level")
		for _, id := range ruleIds {
			ex.runOne(ctx, ec, id)
		}
		levelElapsed := time.Duration(levelTimer.Stop())
		ec.LevelTimings = append(ec.LevelTimings, levelElapsed)
	}

	return &ExecutionResult{
		Context:     ec,
		RuleResults: ec.RuleResults,
		Levels:      levels,
		TotalTime:   time.Duration(runTimer.Stop()),
		Success:     allSucceeded(ec.RuleResults),
	}
}

func (ex *Executor) runOne(ctx *Context, ec *ExecutionContext, id RuleId) {
	ruleTimer := NewTimer(ctx, "core.Executor.rule")
	result := RuleResult{RuleId: id}

	rule, have := ex.Source.Rule(id)
	if !have {
		result.Error = "unknown rule id"
		result.Duration = time.Duration(ruleTimer.Stop())
		ec.RuleResults = append(ec.RuleResults, result)
		return
	}

	data := ec.snapshot()

	if rule.RuleType != "" && rule.RuleType != JSONLogicRuleType {
		ev, have := ex.Evaluators[rule.RuleType]
		if !have {
			result.Error = "no evaluator registered for rule type " + rule.RuleType
			result.Duration = time.Duration(ruleTimer.Stop())
			ec.RuleResults = append(ec.RuleResults, result)
			return
		}
		inputs := make(map[string]Value, len(rule.InputAttributes))
		for _, path := range rule.InputAttributes {
			v, _ := lookupPath(path, data)
			inputs[path] = v
		}
		config := EvaluatorConfig{"expression": rule.ExpressionJson}
		outputs, err := ev.Evaluate(ctx, config, inputs, rule.OutputAttributes)
		result.Duration = time.Duration(ruleTimer.Stop())
		if err != nil {
			result.Error = err.Error()
			ec.RuleResults = append(ec.RuleResults, result)
			return
		}
		result.Success = true
		result.Outputs = outputs
		for k, v := range outputs {
			ec.Computed[k] = v
		}
		ec.RuleResults = append(ec.RuleResults, result)
		return
	}

	e, err := ex.Source.Expr(id)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Duration(ruleTimer.Stop())
		ec.RuleResults = append(ec.RuleResults, result)
		return
	}

	value, err := ex.Cache.Evaluate(ctx, id, e, data)
	result.Duration = time.Duration(ruleTimer.Stop())

	if err != nil {
		result.Error = err.Error()
		ec.RuleResults = append(ec.RuleResults, result)
		return
	}

	result.Success = true
	result.Outputs = assignOutputs(rule.OutputAttributes, value)
	for k, v := range result.Outputs {
		ec.Computed[k] = v
	}
	ec.RuleResults = append(ec.RuleResults, result)
}

// assignOutputs implements the output-assignment convention: if value
// is an Object whose keys are exactly the declared output attributes,
// each attribute gets its correspondingly-keyed value; otherwise the
// single value is broadcast to every declared output attribute
// unchanged. See DESIGN.md's Open Question decision for the rationale.
func assignOutputs(outputAttributes []string, value Value) map[string]Value {
	outputs := make(map[string]Value, len(outputAttributes))
	if value.Kind == KObject && sameKeySet(outputAttributes, value.Okeys) {
		for _, attr := range outputAttributes {
			outputs[attr] = value.O[attr]
		}
		return outputs
	}
	for _, attr := range outputAttributes {
		outputs[attr] = value
	}
	return outputs
}

func sameKeySet(declared []string, actual []string) bool {
	if len(declared) != len(actual) {
		return false
	}
	want := make(map[string]bool, len(declared))
	for _, d := range declared {
		want[d] = true
	}
	for _, a := range actual {
		if !want[a] {
			return false
		}
	}
	return true
}
