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
	"sync/atomic"
	"time"
)

// EngineStats tracks process-wide counters for the rule engine. Every
// field should be touched only through atomic ops:
//
//   atomic.AddUint64(&stats.Evaluations, 1)
//
// A single struct-wide mutex would be simpler but would also
// serialize every rule evaluation in the process on bookkeeping
// nobody is blocking on.
type EngineStats struct {
	Evaluations      uint64
	EvaluationErrors uint64
	EvaluationNanos  uint64
	CacheHits        uint64
	CacheMisses      uint64
	Promotions       uint64
	CompileErrors    uint64
	DagBuilds        uint64
	DagCycles        uint64
	RulesRegistered  uint64
	RulesRemoved     uint64
}

// Clone gives a clean copy of the given EngineStats.
func (stats *EngineStats) Clone() *EngineStats {
	clone := EngineStats{}
	clone.Evaluations = atomic.LoadUint64(&stats.Evaluations)
	clone.EvaluationErrors = atomic.LoadUint64(&stats.EvaluationErrors)
	clone.EvaluationNanos = atomic.LoadUint64(&stats.EvaluationNanos)
	clone.CacheHits = atomic.LoadUint64(&stats.CacheHits)
	clone.CacheMisses = atomic.LoadUint64(&stats.CacheMisses)
	clone.Promotions = atomic.LoadUint64(&stats.Promotions)
	clone.CompileErrors = atomic.LoadUint64(&stats.CompileErrors)
	clone.DagBuilds = atomic.LoadUint64(&stats.DagBuilds)
	clone.DagCycles = atomic.LoadUint64(&stats.DagCycles)
	clone.RulesRegistered = atomic.LoadUint64(&stats.RulesRegistered)
	clone.RulesRemoved = atomic.LoadUint64(&stats.RulesRemoved)
	return &clone
}

// Reset zeros every field.
func (stats *EngineStats) Reset() {
	atomic.StoreUint64(&stats.Evaluations, 0)
	atomic.StoreUint64(&stats.EvaluationErrors, 0)
	atomic.StoreUint64(&stats.EvaluationNanos, 0)
	atomic.StoreUint64(&stats.CacheHits, 0)
	atomic.StoreUint64(&stats.CacheMisses, 0)
	atomic.StoreUint64(&stats.Promotions, 0)
	atomic.StoreUint64(&stats.CompileErrors, 0)
	atomic.StoreUint64(&stats.DagBuilds, 0)
	atomic.StoreUint64(&stats.DagCycles, 0)
	atomic.StoreUint64(&stats.RulesRegistered, 0)
	atomic.StoreUint64(&stats.RulesRemoved, 0)
}

// Subtract subtracts y's counters from the receiver's, returning a new
// EngineStats. The receiver and y are both cloned first so the
// computation sees a consistent snapshot of each.
func (stats *EngineStats) Subtract(y *EngineStats) *EngineStats {
	y = y.Clone()
	x := stats.Clone()
	x.Evaluations -= y.Evaluations
	x.EvaluationErrors -= y.EvaluationErrors
	x.EvaluationNanos -= y.EvaluationNanos
	x.CacheHits -= y.CacheHits
	x.CacheMisses -= y.CacheMisses
	x.Promotions -= y.Promotions
	x.CompileErrors -= y.CompileErrors
	x.DagBuilds -= y.DagBuilds
	x.DagCycles -= y.DagCycles
	x.RulesRegistered -= y.RulesRegistered
	x.RulesRemoved -= y.RulesRemoved
	return x
}

// Aggregate adds src's counters into the receiver.
func (stats *EngineStats) Aggregate(src *EngineStats) {
	src = src.Clone()
	atomic.AddUint64(&stats.Evaluations, src.Evaluations)
	atomic.AddUint64(&stats.EvaluationErrors, src.EvaluationErrors)
	atomic.AddUint64(&stats.EvaluationNanos, src.EvaluationNanos)
	atomic.AddUint64(&stats.CacheHits, src.CacheHits)
	atomic.AddUint64(&stats.CacheMisses, src.CacheMisses)
	atomic.AddUint64(&stats.Promotions, src.Promotions)
	atomic.AddUint64(&stats.CompileErrors, src.CompileErrors)
	atomic.AddUint64(&stats.DagBuilds, src.DagBuilds)
	atomic.AddUint64(&stats.DagCycles, src.DagCycles)
	atomic.AddUint64(&stats.RulesRegistered, src.RulesRegistered)
	atomic.AddUint64(&stats.RulesRemoved, src.RulesRemoved)
}

// IncErrors increments stats.EvaluationErrors if err isn't nil.
func (stats *EngineStats) IncErrors(err error) error {
	if err != nil {
		atomic.AddUint64(&stats.EvaluationErrors, 1)
	}
	return err
}

// Log emits a log line for the given stats. scope is included in the
// record so a process tracking several engines (or several products)
// can tell them apart.
func (stats *EngineStats) Log(level LogLevel, ctx *Context, scope string) {
	snap := stats.Clone()
	Log(level, ctx, "EngineStats.Log",
		"scope", scope,
		"Evaluations", snap.Evaluations,
		"EvaluationErrors", snap.EvaluationErrors,
		"EvaluationNanos", snap.EvaluationNanos,
		"CacheHits", snap.CacheHits,
		"CacheMisses", snap.CacheMisses,
		"Promotions", snap.Promotions,
		"CompileErrors", snap.CompileErrors,
		"DagBuilds", snap.DagBuilds,
		"DagCycles", snap.DagCycles,
		"RulesRegistered", snap.RulesRegistered,
		"RulesRemoved", snap.RulesRemoved)
}

// LogLoop starts a loop that calls stats.Log at the given interval and
// emits the interval's deltas as metrics. If iterations is negative,
// the loop is endless; otherwise it terminates after that many
// iterations.
func (stats *EngineStats) LogLoop(level LogLevel, ctx *Context, scope string, interval time.Duration, iterations int) {
	previous := stats.Clone()
	for i := 0; iterations < 0 || i < iterations; i++ {
		time.Sleep(interval)
		latest := stats.Clone()
		latest.Log(level, ctx, scope)

		delta := latest.Subtract(previous)
		previous = latest

		Metric(ctx, "Evaluations", delta.Evaluations)
		Metric(ctx, "EvaluationErrors", delta.EvaluationErrors)
		Metric(ctx, "EvaluationNanos", delta.EvaluationNanos)
		Metric(ctx, "CacheHits", delta.CacheHits)
		Metric(ctx, "CacheMisses", delta.CacheMisses)
		Metric(ctx, "Promotions", delta.Promotions)
		Metric(ctx, "CompileErrors", delta.CompileErrors)
		Metric(ctx, "DagBuilds", delta.DagBuilds)
		Metric(ctx, "DagCycles", delta.DagCycles)
		Metric(ctx, "RulesRegistered", delta.RulesRegistered)
		Metric(ctx, "RulesRemoved", delta.RulesRemoved)
	}
}
