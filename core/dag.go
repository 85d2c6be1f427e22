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
	"sort"
	"strings"
)

// RuleNode is a DAG-builder's view of a rule: just enough to wire
// edges and compute levels, without the expression text or validation
// concerns that live on Rule itself.
type RuleNode struct {
	Id         RuleId
	Inputs     []string
	Outputs    []string
	OrderIndex int32
}

// AttributeCatalog answers questions about attributes that the DAG
// itself has no way to know: whether a path is immutable, and which
// external functionalities require it. No concrete implementation
// lives in this repository (see catalog.go); a nil catalog disables
// the immutable-dependents flag and functionality lookups rather than
// failing impact analysis outright.
type AttributeCatalog interface {
	IsImmutable(path string) bool
	FunctionalitiesRequiring(path string) []string
}

// RuleDag is the acyclic dependency graph over a rule set: an edge
// producer->consumer exists whenever some output of producer is an
// input of consumer. Built in two passes (see BuildRuleDag) so that a
// duplicate-output producer is caught before any edge is added.
type RuleDag struct {
	nodes        map[RuleId]*RuleNode
	order        []RuleId // insertion order, for deterministic iteration
	outputToRule map[string]RuleId
	forward      map[RuleId][]RuleId // producer -> consumers
	backward     map[RuleId][]RuleId // consumer -> producers
	levels       map[RuleId]int
}

// BuildRuleDag constructs the dependency graph over nodes. It returns
// a *ValidationError with Kind DuplicateOutput if two nodes claim the
// same output path, or Kind CyclicDependency if the resulting graph is
// not acyclic. Cycle detection is iterative (Kahn's algorithm over
// indegrees): the rule set may hold tens of thousands of nodes and
// arbitrarily deep chains, and a recursive detector risks overflowing
// the native call stack on adversarial or merely very large input,
// exactly the failure mode core/interpreter.go's iterative evaluator
// was built to avoid one layer down.
func BuildRuleDag(nodes []*RuleNode) (*RuleDag, error) {
	dag := &RuleDag{
		nodes:        make(map[RuleId]*RuleNode, len(nodes)),
		outputToRule: make(map[string]RuleId),
		forward:      make(map[RuleId][]RuleId),
		backward:     make(map[RuleId][]RuleId),
		levels:       make(map[RuleId]int),
	}

	// Pass 1: register nodes, index outputs, reject duplicate producers.
	for _, n := range nodes {
		dag.nodes[n.Id] = n
		dag.order = append(dag.order, n.Id)
		for _, out := range n.Outputs {
			if existing, have := dag.outputToRule[out]; have {
				return nil, NewValidationError(DuplicateOutput, string(n.Id),
					"output %q is already produced by rule %s", out, existing)
			}
			dag.outputToRule[out] = n.Id
		}
	}

	// Pass 2: add producer -> consumer edges, self-edges suppressed.
	for _, n := range nodes {
		seen := make(map[RuleId]bool)
		for _, in := range n.Inputs {
			producer, have := dag.outputToRule[in]
			if !have || producer == n.Id || seen[producer] {
				continue
			}
			seen[producer] = true
			dag.forward[producer] = append(dag.forward[producer], n.Id)
			dag.backward[n.Id] = append(dag.backward[n.Id], producer)
		}
	}

	if err := dag.computeLevels(); err != nil {
		return nil, err
	}
	return dag, nil
}

// computeLevels runs Kahn's algorithm: nodes with indegree 0 seed the
// frontier at level 0, and each processed node's consumers have their
// indegree decremented; a consumer enters the frontier, at
// 1+max(producer levels seen so far), once its indegree reaches zero.
// If any node is never dequeued, the graph has a cycle.
func (dag *RuleDag) computeLevels() error {
	indegree := make(map[RuleId]int, len(dag.nodes))
	for id := range dag.nodes {
		indegree[id] = len(dag.backward[id])
	}

	var frontier []RuleId
	for _, id := range dag.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
			dag.levels[id] = 0
		}
	}

	processed := 0
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		processed++

		for _, consumer := range dag.forward[next] {
			indegree[consumer]--
			if lvl := dag.levels[next] + 1; lvl > dag.levels[consumer] {
				dag.levels[consumer] = lvl
			}
			if indegree[consumer] == 0 {
				frontier = append(frontier, consumer)
			}
		}
	}

	if processed != len(dag.nodes) {
		for _, id := range dag.order {
			if indegree[id] > 0 {
				return NewValidationError(CyclicDependency, string(id),
					"rule %s participates in a dependency cycle", id)
			}
		}
	}
	return nil
}

// Level returns the execution level of ruleId, 0 if it has no
// dependencies within the set.
func (dag *RuleDag) Level(ruleId RuleId) int {
	return dag.levels[ruleId]
}

// Stages returns every rule id grouped by execution level, each level
// sorted ascending by OrderIndex as a stable, deterministic
// tiebreaker among rules that could otherwise run in any order.
func (dag *RuleDag) Stages() [][]RuleId {
	maxLevel := 0
	for _, lvl := range dag.levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	stages := make([][]RuleId, maxLevel+1)
	for _, id := range dag.order {
		lvl := dag.levels[id]
		stages[lvl] = append(stages[lvl], id)
	}
	for _, stage := range stages {
		sort.SliceStable(stage, func(i, j int) bool {
			return dag.nodes[stage[i]].OrderIndex < dag.nodes[stage[j]].OrderIndex
		})
	}
	return stages
}

// ImpactReport is the result of impact analysis for one attribute
// path: the rules and (when a catalog is supplied) functionalities
// reachable from it, in either direction, with BFS distance.
type ImpactReport struct {
	Path                string
	UpstreamRules       map[RuleId]int // rule id -> distance
	DownstreamRules     map[RuleId]int
	AffectedFunctions   []string
	ImmutableDependents bool
}

// Impact runs bidirectional BFS from the rules that reference path
// (as either a produced output or a consumed input), recording
// distance in each direction, and consults catalog (if non-nil) for
// affected functionalities and the immutable-dependents flag.
func (dag *RuleDag) Impact(path string, catalog AttributeCatalog) *ImpactReport {
	report := &ImpactReport{
		Path:            path,
		UpstreamRules:   map[RuleId]int{},
		DownstreamRules: map[RuleId]int{},
	}

	reachedAttrs := map[string]bool{path: true}

	if producer, have := dag.outputToRule[path]; have {
		dag.bfs(producer, dag.backward, report.UpstreamRules, reachedAttrs)
	}
	for _, id := range dag.order {
		for _, in := range dag.nodes[id].Inputs {
			if in == path {
				dag.bfs(id, dag.forward, report.DownstreamRules, reachedAttrs)
				break
			}
		}
	}

	if catalog != nil {
		seenFn := map[string]bool{}
		for attr := range reachedAttrs {
			for _, fn := range catalog.FunctionalitiesRequiring(attr) {
				if !seenFn[fn] {
					seenFn[fn] = true
					report.AffectedFunctions = append(report.AffectedFunctions, fn)
				}
			}
			if catalog.IsImmutable(attr) {
				report.ImmutableDependents = true
			}
		}
		sort.Strings(report.AffectedFunctions)
	}

	return report
}

// bfs walks edges (via adjacency, forward or backward) starting from
// start at distance 1, recording each visited rule's distance into
// distances and every attribute it touches into reachedAttrs.
func (dag *RuleDag) bfs(start RuleId, adjacency map[RuleId][]RuleId, distances map[RuleId]int, reachedAttrs map[string]bool) {
	distances[start] = 1
	dag.recordAttrs(start, reachedAttrs)

	frontier := []RuleId{start}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		d := distances[next]
		for _, neighbor := range adjacency[next] {
			if _, seen := distances[neighbor]; seen {
				continue
			}
			distances[neighbor] = d + 1
			dag.recordAttrs(neighbor, reachedAttrs)
			frontier = append(frontier, neighbor)
		}
	}
}

func (dag *RuleDag) recordAttrs(id RuleId, reachedAttrs map[string]bool) {
	n := dag.nodes[id]
	if n == nil {
		return
	}
	for _, p := range n.Inputs {
		reachedAttrs[p] = true
	}
	for _, p := range n.Outputs {
		reachedAttrs[p] = true
	}
}

// MissingInput names one rule input that neither an external caller
// supplies nor any rule in the set produces.
type MissingInput struct {
	RuleId RuleId
	Path   string
}

// FindMissingInputs reports every rule input that is neither in
// externals nor produced by any rule in the set — the completeness
// check a caller runs before trusting an execution plan to actually
// run end to end.
func (dag *RuleDag) FindMissingInputs(externals map[string]bool) []MissingInput {
	var missing []MissingInput
	for _, id := range dag.order {
		for _, in := range dag.nodes[id].Inputs {
			if externals[in] {
				continue
			}
			if _, produced := dag.outputToRule[in]; produced {
				continue
			}
			missing = append(missing, MissingInput{RuleId: id, Path: in})
		}
	}
	return missing
}

// ExecutionStage is one level's worth of rules in an ExecutionPlan,
// each annotated with the producer rule ids it depends on.
type ExecutionStage struct {
	Level    int
	Parallel bool
	Rules    []ExecutionStageRule
}

type ExecutionStageRule struct {
	Id           RuleId
	Inputs       []string
	Outputs      []string
	Dependencies []RuleId
}

// ExecutionPlan is the structured, renderable summary of a RuleDag's
// shape: how many rules, how many stages, and each stage's membership
// and cross-stage dependencies.
type ExecutionPlan struct {
	TotalRules  int
	TotalStages int
	Stages      []ExecutionStage
}

// Plan renders dag into an ExecutionPlan.
func (dag *RuleDag) Plan() *ExecutionPlan {
	stages := dag.Stages()
	plan := &ExecutionPlan{TotalRules: len(dag.nodes), TotalStages: len(stages)}
	for lvl, ruleIds := range stages {
		stage := ExecutionStage{Level: lvl, Parallel: len(ruleIds) > 1}
		for _, id := range ruleIds {
			n := dag.nodes[id]
			stage.Rules = append(stage.Rules, ExecutionStageRule{
				Id:           id,
				Inputs:       n.Inputs,
				Outputs:      n.Outputs,
				Dependencies: append([]RuleId(nil), dag.backward[id]...),
			})
		}
		plan.Stages = append(plan.Stages, stage)
	}
	return plan
}

// DOT renders the plan as a Graphviz DOT digraph.
func (p *ExecutionPlan) DOT() string {
	var b strings.Builder
	b.WriteString("digraph rules {\n")
	for _, stage := range p.Stages {
		for _, r := range stage.Rules {
			b.WriteString(fmt.Sprintf("  %q [label=%q];\n", r.Id, fmt.Sprintf("%s (L%d)", r.Id, stage.Level)))
			for _, dep := range r.Dependencies {
				b.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, r.Id))
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid renders the plan as a Mermaid flowchart definition.
func (p *ExecutionPlan) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, stage := range p.Stages {
		for _, r := range stage.Rules {
			b.WriteString(fmt.Sprintf("  %s[\"%s (L%d)\"]\n", r.Id, r.Id, stage.Level))
			for _, dep := range r.Dependencies {
				b.WriteString(fmt.Sprintf("  %s --> %s\n", dep, r.Id))
			}
		}
	}
	return b.String()
}

// ASCII renders the plan as a plain-text, level-by-level listing
// suitable for a terminal or a log line.
func (p *ExecutionPlan) ASCII() string {
	var b strings.Builder
	fmt.Fprintf(&b, "execution plan: %d rules, %d stages\n", p.TotalRules, p.TotalStages)
	for _, stage := range p.Stages {
		parallelism := "sequential"
		if stage.Parallel {
			parallelism = "parallel"
		}
		fmt.Fprintf(&b, "stage %d (%s):\n", stage.Level, parallelism)
		for _, r := range stage.Rules {
			fmt.Fprintf(&b, "  - %s  in=%v out=%v deps=%v\n", r.Id, r.Inputs, r.Outputs, r.Dependencies)
		}
	}
	return b.String()
}
