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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRuleDagDuplicateOutputRejected(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "r1", Outputs: []string{"tier"}},
		{Id: "r2", Outputs: []string{"tier"}},
	}
	_, err := BuildRuleDag(nodes)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, DuplicateOutput, ve.Kind)
}

func TestBuildRuleDagCycleRejected(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "a", Inputs: []string{"b_out"}, Outputs: []string{"a_out"}},
		{Id: "b", Inputs: []string{"a_out"}, Outputs: []string{"b_out"}},
	}
	_, err := BuildRuleDag(nodes)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CyclicDependency, ve.Kind)
}

func TestBuildRuleDagTwoLevelChain(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "a", Inputs: []string{"input"}, Outputs: []string{"output"}},
		{Id: "b", Inputs: []string{"output"}, Outputs: []string{"final"}},
	}
	dag, err := BuildRuleDag(nodes)
	require.NoError(t, err)

	assert.Equal(t, 0, dag.Level("a"))
	assert.Equal(t, 1, dag.Level("b"))

	stages := dag.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, []RuleId{"a"}, stages[0])
	assert.Equal(t, []RuleId{"b"}, stages[1])
}

// TestBuildRuleDagDiamondParallel exercises scenario S3: r0 produces
// a from input; r1 and r2 each produce from a; r3 consumes both.
func TestBuildRuleDagDiamondParallel(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "r0", Inputs: []string{"input"}, Outputs: []string{"a"}, OrderIndex: 0},
		{Id: "r2", Inputs: []string{"a"}, Outputs: []string{"c"}, OrderIndex: 2},
		{Id: "r1", Inputs: []string{"a"}, Outputs: []string{"b"}, OrderIndex: 1},
		{Id: "r3", Inputs: []string{"b", "c"}, Outputs: []string{"d"}, OrderIndex: 3},
	}
	dag, err := BuildRuleDag(nodes)
	require.NoError(t, err)

	stages := dag.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, []RuleId{"r0"}, stages[0])
	assert.Equal(t, []RuleId{"r1", "r2"}, stages[1]) // order_index tiebreak
	assert.Equal(t, []RuleId{"r3"}, stages[2])
}

func TestRuleDagLevelInvariant(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "r0", Outputs: []string{"a"}},
		{Id: "r1", Inputs: []string{"a"}, Outputs: []string{"b"}},
		{Id: "r2", Inputs: []string{"a", "b"}, Outputs: []string{"c"}},
	}
	dag, err := BuildRuleDag(nodes)
	require.NoError(t, err)

	assert.Equal(t, 0, dag.Level("r0"))
	assert.Equal(t, 1, dag.Level("r1"))
	assert.Equal(t, 2, dag.Level("r2")) // depends on r1 (level 1) and r0 (level 0)
}

func TestFindMissingInputs(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "r1", Inputs: []string{"external_a", "internal_mid"}, Outputs: []string{"internal_mid_out"}},
		{Id: "r2", Inputs: []string{"internal_mid_out", "external_b"}, Outputs: []string{"final"}},
	}
	dag, err := BuildRuleDag(nodes)
	require.NoError(t, err)

	missing := dag.FindMissingInputs(map[string]bool{"external_a": true, "external_b": true})
	require.Len(t, missing, 1)
	assert.Equal(t, RuleId("r1"), missing[0].RuleId)
	assert.Equal(t, "internal_mid", missing[0].Path)
}

// TestImpactAnalysisChain exercises scenario S7.
func TestImpactAnalysisChain(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "r1", Inputs: []string{"input"}, Outputs: []string{"mid"}},
		{Id: "r2", Inputs: []string{"mid"}, Outputs: []string{"output"}},
	}
	dag, err := BuildRuleDag(nodes)
	require.NoError(t, err)

	midImpact := dag.Impact("mid", nil)
	assert.Equal(t, 1, midImpact.UpstreamRules["r1"])
	assert.Equal(t, 1, midImpact.DownstreamRules["r2"])

	inputImpact := dag.Impact("input", nil)
	assert.Equal(t, 1, inputImpact.DownstreamRules["r1"])
	assert.Equal(t, 2, inputImpact.DownstreamRules["r2"])

	isolatedImpact := dag.Impact("isolated", nil)
	assert.Empty(t, isolatedImpact.UpstreamRules)
	assert.Empty(t, isolatedImpact.DownstreamRules)
}

func TestExecutionPlanRenderers(t *testing.T) {
	nodes := []*RuleNode{
		{Id: "a", Inputs: []string{"input"}, Outputs: []string{"mid"}},
		{Id: "b", Inputs: []string{"mid"}, Outputs: []string{"output"}},
	}
	dag, err := BuildRuleDag(nodes)
	require.NoError(t, err)

	plan := dag.Plan()
	assert.Equal(t, 2, plan.TotalRules)
	assert.Equal(t, 2, plan.TotalStages)

	assert.Contains(t, plan.DOT(), `"a" -> "b"`)
	assert.Contains(t, plan.Mermaid(), "a --> b")
	assert.Contains(t, plan.ASCII(), "2 rules, 2 stages")
}
