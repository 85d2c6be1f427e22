package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/productfarm/ruleengine/core"
)

func TestRuleRepositoryCRUD(t *testing.T) {
	repo := NewRuleRepository()
	rule := core.NewRule("p1", core.JSONLogicRuleType, `{"var":"x"}`)
	rule.OutputAttributes = []string{"y"}

	require.NoError(t, repo.Save(rule))

	got, have := repo.Get(rule.Id)
	require.True(t, have)
	require.Equal(t, rule.Id, got.Id)

	byProduct, err := repo.FindByProduct("p1")
	require.NoError(t, err)
	require.Len(t, byProduct, 1)

	enabled, err := repo.FindEnabledByProduct("p1")
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	rule.Enabled = false
	require.NoError(t, repo.Save(rule))
	enabled, err = repo.FindEnabledByProduct("p1")
	require.NoError(t, err)
	require.Len(t, enabled, 0)

	require.NoError(t, repo.Delete(rule.Id))
	_, have = repo.Get(rule.Id)
	require.False(t, have)
}

func TestCompiledRuleRepositoryCRUD(t *testing.T) {
	repo := NewCompiledRuleRepository()
	id := core.RuleId("r1")
	p := &core.PersistedRule{Tier: core.TierAst, EvalCount: 3}

	require.NoError(t, repo.Save(id, p))
	got, have := repo.Get(id)
	require.True(t, have)
	require.Equal(t, uint64(3), got.EvalCount)

	ids, err := repo.ListIds()
	require.NoError(t, err)
	require.Equal(t, []core.RuleId{id}, ids)

	require.NoError(t, repo.Delete(id))
	_, have = repo.Get(id)
	require.False(t, have)
}
