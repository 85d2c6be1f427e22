package hybrid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/productfarm/ruleengine/core"
	"github.com/productfarm/ruleengine/storage/memory"
)

func TestHybridReadThrough(t *testing.T) {
	backing := memory.NewCompiledRuleRepository()
	h, err := New(backing, 2)
	require.NoError(t, err)

	id := core.RuleId("r1")
	p := &core.PersistedRule{Tier: core.TierAst, EvalCount: 1}
	require.NoError(t, h.Save(id, p))

	got, have := h.Get(id)
	require.True(t, have)
	require.Equal(t, uint64(1), got.EvalCount)

	// Still visible straight from the backing store too.
	got, have = backing.Get(id)
	require.True(t, have)
	require.Equal(t, uint64(1), got.EvalCount)

	require.NoError(t, h.Delete(id))
	_, have = h.Get(id)
	require.False(t, have)
	_, have = backing.Get(id)
	require.False(t, have)
}

func TestHybridEviction(t *testing.T) {
	backing := memory.NewCompiledRuleRepository()
	h, err := New(backing, 1)
	require.NoError(t, err)

	require.NoError(t, h.Save(core.RuleId("a"), &core.PersistedRule{Tier: core.TierAst}))
	require.NoError(t, h.Save(core.RuleId("b"), &core.PersistedRule{Tier: core.TierAst}))

	// "a" may have been evicted from the LRU, but Get falls through to
	// the backing store, so it is still found.
	_, have := h.Get(core.RuleId("a"))
	require.True(t, have)

	ids, err := h.ListIds()
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestHybridDisabled(t *testing.T) {
	backing := memory.NewCompiledRuleRepository()
	h, err := New(backing, 0)
	require.NoError(t, err)
	require.Nil(t, h.cache)

	require.NoError(t, h.Save(core.RuleId("a"), &core.PersistedRule{Tier: core.TierAst}))
	_, have := h.Get(core.RuleId("a"))
	require.True(t, have)
}
