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

type fakeCompiledRuleRepository struct {
	entries map[RuleId]*PersistedRule
}

func (f *fakeCompiledRuleRepository) Get(id RuleId) (*PersistedRule, bool) {
	p, have := f.entries[id]
	return p, have
}

func (f *fakeCompiledRuleRepository) Save(id RuleId, p *PersistedRule) error {
	f.entries[id] = p
	return nil
}

func (f *fakeCompiledRuleRepository) Delete(id RuleId) error {
	delete(f.entries, id)
	return nil
}

func (f *fakeCompiledRuleRepository) ListIds() ([]RuleId, error) {
	ids := make([]RuleId, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestWarmCacheRestoresTierAndEvalCount(t *testing.T) {
	e := mustExpr(t, `{"+": [1, 2]}`)
	bc, err := Compile(&e)
	require.NoError(t, err)

	repo := &fakeCompiledRuleRepository{entries: map[RuleId]*PersistedRule{
		"r1": {Ast: e, Bytecode: bc, Tier: TierBytecode, EvalCount: 42},
	}}

	cache := NewRuleCache(DefaultPromotionThreshold)
	require.NoError(t, WarmCache(cache, repo))

	entry, have := cache.Get("r1")
	require.True(t, have)
	assert.Equal(t, TierBytecode, entry.Tier())
	assert.Equal(t, uint64(42), entry.EvalCount())
}
