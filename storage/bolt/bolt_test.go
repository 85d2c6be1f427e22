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

package bolt

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/productfarm/ruleengine/core"
)

func TestCompiledRuleRepositoryRoundTrip(t *testing.T) {
	ctx := core.NewContext("boltTest")
	dir, err := ioutil.TempDir("", "boltTest")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	repo, err := NewCompiledRuleRepository(ctx, path.Join(dir, "bolt.db"))
	require.NoError(t, err)
	defer repo.Destroy(ctx)

	id := core.RuleId("acme:r1")
	ast, err := core.Parse(map[string]interface{}{"var": "x"})
	require.NoError(t, err)
	p := &core.PersistedRule{Ast: ast, Tier: core.TierAst, EvalCount: 7}

	require.NoError(t, repo.Save(id, p))

	got, have := repo.Get(id)
	require.True(t, have)
	require.Equal(t, core.TierAst, got.Tier)
	require.Equal(t, uint64(7), got.EvalCount)

	ids, err := repo.ListIds()
	require.NoError(t, err)
	require.Equal(t, []core.RuleId{id}, ids)

	require.Equal(t, "acme", productOf(id))

	require.NoError(t, repo.Delete(id))
	_, have = repo.Get(id)
	require.False(t, have)
}

func TestCompiledRuleRepositoryMissing(t *testing.T) {
	ctx := core.NewContext("boltTest2")
	dir, err := ioutil.TempDir("", "boltTest2")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	repo, err := NewCompiledRuleRepository(ctx, path.Join(dir, "bolt.db"))
	require.NoError(t, err)
	defer repo.Destroy(ctx)

	_, have := repo.Get(core.RuleId("nope"))
	require.False(t, have)
}

func benchSetup(b *testing.B) (*CompiledRuleRepository, *core.Context) {
	ctx := core.NewContext("boltBench")
	dir, err := ioutil.TempDir("", "boltBench")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(dir)

	repo, err := NewCompiledRuleRepository(ctx, path.Join(dir, "bolt.db"))
	if err != nil {
		b.Fatal(err)
	}
	return repo, ctx
}

func BenchmarkSave(b *testing.B) {
	repo, ctx := benchSetup(b)
	defer repo.Destroy(ctx)

	p := &core.PersistedRule{Tier: core.TierAst}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := core.RuleId(fmt.Sprintf("rule_%d", i%16))
		if err := repo.Save(id, p); err != nil {
			b.Fatal(err)
		}
	}
}
