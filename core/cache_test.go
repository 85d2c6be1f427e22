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
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	c := NewCache(5, 100*time.Millisecond)

	k := "ruleId-1"
	got, found := c.Get(k)
	if found {
		t.Fatal("Cache should be empty")
	}

	c.Add(k, "tacos")

	got, found = c.Get(k)
	if !found {
		t.Fatal("Should have found tacos")
	}
	if got.(string) != "tacos" {
		t.Fatal(fmt.Sprintf("got '%v' instead of 'tacos'", got))
	}

	time.Sleep(200 * time.Millisecond)

	got, found = c.Get(k)
	if found {
		t.Fatal("Should have expired entry")
	}

	c.Add(k, "tacos")

	got, found = c.Get(k)
	if !found {
		t.Fatal("Should have found tacos (2)")
	}
	if got.(string) != "tacos" {
		t.Fatal(fmt.Sprintf("got '%v' instead of 'tacos' (2)", got))
	}

}

type CacheTester struct {
	n int
}

func BenchmarkCache(b *testing.B) {
	c := NewCache(100, 100*time.Millisecond)

	for i := 0; i < b.N; i++ {
		k := &CacheTester{}
		k.n = i * 17 % b.N
		c.Add(k, i)
		k = &CacheTester{}
		n := i * 47 % b.N
		k.n = n
		got, found := c.Get(k)
		// Quick check
		if found {
			k = got.(*CacheTester)
			if k.n != n {
				b.Fatal(fmt.Sprintf("Expected %d, not %d", n, k.n))
			}
		}
	}
}

func TestCacheZero(t *testing.T) {
	// Test disabled cache.
	c := NewCache(0, 1*time.Second)
	c.Add("likes", "beer")
	if _, ok := c.Get("likes"); ok {
		t.Fatal("things are not ok")
	}
	if 0 != c.Len() {
		t.Fatal("non-zero length")
	}
	c.Remove("likes")
	c.RemoveOldest()
	c.Purge()
}

func mustExpr(t *testing.T, doc string) Expr {
	t.Helper()
	e, err := Parse(parseJSONDoc(t, doc))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestRuleCacheStartsAtAstTier(t *testing.T) {
	rc := NewRuleCache(3)
	e := mustExpr(t, `{"+": [1, 2]}`)
	ctx := NewContext("cache-test")

	v, err := rc.Evaluate(ctx, "r1", e, Null)
	if err != nil {
		t.Fatal(err)
	}
	if v.I != 3 {
		t.Fatalf("got %v want 3", v)
	}
	entry, have := rc.Get("r1")
	if !have {
		t.Fatal("expected entry after first evaluation")
	}
	if entry.Tier() != TierAst {
		t.Fatalf("expected Ast tier before threshold, got %v", entry.Tier())
	}
}

func TestRuleCachePromotesAtThreshold(t *testing.T) {
	const threshold = 3
	rc := NewRuleCache(threshold)
	e := mustExpr(t, `{"+": [1, 2]}`)
	ctx := NewContext("cache-test")

	for i := 0; i < threshold-1; i++ {
		if _, err := rc.Evaluate(ctx, "r1", e, Null); err != nil {
			t.Fatal(err)
		}
	}
	entry, _ := rc.Get("r1")
	if entry.Tier() != TierAst {
		t.Fatalf("expected Ast tier before reaching threshold, got %v", entry.Tier())
	}

	if _, err := rc.Evaluate(ctx, "r1", e, Null); err != nil {
		t.Fatal(err)
	}
	if entry.Tier() != TierBytecode {
		t.Fatalf("expected Bytecode tier at threshold, got %v", entry.Tier())
	}
	if entry.EvalCount() != threshold {
		t.Fatalf("expected eval count %d, got %d", threshold, entry.EvalCount())
	}

	// Evaluation after promotion must still agree with the AST tier.
	v, err := rc.Evaluate(ctx, "r1", e, Null)
	if err != nil {
		t.Fatal(err)
	}
	if v.I != 3 {
		t.Fatalf("bytecode-tier result mismatch: got %v want 3", v)
	}
}

func TestRuleCachePersistenceRoundTrip(t *testing.T) {
	rc := NewRuleCache(1)
	e := mustExpr(t, `{"if": [{">": [{"var":"x"}, 0]}, "pos", "nonpos"]}`)
	ctx := NewContext("cache-test")

	if _, err := rc.Evaluate(ctx, "r1", e, Object([]string{"x"}, map[string]Value{"x": Int(5)})); err != nil {
		t.Fatal(err)
	}
	entry, _ := rc.Get("r1")
	if entry.Tier() != TierBytecode {
		t.Fatalf("expected promotion with threshold 1, got %v", entry.Tier())
	}

	persisted, have := rc.Export("r1")
	if !have {
		t.Fatal("expected exportable entry")
	}

	blob, err := json.Marshal(persisted)
	if err != nil {
		t.Fatal(err)
	}
	var roundTripped PersistedRule
	if err := json.Unmarshal(blob, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if roundTripped.Tier != TierBytecode {
		t.Fatalf("tier lost across round trip: got %v", roundTripped.Tier)
	}
	if roundTripped.EvalCount != persisted.EvalCount {
		t.Fatalf("eval count lost across round trip: got %d want %d", roundTripped.EvalCount, persisted.EvalCount)
	}

	rc2 := NewRuleCache(1)
	rc2.Restore("r1", &roundTripped)
	restored, _ := rc2.Get("r1")
	if restored.Tier() != TierBytecode {
		t.Fatalf("restored entry should stay at Bytecode tier, got %v", restored.Tier())
	}

	v, err := restored.Evaluate(ctx, Object([]string{"x"}, map[string]Value{"x": Int(-1)}), 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.S != "nonpos" {
		t.Fatalf("restored entry evaluated incorrectly: got %v", v)
	}
}

func TestRuleCacheRemoveAndClear(t *testing.T) {
	rc := NewRuleCache(1)
	e := mustExpr(t, `{"+": [1, 1]}`)
	ctx := NewContext("cache-test")

	rc.Evaluate(ctx, "r1", e, Null)
	rc.Evaluate(ctx, "r2", e, Null)

	rc.Remove("r1")
	if _, have := rc.Get("r1"); have {
		t.Fatal("expected r1 removed")
	}
	if _, have := rc.Get("r2"); !have {
		t.Fatal("expected r2 still cached")
	}

	rc.Clear()
	if _, have := rc.Get("r2"); have {
		t.Fatal("expected cache cleared")
	}
}
