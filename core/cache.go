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
	lru "github.com/hashicorp/golang-lru"
	"sync"
	"sync/atomic"
	"time"
)

type Cache struct {
	sync.Mutex
	cache *lru.Cache
	TTL   time.Duration
}

func NewCache(limit int, ttl time.Duration) *Cache {
	var cache *lru.Cache
	if 0 < limit {
		var err error
		cache, err = lru.New(limit)
		if err != nil {
			panic(err)
		}
	}
	return &Cache{cache: cache, TTL: ttl}
}

type cacheEntry struct {
	X       interface{}
	expires time.Time
}

func (c *Cache) newEntry(x interface{}) *cacheEntry {
	return &cacheEntry{x, time.Now().Add(c.TTL)}
}

func (c *Cache) GetWith(key interface{}, thunk func() (interface{}, error)) (interface{}, error) {
	c.Lock()
	x, have := c.Get(key)
	var err error
	if !have {
		if x, err = thunk(); err == nil {
			c.Add(key, x)
		}
	}
	c.Unlock()
	return x, err
}

// Add adds a value to the cache.
func (c *Cache) Add(key, value interface{}) {
	if c.cache == nil {
		return
	}
	c.cache.Add(key, c.newEntry(value))
}

// Get looks up a key's value from the cache.
func (c *Cache) Get(key interface{}) (value interface{}, ok bool) {
	if c.cache == nil {
		return nil, false
	}
	got, have := c.cache.Get(key)
	if have {
		entry := got.(*cacheEntry)
		if entry.expires.Before(time.Now()) {
			c.cache.Remove(key)
			return nil, false
		}
		return entry.X, true
	}
	return nil, false
}

// Keys returns a slice of the keys in the cache.
func (c *Cache) Keys() []interface{} {
	return c.cache.Keys()
}

// Len returns the number of items in the cache.
func (c *Cache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Purge is used to completely clear the cache
func (c *Cache) Purge() {
	if c.cache == nil {
		return
	}
	c.cache.Purge()
}

// Remove removes the provided key from the cache.
func (c *Cache) Remove(key interface{}) {
	if c.cache == nil {
		return
	}
	c.cache.Remove(key)
}

// RemoveOldest removes the oldest item from the cache.
func (c *Cache) RemoveOldest() {
	if c.cache == nil {
		return
	}
	c.cache.RemoveOldest()
}

// CompilationTier names how far a CompiledRule has been promoted.
// Jit is a reserved slot: this engine never produces it, but it is
// part of the wire vocabulary so a future tier doesn't break existing
// PersistedRule blobs.
type CompilationTier string

const (
	TierAst      CompilationTier = "Ast"
	TierBytecode CompilationTier = "Bytecode"
	TierJit      CompilationTier = "Jit"
)

// DefaultPromotionThreshold is the eval_count at which a rule is
// promoted from Ast to Bytecode, absent an explicit override.
const DefaultPromotionThreshold = 250

// CompiledRule is one rule's cached evaluation state: the always-
// present AST, an optional compiled bytecode program once promoted,
// the current tier, and an approximate hotness counter. A per-entry
// lock lets an unrelated rule's promotion or lookup proceed without
// contending on this one.
type CompiledRule struct {
	mu       sync.RWMutex
	ast      Expr
	bytecode *CompiledBytecode
	tier     CompilationTier

	// evalCount is updated via sync/atomic rather than under mu: the
	// specification only requires relaxed, lost-update-tolerant
	// counting for cache hotness, the same way sys/system.go tracks
	// its own call/timing stats with atomic.AddUint64 rather than a
	// mutex, to keep the hot evaluation path lock-free for this field.
	evalCount uint64
}

func newCompiledRule(ast Expr) *CompiledRule {
	return &CompiledRule{ast: ast, tier: TierAst}
}

// Tier reports the rule's current compilation tier.
func (cr *CompiledRule) Tier() CompilationTier {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.tier
}

// EvalCount reports the approximate number of evaluations so far.
func (cr *CompiledRule) EvalCount() uint64 {
	return atomic.LoadUint64(&cr.evalCount)
}

// Evaluate runs the rule's compiled form — bytecode if promoted,
// otherwise the AST interpreter — against data, then bumps eval_count
// and promotes to Bytecode once the threshold is reached. Promotion
// failure never fails the evaluation that triggered it: the entry
// simply stays at Ast and the caller's log records a warning.
func (cr *CompiledRule) Evaluate(ctx *Context, data Value, threshold uint64) (Value, error) {
	cr.mu.RLock()
	tier := cr.tier
	bc := cr.bytecode
	ast := cr.ast
	cr.mu.RUnlock()

	var (
		result Value
		err    error
	)
	if tier == TierBytecode && bc != nil {
		result, err = bc.Run(ctx, data)
	} else {
		result, err = Eval(ctx, &ast, data)
	}

	count := atomic.AddUint64(&cr.evalCount, 1)
	if tier == TierAst && count >= threshold {
		cr.promote(ctx)
	}

	return result, err
}

// promote upgrades the entry from Ast to Bytecode in place, via the
// double-checked lock the specification calls for: the read-side hot
// path never takes the write lock, and a second promotion attempt
// racing in from another goroutine is a harmless no-op once the first
// one has landed.
func (cr *CompiledRule) promote(ctx *Context) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.tier != TierAst {
		return
	}
	bc, err := Compile(&cr.ast)
	if err != nil {
		Log(WARN, ctx, "core.CompiledRule.promote", "compile-failed", err.Error())
		return
	}
	cr.bytecode = bc
	cr.tier = TierBytecode
}

// ToPersisted projects the entry into its serializable form.
func (cr *CompiledRule) ToPersisted() *PersistedRule {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return &PersistedRule{
		Ast:       cr.ast,
		Bytecode:  cr.bytecode,
		Tier:      cr.tier,
		EvalCount: cr.evalCount,
	}
}

// PersistedRule is the serializable projection of CompiledRule: the
// bytecode (if any) is serialized as data, not regenerated on load, so
// restoring a PersistedRule restores the exact tier a rule had reached
// before the process restarted.
type PersistedRule struct {
	Ast       Expr             `json:"ast"`
	Bytecode  *CompiledBytecode `json:"bytecode,omitempty"`
	Tier      CompilationTier  `json:"tier"`
	EvalCount uint64           `json:"evalCount"`
}

// FromPersisted rehydrates a CompiledRule from its wire form verbatim,
// including tier and eval_count, so a hot rule stays hot across
// restarts instead of re-warming from zero.
func FromPersisted(p *PersistedRule) *CompiledRule {
	return &CompiledRule{
		ast:       p.Ast,
		bytecode:  p.Bytecode,
		tier:      p.Tier,
		evalCount: p.EvalCount,
	}
}

// RuleCache owns rule_id -> shared CompiledRule handles behind a
// single map-level lock; per-entry state is separately synchronized
// so evaluation reads never block on an unrelated rule's promotion.
type RuleCache struct {
	mu                 sync.RWMutex
	entries            map[RuleId]*CompiledRule
	PromotionThreshold uint64
}

// NewRuleCache builds an empty tiered cache. A zero threshold falls
// back to DefaultPromotionThreshold.
func NewRuleCache(promotionThreshold uint64) *RuleCache {
	if promotionThreshold == 0 {
		promotionThreshold = DefaultPromotionThreshold
	}
	return &RuleCache{
		entries:            make(map[RuleId]*CompiledRule),
		PromotionThreshold: promotionThreshold,
	}
}

// Evaluate looks up (or, on first sight of ruleId, inserts at the Ast
// tier) the cached entry for ruleId and evaluates it against data,
// counting the evaluation toward eventual promotion.
func (rc *RuleCache) Evaluate(ctx *Context, ruleId RuleId, ast Expr, data Value) (Value, error) {
	entry := rc.getOrInsert(ruleId, ast)
	return entry.Evaluate(ctx, data, rc.PromotionThreshold)
}

func (rc *RuleCache) getOrInsert(ruleId RuleId, ast Expr) *CompiledRule {
	rc.mu.RLock()
	entry, have := rc.entries[ruleId]
	rc.mu.RUnlock()
	if have {
		return entry
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if entry, have = rc.entries[ruleId]; have {
		return entry
	}
	entry = newCompiledRule(ast)
	rc.entries[ruleId] = entry
	return entry
}

// Get returns the cached entry for ruleId, if any, without inserting.
func (rc *RuleCache) Get(ruleId RuleId) (*CompiledRule, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	entry, have := rc.entries[ruleId]
	return entry, have
}

// Remove invalidates ruleId's cached entry; invalidation on rule
// change is the caller's responsibility, never automatic.
func (rc *RuleCache) Remove(ruleId RuleId) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.entries, ruleId)
}

// Clear invalidates every cached entry.
func (rc *RuleCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[RuleId]*CompiledRule)
}

// Export returns the persisted projection of ruleId's entry, if cached.
func (rc *RuleCache) Export(ruleId RuleId) (*PersistedRule, bool) {
	entry, have := rc.Get(ruleId)
	if !have {
		return nil, false
	}
	return entry.ToPersisted(), true
}

// Restore installs a PersistedRule into the cache verbatim, for
// warming the cache from a CompiledRuleRepository on startup.
func (rc *RuleCache) Restore(ruleId RuleId, p *PersistedRule) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[ruleId] = FromPersisted(p)
}
