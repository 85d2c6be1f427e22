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

// Package hybrid implements the "hybrid LRU cache" persistence adapter
// named in spec.md section 1: an LRU-bounded in-memory layer in front
// of any other core.CompiledRuleRepository, so a process that talks
// to bolt/cassandra/dynamodb for durability still serves repeat
// Get calls (core.WarmCache at startup, a retry after a process
// restart) out of memory instead of round-tripping to the backing
// store every time.
//
// Grounded on Comcast-rulio's core/cache.go Cache type: kept its
// hashicorp/golang-lru-backed bounded map and mutex-guarded
// get-or-populate idiom, generalized one level further here from a
// single process-wide cache into a read-through wrapper parameterized
// over a backing core.CompiledRuleRepository.
package hybrid

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/productfarm/ruleengine/core"
)

// CompiledRuleRepository wraps a backing core.CompiledRuleRepository
// with a bounded LRU of recently used PersistedRule records.
type CompiledRuleRepository struct {
	mu      sync.Mutex
	cache   *lru.Cache
	backing core.CompiledRuleRepository
}

// New wraps backing with an LRU of at most limit entries. limit <= 0
// disables the LRU layer and every call passes straight through.
func New(backing core.CompiledRuleRepository, limit int) (*CompiledRuleRepository, error) {
	var cache *lru.Cache
	if limit > 0 {
		var err error
		cache, err = lru.New(limit)
		if err != nil {
			return nil, err
		}
	}
	return &CompiledRuleRepository{cache: cache, backing: backing}, nil
}

func (h *CompiledRuleRepository) Get(id core.RuleId) (*core.PersistedRule, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cache != nil {
		if got, have := h.cache.Get(id); have {
			return got.(*core.PersistedRule), true
		}
	}
	p, have := h.backing.Get(id)
	if have && h.cache != nil {
		h.cache.Add(id, p)
	}
	return p, have
}

func (h *CompiledRuleRepository) Save(id core.RuleId, p *core.PersistedRule) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.backing.Save(id, p); err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Add(id, p)
	}
	return nil
}

func (h *CompiledRuleRepository) Delete(id core.RuleId) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.backing.Delete(id); err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Remove(id)
	}
	return nil
}

// ListIds always goes to the backing store: the LRU only ever holds a
// partial, eviction-pruned view of the keyspace.
func (h *CompiledRuleRepository) ListIds() ([]core.RuleId, error) {
	return h.backing.ListIds()
}

var _ core.CompiledRuleRepository = (*CompiledRuleRepository)(nil)
