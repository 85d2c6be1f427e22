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

// Package memory is the plain-map backing for core.RuleRepository and
// core.CompiledRuleRepository, grounded on Comcast-rulio's
// core/storage_mem.go (MemStorage): a single lock guarding a
// two-level map, no persistence, no external dependency — the
// simplest of spec.md section 1's three persistence adapters ("the
// in-memory ... adapters").
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/productfarm/ruleengine/core"
)

// RuleRepository is an in-memory core.RuleRepository, keyed by rule
// id (FindByProduct scans every rule), mirroring MemStorage's single
// sync.Mutex-guarded map (no RWMutex: rulio's own comment on
// MemStorage notes a plain lock is simpler than a two-level RWLock
// for a map this shape).
type RuleRepository struct {
	mu    sync.Mutex
	rules map[core.RuleId]*core.Rule
}

// NewRuleRepository builds an empty RuleRepository.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{rules: make(map[core.RuleId]*core.Rule)}
}

func (r *RuleRepository) Get(id core.RuleId) (*core.Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, have := r.rules[id]
	return rule, have
}

func (r *RuleRepository) Save(rule *core.Rule) error {
	if rule == nil {
		return fmt.Errorf("memory.RuleRepository.Save: nil rule")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Id] = rule
	return nil
}

func (r *RuleRepository) Delete(id core.RuleId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, id)
	return nil
}

func (r *RuleRepository) FindByProduct(productId string) ([]*core.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*core.Rule
	for _, rule := range r.rules {
		if rule.ProductId == productId {
			found = append(found, rule)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Id < found[j].Id })
	return found, nil
}

func (r *RuleRepository) FindEnabledByProduct(productId string) ([]*core.Rule, error) {
	all, err := r.FindByProduct(productId)
	if err != nil {
		return nil, err
	}
	var enabled []*core.Rule
	for _, rule := range all {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

// CompiledRuleRepository is an in-memory core.CompiledRuleRepository:
// the warm-cache analogue of RuleRepository above, storing
// PersistedRule snapshots rather than Rule metadata.
type CompiledRuleRepository struct {
	mu      sync.Mutex
	entries map[core.RuleId]*core.PersistedRule
}

// NewCompiledRuleRepository builds an empty CompiledRuleRepository.
func NewCompiledRuleRepository() *CompiledRuleRepository {
	return &CompiledRuleRepository{entries: make(map[core.RuleId]*core.PersistedRule)}
}

func (c *CompiledRuleRepository) Get(id core.RuleId) (*core.PersistedRule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, have := c.entries[id]
	return p, have
}

func (c *CompiledRuleRepository) Save(id core.RuleId, p *core.PersistedRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = p
	return nil
}

func (c *CompiledRuleRepository) Delete(id core.RuleId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func (c *CompiledRuleRepository) ListIds() ([]core.RuleId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]core.RuleId, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var (
	_ core.RuleRepository         = (*RuleRepository)(nil)
	_ core.CompiledRuleRepository = (*CompiledRuleRepository)(nil)
)
