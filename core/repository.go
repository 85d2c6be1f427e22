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

// RuleRepository stores and retrieves Rules. Concrete implementations
// (in-memory, a graph database, an LRU-wrapped hybrid of the two) live
// under storage/; core depends only on this interface so the executor
// and validator never know which backs a given deployment.
type RuleRepository interface {
	Get(id RuleId) (*Rule, bool)
	Save(r *Rule) error
	Delete(id RuleId) error
	FindByProduct(productId string) ([]*Rule, error)
	FindEnabledByProduct(productId string) ([]*Rule, error)
}

// CompiledRuleRepository persists a RuleCache's PersistedRule
// snapshots, so the cache can be warmed on startup instead of
// re-earning every rule's tier from a cold eval_count of zero.
type CompiledRuleRepository interface {
	Get(id RuleId) (*PersistedRule, bool)
	Save(id RuleId, p *PersistedRule) error
	Delete(id RuleId) error
	ListIds() ([]RuleId, error)
}

// EvaluatorConfig carries whatever a pluggable evaluator needs to run
// (e.g. a script body, a model identifier) — opaque to core, which
// only ever dispatches to Evaluator by the rule's tag.
type EvaluatorConfig map[string]interface{}

// Evaluator is the capability pluggable rule tiers (a scripting
// evaluator, an LLM-backed one) implement. The core engine itself
// speaks only the built-in JSON-Logic evaluator (interpreter.go /
// bytecode.go); a rule tagged for a different evaluator is dispatched
// here before the bytecode cache is ever consulted.
type Evaluator interface {
	Evaluate(ctx *Context, config EvaluatorConfig, inputs map[string]Value, outputs []string) (map[string]Value, error)
}

// WarmCache populates cache from persisted, restoring each entry's
// tier and eval_count verbatim so hot rules stay hot across restarts.
func WarmCache(cache *RuleCache, repo CompiledRuleRepository) error {
	ids, err := repo.ListIds()
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, have := repo.Get(id)
		if !have {
			continue
		}
		cache.Restore(id, p)
	}
	return nil
}
