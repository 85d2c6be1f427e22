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

// Package bolt implements core.CompiledRuleRepository over boltdb,
// the natural home for spec.md section 4.5's "write-through
// persistence": bytecode is serialized as data (section 9), so a
// rule's tier survives a process restart exactly as stored.
//
// Grounded on Comcast-rulio's storage/bolt/bolt.go (BoltStorage),
// keeping its open-with-timeout and View/Update transaction idiom;
// every record lives in one bucket keyed by rule id (see bucketName),
// and each record's value is a PersistedRule JSON blob rather than an
// opaque fact pair.
package bolt

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/productfarm/ruleengine/core"
)

// bucketName is the single bucket every rule's PersistedRule blob is
// stored under, keyed by the rule id. A single bucket (rather than
// rulio's one-bucket-per-location) fits this store's single flat
// RuleId key space: product scoping, when it matters to a caller,
// lives in the RuleId itself by convention (e.g. "product:rule-id").
var bucketName = []byte("compiled_rules")

// DefaultOptions mirrors Comcast-rulio's storage/bolt/bolt.go: an
// explicit open timeout so a second process contending for the same
// file fails fast rather than hanging.
var DefaultOptions = &bolt.Options{
	Timeout: 5 * time.Second,
}

// CompiledRuleRepository implements core.CompiledRuleRepository over
// a single boltdb file.
type CompiledRuleRepository struct {
	db       *bolt.DB
	Filename string
}

// NewCompiledRuleRepository opens (creating if needed) a boltdb file
// at filename and ensures the compiled-rule bucket exists.
func NewCompiledRuleRepository(ctx *core.Context, filename string) (*CompiledRuleRepository, error) {
	core.Log(core.INFO|core.STORAGE, ctx, "bolt.NewCompiledRuleRepository", "filename", filename)
	db, err := bolt.Open(filename, 0644, DefaultOptions)
	if err != nil {
		core.Log(core.CRIT, ctx, "bolt.NewCompiledRuleRepository", "error", err, "file", filename)
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CompiledRuleRepository{db: db, Filename: filename}, nil
}

func (b *CompiledRuleRepository) Get(id core.RuleId) (*core.PersistedRule, bool) {
	var (
		p    *core.PersistedRule
		have bool
	)
	_ = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var decoded core.PersistedRule
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		p = &decoded
		have = true
		return nil
	})
	return p, have
}

func (b *CompiledRuleRepository) Save(id core.RuleId, p *core.PersistedRule) error {
	if p == nil {
		return fmt.Errorf("bolt.CompiledRuleRepository.Save: nil PersistedRule for %s", id)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), raw)
	})
}

func (b *CompiledRuleRepository) Delete(id core.RuleId) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

func (b *CompiledRuleRepository) ListIds() ([]core.RuleId, error) {
	var ids []core.RuleId
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, core.RuleId(string(k)))
		}
		return nil
	})
	return ids, err
}

// Destroy closes and removes the underlying database file, mirroring
// Comcast-rulio's BoltStorage.Destroy (used by tests to clean up).
func (b *CompiledRuleRepository) Destroy(ctx *core.Context) error {
	core.Log(core.INFO|core.STORAGE, ctx, "bolt.CompiledRuleRepository.Destroy")
	if err := b.db.Close(); err != nil {
		core.Log(core.CRIT|core.STORAGE, ctx, "bolt.CompiledRuleRepository.Destroy", "error", err, "when", "CloseDB")
		return err
	}
	if err := os.Remove(b.Filename); err != nil {
		core.Log(core.CRIT|core.STORAGE, ctx, "bolt.CompiledRuleRepository.Destroy", "error", err, "when", "RemoveDB")
		return err
	}
	return nil
}

func (b *CompiledRuleRepository) Close(ctx *core.Context) error {
	core.Log(core.INFO|core.STORAGE, ctx, "bolt.CompiledRuleRepository.Close")
	return b.db.Close()
}

func (b *CompiledRuleRepository) Health(ctx *core.Context) error {
	core.Log(core.INFO|core.STORAGE, ctx, "bolt.CompiledRuleRepository.Health")
	return nil
}

// productOf extracts the "product:" prefix convention from a RuleId,
// for callers that want to scope ListIds-style scans by product
// without a second bucket layer.
func productOf(id core.RuleId) string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return ""
}

var _ core.CompiledRuleRepository = (*CompiledRuleRepository)(nil)
