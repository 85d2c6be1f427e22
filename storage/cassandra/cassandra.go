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

// Package cassandra implements core.RuleRepository over Cassandra,
// standing in for spec.md section 1's "graph database" adapter: rules
// and their input/output edges are stored as rows keyed by product
// and rule id, with a secondary table ("rule_outputs") indexing each
// output path back to its producing rule — the wide-column
// equivalent of the output->rule edge a real graph database would
// store natively.
//
// Grounded on Comcast-rulio's storage/cassandra/cassandra.go: kept its
// connect-then-create-keyspace-then-create-tables init sequence, its
// ParseConfig "host:port,...;user;pass;keyspace" convention, and its
// process-wide singleton-session pattern guarded by a package mutex.
package cassandra

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gocql/gocql"

	"github.com/productfarm/ruleengine/core"
)

var repoMutex sync.Mutex
var singleton *RuleRepository

// RuleRepository implements core.RuleRepository using Cassandra.
type RuleRepository struct {
	cluster *gocql.ClusterConfig
	session *gocql.Session
}

// Config mirrors Comcast-rulio's CassandraDBConfig, parsed the same
// "host:port,host:port;username;password;keyspace" way.
type Config struct {
	Nodes    []string
	Username string
	Password string
	Keyspace string
}

// ParseConfig parses a Config from a string of the form
// "host:port,host:port;username;password;keyspace".
func ParseConfig(config string) (*Config, error) {
	var nodes []string
	user, pass, ks := "", "", ""

	parts := strings.SplitN(config, ";", 4)
	if len(parts) > 0 && parts[0] != "" {
		nodes = strings.Split(parts[0], ",")
	}
	if len(parts) > 1 && parts[1] != "" {
		user = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		pass = parts[2]
	}
	if len(parts) > 3 && parts[3] != "" {
		ks = parts[3]
	}

	return &Config{Nodes: nodes, Username: user, Password: pass, Keyspace: ks}, nil
}

// NewRuleRepository connects to (and, if necessary, provisions) the
// Cassandra keyspace/tables backing rule storage. The process keeps a
// single session, matching rulio's own singleton CassStorage.
func NewRuleRepository(ctx *core.Context, config Config) (*RuleRepository, error) {
	repoMutex.Lock()
	defer repoMutex.Unlock()

	if singleton != nil {
		return singleton, nil
	}
	r := &RuleRepository{}
	if err := r.init(ctx, config); err != nil {
		return nil, err
	}
	singleton = r
	return singleton, nil
}

func (r *RuleRepository) init(ctx *core.Context, config Config) error {
	core.Log(core.INFO|core.STORAGE, ctx, "cassandra.RuleRepository.init", "nodes", config.Nodes)

	r.cluster = gocql.NewCluster(config.Nodes...)
	r.cluster.Consistency = gocql.Quorum
	if config.Username != "" {
		r.cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	keyspace := "rules"
	if config.Keyspace != "" {
		keyspace = config.Keyspace
	}

	keyspaceDDL := fmt.Sprintf(`
		CREATE KEYSPACE %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }
	`, keyspace)

	const rulesDDL = `
		CREATE TABLE rules (
			product_id text,
			rule_id text,
			rule_json text,
			enabled boolean,
			PRIMARY KEY (product_id, rule_id)
		)
	`
	const outputsDDL = `
		CREATE TABLE rule_outputs (
			output_path text,
			rule_id text,
			PRIMARY KEY (output_path)
		)
	`

	session, err := r.cluster.CreateSession()
	if err != nil {
		return err
	}
	func() {
		defer session.Close()
		if err := session.Query(keyspaceDDL).Exec(); err != nil && !strings.Contains(err.Error(), "existing keyspace") {
			core.Log(core.CRIT, ctx, "cassandra.RuleRepository.init", "ddl", keyspaceDDL, "error", err)
		}
	}()

	r.cluster.Keyspace = keyspace
	session, err = r.cluster.CreateSession()
	if err != nil {
		return err
	}

	for _, ddl := range []string{rulesDDL, outputsDDL} {
		if err := session.Query(ddl).Exec(); err != nil && !strings.Contains(err.Error(), "existing column family") {
			core.Log(core.CRIT, ctx, "cassandra.RuleRepository.init", "ddl", ddl, "error", err)
		}
	}

	r.session = session
	return nil
}

// Get fetches a rule by id. Because Cassandra's rules table is keyed
// by (product_id, rule_id), and RuleRepository's interface takes only
// a RuleId, this scans the rules table filtered by rule_id — callers
// on a hot path should prefer FindByProduct, which uses the primary
// key directly.
func (r *RuleRepository) Get(id core.RuleId) (*core.Rule, bool) {
	iter := r.session.Query(`SELECT rule_json FROM rules WHERE rule_id = ? ALLOW FILTERING`, string(id)).Iter()
	var raw string
	if !iter.Scan(&raw) {
		_ = iter.Close()
		return nil, false
	}
	_ = iter.Close()
	var rule core.Rule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return nil, false
	}
	return &rule, true
}

// Save writes rule and refreshes its output->rule index entries.
func (r *RuleRepository) Save(rule *core.Rule) error {
	if rule == nil {
		return fmt.Errorf("cassandra.RuleRepository.Save: nil rule")
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	if err := r.session.Query(
		`INSERT INTO rules (product_id, rule_id, rule_json, enabled) VALUES (?, ?, ?, ?)`,
		rule.ProductId, string(rule.Id), string(raw), rule.Enabled,
	).Exec(); err != nil {
		return err
	}
	for _, out := range rule.OutputAttributes {
		if err := r.session.Query(
			`INSERT INTO rule_outputs (output_path, rule_id) VALUES (?, ?)`,
			out, string(rule.Id),
		).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RuleRepository) Delete(id core.RuleId) error {
	rule, have := r.Get(id)
	if !have {
		return nil
	}
	if err := r.session.Query(
		`DELETE FROM rules WHERE product_id = ? AND rule_id = ?`, rule.ProductId, string(id),
	).Exec(); err != nil {
		return err
	}
	for _, out := range rule.OutputAttributes {
		if err := r.session.Query(`DELETE FROM rule_outputs WHERE output_path = ?`, out).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RuleRepository) FindByProduct(productId string) ([]*core.Rule, error) {
	iter := r.session.Query(`SELECT rule_json FROM rules WHERE product_id = ?`, productId).Iter()
	var rules []*core.Rule
	var raw string
	for iter.Scan(&raw) {
		var rule core.Rule
		if err := json.Unmarshal([]byte(raw), &rule); err == nil {
			rules = append(rules, &rule)
		}
	}
	return rules, iter.Close()
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

// ProducerOf looks up which rule, if any, produces outputPath, using
// the secondary rule_outputs table — the query the DAG builder would
// issue to reconstruct an output->rule index from storage rather than
// from an in-memory rule set.
func (r *RuleRepository) ProducerOf(outputPath string) (core.RuleId, bool) {
	var ruleId string
	if err := r.session.Query(`SELECT rule_id FROM rule_outputs WHERE output_path = ?`, outputPath).Scan(&ruleId); err != nil {
		return "", false
	}
	return core.RuleId(ruleId), true
}

func (r *RuleRepository) Close(ctx *core.Context) error {
	r.session.Close()
	return nil
}

func (r *RuleRepository) Health(ctx *core.Context) error {
	core.Log(core.INFO, ctx, "cassandra.RuleRepository.Health")
	session, err := r.cluster.CreateSession()
	if err == nil {
		iter := session.Query(`SELECT rule_id FROM rules LIMIT 1`).Iter()
		err = iter.Close()
		session.Close()
	}
	if err != nil {
		core.Log(core.ERROR, ctx, "cassandra.RuleRepository.Health", "error", err)
	}
	return err
}

var _ core.RuleRepository = (*RuleRepository)(nil)
