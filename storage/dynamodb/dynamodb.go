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

package dynamodb

// A second core.RuleRepository backend, alongside storage/cassandra,
// giving the pack's AWS SDK stand-in (AdRoll/goamz, a fork of the
// teacher's own crowdmob/goamz) a concrete deployment target per
// spec.md section 1. Each Rule becomes one DynamoDB item, hash-keyed
// by rule id, with product_id stored as a regular attribute;
// FindByProduct scans the table and filters on each decoded rule's
// ProductId.
//
// Grounded on Comcast-rulio's storage/dynamodb/dynamodb.go: this keeps
// its region-resolution logic (including the "local" endpoint hook
// for a local DynamoDB used in tests), its ParseConfig
// "region:tableName:consistent" convention, its describe-or-create
// table bootstrap in init, and its package-level cached-storage
// singleton (GetStorage/sysDB). Rulio's item shape is one location's
// entire fact state with optimistic-locking attributes
// (LAST_UPDATED, ConditionalUpdateAttributes); that concern doesn't
// apply to a Rule record (rules are replaced wholesale by id, not
// accumulated fact-by-fact), so this adaptation drops the
// conditional-update machinery and keeps a plain put/get/delete per
// item, still through the same table/server plumbing.
import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AdRoll/goamz/aws"
	"github.com/AdRoll/goamz/dynamodb"

	"github.com/productfarm/ruleengine/core"
)

var (
	DefaultRegion     = "us-west-1"
	DefaultTableName  = "rules"
	DefaultConsistent = false
)

// Dialer is an instrumented net.Dialer, kept from the teacher's own
// http.DefaultTransport tuning (crowdmob/goamz and its descendants
// use http.DefaultClient, so a large MaxIdleConnsPerHost matters).
type Dialer struct {
	net.Dialer
}

func (d *Dialer) Dial(network string, address string) (net.Conn, error) {
	return d.Dialer.Dial(network, address)
}

func init() {
	dialer := Dialer{net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}}
	http.DefaultTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		Dial:                dialer.Dial,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 1000,
	}
}

var sysDB struct {
	sync.Mutex
	caching bool
	storage *RuleRepository
}

// RuleRepository implements core.RuleRepository using DynamoDB.
type RuleRepository struct {
	server    *dynamodb.Server
	tableName string
	table     *dynamodb.Table
	// Consistent selects GetItemConsistent over GetItem.
	Consistent bool
}

// Config names the region, table, and read-consistency a
// RuleRepository connects with.
type Config struct {
	Region     string
	TableName  string
	Consistent bool
}

// ParseConfig parses "region[:tableName[:(true|false)]]", defaulting
// unset fields to DefaultRegion/DefaultTableName/DefaultConsistent.
func ParseConfig(config string) (*Config, error) {
	region := DefaultRegion
	name := DefaultTableName
	consistent := DefaultConsistent

	parts := strings.SplitN(config, ":", 3)
	if len(parts) > 0 && parts[0] != "" {
		region = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		name = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		switch parts[2] {
		case "true":
			consistent = true
		case "false":
			consistent = false
		default:
			return nil, fmt.Errorf("bad consistency in %q", config)
		}
	}
	return &Config{Region: region, TableName: name, Consistent: consistent}, nil
}

func getDynamoServer(ctx *core.Context, region string) (*dynamodb.Server, error) {
	core.Log(core.INFO, ctx, "dynamodb.getDynamoServer", "region", region)

	switch {
	case region == "local":
		r := aws.Region{DynamoDBEndpoint: "http://127.0.0.1:8000"}
		auth := aws.Auth{AccessKey: "DUMMY_KEY", SecretKey: "DUMMY_SECRET"}
		return dynamodb.New(auth, r), nil
	case strings.HasPrefix(region, "http:"):
		r := aws.Region{DynamoDBEndpoint: region}
		auth, err := aws.GetAuth("", "", "", time.Now().Add(100000*time.Hour))
		if err != nil {
			core.Log(core.INFO, ctx, "dynamodb.getDynamoServer", "warning", err)
			return nil, err
		}
		return dynamodb.New(auth, r), nil
	default:
		auth, err := aws.EnvAuth()
		if err != nil {
			auth, err = aws.GetAuth("", "", "", time.Now().Add(100000*time.Hour))
			if err != nil {
				core.Log(core.INFO, ctx, "dynamodb.getDynamoServer", "warning", err)
				return nil, err
			}
		}
		r, found := aws.Regions[region]
		if !found {
			err = fmt.Errorf("bad region name %q", region)
			core.Log(core.INFO, ctx, "dynamodb.getDynamoServer", "error", err)
			return nil, err
		}
		return dynamodb.New(auth, r), nil
	}
}

func ruleTableDescription(name string) *dynamodb.TableDescriptionT {
	return &dynamodb.TableDescriptionT{
		TableName: name,
		AttributeDefinitions: []dynamodb.AttributeDefinitionT{
			{Name: "id", Type: "S"},
		},
		KeySchema: []dynamodb.KeySchemaT{
			{AttributeNam: "id", KeyType: "HASH"},
		},
		ProvisionedThroughput: dynamodb.ProvisionedThroughputT{
			ReadCapacityUnits:  1,
			WriteCapacityUnits: 1,
		},
	}
}

// NewRuleRepository connects to (and, if necessary, provisions) the
// DynamoDB table backing rule storage.
func NewRuleRepository(ctx *core.Context, config Config) (*RuleRepository, error) {
	core.Log(core.INFO, ctx, "dynamodb.NewRuleRepository", "table", config.TableName, "region", config.Region)

	if len(config.TableName) < 3 || len(config.TableName) > 255 {
		return nil, errors.New("table name must be at least 3 characters long and at most 255 characters long")
	}

	server, err := getDynamoServer(ctx, config.Region)
	if err != nil {
		return nil, err
	}
	r := &RuleRepository{server: server, tableName: config.TableName, Consistent: config.Consistent}
	if err := r.init(ctx, config.TableName); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRuleRepository returns a process-cached RuleRepository, creating
// one if necessary, mirroring Comcast-rulio's GetStorage/sysDB.
func GetRuleRepository(ctx *core.Context, config Config) (*RuleRepository, error) {
	sysDB.Lock()
	defer sysDB.Unlock()

	if sysDB.caching && sysDB.storage != nil {
		return sysDB.storage, nil
	}
	var err error
	sysDB.storage, err = NewRuleRepository(ctx, config)
	return sysDB.storage, err
}

func (r *RuleRepository) init(ctx *core.Context, table string) error {
	core.Log(core.INFO, ctx, "dynamodb.RuleRepository.init", "table", table)
	td, err := r.server.DescribeTable(table)
	if err != nil {
		core.Log(core.INFO, ctx, "dynamodb.RuleRepository.init", "creating", table)
		td = ruleTableDescription(table)
		if _, err = r.server.CreateTable(*td); err != nil {
			return err
		}
	}

	pk, err := td.BuildPrimaryKey()
	if err != nil {
		return err
	}
	if pk.KeyAttribute == nil {
		name := td.AttributeDefinitions[0].Name
		attr := dynamodb.NewStringAttribute(name, "")
		attr.Type = td.AttributeDefinitions[0].Type
		pk.KeyAttribute = attr
	}
	r.table = r.server.NewTable(table, pk)
	return nil
}

func (r *RuleRepository) getItem(id core.RuleId) (*core.Rule, bool) {
	k := dynamodb.Key{HashKey: string(id)}
	attrs, err := r.table.GetItemConsistent(&k, r.Consistent)
	if err != nil {
		return nil, false
	}
	raw, have := attrs["rule_json"]
	if !have {
		return nil, false
	}
	var rule core.Rule
	if err := json.Unmarshal([]byte(raw.Value), &rule); err != nil {
		return nil, false
	}
	return &rule, true
}

func (r *RuleRepository) Get(id core.RuleId) (*core.Rule, bool) {
	return r.getItem(id)
}

func (r *RuleRepository) Save(rule *core.Rule) error {
	if rule == nil {
		return fmt.Errorf("dynamodb.RuleRepository.Save: nil rule")
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	attrs := []dynamodb.Attribute{
		*dynamodb.NewStringAttribute("rule_json", string(raw)),
		*dynamodb.NewStringAttribute("product_id", rule.ProductId),
	}
	k := dynamodb.Key{HashKey: string(rule.Id)}
	if _, err := r.table.UpdateAttributes(&k, attrs); err != nil {
		return err
	}
	return nil
}

func (r *RuleRepository) Delete(id core.RuleId) error {
	k := dynamodb.Key{HashKey: string(id)}
	_, err := r.table.DeleteItem(&k)
	return err
}

// FindByProduct scans the table for items whose product_id attribute
// matches productId. A hot path would prefer a global secondary index
// on product_id; out of scope for this adapter, which exists to give
// the pack's AWS SDK dependency a home rather than to be a production
// query planner.
func (r *RuleRepository) FindByProduct(productId string) ([]*core.Rule, error) {
	items, err := r.table.Scan(nil)
	if err != nil {
		return nil, err
	}
	var rules []*core.Rule
	for _, attrs := range items {
		raw, have := attrs["rule_json"]
		if !have {
			continue
		}
		var rule core.Rule
		if err := json.Unmarshal([]byte(raw.Value), &rule); err != nil {
			continue
		}
		if rule.ProductId == productId {
			rules = append(rules, &rule)
		}
	}
	return rules, nil
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

func (r *RuleRepository) Close(ctx *core.Context) error {
	return nil
}

func (r *RuleRepository) Health(ctx *core.Context) error {
	core.Log(core.INFO, ctx, "dynamodb.RuleRepository.Health", "table", r.tableName)
	_, err := r.server.DescribeTable(r.tableName)
	if err != nil {
		core.Log(core.ERROR, ctx, "dynamodb.RuleRepository.Health", "table", r.tableName, "error", err)
	}
	return err
}

var _ core.RuleRepository = (*RuleRepository)(nil)
