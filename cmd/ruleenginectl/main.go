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

// ruleenginectl wires a RuleRepository, a RuleCache, and an HTTP
// server together into a runnable process, and also offers a one-shot
// subcommand (plan) useful from a shell without standing up a server
// at all.
//
// Grounded on Comcast-rulio's rulesys/main.go: kept its
// flag.NewFlagSet-per-subcommand structure, its cpuprofile/pprof
// wiring, and its "storage" + "storage-config" flag pair selecting a
// backend by name, generalized from rulio's fixed storage set to this
// repository's three RuleRepository backends (mem, cassandra,
// dynamodb).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/productfarm/ruleengine/core"
	"github.com/productfarm/ruleengine/evaluator"
	"github.com/productfarm/ruleengine/scheduler"
	"github.com/productfarm/ruleengine/service"
	"github.com/productfarm/ruleengine/storage/bolt"
	"github.com/productfarm/ruleengine/storage/cassandra"
	"github.com/productfarm/ruleengine/storage/dynamodb"
	"github.com/productfarm/ruleengine/storage/hybrid"
	"github.com/productfarm/ruleengine/storage/memory"
)

var serveFlags = flag.NewFlagSet("serve", flag.ExitOnError)
var serveAddr = serveFlags.String("addr", "localhost:8001", "address to serve on")
var serveStorage = serveFlags.String("storage", "mem", "rule storage backend: mem, cassandra, dynamodb")
var serveStorageConfig = serveFlags.String("storage-config", "", "backend-specific config string")
var serveCompiledStorage = serveFlags.String("compiled-storage", "", "boltdb file backing the compiled-rule cache; empty disables persistence")
var serveLRU = serveFlags.Int("lru", 1000, "hybrid LRU size in front of compiled-storage; 0 disables the LRU layer")
var servePromotion = serveFlags.Uint64("promotion-threshold", core.DefaultPromotionThreshold, "eval_count at which a rule promotes from ast to bytecode")
var serveScheduleProducts = serveFlags.String("schedule-products", "", "comma-separated product ids whose scheduled rules should be re-evaluated on their cron schedule")
var serveScheduleResync = serveFlags.Duration("schedule-resync", 30*time.Second, "how often to reconcile the scheduler against each product's current rules")
var serveCpuprofile = serveFlags.String("cpuprofile", "", "write cpu profile to this file")
var serveProfilePort = serveFlags.String("httpprofileport", "", "run an HTTP server that serves profile data; empty turns it off")
var serveVerbosity = serveFlags.String("verbosity", "EVERYTHING", "logging verbosity")

var planFlags = flag.NewFlagSet("plan", flag.ExitOnError)
var planStorage = planFlags.String("storage", "mem", "rule storage backend")
var planStorageConfig = planFlags.String("storage-config", "", "backend-specific config string")
var planProduct = planFlags.String("product", "", "product id to build a plan for")
var planFormat = planFlags.String("format", "ascii", "json, dot, mermaid, or ascii")

func openRuleRepository(ctx *core.Context, kind, config string) (core.RuleRepository, error) {
	switch kind {
	case "mem", "":
		return memory.NewRuleRepository(), nil
	case "cassandra":
		cfg, err := cassandra.ParseConfig(config)
		if err != nil {
			return nil, err
		}
		return cassandra.NewRuleRepository(ctx, *cfg)
	case "dynamodb":
		cfg, err := dynamodb.ParseConfig(config)
		if err != nil {
			return nil, err
		}
		return dynamodb.NewRuleRepository(ctx, *cfg)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
}

func openCompiledRepository(ctx *core.Context, filename string, lru int) (core.CompiledRuleRepository, error) {
	if filename == "" {
		return memory.NewCompiledRuleRepository(), nil
	}
	backing, err := bolt.NewCompiledRuleRepository(ctx, filename)
	if err != nil {
		return nil, err
	}
	return hybrid.New(backing, lru)
}

// engine is the service.Engine implementation that glues a live
// RuleRepository/RuleCache pair to the HTTP service, building a fresh
// RuleDag per request (cheap relative to evaluation — rule counts per
// product are expected to be in the hundreds, not millions).
type engine struct {
	rules      core.RuleRepository
	cache      *core.RuleCache
	evaluators map[string]core.Evaluator
}

func (e *engine) Rules() core.RuleRepository            { return e.rules }
func (e *engine) Cache() *core.RuleCache                { return e.cache }
func (e *engine) Evaluators() map[string]core.Evaluator { return e.evaluators }

func (e *engine) Dag(productId string) (*core.RuleDag, error) {
	rules, err := e.rules.FindEnabledByProduct(productId)
	if err != nil {
		return nil, err
	}
	nodes := make([]*core.RuleNode, len(rules))
	for i, r := range rules {
		nodes[i] = &core.RuleNode{
			Id:         r.Id,
			Inputs:     r.InputAttributes,
			Outputs:    r.OutputAttributes,
			OrderIndex: int32(i),
		}
	}
	return core.BuildRuleDag(nodes)
}

// startScheduler keeps a scheduler.Scheduler in sync with the
// Schedule field on each named product's rules, re-running the full
// product DAG through an Executor whenever one comes due.
func startScheduler(ctx *core.Context, e *engine, products []string, resync time.Duration) {
	sched := scheduler.New(nil, 0, "ruleenginectl", 0)
	sched.Start(ctx)

	fire := func(rule *core.Rule) error {
		dag, err := e.Dag(rule.ProductId)
		if err != nil {
			return err
		}
		ex := core.NewExecutor(dag, e.cache, service.NewRuleSource(e.rules))
		ex.Evaluators = e.evaluators
		result := ex.Run(ctx, map[string]core.Value{})
		core.Log(core.INFO, ctx, "ruleenginectl.scheduler", "rule", rule.Id, "product", rule.ProductId, "results", len(result.RuleResults))
		return nil
	}

	sync := func() {
		for _, product := range products {
			product = strings.TrimSpace(product)
			if product == "" {
				continue
			}
			if err := sched.Sync(ctx, e.rules, product, fire); err != nil {
				core.Log(core.WARN, ctx, "ruleenginectl.scheduler", "product", product, "sync-error", err)
			}
		}
	}
	sync()

	go func() {
		ticker := time.NewTicker(resync)
		defer ticker.Stop()
		for range ticker.C {
			sync()
		}
	}()
}

func cmdServe(ctx *core.Context, args []string) error {
	serveFlags.Parse(args)

	if *serveCpuprofile != "" {
		f, err := os.Create(*serveCpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
	}
	if *serveProfilePort != "" {
		go func() {
			if err := http.ListenAndServe(*serveProfilePort, nil); err != nil {
				core.Log(core.WARN, ctx, "ruleenginectl.serve", "pprof-error", err)
			}
		}()
	}
	v, err := core.ParseVerbosity(*serveVerbosity)
	if err != nil {
		return fmt.Errorf("bad verbosity: %s", err)
	}
	ctx.Verbosity = v

	rules, err := openRuleRepository(ctx, *serveStorage, *serveStorageConfig)
	if err != nil {
		return err
	}
	compiled, err := openCompiledRepository(ctx, *serveCompiledStorage, *serveLRU)
	if err != nil {
		return err
	}
	cache := core.NewRuleCache(*servePromotion)
	if err := core.WarmCache(cache, compiled); err != nil {
		core.Log(core.WARN, ctx, "ruleenginectl.serve", "warmcache-error", err)
	}
	evaluators := map[string]core.Evaluator{
		"script": evaluator.NewScriptEvaluator(2 * time.Second),
	}

	eng := &engine{rules: rules, cache: cache, evaluators: evaluators}
	svc := &service.Service{Engine: eng}

	if *serveScheduleProducts != "" {
		startScheduler(ctx, eng, strings.Split(*serveScheduleProducts, ","), *serveScheduleResync)
	}

	hs, err := service.NewHTTPService(ctx, svc)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		core.Log(core.INFO, ctx, "ruleenginectl.serve", "signal", "stopping")
		if *serveCpuprofile != "" {
			pprof.StopCPUProfile()
		}
		os.Exit(0)
	}()

	core.Log(core.INFO, ctx, "ruleenginectl.serve", "addr", *serveAddr)
	return hs.Start(ctx, *serveAddr)
}

func cmdPlan(ctx *core.Context, args []string) error {
	planFlags.Parse(args)

	if *planProduct == "" {
		return fmt.Errorf("plan: -product is required")
	}
	rules, err := openRuleRepository(ctx, *planStorage, *planStorageConfig)
	if err != nil {
		return err
	}
	e := &engine{rules: rules}
	dag, err := e.Dag(*planProduct)
	if err != nil {
		return err
	}
	plan := dag.Plan()
	switch *planFormat {
	case "json":
		js, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(js))
	case "dot":
		fmt.Println(plan.DOT())
	case "mermaid":
		fmt.Println(plan.Mermaid())
	case "ascii", "":
		fmt.Println(plan.ASCII())
	default:
		return fmt.Errorf("unknown format %q", *planFormat)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ruleenginectl <serve|plan> [subcommand flags]")
		os.Exit(1)
	}

	cmd := os.Args[1]
	rest := os.Args[2:]

	ctx := core.NewContext("ruleenginectl")

	runtime.GOMAXPROCS(runtime.NumCPU())

	var err error
	switch cmd {
	case "serve":
		err = cmdServe(ctx, rest)
	case "plan":
		err = cmdPlan(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
