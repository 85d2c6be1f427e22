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

// A request over any transport needs to be transformed into a generic
// service request. That generic service request is (perhaps
// unfortunately) currently just 'map[string]interface{}'. The name of
// the function to invoke is at the key 'uri' for obvious historical
// reasons.
//
// Grounded on Comcast-rulio's service/service.go: kept its
// map[string]interface{}-as-request convention, its DWIMURI URI
// normalization, its GetStringParam helper, and its flat
// switch-on-uri dispatcher in ProcessRequest — but every case now
// names a rule-engine operation (evaluation, plan rendering, impact
// analysis, control) rather than rulio's location/fact operations.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/pretty"

	"github.com/productfarm/ruleengine/core"
)

const APIVersion = "0.1.0"

// Engine is the set of collaborators ProcessRequest dispatches
// against: a rule store, a compiled-rule cache, the pluggable
// evaluators available to a rule whose type isn't the built-in
// JSON-Logic one, and a DAG built from the rules currently in the
// store for one product.
type Engine interface {
	Rules() core.RuleRepository
	Cache() *core.RuleCache
	Evaluators() map[string]core.Evaluator
	Dag(productId string) (*core.RuleDag, error)
}

type Service struct {
	Engine Engine

	// Stopper is the function we call when we want to shut ourselves
	// down, typically wired up by the HTTP server to its own Listener.Stop.
	Stopper func(*core.Context, time.Duration) error
}

func (s *Service) Start(ctx *core.Context, enginePort string) error {
	return nil
}

// DWIMURI normalizes a request URI: drop query params, add a missing
// leading "/", drop a leading version component, and ensure an "/api"
// prefix so every case in ProcessRequest's switch can ignore both.
func DWIMURI(ctx *core.Context, uri string) string {
	given := uri
	dropParams, _ := regexp.Compile("[?].*")
	uri = dropParams.ReplaceAllString(uri, "")
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	dropVersion, _ := regexp.Compile("^/v?[.0-9]+")
	uri = dropVersion.ReplaceAllString(uri, "")
	if !strings.HasPrefix(uri, "/api") {
		uri = "/api" + uri
	}
	core.Log(core.DEBUG, ctx, "service.DWIMURI", "from", given, "to", uri)
	return uri
}

func GetStringParam(m map[string]interface{}, p string, required bool) (string, bool, error) {
	v, have := m[p]
	if !have {
		if required {
			return "", false, fmt.Errorf("parameter %s missing", p)
		}
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("parameter %s type %T wrong", p, v)
	}
	return s, true, nil
}

// Redirect packages up a directive to send a client to another
// process, kept for a future multi-process deployment with a router
// in front of several engine instances.
type Redirect struct {
	To string
}

func (r *Redirect) Error() string {
	return "redirect to " + r.To
}

func (s *Service) ProcessRequest(ctx *core.Context, m map[string]interface{}, out io.Writer) (map[string]interface{}, error) {
	core.Log(core.INFO, ctx, "service.ProcessRequest", "m", m)

	timer := core.NewTimer(ctx, "ProcessRequest")
	defer timer.Stop()

	u, given := m["uri"]
	if !given {
		return nil, errors.New("no uri")
	}
	uri := DWIMURI(ctx, u.(string))

	switch uri {

	case "/api/version":
		fmt.Fprintf(out, `{"version":%q,"go":%q}`, APIVersion, runtime.Version())

	case "/api/health":
		fmt.Fprintf(out, `{"status":"good"}`)

	case "/api/rules/evaluate":
		productId, _, err := GetStringParam(m, "product", true)
		if err != nil {
			return nil, err
		}
		dag, err := s.Engine.Dag(productId)
		if err != nil {
			return nil, err
		}
		rawInputs, have := m["inputs"]
		if !have {
			return nil, errors.New(`"inputs" missing`)
		}
		inputMap, ok := rawInputs.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf(`"inputs" must be an object, not %T`, rawInputs)
		}
		inputs := make(map[string]core.Value, len(inputMap))
		for k, v := range inputMap {
			inputs[k] = core.FromJSON(v)
		}

		ex := core.NewExecutor(dag, s.Engine.Cache(), ruleSource{s.Engine.Rules()})
		ex.Evaluators = s.Engine.Evaluators()
		result := ex.Run(ctx, inputs)
		js, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		out.Write(pretty.Pretty(js))

	case "/api/rules/plan":
		productId, _, err := GetStringParam(m, "product", true)
		if err != nil {
			return nil, err
		}
		dag, err := s.Engine.Dag(productId)
		if err != nil {
			return nil, err
		}
		format, given, _ := GetStringParam(m, "format", false)
		plan := dag.Plan()
		switch {
		case !given || format == "json":
			js, err := json.Marshal(plan)
			if err != nil {
				return nil, err
			}
			out.Write(pretty.Pretty(js))
		case format == "dot":
			out.Write([]byte(plan.DOT()))
		case format == "mermaid":
			out.Write([]byte(plan.Mermaid()))
		case format == "ascii":
			out.Write([]byte(plan.ASCII()))
		default:
			return nil, fmt.Errorf("unknown plan format %q", format)
		}

	case "/api/rules/impact":
		productId, _, err := GetStringParam(m, "product", true)
		if err != nil {
			return nil, err
		}
		path, _, err := GetStringParam(m, "path", true)
		if err != nil {
			return nil, err
		}
		dag, err := s.Engine.Dag(productId)
		if err != nil {
			return nil, err
		}
		report := dag.Impact(path, nil)
		js, err := json.Marshal(report)
		if err != nil {
			return nil, err
		}
		out.Write(pretty.Pretty(js))

	case "/api/sys/admin/shutdown":
		duration, given, _ := GetStringParam(m, "d", false)
		if given && s.Stopper == nil {
			return nil, errors.New("no Stopper configured")
		}
		if !given {
			duration = "1s"
		}
		d, err := time.ParseDuration(duration)
		if err != nil {
			return nil, err
		}
		if s.Stopper != nil {
			if err := s.Stopper(ctx, d); err != nil {
				return nil, err
			}
		}
		fmt.Fprintf(out, `{"status":"stopping"}`)

	default:
		return nil, fmt.Errorf("unknown uri %s", uri)
	}

	return m, nil
}

// ruleSource adapts a core.RuleRepository to core.RuleSource, the
// narrower read interface the Executor actually needs.
type ruleSource struct {
	repo core.RuleRepository
}

// NewRuleSource adapts a core.RuleRepository to core.RuleSource for
// callers outside this package (e.g. a scheduler daemon) that need to
// build their own Executor.
func NewRuleSource(repo core.RuleRepository) core.RuleSource {
	return ruleSource{repo}
}

func (rs ruleSource) Rule(id core.RuleId) (*core.Rule, bool) {
	return rs.repo.Get(id)
}

func (rs ruleSource) Expr(id core.RuleId) (core.Expr, error) {
	rule, have := rs.repo.Get(id)
	if !have {
		return core.Expr{}, fmt.Errorf("no such rule %s", id)
	}
	var raw interface{}
	if err := json.Unmarshal([]byte(rule.ExpressionJson), &raw); err != nil {
		return nil, err
	}
	return core.Parse(raw)
}
