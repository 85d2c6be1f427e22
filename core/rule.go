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

	"github.com/gorhill/cronexpr"
)

// RuleId names a rule. Stable across a rule's lifetime even as its
// expression is edited in place.
type RuleId string

// JSONLogicRuleType is the rule_type tag the built-in JSON-Logic
// evaluator claims. Any other tag is looked up in the Executor's
// Evaluators table and dispatched before the bytecode cache is ever
// consulted, per spec.md section 9's "pluggable evaluators are
// dispatched before the tier machinery via the rule's type tag."
const JSONLogicRuleType = "jsonlogic"

// Rule is one product's declarative binding of inputs to outputs via
// a JSON-Logic expression. The expression is kept as canonical JSON
// text so schema drift in the AST's Go representation never corrupts
// stored rules; the AST is a derived artifact, reparsed on demand (or
// cached — see RuleCache).
type Rule struct {
	Id               RuleId  `json:"id"`
	ProductId        string  `json:"productId"`
	RuleType         string  `json:"ruleType"`
	ExpressionJson   string  `json:"expressionJson"`
	InputAttributes  []string `json:"inputAttributes,omitempty"`
	OutputAttributes []string `json:"outputAttributes,omitempty"`
	OrderIndex       int32   `json:"orderIndex"`
	Enabled          bool    `json:"enabled"`
	Description      *string `json:"description,omitempty"`
	// Schedule is an optional cron expression naming when an external
	// scheduler should re-trigger evaluation involving this rule. Core
	// never acts on it directly (no scheduler daemon lives here); it
	// is parsed and validated at load time so a malformed schedule is
	// caught early rather than silently ignored downstream.
	Schedule *string `json:"schedule,omitempty"`
}

// NewRule builds a Rule with a fresh stable id.
func NewRule(productId, ruleType, expressionJson string) *Rule {
	return &Rule{
		Id:             RuleId(UUID()),
		ProductId:      productId,
		RuleType:       ruleType,
		ExpressionJson: expressionJson,
		Enabled:        true,
	}
}

// ParseExpr parses the rule's stored JSON text into an Expr, the
// derived artifact every evaluation tier actually runs against.
func (r *Rule) ParseExpr() (Expr, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(r.ExpressionJson), &doc); err != nil {
		return Expr{}, NewParseError(InvalidStructure, "rule %s: %s", r.Id, err.Error())
	}
	return Parse(doc)
}

// ParseSchedule validates r.Schedule, if present, as a cronexpr
// expression without retaining any notion of "next run" — that
// belongs to whatever external scheduler consumes this field.
func (r *Rule) ParseSchedule() error {
	if r.Schedule == nil || *r.Schedule == "" {
		return nil
	}
	if _, err := cronexpr.Parse(*r.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %s", *r.Schedule, err.Error())
	}
	return nil
}

// RuleValidationCode distinguishes the codes a structured validation
// finding can carry (both errors and warnings, per spec.md section 4.6).
type RuleValidationCode string

const (
	CodeInvalidExpressionJson RuleValidationCode = "InvalidExpressionJson"
	CodeNoOutputAttributes    RuleValidationCode = "NoOutputAttributes"
	CodeDuplicateOutput       RuleValidationCode = "DuplicateOutput"
	CodeUndeclaredInput       RuleValidationCode = "UndeclaredInput"
	CodeUnusedDeclaredInput   RuleValidationCode = "UnusedDeclaredInput"
	CodeDebugLogPresent       RuleValidationCode = "DebugLogPresent"
	CodeMalformedSchedule     RuleValidationCode = "MalformedSchedule"
)

// RuleFinding is one structured validation error or warning, carrying
// enough context (rule id, code, free-text message) for a caller to
// locate and act on it without re-deriving the reason from scratch.
type RuleFinding struct {
	Code     RuleValidationCode `json:"code"`
	Message  string             `json:"message"`
	RuleId   RuleId             `json:"ruleId,omitempty"`
	Location string             `json:"location,omitempty"`
}

func (f RuleFinding) String() string {
	if f.RuleId != "" {
		return fmt.Sprintf("%s: %s (rule %s)", f.Code, f.Message, f.RuleId)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// ValidationReport is the structured output of ValidateRuleSet: pure,
// deterministic, and independent of any particular execution.
type ValidationReport struct {
	Errors   []RuleFinding
	Warnings []RuleFinding
}

func (vr *ValidationReport) addError(code RuleValidationCode, ruleId RuleId, format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, RuleFinding{Code: code, Message: fmt.Sprintf(format, args...), RuleId: ruleId})
}

func (vr *ValidationReport) addWarning(code RuleValidationCode, ruleId RuleId, format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, RuleFinding{Code: code, Message: fmt.Sprintf(format, args...), RuleId: ruleId})
}

// OK reports whether the report carries no errors (warnings don't
// block a rule set from being used).
func (vr *ValidationReport) OK() bool {
	return len(vr.Errors) == 0
}

// ValidateRuleSet implements spec.md section 4.6's independent,
// execution-free validation pass over an entire rule set: it needs
// the whole set (not one rule at a time) to detect duplicate outputs
// and to decide whether an undeclared input is produced by a sibling
// rule rather than genuinely missing.
func ValidateRuleSet(rules []*Rule) *ValidationReport {
	report := &ValidationReport{}

	outputProducers := map[string][]RuleId{}
	parsed := make(map[RuleId]*Expr, len(rules))

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if len(r.OutputAttributes) == 0 {
			report.addError(CodeNoOutputAttributes, r.Id, "rule declares no output_attributes")
		}
		for _, out := range r.OutputAttributes {
			outputProducers[out] = append(outputProducers[out], r.Id)
		}

		if err := r.ParseSchedule(); err != nil {
			report.addError(CodeMalformedSchedule, r.Id, "%s", err.Error())
		}

		e, err := r.ParseExpr()
		if err != nil {
			report.addError(CodeInvalidExpressionJson, r.Id, "%s", err.Error())
			continue
		}
		parsed[r.Id] = &e

		if e.HasLogOp() {
			report.addWarning(CodeDebugLogPresent, r.Id, "expression contains a log operator")
		}
	}

	for out, producers := range outputProducers {
		if len(producers) > 1 {
			report.addError(CodeDuplicateOutput, producers[0],
				"output %q is produced by %d enabled rules: %v", out, len(producers), producers)
		}
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		e, have := parsed[r.Id]
		if !have {
			continue
		}
		declared := NewStringSet(r.InputAttributes)
		referenced := NewStringSet(e.CollectVarPaths())

		for _, path := range referenced.Array() {
			if declared.Contains(path) {
				continue
			}
			if _, producedBySibling := outputProducers[path]; producedBySibling {
				continue
			}
			report.addWarning(CodeUndeclaredInput, r.Id,
				"variable %q is neither a declared input nor produced by another rule", path)
		}

		for _, path := range r.InputAttributes {
			if !referenced.Contains(path) {
				report.addWarning(CodeUnusedDeclaredInput, r.Id,
					"declared input %q is never referenced in the expression", path)
			}
		}
	}

	return report
}
