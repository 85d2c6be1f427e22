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

import "fmt"

// Problem is the common shape of every error this engine returns: it
// always knows whether the surrounding operation (parsing a rule,
// validating a set, evaluating a rule) should give up or keep going.
type Problem interface {
	IsFatal() bool
	Error() string
}

// Condition is a lightweight Problem for ephemeral, retryable
// conditions (breaker throttling, backoff) that don't fit the
// rule-parsing/validation/evaluation taxonomy below.
type Condition struct {
	Msg  string
	Hope string
}

func (c *Condition) Error() string {
	if c == nil {
		return "nil condition"
	}
	return c.Msg
}

func (c *Condition) IsFatal() bool {
	return c.Hope == "fatal"
}

func (c *Condition) String() string {
	return "Condition: " + c.Msg + " (hope: " + c.Hope + ")"
}

// ParseErrorKind enumerates the ways a JSON-Logic document can fail to
// become an Expr. Parse errors are captured per rule; other rules in
// the same set proceed.
type ParseErrorKind string

const (
	UnknownOperation     ParseErrorKind = "UnknownOperation"
	InvalidArgumentCount ParseErrorKind = "InvalidArgumentCount"
	InvalidVariablePath  ParseErrorKind = "InvalidVariablePath"
	InvalidStructure     ParseErrorKind = "InvalidStructure"
)

// ParseError reports a single, fatal-to-that-rule failure to parse a
// JSON-Logic document into an Expr.
type ParseError struct {
	Kind     ParseErrorKind
	Op       string
	Expected string
	Actual   int
	Msg      string
}

func NewParseError(kind ParseErrorKind, s string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Msg: fmt.Sprintf(s, args...)}
}

func (e *ParseError) Error() string {
	if e == nil {
		return "nil parse error"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ParseError) IsFatal() bool {
	return true
}

func (e *ParseError) String() string {
	return "ParseError: " + e.Error()
}

// ValidationErrorKind enumerates the rule-set-level problems that
// prevent a rule set from being deployed at all.
type ValidationErrorKind string

const (
	NoOutputs        ValidationErrorKind = "NoOutputs"
	DuplicateOutput  ValidationErrorKind = "DuplicateOutput"
	CyclicDependency ValidationErrorKind = "CyclicDependency"
	InvalidConfig    ValidationErrorKind = "InvalidConfig"
)

// ValidationError halts rule-set acceptance; it is never raised mid
// evaluation (evaluation errors, below, are for that).
type ValidationError struct {
	Kind   ValidationErrorKind
	RuleId string
	Msg    string
}

func NewValidationError(kind ValidationErrorKind, ruleId string, s string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, RuleId: ruleId, Msg: fmt.Sprintf(s, args...)}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "nil validation error"
	}
	if e.RuleId != "" {
		return fmt.Sprintf("%s (rule %s): %s", e.Kind, e.RuleId, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ValidationError) IsFatal() bool {
	return true
}

// ValidationWarningKind enumerates non-fatal observations the
// validator reports alongside a rule set; these never block
// deployment.
type ValidationWarningKind string

const (
	MissingInput ValidationWarningKind = "MissingInput"
	UnusedInput  ValidationWarningKind = "UnusedInput"
	NoElse       ValidationWarningKind = "NoElse"
	DebugLog     ValidationWarningKind = "DebugLog"
	UnknownOp    ValidationWarningKind = "UnknownOp"
	TypeMismatch ValidationWarningKind = "TypeMismatch"
	TypeCoercion ValidationWarningKind = "TypeCoercion"
)

// ValidationWarning is a structured, non-blocking observation about a
// rule or rule set.
type ValidationWarning struct {
	Kind     ValidationWarningKind `json:"code"`
	Message  string                `json:"message"`
	RuleId   string                `json:"ruleId,omitempty"`
	Location string                `json:"location,omitempty"`
}

// EvaluationErrorKind enumerates the ways a single rule's expression
// can fail at run time against live data.
type EvaluationErrorKind string

const (
	VariableNotFound EvaluationErrorKind = "VariableNotFound"
	TypeError        EvaluationErrorKind = "TypeError"
	InternalVmError  EvaluationErrorKind = "InternalVmError"
)

// EvaluationError marks a single rule's result as success=false; it
// never halts sibling or downstream-level rules.
type EvaluationError struct {
	Kind EvaluationErrorKind
	Msg  string
}

func NewEvaluationError(kind EvaluationErrorKind, s string, args ...interface{}) *EvaluationError {
	return &EvaluationError{Kind: kind, Msg: fmt.Sprintf(s, args...)}
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "nil evaluation error"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *EvaluationError) IsFatal() bool {
	// Fatal to this rule's result only, never to the overall evaluation.
	return true
}

// NotFoundError reports a repository lookup miss; not fatal to a
// surrounding batch operation.
type NotFoundError struct {
	Msg string
}

func NewNotFoundError(s string, args ...interface{}) *NotFoundError {
	return &NotFoundError{fmt.Sprintf(s, args...)}
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Msg
}

func (e *NotFoundError) IsFatal() bool {
	return false
}

func (e *NotFoundError) String() string {
	return "NotFoundError: " + e.Msg
}
