// Copyright 2026 The Flowmesh Authors
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

package plan

import (
	"fmt"

	"github.com/expr-lang/expr"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// ConditionEnv is the evaluation environment for expression conditions.
type ConditionEnv struct {
	// Outcome is the reported predecessor outcome.
	Outcome Outcome
	// StepID is the candidate successor step.
	StepID string
	// ExecutionID is the predecessor's execution identifier.
	ExecutionID string
}

// EvaluateEntryCondition decides whether a successor step is admitted
// given its entry condition and the predecessor's outcome. An unknown
// condition type is a hard error: silently admitting or dropping a step
// on a type the engine does not understand corrupts the traversal.
func EvaluateEntryCondition(cond EntryCondition, env ConditionEnv) (bool, error) {
	switch cond.Type {
	case ConditionAlways:
		return true, nil
	case ConditionPreviousCompleted:
		return true, nil
	case ConditionPreviousSuccess:
		return env.Outcome == OutcomeSuccess, nil
	case ConditionExpression:
		return evaluateExpression(cond.Expression, env)
	default:
		return false, &flowmesherrors.InvalidArgumentError{
			Field:   "entryCondition",
			Message: fmt.Sprintf("unknown entry condition type %q", cond.Type),
		}
	}
}

func evaluateExpression(expression string, env ConditionEnv) (bool, error) {
	if expression == "" {
		return false, &flowmesherrors.InvalidArgumentError{
			Field:   "entryCondition",
			Message: "expression condition with empty expression",
		}
	}

	vars := map[string]any{
		"outcome":     string(env.Outcome),
		"stepId":      env.StepID,
		"executionId": env.ExecutionID,
	}

	program, err := expr.Compile(expression, expr.Env(vars), expr.AsBool())
	if err != nil {
		return false, &flowmesherrors.InvalidArgumentError{
			Field:   "entryCondition",
			Message: fmt.Sprintf("compile expression %q: %v", expression, err),
		}
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return false, &flowmesherrors.InvalidArgumentError{
			Field:   "entryCondition",
			Message: fmt.Sprintf("evaluate expression %q: %v", expression, err),
		}
	}

	result, ok := out.(bool)
	if !ok {
		return false, &flowmesherrors.InvalidArgumentError{
			Field:   "entryCondition",
			Message: fmt.Sprintf("expression %q did not produce a boolean", expression),
		}
	}
	return result, nil
}
