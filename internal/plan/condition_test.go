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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

func TestEvaluateEntryCondition(t *testing.T) {
	tests := []struct {
		name    string
		cond    EntryCondition
		env     ConditionEnv
		want    bool
		wantErr bool
	}{
		{
			name: "always admits on failure",
			cond: EntryCondition{Type: ConditionAlways},
			env:  ConditionEnv{Outcome: OutcomeFailure},
			want: true,
		},
		{
			name: "previous completed admits on failure",
			cond: EntryCondition{Type: ConditionPreviousCompleted},
			env:  ConditionEnv{Outcome: OutcomeFailure},
			want: true,
		},
		{
			name: "previous success admits on success",
			cond: EntryCondition{Type: ConditionPreviousSuccess},
			env:  ConditionEnv{Outcome: OutcomeSuccess},
			want: true,
		},
		{
			name: "previous success rejects on failure",
			cond: EntryCondition{Type: ConditionPreviousSuccess},
			env:  ConditionEnv{Outcome: OutcomeFailure},
			want: false,
		},
		{
			name: "expression over outcome",
			cond: EntryCondition{Type: ConditionExpression, Expression: `outcome == "Failure"`},
			env:  ConditionEnv{Outcome: OutcomeFailure},
			want: true,
		},
		{
			name: "expression over step id",
			cond: EntryCondition{Type: ConditionExpression, Expression: `stepId == "B" && outcome == "Success"`},
			env:  ConditionEnv{Outcome: OutcomeSuccess, StepID: "B"},
			want: true,
		},
		{
			name:    "empty expression",
			cond:    EntryCondition{Type: ConditionExpression},
			env:     ConditionEnv{Outcome: OutcomeSuccess},
			wantErr: true,
		},
		{
			name:    "broken expression",
			cond:    EntryCondition{Type: ConditionExpression, Expression: "outcome =="},
			env:     ConditionEnv{Outcome: OutcomeSuccess},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cond:    EntryCondition{Type: "OnTuesdays"},
			env:     ConditionEnv{Outcome: OutcomeSuccess},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateEntryCondition(tt.cond, tt.env)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, flowmesherrors.KindInvalidArgument, flowmesherrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
