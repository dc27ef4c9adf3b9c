// Copyright 2025 Tom Barlow
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

package errors_test

import (
	"errors"
	"strings"
	"testing"

	conductorerrors "github.com/relaywork/relay/pkg/errors"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *conductorerrors.DomainError
		want []string
	}{
		{
			name: "without step id",
			err:  conductorerrors.NewPermanent(conductorerrors.KindWorkflowStructure, "cycle detected", nil),
			want: []string{"workflow_structure", "permanent", "cycle detected"},
		},
		{
			name: "with step id",
			err:  conductorerrors.NewTransient(conductorerrors.KindAPICall, "connection reset", nil).WithStep("fetch-data"),
			want: []string{"api_call", "transient", "fetch-data", "connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("DomainError.Error() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}

func TestDomainError_IsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *conductorerrors.DomainError
		want bool
	}{
		{"transient is retryable", conductorerrors.NewTransient(conductorerrors.KindTimeout, "timed out", nil), true},
		{"permanent is not retryable", conductorerrors.NewPermanent(conductorerrors.KindInvalidStepType, "unknown step type", nil), false},
		{"user is not retryable", conductorerrors.NewUser(conductorerrors.KindValidation, "missing field"), false},
		{"critical is not retryable", conductorerrors.NewCritical(conductorerrors.KindDatabase, "pool exhausted", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := conductorerrors.NewTransient(conductorerrors.KindMCPConnection, "failed to connect", cause)

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause in the chain")
	}
}

func TestDomainError_WithCorrelationAndStep(t *testing.T) {
	base := conductorerrors.NewPermanent(conductorerrors.KindRegistry, "no healthy instance", nil)
	stamped := base.WithCorrelation("corr-1").WithStep("dispatch-order")

	if base.CorrelationID != "" || base.StepID != "" {
		t.Error("WithCorrelation/WithStep must not mutate the receiver")
	}
	if stamped.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want %q", stamped.CorrelationID, "corr-1")
	}
	if stamped.StepID != "dispatch-order" {
		t.Errorf("StepID = %q, want %q", stamped.StepID, "dispatch-order")
	}
}

func TestDomainError_ErrorType(t *testing.T) {
	err := conductorerrors.NewUser(conductorerrors.KindInvalidInput, "bad payload")
	if got := err.ErrorType(); got != "invalid_input" {
		t.Errorf("ErrorType() = %q, want %q", got, "invalid_input")
	}
}
