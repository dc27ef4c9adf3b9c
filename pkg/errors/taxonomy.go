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

package errors

import "fmt"

// Kind identifies the subsystem-level category of a DomainError.
// This is orthogonal to Category (retry semantics) and Severity
// (operational response) — a single error carries all three axes.
type Kind string

const (
	KindWorkflowStructure Kind = "workflow_structure"
	KindProcessing        Kind = "processing"
	KindNotFound          Kind = "not_found"
	KindSerialization     Kind = "serialization"
	KindDeserialization   Kind = "deserialization"
	KindDatabase          Kind = "database"
	KindAPICall           Kind = "api_call"
	KindMCPConnection     Kind = "mcp_connection"
	KindMCPProtocol       Kind = "mcp_protocol"
	KindMCPTransport      Kind = "mcp_transport"
	KindValidation        Kind = "validation"
	KindRegistry          Kind = "registry"
	KindConfiguration     Kind = "configuration"
	KindCrossSystem       Kind = "cross_system"
	KindInvalidStepType   Kind = "invalid_step_type"
	KindInvalidInput      Kind = "invalid_input"
	KindConcurrency       Kind = "concurrency"
	KindIntegrity         Kind = "integrity"
	KindBufferOverflow    Kind = "buffer_overflow"
	KindTimeout           Kind = "timeout"
	KindCancellation      Kind = "cancellation"
)

// Category determines retry eligibility for an error.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryUser      Category = "user"
	CategorySystem    Category = "system"
	CategoryBusiness  Category = "business"
)

// Severity determines the operational response an error warrants.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// DomainError is the common envelope for orchestration-engine errors that
// need to be classified along the Kind/Category/Severity axes (spec §7),
// in addition to the concrete error types above which remain the preferred
// shape for boundary-facing validation/config/provider errors.
type DomainError struct {
	Kind          Kind
	Category      Category
	Severity      Severity
	Message       string
	CorrelationID string
	StepID        string
	Details       map[string]any
	Cause         error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s/%s] step %s: %s", e.Kind, e.Category, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Category, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the operation that produced this error
// should be retried. Only Transient errors are retryable; everything
// else (Permanent structural errors, User/Validation input errors,
// System/Critical failures, Business-rule denials) is not.
func (e *DomainError) IsRetryable() bool {
	return e.Category == CategoryTransient
}

// ErrorType satisfies the ErrorClassifier interface.
func (e *DomainError) ErrorType() string {
	return string(e.Kind)
}

// NewTransient builds a DomainError for a retryable failure.
func NewTransient(kind Kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Category: CategoryTransient, Severity: SeverityError, Message: message, Cause: cause}
}

// NewPermanent builds a DomainError for a non-retryable structural or
// classification failure.
func NewPermanent(kind Kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Category: CategoryPermanent, Severity: SeverityError, Message: message, Cause: cause}
}

// NewUser builds a DomainError for invalid caller input. Never retried.
func NewUser(kind Kind, message string) *DomainError {
	return &DomainError{Kind: kind, Category: CategoryUser, Severity: SeverityWarning, Message: message}
}

// NewCritical builds a DomainError for a system-level failure that should
// flip readiness while liveness remains up until a consecutive-failure
// threshold is crossed (spec §7 System/Critical propagation policy).
func NewCritical(kind Kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Category: CategorySystem, Severity: SeverityCritical, Message: message, Cause: cause}
}

// WithCorrelation returns a copy of the error stamped with a correlation id.
func (e *DomainError) WithCorrelation(id string) *DomainError {
	c := *e
	c.CorrelationID = id
	return &c
}

// WithStep returns a copy of the error stamped with the originating step id.
func (e *DomainError) WithStep(stepID string) *DomainError {
	c := *e
	c.StepID = stepID
	return &c
}
