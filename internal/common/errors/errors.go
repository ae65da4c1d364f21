// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeLimitExceeded     ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeNotEligible       ErrorCode = "NOT_ELIGIBLE"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeNotAuthorized     ErrorCode = "NOT_AUTHORIZED"
	ErrCodeDependencyFailure ErrorCode = "DEPENDENCY_FAILURE"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeDuplicateInterest ErrorCode = "DUPLICATE_INTEREST"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Party values carried in LimitExceeded metadata.
const (
	PartyYouth   = "youth"
	PartyElderly = "elderly"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Remedy    string                 `json:"remedy,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Err       error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.Err }

// UserMessage renders the error as cause plus remedy for display.
func (e *StandardError) UserMessage() string {
	if e.Remedy == "" {
		return e.Message
	}
	return e.Message + ". " + e.Remedy
}

// WithMetadata sets one metadata key and returns e.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewLimitExceededError reports that party already holds ceiling active pre-matches.
func NewLimitExceededError(party string, ceiling int) *StandardError {
	e := newError(ErrCodeLimitExceeded,
		fmt.Sprintf("The %s has reached the limit of %d active pre-matches", party, ceiling),
		fmt.Sprintf("party: %s, ceiling: %d", party, ceiling), false)
	if party == PartyYouth {
		e.Remedy = "End or complete an existing pre-match before starting a new one"
	} else {
		e.Remedy = "Try again later, once this person has a free pre-match slot"
	}
	return e.WithMetadata("party", party).WithMetadata("ceiling", ceiling)
}

// NewInvalidStateError reports an operation against a record in the wrong status.
func NewInvalidStateError(entity, id, current string, expected ...string) *StandardError {
	e := newError(ErrCodeInvalidState,
		fmt.Sprintf("%s is not in a state that allows this action", entity),
		fmt.Sprintf("id: %s, status: %s, expected: %s", id, current, strings.Join(expected, "|")), false)
	e.Remedy = "Refresh and try again"
	return e.WithMetadata("currentStatus", current)
}

// NewNotEligibleError reports a timer precondition that is not met yet.
func NewNotEligibleError(message, remedy string) *StandardError {
	e := newError(ErrCodeNotEligible, message, "", false)
	e.Remedy = remedy
	return e
}

// NewNotFoundError reports an id that does not resolve.
func NewNotFoundError(entity, id string) *StandardError {
	return newError(ErrCodeNotFound,
		fmt.Sprintf("%s not found", entity),
		fmt.Sprintf("id: %s", id), false)
}

// NewNotAuthorizedError reports a caller that is not a party to the record.
func NewNotAuthorizedError(userID, details string) *StandardError {
	return newError(ErrCodeNotAuthorized, "You are not allowed to perform this action",
		fmt.Sprintf("userId: %s, %s", userID, details), false)
}

// NewDependencyFailureError wraps a persistence or collaborator failure.
func NewDependencyFailureError(dependency string, err error) *StandardError {
	e := newError(ErrCodeDependencyFailure,
		fmt.Sprintf("Dependency '%s' failed", dependency), err.Error(), true)
	e.Err = err
	e.Remedy = "Please try again in a moment"
	return e
}

// NewValidationFailedError reports malformed input.
func NewValidationFailedError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Input validation failed", details, false)
}

// NewDuplicateInterestError reports an existing active Interest for the pair.
func NewDuplicateInterestError(youthID, elderlyID string) *StandardError {
	e := newError(ErrCodeDuplicateInterest, "An active interest already exists for this pair",
		fmt.Sprintf("youthId: %s, elderlyId: %s", youthID, elderlyID), false)
	e.Remedy = "Continue the existing conversation instead"
	return e
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *StandardError {
	e := newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
	e.Err = err
	return e
}

// ==========================
// 4. Inspection
// ==========================

// As extracts a StandardError from err's chain.
func As(err error) (*StandardError, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// CodeOf returns err's code, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ErrCodeInternal
}

// Party returns the blocked party of a LimitExceeded error.
func Party(err error) string {
	se, ok := As(err)
	if !ok || se.Code != ErrCodeLimitExceeded {
		return ""
	}
	p, _ := se.Metadata["party"].(string)
	return p
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeLimitExceeded:     "LIMIT_EXCEEDED",
	ErrCodeInvalidState:      "INVALID_STATE",
	ErrCodeNotEligible:       "NOT_ELIGIBLE",
	ErrCodeNotFound:          "NOT_FOUND",
	ErrCodeNotAuthorized:     "NOT_AUTHORIZED",
	ErrCodeDependencyFailure: "DEPENDENCY_FAILURE",
	ErrCodeValidationFailed:  "VALIDATION_FAILED",
	ErrCodeDuplicateInterest: "DUPLICATE_INTEREST",
	ErrCodeInternal:          "INTERNAL_ERROR",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDependencyFailure:
		return 3
	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if stdErr.Remedy != "" {
		vars["userMessage"] = stdErr.UserMessage()
	}
	if p, ok := stdErr.Metadata["party"]; ok {
		vars["blockedParty"] = p
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeLimitExceeded, ErrCodeNotEligible, ErrCodeDuplicateInterest:
		return "ADMISSION"
	case ErrCodeInvalidState, ErrCodeNotFound:
		return "STATE"
	case ErrCodeNotAuthorized:
		return "AUTH"
	case ErrCodeDependencyFailure:
		return "DEPENDENCY"
	case ErrCodeValidationFailed:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
