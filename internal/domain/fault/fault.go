package fault

import (
	"errors"
	"fmt"
)

type Code string
type Category string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeTimeout             Code = "TIMEOUT"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeUnimplemented       Code = "UNIMPLEMENTED"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeHumanIntervention   Code = "HUMAN_INTERVENTION_REQUIRED"
	CodeCanceled            Code = "CANCELED"
)

const (
	CategoryClient   Category = "client"
	CategoryRuntime  Category = "runtime"
	CategoryPlatform Category = "platform"
	CategoryHost     Category = "host"
	CategoryNetwork  Category = "network"
)

// Sub-kinds attached to human intervention faults under the "sub_kind" detail key.
const (
	SubKindRetriesExhausted       = "retries_exhausted"
	SubKindAuthenticationRequired = "authentication_challenge"
)

type Fault struct {
	Code          Code
	Category      Category
	Message       string
	Retryable     bool
	CorrelationID string
	Details       map[string]any
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func New(code Code, category Category, message string) Fault {
	return Fault{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

func Validation(message string) Fault {
	return New(CodeValidation, CategoryClient, message)
}

func NotFound(message string) Fault {
	return New(CodeNotFound, CategoryClient, message)
}

func Timeout(message string) Fault {
	f := New(CodeTimeout, CategoryRuntime, message)
	f.Retryable = true
	return f
}

func Internal(message string) Fault {
	return New(CodeInternal, CategoryRuntime, message)
}

func Unimplemented(message string) Fault {
	return New(CodeUnimplemented, CategoryRuntime, message)
}

func Conflict(message string) Fault {
	f := New(CodeConcurrencyConflict, CategoryClient, message)
	f.Retryable = true
	return f
}

func Canceled(message string) Fault {
	return New(CodeCanceled, CategoryClient, message)
}

// HumanIntervention marks an escalation that the engine will not resolve on its own.
func HumanIntervention(subKind, message string) Fault {
	return New(CodeHumanIntervention, CategoryRuntime, message).
		WithDetails(map[string]any{"sub_kind": subKind})
}

func As(err error) (Fault, bool) {
	var target Fault
	if errors.As(err, &target) {
		return target, true
	}
	return Fault{}, false
}

// SubKind returns the sub_kind detail, if any.
func (f Fault) SubKind() string {
	if f.Details == nil {
		return ""
	}
	v, _ := f.Details["sub_kind"].(string)
	return v
}

func (f Fault) WithCorrelationID(id string) Fault {
	f.CorrelationID = id
	return f
}

// WithDetails merges details into a copy of the existing map.
func (f Fault) WithDetails(details map[string]any) Fault {
	merged := make(map[string]any, len(f.Details)+len(details))
	for k, v := range f.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	f.Details = merged
	return f
}
