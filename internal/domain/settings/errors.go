package settings

import (
	"errors"
	"fmt"
)

// ValidationError points at the configuration key that failed a rule.
type ValidationError struct {
	Path    string
	Rule    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, e.Message)
}

// SchemaError means Schema itself is malformed.
type SchemaError struct {
	Message string
}

func (e SchemaError) Error() string {
	return "invalid configuration schema: " + e.Message
}

func AsValidationError(err error) (ValidationError, bool) {
	var target ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return ValidationError{}, false
}
