package usecase

import (
	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/runlog"
)

// mapRunlogPersistError turns a run store failure into a platform fault.
func mapRunlogPersistError(err error, op string, correlationID string, fallbackMessage string) fault.Fault {
	storeErr, ok := runlog.AsStoreError(err)
	if !ok {
		return fault.New(fault.CodeInternal, fault.CategoryPlatform, fallbackMessage).
			WithCorrelationID(correlationID).
			WithDetails(map[string]any{"storage_op": op})
	}

	out := fault.New(fault.CodeInternal, fault.CategoryPlatform, fallbackMessage)
	switch storeErr.Code {
	case runlog.StoreErrorNotFound:
		out = fault.NotFound("run record not found")
	case runlog.StoreErrorCorruptRow:
		out.Message = "run store returned corrupted data"
	case runlog.StoreErrorUnavailable:
		out.Message = "run store unavailable"
		out.Retryable = true
	case runlog.StoreErrorInvalidData:
		out = fault.Validation("invalid run record")
	}
	details := map[string]any{
		"storage_code": string(storeErr.Code),
		"storage_op":   storeErr.Op,
	}
	if storeErr.Cause != nil {
		details["storage_cause"] = storeErr.Cause.Error()
	}
	if storeErr.Message != "" {
		details["storage_message"] = storeErr.Message
	}
	return out.WithCorrelationID(correlationID).WithDetails(details)
}

// mapRunlogReadError never reports a read as the caller's fault.
func mapRunlogReadError(err error, operation string) fault.Fault {
	if err == nil {
		return fault.New(fault.CodeInternal, fault.CategoryPlatform, "unknown run store read error").
			WithDetails(map[string]any{"storage_op": operation})
	}
	f := mapRunlogPersistError(err, operation, "", "run store read failed")
	if f.Code == fault.CodeValidation {
		f.Code = fault.CodeInternal
		f.Category = fault.CategoryPlatform
		f.Message = "run store read failed: " + f.Message
	}
	return f
}
