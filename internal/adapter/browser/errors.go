package browser

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/roushou/adpilot/internal/domain/fault"
)

// HostError is returned by every tab operation that fails.
type HostError struct {
	Op      string
	Err     error
	Offline bool
}

func (e *HostError) Error() string {
	if e.Offline {
		return fmt.Sprintf("browser %s (offline): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// NetworkFailure reports whether the tab had lost connectivity.
func (e *HostError) NetworkFailure() bool { return e.Offline }

func wrap(op string, err error, offline bool) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) {
		offline = true
	}
	return &HostError{Op: op, Err: err, Offline: offline}
}

func isNetworkText(msg string) bool {
	return strings.Contains(msg, "net::ERR_")
}

// ToFault maps host errors onto the shared fault taxonomy.
func ToFault(err error, correlationID string) error {
	if err == nil {
		return nil
	}
	var he *HostError
	if !errors.As(err, &he) {
		return fault.New(fault.CodeInternal, fault.CategoryHost, fmt.Sprintf("browser call failed: %v", err)).
			WithCorrelationID(correlationID)
	}
	if errors.Is(he.Err, ErrClosed) {
		return fault.New(fault.CodeInternal, fault.CategoryPlatform, "browser not connected").
			WithCorrelationID(correlationID)
	}
	category := fault.CategoryHost
	if he.Offline {
		category = fault.CategoryNetwork
	}
	f := fault.New(fault.CodeInternal, category, he.Error())
	f.Retryable = he.Offline
	f.Details = map[string]any{"operation": he.Op}
	return f.WithCorrelationID(correlationID)
}
