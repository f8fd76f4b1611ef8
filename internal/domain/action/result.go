package action

import (
	"errors"
	"fmt"
	"net"
)

type Outcome string

const canceledDetail = "canceled"

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNotFound Outcome = "not_found"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeError    Outcome = "error"
)

// Result is what every primitive and step returns. Absence of a target is an
// outcome, not an error.
type Result struct {
	Outcome Outcome
	Target  string
	Detail  string
	// Network marks failures caused by lost connectivity; the orchestrator
	// reloads the page before the next attempt.
	Network bool
	// Intervention names a blocking condition only a human can clear, such
	// as an authentication challenge.
	Intervention string
	Err          error
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Absent reports a missing target, which optional work tolerates.
func (r Result) Absent() bool {
	return r.Outcome == OutcomeNotFound || r.Outcome == OutcomeTimeout
}

func (r Result) String() string {
	switch {
	case r.Detail != "" && r.Target != "":
		return fmt.Sprintf("%s %s: %s", r.Outcome, r.Target, r.Detail)
	case r.Target != "":
		return fmt.Sprintf("%s %s", r.Outcome, r.Target)
	case r.Detail != "":
		return fmt.Sprintf("%s: %s", r.Outcome, r.Detail)
	default:
		return string(r.Outcome)
	}
}

func Succeeded(target string) Result {
	return Result{Outcome: OutcomeSuccess, Target: target}
}

func Missing(target, detail string) Result {
	return Result{Outcome: OutcomeNotFound, Target: target, Detail: detail}
}

func TimedOut(target, detail string) Result {
	return Result{Outcome: OutcomeTimeout, Target: target, Detail: detail}
}

// Failed wraps a host failure, classifying connectivity problems.
func Failed(target string, err error) Result {
	r := Result{Outcome: OutcomeError, Target: target, Err: err, Network: IsNetwork(err)}
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// Blocked reports a condition that needs a human before anything can proceed.
func Blocked(target, intervention, detail string) Result {
	return Result{Outcome: OutcomeError, Target: target, Intervention: intervention, Detail: detail}
}

// Canceled reports that the run context ended before or during the work.
func Canceled(err error) Result {
	return Result{Outcome: OutcomeError, Detail: canceledDetail, Err: err}
}

func IsCanceled(r Result) bool {
	return r.Outcome == OutcomeError && r.Detail == canceledDetail && r.Err != nil
}

// NetworkFailure is implemented by host errors that know whether they were
// caused by connectivity loss.
type NetworkFailure interface {
	NetworkFailure() bool
}

func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var nf NetworkFailure
	if errors.As(err, &nf) {
		return nf.NetworkFailure()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
