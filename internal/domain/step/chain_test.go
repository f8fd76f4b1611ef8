package step

import (
	"context"
	"errors"
	"testing"

	"github.com/roushou/adpilot/internal/domain/action"
)

func TestChainToleratesAbsentOptionalFields(t *testing.T) {
	var ran []string
	op := func(name string, res action.Result) func(context.Context) action.Result {
		return func(context.Context) action.Result {
			ran = append(ran, name)
			return res
		}
	}
	res := Chain(context.Background(), Env{Step: "campaign"},
		Required("open", op("open", action.Succeeded("open"))),
		Optional("language", op("language", action.Missing("language", "absent"))),
		Required("save", op("save", action.Succeeded("save"))),
	)
	if !res.OK() {
		t.Fatalf("expected success, got %v", res)
	}
	if len(ran) != 3 {
		t.Fatalf("expected all ops to run, got %v", ran)
	}
}

func TestChainStopsAtRequiredFailure(t *testing.T) {
	called := false
	res := Chain(context.Background(), Env{Step: "campaign"},
		Required("budget", func(context.Context) action.Result { return action.TimedOut("budget", "absent") }),
		Required("save", func(context.Context) action.Result { called = true; return action.Succeeded("save") }),
	)
	if res.Outcome != action.OutcomeTimeout || res.Target != "budget" {
		t.Fatalf("unexpected result %v", res)
	}
	if called {
		t.Fatal("expected chain to stop")
	}
}

func TestChainOptionalHostErrorStillFails(t *testing.T) {
	res := Chain(context.Background(), Env{Step: "creative"},
		Optional("domain", func(context.Context) action.Result { return action.Failed("domain", errors.New("detached")) }),
	)
	if res.Outcome != action.OutcomeError {
		t.Fatalf("expected error, got %v", res)
	}
}

func TestChainChecksCancellationBetweenOps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	second := false
	res := Chain(ctx, Env{Step: "publish"},
		Required("first", func(context.Context) action.Result { cancel(); return action.Succeeded("first") }),
		Required("second", func(context.Context) action.Result { second = true; return action.Succeeded("second") }),
	)
	if !action.IsCanceled(res) || second {
		t.Fatalf("expected cancellation before second op, got %v second=%v", res, second)
	}
}
