package step

import (
	"context"

	"github.com/roushou/adpilot/internal/domain/action"
)

// Op is one link of a step's action chain.
type Op struct {
	Name     string
	Optional bool
	Do       func(ctx context.Context) action.Result
}

func Required(name string, do func(ctx context.Context) action.Result) Op {
	return Op{Name: name, Do: do}
}

// Optional ops may find nothing without failing the step. Host errors still
// fail it.
func Optional(name string, do func(ctx context.Context) action.Result) Op {
	return Op{Name: name, Optional: true, Do: do}
}

// Chain runs ops in order, checking for cancellation between them, and stops
// at the first failure of a required op.
func Chain(ctx context.Context, env Env, ops ...Op) action.Result {
	last := action.Succeeded(env.Step)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return action.Canceled(err)
		}
		res := op.Do(ctx)
		if res.Target == "" {
			res.Target = op.Name
		}
		if res.OK() {
			last = res
			continue
		}
		if action.IsCanceled(res) {
			return res
		}
		if op.Optional && res.Absent() {
			env.Log().Debug("optional field skipped",
				"run_id", env.RunID,
				"step", env.Step,
				"field", op.Name,
				"outcome", string(res.Outcome),
			)
			continue
		}
		return res
	}
	return last
}
