package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/element"
	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/domain/report"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

func TestCampaignOnlyRunsSingleStepToCompletion(t *testing.T) {
	var mu sync.Mutex
	ran := []string{}
	var seen settings.Configuration
	record := func(name string) step.Handler {
		return step.HandlerFunc(func(ctx context.Context, env step.Env) action.Result {
			mu.Lock()
			ran = append(ran, name)
			seen = env.Config
			mu.Unlock()
			return env.UI.Click(ctx, element.Button("Save"))
		})
	}
	handlers := map[string]step.Handler{}
	for _, name := range pipeline.VariantFull.StepNames() {
		handlers[name] = record(name)
	}
	host := newTestHost(button("save", "Save"))
	sink := &report.Recorder{}
	o := newTestOrchestrator(t, fullCatalog(t, handlers, nil), host, sink, fastConfig())

	cfg, err := settings.New(map[string]any{"budget": 100, "targetCPA": 50, "location": "Germany"})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly, Config: cfg})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != pipeline.StepCampaign {
		t.Fatalf("expected only campaign step, ran %v", ran)
	}
	if final.CompletedSteps != 1 || final.TotalSteps != 1 || final.CurrentStepOrdinal != 2 {
		t.Fatalf("unexpected final snapshot %#v", final)
	}
	if v, _ := seen.Float(settings.KeyBudget); v != 100 || seen.String(settings.KeyLocation) != "Germany" {
		t.Fatalf("step saw unexpected config %#v", seen.Map())
	}
	if sink.Count(report.EventStepStarted) != 1 || sink.Count(report.EventRunCompleted) != 1 {
		t.Fatalf("unexpected messages %#v", sink.Messages())
	}
}

func TestAbsentButtonEscalatesAfterMaxAttempts(t *testing.T) {
	waitMissing := step.HandlerFunc(func(ctx context.Context, env step.Env) action.Result {
		_, res := env.UI.WaitForAppear(ctx, element.Button("New campaign"), 0)
		return res
	})
	sink := &report.Recorder{}
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepCampaign: waitMissing}, nil), newTestHost(), sink, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusFailed))

	if got := sink.Count(report.EventAttempt); got != 3 {
		t.Fatalf("expected 3 attempt messages, got %d", got)
	}
	if got := sink.Count(report.EventEscalation); got != 1 {
		t.Fatalf("expected 1 escalation message, got %d", got)
	}
	for _, msg := range sink.Messages() {
		if msg.Event == report.EventAttemptFailed && msg.Fields["outcome"] != string(action.OutcomeTimeout) {
			t.Fatalf("expected timeout outcome, got %#v", msg)
		}
		if msg.Event == report.EventEscalation {
			if msg.Step != pipeline.StepCampaign || msg.Ordinal != 2 || msg.Attempt != 3 {
				t.Fatalf("escalation missing step context: %#v", msg)
			}
		}
	}
	if final.LastError == nil || final.LastError.Code != string(fault.CodeHumanIntervention) ||
		final.LastError.SubKind != fault.SubKindRetriesExhausted {
		t.Fatalf("unexpected last error %#v", final.LastError)
	}
}

func TestStartWhileRunningIsConcurrencyConflict(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := step.HandlerFunc(func(ctx context.Context, env step.Env) action.Result {
		entered <- struct{}{}
		select {
		case <-release:
			return action.Succeeded("blocking")
		case <-ctx.Done():
			return action.Canceled(ctx.Err())
		}
	})
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepConversion: blocking}, nil), newTestHost(), nil, fastConfig())

	first, err := o.Start(StartRunRequest{Variant: pipeline.VariantFull})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	before, _ := o.Status(first.RunID)

	_, err = o.Start(StartRunRequest{Variant: pipeline.VariantFull})
	f, ok := fault.As(err)
	if !ok || f.Code != fault.CodeConcurrencyConflict {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if f.Details["run_id"] != first.RunID {
		t.Fatalf("expected conflict to name the active run, got %#v", f.Details)
	}

	after, _ := o.Status(first.RunID)
	if after != before || after.Status != string(pipeline.StatusRunning) {
		t.Fatalf("original run changed: before=%#v after=%#v", before, after)
	}
	close(release)
	waitRunStatus(t, o, first.RunID, string(pipeline.StatusCompleted))

	// Once settled, a new run may start.
	if _, err := o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly}); err != nil {
		t.Fatalf("start after completion: %v", err)
	}
}

type offline struct{}

func (offline) Error() string        { return "net::ERR_INTERNET_DISCONNECTED" }
func (offline) NetworkFailure() bool { return true }

func flaky(err error) step.Handler {
	var mu sync.Mutex
	calls := 0
	return step.HandlerFunc(func(context.Context, step.Env) action.Result {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return action.Failed("publish", err)
		}
		return action.Succeeded("publish")
	})
}

func TestNetworkFailureReloadsOnceBeforeRetry(t *testing.T) {
	host := newTestHost()
	sink := &report.Recorder{}
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepTracking: flaky(offline{})}, nil), host, sink, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))
	if host.reloadCount() != 1 || sink.Count(report.EventReload) != 1 {
		t.Fatalf("expected exactly one reload, got host=%d events=%d", host.reloadCount(), sink.Count(report.EventReload))
	}
}

func TestNonNetworkFailureDoesNotReload(t *testing.T) {
	host := newTestHost()
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepTracking: flaky(errors.New("node detached"))}, nil), host, nil, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))
	if host.reloadCount() != 0 {
		t.Fatalf("expected no reload, got %d", host.reloadCount())
	}
}

func TestCurrentStepOrdinalIsMonotonic(t *testing.T) {
	var (
		mu       sync.Mutex
		ordinals []int
		o        *Orchestrator
	)
	observe := step.HandlerFunc(func(_ context.Context, env step.Env) action.Result {
		snapshot, err := o.Status(env.RunID)
		if err != nil {
			return action.Failed("observe", err)
		}
		mu.Lock()
		ordinals = append(ordinals, snapshot.CurrentStepOrdinal)
		mu.Unlock()
		if env.Step == pipeline.StepAudience && env.Attempt == 1 {
			return action.Missing("audience", "first attempt misses")
		}
		return action.Succeeded("observe")
	})
	handlers := map[string]step.Handler{}
	for _, name := range pipeline.VariantFull.StepNames() {
		handlers[name] = observe
	}
	o = newTestOrchestrator(t, fullCatalog(t, handlers, nil), newTestHost(), nil, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantFull})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))

	mu.Lock()
	defer mu.Unlock()
	if len(ordinals) != 7 {
		t.Fatalf("expected 7 observations, got %v", ordinals)
	}
	for i := 1; i < len(ordinals); i++ {
		if ordinals[i] < ordinals[i-1] {
			t.Fatalf("ordinal decreased: %v", ordinals)
		}
	}
	if final.CurrentStepOrdinal != final.FinalOrdinal || final.FinalOrdinal != 6 {
		t.Fatalf("unexpected final ordinals %#v", final)
	}
}

func TestRetryCounterIsPerStep(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string][]int{}
	failTwice := step.HandlerFunc(func(_ context.Context, env step.Env) action.Result {
		mu.Lock()
		defer mu.Unlock()
		attempts[env.Step] = append(attempts[env.Step], env.Attempt)
		if env.Attempt < 3 && env.Step == pipeline.StepConversion {
			return action.Missing("x", "not yet")
		}
		return action.Succeeded("x")
	})
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{
		pipeline.StepConversion: failTwice,
		pipeline.StepCampaign:   failTwice,
	}, nil), newTestHost(), nil, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantFull})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))

	mu.Lock()
	defer mu.Unlock()
	if len(attempts[pipeline.StepConversion]) != 3 {
		t.Fatalf("expected conversion to take 3 attempts, got %v", attempts)
	}
	if got := attempts[pipeline.StepCampaign]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected campaign to start from attempt 1, got %v", got)
	}
}

func TestRecoveryRunsOnceOnExhaustion(t *testing.T) {
	var mu sync.Mutex
	recoveries := 0
	recoverFn := func(context.Context, step.Env) error {
		mu.Lock()
		recoveries++
		mu.Unlock()
		return nil
	}
	fail := step.HandlerFunc(func(context.Context, step.Env) action.Result {
		return action.Missing("publish", "gone")
	})
	sink := &report.Recorder{}
	o := newTestOrchestrator(t, fullCatalog(t,
		map[string]step.Handler{pipeline.StepTracking: fail},
		map[string]step.Recovery{pipeline.StepTracking: recoverFn},
	), newTestHost(), sink, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusFailed))

	mu.Lock()
	defer mu.Unlock()
	if recoveries != 1 || sink.Count(report.EventRecovery) != 1 {
		t.Fatalf("expected a single recovery, got %d", recoveries)
	}
	if sink.Count(report.EventAttempt) != 3 {
		t.Fatalf("recovery must not add attempts, got %d", sink.Count(report.EventAttempt))
	}
}

func TestAuthenticationChallengePausesRun(t *testing.T) {
	blocked := step.HandlerFunc(func(context.Context, step.Env) action.Result {
		return action.Blocked("authorization dialog", fault.SubKindAuthenticationRequired, "script authorization required")
	})
	sink := &report.Recorder{}
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepTracking: blocked}, nil), newTestHost(), sink, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusPaused))
	if final.LastError == nil || final.LastError.SubKind != fault.SubKindAuthenticationRequired {
		t.Fatalf("unexpected last error %#v", final.LastError)
	}
	if sink.Count(report.EventAttempt) != 1 || sink.Count(report.EventEscalation) != 1 {
		t.Fatalf("expected immediate escalation without retry, got %#v", sink.Messages())
	}
	if _, ok := o.Current(); ok {
		t.Fatal("paused run must not block new commands")
	}
}

func TestCancelEndsRunFailedWithCanceledCode(t *testing.T) {
	entered := make(chan struct{}, 1)
	wait := step.HandlerFunc(func(ctx context.Context, env step.Env) action.Result {
		entered <- struct{}{}
		<-ctx.Done()
		return action.Canceled(ctx.Err())
	})
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepCampaign: wait}, nil), newTestHost(), nil, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	_, acknowledged, err := o.Cancel(snapshot.RunID)
	if err != nil || !acknowledged {
		t.Fatalf("cancel: ack=%v err=%v", acknowledged, err)
	}
	final := waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusFailed))
	if final.LastError == nil || final.LastError.Code != string(fault.CodeCanceled) || !final.CancelRequested {
		t.Fatalf("unexpected final snapshot %#v", final)
	}

	_, acknowledged, err = o.Cancel(snapshot.RunID)
	if err != nil || acknowledged {
		t.Fatalf("second cancel should be a no-op: ack=%v err=%v", acknowledged, err)
	}
}

func TestLogsAndListFilters(t *testing.T) {
	o := newTestOrchestrator(t, fullCatalog(t, nil, nil), newTestHost(), nil, fastConfig())
	first, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, first.RunID, string(pipeline.StatusCompleted))
	second, err := o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, second.RunID, string(pipeline.StatusCompleted))

	logs, err := o.Logs(first.RunID, RunLogOptions{Event: string(report.EventStepStarted)})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Step != pipeline.StepCampaign {
		t.Fatalf("unexpected logs %#v", logs)
	}

	page, next, err := o.List(RunListOptions{Status: "completed", Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || next != "1" {
		t.Fatalf("unexpected page %#v next=%q", page, next)
	}
	if _, _, err := o.List(RunListOptions{Cursor: "nope"}); err == nil {
		t.Fatal("expected invalid cursor error")
	}
	if _, err := o.Logs("missing", RunLogOptions{}); err == nil {
		t.Fatal("expected not found")
	}
}

func TestRetentionMaxRuns(t *testing.T) {
	cfg := fastConfig()
	cfg.RetentionMaxRuns = 2
	o := newTestOrchestrator(t, fullCatalog(t, nil, nil), newTestHost(), nil, cfg)

	for i := 0; i < 3; i++ {
		snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly})
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))
	}
	o.prune()

	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.runs) > 2 {
		t.Fatalf("expected <=2 retained runs, got %d", len(o.runs))
	}
}

func TestRetentionTTL(t *testing.T) {
	cfg := fastConfig()
	cfg.RetentionTTL = 30 * time.Millisecond
	o := newTestOrchestrator(t, fullCatalog(t, nil, nil), newTestHost(), nil, cfg)

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitRunStatus(t, o, snapshot.RunID, string(pipeline.StatusCompleted))
	time.Sleep(60 * time.Millisecond)
	o.prune()

	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.runs) != 0 {
		t.Fatalf("expected runs to be pruned, got %d", len(o.runs))
	}
}

func TestCloseDrainsActiveRunAndRefusesNewRuns(t *testing.T) {
	entered := make(chan struct{}, 1)
	wait := step.HandlerFunc(func(ctx context.Context, env step.Env) action.Result {
		entered <- struct{}{}
		<-ctx.Done()
		return action.Canceled(ctx.Err())
	})
	o := newTestOrchestrator(t, fullCatalog(t, map[string]step.Handler{pipeline.StepCampaign: wait}, nil), newTestHost(), nil, fastConfig())

	snapshot, err := o.Start(StartRunRequest{Variant: pipeline.VariantCampaignOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	final, err := o.Status(snapshot.RunID)
	if err != nil || final.Status != string(pipeline.StatusFailed) {
		t.Fatalf("run not settled after close: %#v err=%v", final, err)
	}

	_, err = o.Start(StartRunRequest{Variant: pipeline.VariantTrackingOnly})
	if f, ok := fault.As(err); !ok || f.Code != fault.CodeConcurrencyConflict {
		t.Fatalf("expected start after close to be refused, got %v", err)
	}
}
