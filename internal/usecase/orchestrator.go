package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/domain/report"
	"github.com/roushou/adpilot/internal/domain/runlog"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

const (
	defaultMaxLogsPerRun    = 256
	defaultStepTimeout      = 5 * time.Minute
	defaultRetentionMaxRuns = 200
	defaultRetentionTTL     = 24 * time.Hour
)

type OrchestratorConfig struct {
	Retry            pipeline.RetryPolicy
	Timing           action.Timing
	StepTimeout      time.Duration
	MaxLogsPerRun    int
	RetentionMaxRuns int
	RetentionTTL     time.Duration

	NewRunID         IDGenerator
	NewCorrelationID IDGenerator
	// NewRand seeds the per-run random source used for pool picks.
	NewRand func() *rand.Rand
	Now     func() time.Time
}

type IDGenerator func() string

func normalizeOrchestratorConfig(cfg OrchestratorConfig) OrchestratorConfig {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = pipeline.DefaultMaxAttempts
	}
	if cfg.Retry.Delay < 0 {
		cfg.Retry.Delay = 0
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.MaxLogsPerRun <= 0 {
		cfg.MaxLogsPerRun = defaultMaxLogsPerRun
	}
	if cfg.RetentionMaxRuns <= 0 {
		cfg.RetentionMaxRuns = defaultRetentionMaxRuns
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = defaultRetentionTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	var seq atomic.Uint64
	if cfg.NewRunID == nil {
		cfg.NewRunID = func() string {
			return fmt.Sprintf("run-%d-%d", time.Now().UTC().UnixNano(), seq.Add(1))
		}
	}
	if cfg.NewCorrelationID == nil {
		cfg.NewCorrelationID = func() string {
			return fmt.Sprintf("corr-%d-%d", time.Now().UTC().UnixNano(), seq.Add(1))
		}
	}
	if cfg.NewRand == nil {
		cfg.NewRand = func() *rand.Rand {
			seed := uint64(time.Now().UnixNano())
			return rand.New(rand.NewPCG(seed, seed>>1|1))
		}
	}
	return cfg
}

// PipelineRuntime is the command-facing view of the orchestrator.
type PipelineRuntime interface {
	Start(req StartRunRequest) (RunSnapshot, error)
	Status(runID string) (RunSnapshot, error)
	Current() (RunSnapshot, bool)
	List(opts RunListOptions) ([]RunSnapshot, string, error)
	Logs(runID string, opts RunLogOptions) ([]RunLogEntry, error)
	Cancel(runID string) (RunSnapshot, bool, error)
	Close(ctx context.Context) error
}

type StartRunRequest struct {
	Variant       pipeline.Variant
	Config        settings.Configuration
	CorrelationID string
}

type RunListOptions struct {
	Status string
	Limit  int
	Cursor string
}

type RunLogOptions struct {
	Limit int
	Level string
	Step  string
	Event string
	Since time.Time
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	SubKind string `json:"subKind,omitempty"`
}

type RunSnapshot struct {
	RunID              string    `json:"runId"`
	CorrelationID      string    `json:"correlationId"`
	Variant            string    `json:"variant"`
	Status             string    `json:"status"`
	CurrentStep        string    `json:"currentStep,omitempty"`
	CurrentStepOrdinal int       `json:"currentStepOrdinal"`
	FinalOrdinal       int       `json:"finalOrdinal"`
	RetryCount         int       `json:"retryCount"`
	TotalSteps         int       `json:"totalSteps"`
	CompletedSteps     int       `json:"completedSteps"`
	StartedAt          string    `json:"startedAt"`
	EndedAt            string    `json:"endedAt,omitempty"`
	CancelRequested    bool      `json:"cancelRequested"`
	LastError          *RunError `json:"lastError,omitempty"`
}

type RunLogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Step      string `json:"step,omitempty"`
	Ordinal   int    `json:"ordinal,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

type runState struct {
	run             pipeline.Run
	cancelRequested bool
	cancel          context.CancelFunc
}

// Orchestrator runs pipeline variants one at a time against a single host.
type Orchestrator struct {
	logger   *slog.Logger
	catalog  *step.Catalog
	host     action.Host
	sink     report.Sink
	runlogs  runlog.Store
	executor *StepExecutor
	opts     OrchestratorConfig

	mu     sync.RWMutex
	runs   map[string]*runState
	logs   map[string][]RunLogEntry
	closed bool
	// wg is only incremented with mu held and closed unset, so Close can
	// wait on it once closed is set.
	wg sync.WaitGroup
}

func NewOrchestrator(
	logger *slog.Logger,
	catalog *step.Catalog,
	host action.Host,
	sink report.Sink,
	runlogs runlog.Store,
	cfg OrchestratorConfig,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = report.Discard
	}
	cfg = normalizeOrchestratorConfig(cfg)
	return &Orchestrator{
		logger:   logger,
		catalog:  catalog,
		host:     host,
		sink:     sink,
		runlogs:  runlogs,
		executor: NewStepExecutor(logger, cfg.StepTimeout),
		opts:     cfg,
		runs:     make(map[string]*runState),
		logs:     make(map[string][]RunLogEntry),
	}
}

// Start accepts a run and executes it in the background. It fails with a
// concurrency conflict while another run is Running and leaves that run
// untouched.
func (m *Orchestrator) Start(req StartRunRequest) (RunSnapshot, error) {
	if m.catalog == nil || m.host == nil {
		return RunSnapshot{}, fault.Unimplemented("pipeline runs require a step catalog and a browser host")
	}
	plan, err := pipeline.Plan(req.Variant, m.catalog)
	if err != nil {
		return RunSnapshot{}, fault.Validation(err.Error())
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = m.opts.NewCorrelationID()
	}
	names := make([]string, 0, len(plan))
	for _, d := range plan {
		names = append(names, d.Name)
	}
	now := m.opts.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return RunSnapshot{}, fault.Conflict("pipeline runtime is shutting down").WithCorrelationID(correlationID)
	}
	m.pruneLocked(now)
	if active := m.activeLocked(); active != nil {
		m.mu.Unlock()
		return RunSnapshot{}, fault.Conflict(
			fmt.Sprintf("pipeline run %s is already running", active.run.ID),
		).WithCorrelationID(correlationID).WithDetails(map[string]any{
			"run_id":  active.run.ID,
			"variant": string(active.run.Variant),
		})
	}
	runCtx, cancel := context.WithCancel(context.Background())
	state := &runState{
		run: pipeline.Run{
			ID:            m.opts.NewRunID(),
			CorrelationID: correlationID,
			Variant:       req.Variant,
			Steps:         names,
			FinalOrdinal:  plan[len(plan)-1].Ordinal,
			Status:        pipeline.StatusRunning,
			StartedAt:     now,
		},
		cancel: cancel,
	}
	runID := state.run.ID
	m.runs[runID] = state
	msg := m.messageLocked(runID, report.LevelInfo, report.EventRunStarted, nil, 0,
		fmt.Sprintf("%s started with %d step(s)", req.Variant, len(plan)))
	record := recordFromRun(state)
	snapshot := snapshotFromState(state)
	m.wg.Add(1)
	m.mu.Unlock()

	m.sink.Emit(msg)
	m.persistRecord(record)
	m.logger.Info(
		"pipeline run started",
		"run_id", runID,
		"correlation_id", correlationID,
		"variant", string(req.Variant),
		"steps", len(plan),
	)

	cfg := req.Config
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.execute(runCtx, runID, plan, cfg)
	}()
	return snapshot, nil
}

func (m *Orchestrator) Status(runID string) (RunSnapshot, error) {
	m.prune()
	return m.snapshot(runID)
}

// Current returns the run that is Running, if any.
func (m *Orchestrator) Current() (RunSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if active := m.activeLocked(); active != nil {
		return snapshotFromState(active), true
	}
	return RunSnapshot{}, false
}

func (m *Orchestrator) List(opts RunListOptions) ([]RunSnapshot, string, error) {
	m.prune()
	filter := strings.ToLower(strings.TrimSpace(opts.Status))
	dedup := make(map[string]RunSnapshot)

	if m.runlogs != nil {
		records, err := m.listRunlogRecords(context.Background())
		if err != nil {
			return nil, "", mapRunlogReadError(err, "pipeline.list")
		}
		for _, record := range records {
			dedup[record.RunID] = snapshotFromRecord(record)
		}
	}

	m.mu.RLock()
	for runID, state := range m.runs {
		dedup[runID] = snapshotFromState(state)
	}
	m.mu.RUnlock()

	items := make([]RunSnapshot, 0, len(dedup))
	for _, snapshot := range dedup {
		if filter != "" && strings.ToLower(snapshot.Status) != filter {
			continue
		}
		items = append(items, snapshot)
	}
	sort.Slice(items, func(i, j int) bool {
		ti := parseSnapshotTime(items[i].StartedAt)
		tj := parseSnapshotTime(items[j].StartedAt)
		if ti.Equal(tj) {
			return items[i].RunID > items[j].RunID
		}
		return ti.After(tj)
	})
	start, err := parseListCursor(opts.Cursor)
	if err != nil {
		return nil, "", fault.Validation(err.Error())
	}
	if start > len(items) {
		start = len(items)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	nextCursor := ""
	if end < len(items) {
		nextCursor = strconv.Itoa(end)
	}
	return items[start:end], nextCursor, nil
}

func (m *Orchestrator) Logs(runID string, opts RunLogOptions) ([]RunLogEntry, error) {
	m.prune()
	m.mu.RLock()
	logs, ok := m.logs[runID]
	if ok {
		out := append([]RunLogEntry(nil), logs...)
		m.mu.RUnlock()
		return applyRunLogFilters(out, opts), nil
	}
	m.mu.RUnlock()

	if m.runlogs != nil {
		record, exists, err := m.getRunlogRecord(context.Background(), runID)
		if err != nil {
			return nil, mapRunlogReadError(err, "pipeline.logs")
		}
		if exists {
			out := []RunLogEntry{{
				Timestamp: record.StartedAt.UTC().Format(time.RFC3339Nano),
				Level:     string(report.LevelInfo),
				Event:     string(report.EventRunStarted),
				Message:   fmt.Sprintf("%s started", record.Variant),
			}}
			if !record.EndedAt.IsZero() {
				out = append(out, RunLogEntry{
					Timestamp: record.EndedAt.UTC().Format(time.RFC3339Nano),
					Level:     string(report.LevelInfo),
					Event:     "run_" + string(record.Status),
					Message:   fmt.Sprintf("run %s", record.Status),
					Step:      record.CurrentStep,
					Ordinal:   record.CurrentOrdinal,
				})
			}
			return applyRunLogFilters(out, opts), nil
		}
	}
	return nil, fault.NotFound(fmt.Sprintf("pipeline run %q not found", runID))
}

// Cancel requests cooperative cancellation. The run stops at the next check
// between primitives and ends Failed with code CANCELED.
func (m *Orchestrator) Cancel(runID string) (RunSnapshot, bool, error) {
	m.prune()
	m.mu.Lock()
	state, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		if m.runlogs != nil {
			record, exists, err := m.getRunlogRecord(context.Background(), runID)
			if err != nil {
				return RunSnapshot{}, false, mapRunlogReadError(err, "pipeline.cancel")
			}
			if exists {
				return snapshotFromRecord(record), false, nil
			}
		}
		return RunSnapshot{}, false, fault.NotFound(fmt.Sprintf("pipeline run %q not found", runID))
	}

	acknowledged := false
	var cancel context.CancelFunc
	var msg *report.Message
	if state.run.Status == pipeline.StatusRunning && !state.cancelRequested {
		state.cancelRequested = true
		acknowledged = true
		cancel = state.cancel
		out := m.messageLocked(runID, report.LevelWarn, report.EventCancelRequest, nil, 0, "cancel requested")
		msg = &out
	}
	snapshot := snapshotFromState(state)
	m.mu.Unlock()

	if msg != nil {
		m.sink.Emit(*msg)
	}
	if cancel != nil {
		cancel()
	}
	return snapshot, acknowledged, nil
}

// Close refuses new runs, cancels the active one and waits for it to
// settle or for ctx to end.
func (m *Orchestrator) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, state := range m.runs {
		if state.run.Status == pipeline.StatusRunning && state.cancel != nil {
			state.cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type stepVerdict int

const (
	verdictSucceeded stepVerdict = iota
	verdictCanceled
	verdictPaused
	verdictFailed
)

func (m *Orchestrator) execute(ctx context.Context, runID string, plan []step.Descriptor, cfg settings.Configuration) {
	rng := m.opts.NewRand()
	for _, d := range plan {
		if ctx.Err() != nil {
			m.finishCanceled(runID)
			return
		}
		m.beginStep(runID, d)
		verdict, f := m.runStep(ctx, runID, d, cfg, rng)
		switch verdict {
		case verdictSucceeded:
			m.markStepComplete(runID, d)
		case verdictCanceled:
			m.finishCanceled(runID)
			return
		case verdictPaused:
			m.finishPaused(runID, f)
			return
		default:
			m.finishFailed(runID, f)
			return
		}
	}
	m.finishCompleted(runID)
}

// runStep is the bounded retry loop for one step. The attempt counter is
// local to the step.
func (m *Orchestrator) runStep(
	ctx context.Context,
	runID string,
	d step.Descriptor,
	cfg settings.Configuration,
	rng *rand.Rand,
) (stepVerdict, fault.Fault) {
	maxAttempts := m.opts.Retry.Max()
	ui := action.NewPrimitives(m.host, m.opts.Timing)
	env := step.Env{
		RunID:   runID,
		Step:    d.Name,
		Ordinal: d.Ordinal,
		Config:  cfg,
		UI:      ui,
		Logger:  m.logger.With("run_id", runID, "step", d.Name),
		Rand:    rng,
		Now:     m.opts.Now,
	}

	var last action.Result
	attempt := 1
	for ; ; attempt++ {
		if ctx.Err() != nil {
			return verdictCanceled, fault.Fault{}
		}
		m.setRetryCount(runID, attempt-1)
		m.emit(runID, report.LevelInfo, report.EventAttempt, &d, attempt,
			fmt.Sprintf("attempt %d/%d", attempt, maxAttempts))

		env.Attempt = attempt
		last = m.executor.Execute(ctx, d, env)
		if last.OK() {
			return verdictSucceeded, fault.Fault{}
		}
		if ctx.Err() != nil && action.IsCanceled(last) {
			return verdictCanceled, fault.Fault{}
		}
		if last.Intervention != "" {
			f := fault.HumanIntervention(last.Intervention, fmt.Sprintf("step %s needs human intervention: %s", d.Name, last.Detail)).
				WithDetails(escalationDetails(d, attempt, last))
			m.emitFields(runID, report.LevelError, report.EventEscalation, &d, attempt, f.Message, f.Details)
			return verdictPaused, f
		}
		m.emitFields(runID, report.LevelWarn, report.EventAttemptFailed, &d, attempt,
			fmt.Sprintf("attempt %d/%d failed: %s", attempt, maxAttempts, last),
			map[string]any{"outcome": string(last.Outcome), "network": last.Network})

		if !m.opts.Retry.ShouldRetry(d.Name, attempt) {
			break
		}
		if last.Network {
			m.emit(runID, report.LevelWarn, report.EventReload, &d, attempt, "network failure, reloading page before retry")
			if err := m.host.Reload(ctx); err != nil {
				m.logger.Warn("reload before retry failed", "run_id", runID, "step", d.Name, "error", err)
			}
		}
		if err := sleepContext(ctx, m.opts.Retry.Delay); err != nil {
			return verdictCanceled, fault.Fault{}
		}
	}

	if d.Recovery != nil && ctx.Err() == nil {
		m.emit(runID, report.LevelWarn, report.EventRecovery, &d, attempt, "running recovery procedure")
		if err := d.Recovery(ctx, env); err != nil {
			m.logger.Warn("recovery procedure failed", "run_id", runID, "step", d.Name, "error", err)
		}
	}
	if ctx.Err() != nil {
		return verdictCanceled, fault.Fault{}
	}

	f := fault.HumanIntervention(
		fault.SubKindRetriesExhausted,
		fmt.Sprintf("step %s failed after %d attempt(s): %s", d.Name, attempt, last),
	).WithDetails(escalationDetails(d, attempt, last))
	m.emitFields(runID, report.LevelError, report.EventEscalation, &d, attempt, f.Message, f.Details)
	return verdictFailed, f
}

func escalationDetails(d step.Descriptor, attempt int, res action.Result) map[string]any {
	return map[string]any{
		"step":     d.Name,
		"ordinal":  d.Ordinal,
		"attempts": attempt,
		"outcome":  string(res.Outcome),
		"detail":   res.Detail,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Orchestrator) beginStep(runID string, d step.Descriptor) {
	m.mu.Lock()
	state, ok := m.runs[runID]
	if !ok || state.run.Status != pipeline.StatusRunning {
		m.mu.Unlock()
		return
	}
	if d.Ordinal > state.run.CurrentStepOrdinal {
		state.run.CurrentStepOrdinal = d.Ordinal
	}
	state.run.CurrentStep = d.Name
	state.run.RetryCountForCurrentStep = 0
	msg := m.messageLocked(runID, report.LevelInfo, report.EventStepStarted, &d, 0, titleOf(d)+" started")
	record := recordFromRun(state)
	m.mu.Unlock()
	m.sink.Emit(msg)
	m.persistRecord(record)
}

func (m *Orchestrator) setRetryCount(runID string, retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.runs[runID]; ok && state.run.Status == pipeline.StatusRunning {
		state.run.RetryCountForCurrentStep = retries
	}
}

func (m *Orchestrator) markStepComplete(runID string, d step.Descriptor) {
	m.mu.Lock()
	state, ok := m.runs[runID]
	if !ok || state.run.Status != pipeline.StatusRunning {
		m.mu.Unlock()
		return
	}
	state.run.CompletedSteps++
	state.run.RetryCountForCurrentStep = 0
	msg := m.messageLocked(runID, report.LevelInfo, report.EventStepSucceeded, &d, 0, titleOf(d)+" succeeded")
	record := recordFromRun(state)
	m.mu.Unlock()
	m.sink.Emit(msg)
	m.persistRecord(record)
}

func (m *Orchestrator) finishCompleted(runID string) {
	m.finish(runID, pipeline.StatusCompleted, nil, report.LevelInfo, report.EventRunCompleted, "run completed")
}

func (m *Orchestrator) finishCanceled(runID string) {
	f := fault.Canceled("run canceled")
	m.finish(runID, pipeline.StatusFailed, &f, report.LevelWarn, report.EventRunFailed, "run canceled")
}

func (m *Orchestrator) finishPaused(runID string, f fault.Fault) {
	m.finish(runID, pipeline.StatusPaused, &f, report.LevelWarn, report.EventRunPaused, "run paused: "+f.Message)
}

func (m *Orchestrator) finishFailed(runID string, f fault.Fault) {
	m.finish(runID, pipeline.StatusFailed, &f, report.LevelError, report.EventRunFailed, "run failed: "+f.Message)
}

func (m *Orchestrator) finish(runID string, status pipeline.Status, f *fault.Fault, level report.Level, event report.Event, text string) {
	m.mu.Lock()
	state, ok := m.runs[runID]
	if !ok || state.run.Status != pipeline.StatusRunning {
		m.mu.Unlock()
		return
	}
	state.run.Status = status
	state.run.EndedAt = m.opts.Now()
	state.cancel = nil
	if f != nil {
		state.run.ErrorCode = string(f.Code)
		state.run.ErrorMessage = f.Message
		state.run.ErrorSubKind = f.SubKind()
	}
	msg := m.messageLocked(runID, level, event, nil, 0, text)
	record := recordFromRun(state)
	snapshot := snapshotFromState(state)
	m.mu.Unlock()

	m.sink.Emit(msg)
	m.persistRecord(record)

	fields := []any{
		"run_id", snapshot.RunID,
		"correlation_id", snapshot.CorrelationID,
		"variant", snapshot.Variant,
		"status", snapshot.Status,
		"completed_steps", snapshot.CompletedSteps,
		"steps", snapshot.TotalSteps,
	}
	if f != nil {
		fields = append(fields, "error_code", string(f.Code), "error", f.Message)
	}
	if status == pipeline.StatusCompleted {
		m.logger.Info("pipeline run finished", fields...)
		return
	}
	m.logger.Warn("pipeline run finished", fields...)
}

func titleOf(d step.Descriptor) string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

func (m *Orchestrator) emit(runID string, level report.Level, event report.Event, d *step.Descriptor, attempt int, text string) {
	m.emitFields(runID, level, event, d, attempt, text, nil)
}

func (m *Orchestrator) emitFields(runID string, level report.Level, event report.Event, d *step.Descriptor, attempt int, text string, fields map[string]any) {
	m.mu.Lock()
	msg := m.messageLocked(runID, level, event, d, attempt, text)
	m.mu.Unlock()
	msg.Fields = fields
	m.sink.Emit(msg)
}

// messageLocked builds a report message and appends it to the run log.
func (m *Orchestrator) messageLocked(runID string, level report.Level, event report.Event, d *step.Descriptor, attempt int, text string) report.Message {
	msg := report.Message{
		Time:    m.opts.Now(),
		Level:   level,
		Event:   event,
		RunID:   runID,
		Attempt: attempt,
		Text:    text,
	}
	if d != nil {
		msg.Step = d.Name
		msg.Ordinal = d.Ordinal
	}
	logs := append(m.logs[runID], RunLogEntry{
		Timestamp: msg.Time.UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Event:     string(event),
		Message:   text,
		Step:      msg.Step,
		Ordinal:   msg.Ordinal,
		Attempt:   attempt,
	})
	if len(logs) > m.opts.MaxLogsPerRun {
		logs = logs[len(logs)-m.opts.MaxLogsPerRun:]
	}
	m.logs[runID] = logs
	return msg
}

func (m *Orchestrator) snapshot(runID string) (RunSnapshot, error) {
	m.mu.RLock()
	state, ok := m.runs[runID]
	if ok {
		snapshot := snapshotFromState(state)
		m.mu.RUnlock()
		return snapshot, nil
	}
	m.mu.RUnlock()

	if m.runlogs != nil {
		record, exists, err := m.getRunlogRecord(context.Background(), runID)
		if err != nil {
			return RunSnapshot{}, mapRunlogReadError(err, "pipeline.status")
		}
		if exists {
			return snapshotFromRecord(record), nil
		}
	}
	return RunSnapshot{}, fault.NotFound(fmt.Sprintf("pipeline run %q not found", runID))
}

func (m *Orchestrator) activeLocked() *runState {
	for _, state := range m.runs {
		if state.run.Status.Active() {
			return state
		}
	}
	return nil
}

func (m *Orchestrator) persistRecord(record runlog.Record) {
	if m.runlogs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.runlogs.Upsert(ctx, record); err != nil {
		m.logger.Error(
			"persist pipeline runlog failed",
			"run_id", record.RunID,
			"error", mapRunlogPersistError(err, "pipeline.persist", record.CorrelationID, "failed to persist pipeline runlog"),
		)
	}
}

func (m *Orchestrator) getRunlogRecord(ctx context.Context, runID string) (runlog.Record, bool, error) {
	if aware, ok := m.runlogs.(runlog.ErrorAwareStore); ok {
		return aware.GetWithError(ctx, runID)
	}
	record, exists := m.runlogs.Get(ctx, runID)
	return record, exists, nil
}

func (m *Orchestrator) listRunlogRecords(ctx context.Context) ([]runlog.Record, error) {
	if aware, ok := m.runlogs.(runlog.ErrorAwareStore); ok {
		return aware.ListWithError(ctx)
	}
	return m.runlogs.List(ctx), nil
}

func (m *Orchestrator) prune() {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(now)
}

// pruneLocked drops settled runs past the TTL, then the oldest settled runs
// beyond the retention count.
func (m *Orchestrator) pruneLocked(now time.Time) {
	type candidate struct {
		runID string
		ended time.Time
	}
	settled := make([]candidate, 0, len(m.runs))
	for runID, state := range m.runs {
		if state.run.Status.Active() {
			continue
		}
		endedAt := state.run.EndedAt
		if endedAt.IsZero() {
			endedAt = state.run.StartedAt
		}
		if now.Sub(endedAt) > m.opts.RetentionTTL {
			delete(m.runs, runID)
			delete(m.logs, runID)
			continue
		}
		settled = append(settled, candidate{runID: runID, ended: endedAt})
	}
	if len(settled) <= m.opts.RetentionMaxRuns {
		return
	}
	sort.Slice(settled, func(i, j int) bool {
		return settled[i].ended.Before(settled[j].ended)
	})
	excess := len(settled) - m.opts.RetentionMaxRuns
	for i := 0; i < excess; i++ {
		delete(m.runs, settled[i].runID)
		delete(m.logs, settled[i].runID)
	}
}

func snapshotFromState(state *runState) RunSnapshot {
	r := state.run
	out := RunSnapshot{
		RunID:              r.ID,
		CorrelationID:      r.CorrelationID,
		Variant:            string(r.Variant),
		Status:             string(r.Status),
		CurrentStep:        r.CurrentStep,
		CurrentStepOrdinal: r.CurrentStepOrdinal,
		FinalOrdinal:       r.FinalOrdinal,
		RetryCount:         r.RetryCountForCurrentStep,
		TotalSteps:         len(r.Steps),
		CompletedSteps:     r.CompletedSteps,
		StartedAt:          r.StartedAt.UTC().Format(time.RFC3339Nano),
		CancelRequested:    state.cancelRequested,
	}
	if !r.EndedAt.IsZero() {
		out.EndedAt = r.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.ErrorCode != "" {
		out.LastError = &RunError{Code: r.ErrorCode, Message: r.ErrorMessage, SubKind: r.ErrorSubKind}
	}
	return out
}

func snapshotFromRecord(record runlog.Record) RunSnapshot {
	out := RunSnapshot{
		RunID:              record.RunID,
		CorrelationID:      record.CorrelationID,
		Variant:            record.Variant,
		Status:             string(record.Status),
		CurrentStep:        record.CurrentStep,
		CurrentStepOrdinal: record.CurrentOrdinal,
		TotalSteps:         record.TotalSteps,
		CompletedSteps:     record.CompletedSteps,
		StartedAt:          record.StartedAt.UTC().Format(time.RFC3339Nano),
		CancelRequested:    record.ErrorCode == string(fault.CodeCanceled),
	}
	if record.Attempt > 0 {
		out.RetryCount = record.Attempt - 1
	}
	if !record.EndedAt.IsZero() {
		out.EndedAt = record.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if record.ErrorCode != "" || record.ErrorMessage != "" {
		out.LastError = &RunError{Code: record.ErrorCode, Message: record.ErrorMessage, SubKind: record.ErrorSubKind}
	}
	return out
}

func recordFromRun(state *runState) runlog.Record {
	r := state.run
	return runlog.Record{
		RunID:          r.ID,
		CorrelationID:  r.CorrelationID,
		Variant:        string(r.Variant),
		Status:         runlog.Status(r.Status),
		CurrentStep:    r.CurrentStep,
		CurrentOrdinal: r.CurrentStepOrdinal,
		CompletedSteps: r.CompletedSteps,
		TotalSteps:     len(r.Steps),
		Attempt:        r.RetryCountForCurrentStep + 1,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		ErrorCode:      r.ErrorCode,
		ErrorMessage:   r.ErrorMessage,
		ErrorSubKind:   r.ErrorSubKind,
	}
}

func parseSnapshotTime(raw string) time.Time {
	out, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return out
}

func parseListCursor(cursor string) (int, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid run list cursor %q", cursor)
	}
	return offset, nil
}

func applyRunLogFilters(logs []RunLogEntry, opts RunLogOptions) []RunLogEntry {
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	stepName := strings.TrimSpace(opts.Step)
	event := strings.TrimSpace(opts.Event)
	filtered := make([]RunLogEntry, 0, len(logs))
	for _, entry := range logs {
		if level != "" && strings.ToLower(entry.Level) != level {
			continue
		}
		if stepName != "" && entry.Step != stepName {
			continue
		}
		if event != "" && entry.Event != event {
			continue
		}
		if !opts.Since.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
			if err != nil || ts.Before(opts.Since) {
				continue
			}
		}
		filtered = append(filtered, entry)
	}
	if opts.Limit <= 0 || len(filtered) <= opts.Limit {
		return filtered
	}
	return filtered[len(filtered)-opts.Limit:]
}
