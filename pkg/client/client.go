// Package client calls the adpilot pipeline and configuration tools over an
// MCP client session.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type Client struct {
	session toolSession
}

func New(session *sdkmcp.ClientSession) *Client {
	return newWithSession(session)
}

type toolSession interface {
	CallTool(context.Context, *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error)
	ListResources(context.Context, *sdkmcp.ListResourcesParams) (*sdkmcp.ListResourcesResult, error)
	ReadResource(context.Context, *sdkmcp.ReadResourceParams) (*sdkmcp.ReadResourceResult, error)
}

func newWithSession(session toolSession) *Client {
	return &Client{session: session}
}

type CallOptions struct {
	CorrelationID string
}

type RetryOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Command names accepted by pipeline.run. Legacy spellings such as
// "FullPipeline" are accepted by the server too.
const (
	CommandFullPipeline = "full_pipeline"
	CommandCampaignOnly = "campaign_only"
	CommandTrackingOnly = "tracking_only"
)

type RunRequest struct {
	Command        string
	ConfigOverride map[string]any
	CorrelationID  string
}

// RunAck is the synchronous answer to pipeline.run.
type RunAck struct {
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	Code          string `json:"code,omitempty"`
	RunID         string `json:"runId,omitempty"`
	Variant       string `json:"variant,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (a RunAck) Started() bool {
	return a.Status == "started"
}

// RejectedError is returned with the ack when the server refused a run.
type RejectedError struct {
	Ack RunAck
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("pipeline run rejected (%s): %s", e.Ack.Code, e.Ack.Message)
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

// Settled reports whether the run reached completed, failed or paused.
func (r RunSnapshot) Settled() bool {
	switch r.Status {
	case "completed", "failed", "paused":
		return true
	default:
		return false
	}
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	SubKind string `json:"subKind,omitempty"`
}

type StatusResult struct {
	Active bool         `json:"active"`
	Run    *RunSnapshot `json:"run,omitempty"`
}

type CancelResult struct {
	RunSnapshot
	Acknowledged bool `json:"acknowledged"`
}

type ListResult struct {
	Runs       []RunSnapshot `json:"runs"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Step      string `json:"step,omitempty"`
	Ordinal   int    `json:"ordinal,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

type LogsResult struct {
	RunID string     `json:"runId"`
	Logs  []LogEntry `json:"logs"`
}

type ListRequest struct {
	Status string
	Limit  int
	Cursor string
}

type LogsRequest struct {
	RunID string
	Limit int
	Level string
	Step  string
	Event string
	Since string
}

type ConfigResult struct {
	Config map[string]any `json:"config"`
	Keys   []string       `json:"keys"`
}

type CallError struct {
	Code    int64
	Message string
	Data    map[string]any
	Cause   error
}

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = 200 * time.Millisecond
	defaultRetryMaxBackoff     = 2 * time.Second
)

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("mcp call error (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mcp call error (%d): %s: %v", e.Code, e.Message, e.Cause)
}

// Run dispatches a pipeline command. A refused command returns the ack
// together with a *RejectedError.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunAck, error) {
	callResult, err := c.callTool(ctx, "pipeline.run", runArgs(req), CallOptions{CorrelationID: req.CorrelationID})
	if err != nil {
		return RunAck{}, err
	}
	return parseAck(callResult)
}

func (c *Client) RunWithRetry(ctx context.Context, req RunRequest, retry RetryOptions) (RunAck, error) {
	callResult, err := c.CallToolWithRetry(ctx, "pipeline.run", runArgs(req), CallOptions{CorrelationID: req.CorrelationID}, retry)
	if err != nil {
		return RunAck{}, err
	}
	return parseAck(callResult)
}

func parseAck(callResult *sdkmcp.CallToolResult) (RunAck, error) {
	ack, err := decodeStructured[RunAck](callResult)
	if err != nil {
		return RunAck{}, err
	}
	if callResult.IsError || !ack.Started() {
		return ack, &RejectedError{Ack: ack}
	}
	return ack, nil
}

func runArgs(req RunRequest) map[string]any {
	args := map[string]any{"command": req.Command}
	if len(req.ConfigOverride) > 0 {
		args["configOverride"] = req.ConfigOverride
	}
	if req.CorrelationID != "" {
		args["correlationId"] = req.CorrelationID
	}
	return args
}

// Status returns the given run, or the active one when runID is empty.
func (c *Client) Status(ctx context.Context, runID string) (StatusResult, error) {
	args := map[string]any{}
	if runID != "" {
		args["runId"] = runID
	}
	callResult, err := c.callTool(ctx, "pipeline.status", args, CallOptions{})
	if err != nil {
		return StatusResult{}, err
	}
	return decodeStructured[StatusResult](callResult)
}

// Wait polls Status until the run settles or ctx ends.
func (c *Client) Wait(ctx context.Context, runID string, interval time.Duration) (RunSnapshot, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		status, err := c.Status(ctx, runID)
		if err != nil {
			return RunSnapshot{}, err
		}
		if status.Run != nil && status.Run.Settled() {
			return *status.Run, nil
		}
		if err := sleepWithContext(ctx, interval); err != nil {
			return RunSnapshot{}, err
		}
	}
}

func (c *Client) Cancel(ctx context.Context, runID string) (CancelResult, error) {
	callResult, err := c.callTool(ctx, "pipeline.cancel", map[string]any{"runId": runID}, CallOptions{})
	if err != nil {
		return CancelResult{}, err
	}
	return decodeStructured[CancelResult](callResult)
}

func (c *Client) List(ctx context.Context, req ListRequest) (ListResult, error) {
	args := map[string]any{}
	if req.Status != "" {
		args["status"] = req.Status
	}
	if req.Limit > 0 {
		args["limit"] = req.Limit
	}
	if req.Cursor != "" {
		args["cursor"] = req.Cursor
	}
	callResult, err := c.callTool(ctx, "pipeline.list", args, CallOptions{})
	if err != nil {
		return ListResult{}, err
	}
	return decodeStructured[ListResult](callResult)
}

func (c *Client) ListAll(ctx context.Context, req ListRequest) ([]RunSnapshot, error) {
	pageReq := req
	var out []RunSnapshot
	seenCursor := map[string]struct{}{}
	for {
		page, err := c.List(ctx, pageReq)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Runs...)
		if page.NextCursor == "" {
			return out, nil
		}
		if _, ok := seenCursor[page.NextCursor]; ok {
			return nil, fmt.Errorf("pipeline.list repeated nextCursor %q", page.NextCursor)
		}
		seenCursor[page.NextCursor] = struct{}{}
		pageReq.Cursor = page.NextCursor
	}
}

func (c *Client) Logs(ctx context.Context, req LogsRequest) (LogsResult, error) {
	args := map[string]any{
		"runId": req.RunID,
	}
	if req.Limit > 0 {
		args["limit"] = req.Limit
	}
	if req.Level != "" {
		args["level"] = req.Level
	}
	if req.Step != "" {
		args["step"] = req.Step
	}
	if req.Event != "" {
		args["event"] = req.Event
	}
	if req.Since != "" {
		args["since"] = req.Since
	}
	callResult, err := c.callTool(ctx, "pipeline.logs", args, CallOptions{})
	if err != nil {
		return LogsResult{}, err
	}
	return decodeStructured[LogsResult](callResult)
}

func (c *Client) LoadConfig(ctx context.Context) (ConfigResult, error) {
	callResult, err := c.callTool(ctx, "config.load", map[string]any{}, CallOptions{})
	if err != nil {
		return ConfigResult{}, err
	}
	return decodeStructured[ConfigResult](callResult)
}

// SaveConfig replaces the stored configuration, or overlays values on it
// when merge is set.
func (c *Client) SaveConfig(ctx context.Context, values map[string]any, merge bool) (ConfigResult, error) {
	args := map[string]any{"values": values}
	if merge {
		args["merge"] = true
	}
	callResult, err := c.callTool(ctx, "config.save", args, CallOptions{})
	if err != nil {
		return ConfigResult{}, err
	}
	return decodeStructured[ConfigResult](callResult)
}

func (c *Client) ClearConfig(ctx context.Context) error {
	_, err := c.callTool(ctx, "config.clear", map[string]any{}, CallOptions{})
	return err
}

func (c *Client) ListResources(ctx context.Context) ([]*sdkmcp.Resource, error) {
	return c.ListResourcesAll(ctx)
}

func (c *Client) ListResourcesAll(ctx context.Context) ([]*sdkmcp.Resource, error) {
	cursor := ""
	var out []*sdkmcp.Resource
	seenCursor := map[string]struct{}{}
	for {
		resources, nextCursor, err := c.ListResourcesPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
		if nextCursor == "" {
			return out, nil
		}
		if _, ok := seenCursor[nextCursor]; ok {
			return nil, fmt.Errorf("resources/list repeated nextCursor %q", nextCursor)
		}
		seenCursor[nextCursor] = struct{}{}
		cursor = nextCursor
	}
}

func (c *Client) ListResourcesPage(ctx context.Context, cursor string) ([]*sdkmcp.Resource, string, error) {
	params := &sdkmcp.ListResourcesParams{Cursor: cursor}
	resp, err := c.session.ListResources(ctx, params)
	if err != nil {
		return nil, "", toCallError(err)
	}
	return resp.Resources, resp.NextCursor, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	resp, err := c.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", toCallError(err)
	}
	if len(resp.Contents) == 0 {
		return "", nil
	}
	return resp.Contents[0].Text, nil
}

type ServerStatus struct {
	Version    string         `json:"version"`
	ServerTime string         `json:"serverTime"`
	Steps      []StepInfo     `json:"steps"`
	ActiveRun  *RunSnapshot   `json:"activeRun,omitempty"`
	Host       map[string]any `json:"host,omitempty"`
}

type StepInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Ordinal int    `json:"ordinal"`
}

// ServerStatus reads the adpilot://status resource.
func (c *Client) ServerStatus(ctx context.Context) (ServerStatus, error) {
	return readJSONResource[ServerStatus](ctx, c, "adpilot://status")
}

// RunResource reads a single run through the adpilot://runs/{runId}
// resource template.
func (c *Client) RunResource(ctx context.Context, runID string) (RunSnapshot, error) {
	return readJSONResource[RunSnapshot](ctx, c, "adpilot://runs/"+runID)
}

func readJSONResource[T any](ctx context.Context, c *Client, uri string) (T, error) {
	var out T
	text, err := c.ReadResource(ctx, uri)
	if err != nil {
		return out, err
	}
	if text == "" {
		return out, fmt.Errorf("resource %q is empty", uri)
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, fmt.Errorf("decode resource %q: %w", uri, err)
	}
	return out, nil
}

func (c *Client) CallToolWithRetry(
	ctx context.Context,
	name string,
	args map[string]any,
	opts CallOptions,
	retry RetryOptions,
) (*sdkmcp.CallToolResult, error) {
	policy := retry.normalize()
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := c.callTool(ctx, name, args, opts)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxAttempts || !IsRetryable(err) {
			return nil, err
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = nextBackoff(backoff, policy.MaxBackoff)
	}
	return nil, fmt.Errorf("unreachable retry loop for tool %q", name)
}

func (c *Client) callTool(ctx context.Context, name string, args map[string]any, opts CallOptions) (*sdkmcp.CallToolResult, error) {
	params := &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	}
	if opts.CorrelationID != "" {
		params.Meta = sdkmcp.Meta{"correlationId": opts.CorrelationID}
	}
	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return nil, toCallError(err)
	}
	return result, nil
}

func (o RetryOptions) normalize() RetryOptions {
	out := o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultRetryMaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = defaultRetryInitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = defaultRetryMaxBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	return out
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return false
	}

	if callErr.Data != nil {
		if retryable, ok := asBool(callErr.Data["retryable"]); ok {
			return retryable
		}
	}
	return callErr.Code == jsonrpc.CodeInternalError
}

func asBool(v any) (bool, bool) {
	switch typed := v.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(typed)
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func nextBackoff(current, max time.Duration) time.Duration {
	if current >= max {
		return max
	}
	next := current * 2
	if next < 0 || next > max {
		return max
	}
	return next
}

func toCallError(err error) error {
	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) {
		out := &CallError{
			Code:    wireErr.Code,
			Message: wireErr.Message,
			Cause:   err,
		}
		if len(wireErr.Data) > 0 {
			var data map[string]any
			if unmarshalErr := json.Unmarshal(wireErr.Data, &data); unmarshalErr == nil {
				out.Data = data
			}
		}
		return out
	}
	return err
}

func structuredMap(result *sdkmcp.CallToolResult) (map[string]any, error) {
	if result == nil {
		return nil, errors.New("nil tool result")
	}
	root, ok := result.StructuredContent.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected structured content type %T", result.StructuredContent)
	}
	return root, nil
}

func decodeStructured[T any](result *sdkmcp.CallToolResult) (T, error) {
	var out T
	root, err := structuredMap(result)
	if err != nil {
		return out, err
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
