package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/usecase"
)

type pipelineRunToolInput struct {
	Command        string         `json:"command"`
	ConfigOverride map[string]any `json:"configOverride,omitempty"`
	CorrelationID  string         `json:"correlationId,omitempty"`
}

type pipelineStatusToolInput struct {
	RunID string `json:"runId,omitempty"`
}

type pipelineListToolInput struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

type pipelineLogsToolInput struct {
	RunID string `json:"runId"`
	Limit int    `json:"limit,omitempty"`
	Level string `json:"level,omitempty"`
	Step  string `json:"step,omitempty"`
	Event string `json:"event,omitempty"`
	Since string `json:"since,omitempty"`
}

type pipelineStatusToolOutput struct {
	Active bool                 `json:"active"`
	Run    *usecase.RunSnapshot `json:"run,omitempty"`
}

type pipelineCancelToolOutput struct {
	usecase.RunSnapshot
	Acknowledged bool `json:"acknowledged"`
}

type pipelineListToolOutput struct {
	Runs       []usecase.RunSnapshot `json:"runs"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

type pipelineLogsToolOutput struct {
	RunID string                `json:"runId"`
	Logs  []usecase.RunLogEntry `json:"logs"`
}

func (s *Server) registerPipelineTools() {
	s.server.AddTool(&sdkmcp.Tool{
		Name:         "pipeline.run",
		Title:        "Pipeline Run",
		Description:  "Starts a pipeline variant and acknowledges immediately",
		InputSchema:  pipelineRunInputSchema(),
		OutputSchema: ackOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: false},
		Meta:         sdkmcp.Meta{"adpilot:type": "pipeline"},
	}, s.handlePipelineRun)

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "pipeline.status",
		Title:        "Pipeline Status",
		Description:  "Returns the state of a run, or of the active run when runId is omitted",
		InputSchema:  pipelineStatusInputSchema(),
		OutputSchema: pipelineStatusOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
		Meta:         sdkmcp.Meta{"adpilot:type": "pipeline"},
	}, s.handlePipelineStatus)

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "pipeline.cancel",
		Title:        "Pipeline Cancel",
		Description:  "Requests cancellation of a running pipeline",
		InputSchema:  runIDInputSchema(),
		OutputSchema: pipelineCancelOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: false},
		Meta:         sdkmcp.Meta{"adpilot:type": "pipeline"},
	}, s.handlePipelineCancel)

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "pipeline.list",
		Title:        "Pipeline List",
		Description:  "Lists pipeline runs, newest first",
		InputSchema:  pipelineListInputSchema(),
		OutputSchema: pipelineListOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
		Meta:         sdkmcp.Meta{"adpilot:type": "pipeline"},
	}, s.handlePipelineList)

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "pipeline.logs",
		Title:        "Pipeline Logs",
		Description:  "Returns the progress log of a run",
		InputSchema:  pipelineLogsInputSchema(),
		OutputSchema: pipelineLogsOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
		Meta:         sdkmcp.Meta{"adpilot:type": "pipeline"},
	}, s.handlePipelineLogs)
}

// handlePipelineRun reports refusals as an error ack rather than a wire
// error so callers see the same shape from every command channel.
func (s *Server) handlePipelineRun(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Commands == nil {
		return nil, s.unavailable("pipeline runtime")
	}
	var input pipelineRunToolInput
	if err := s.decodeArgs("pipeline.run", req, &input); err != nil {
		return nil, err
	}
	if input.CorrelationID == "" && req.Params.Meta != nil {
		if id, ok := req.Params.Meta["correlationId"].(string); ok {
			input.CorrelationID = id
		}
	}
	ack := s.deps.Commands.Dispatch(ctx, usecase.Command{
		Command:        input.Command,
		ConfigOverride: input.ConfigOverride,
		CorrelationID:  input.CorrelationID,
	})
	result, err := s.toolResultWithStructured(ack)
	if err != nil {
		return nil, err
	}
	result.IsError = !ack.Started()
	return result, nil
}

func (s *Server) handlePipelineStatus(_ context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Runtime == nil {
		return nil, s.unavailable("pipeline runtime")
	}
	var input pipelineStatusToolInput
	if err := s.decodeArgs("pipeline.status", req, &input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.RunID) == "" {
		snapshot, ok := s.deps.Runtime.Current()
		if !ok {
			return s.toolResultWithStructured(pipelineStatusToolOutput{})
		}
		return s.toolResultWithStructured(pipelineStatusToolOutput{Active: true, Run: &snapshot})
	}
	snapshot, err := s.deps.Runtime.Status(input.RunID)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(pipelineStatusToolOutput{
		Active: snapshot.Status == string(pipeline.StatusRunning),
		Run:    &snapshot,
	})
}

func (s *Server) handlePipelineCancel(_ context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Runtime == nil {
		return nil, s.unavailable("pipeline runtime")
	}
	var input pipelineStatusToolInput
	if err := s.decodeArgs("pipeline.cancel", req, &input); err != nil {
		return nil, err
	}
	snapshot, acknowledged, err := s.deps.Runtime.Cancel(input.RunID)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(pipelineCancelToolOutput{
		RunSnapshot:  snapshot,
		Acknowledged: acknowledged,
	})
}

func (s *Server) handlePipelineList(_ context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Runtime == nil {
		return nil, s.unavailable("pipeline runtime")
	}
	var input pipelineListToolInput
	if err := s.decodeArgs("pipeline.list", req, &input); err != nil {
		return nil, err
	}
	runs, nextCursor, err := s.deps.Runtime.List(usecase.RunListOptions{
		Status: input.Status,
		Limit:  input.Limit,
		Cursor: input.Cursor,
	})
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(pipelineListToolOutput{Runs: runs, NextCursor: nextCursor})
}

func (s *Server) handlePipelineLogs(_ context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Runtime == nil {
		return nil, s.unavailable("pipeline runtime")
	}
	var input pipelineLogsToolInput
	if err := s.decodeArgs("pipeline.logs", req, &input); err != nil {
		return nil, err
	}
	since, err := parseLogsSince(input.Since)
	if err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid pipeline.logs arguments",
			map[string]any{"details": err.Error()},
		)
	}
	logs, err := s.deps.Runtime.Logs(input.RunID, usecase.RunLogOptions{
		Limit: input.Limit,
		Level: input.Level,
		Step:  input.Step,
		Event: input.Event,
		Since: since,
	})
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(pipelineLogsToolOutput{RunID: input.RunID, Logs: logs})
}

func parseLogsSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	out, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be RFC3339 timestamp")
	}
	return out, nil
}

func pipelineRunInputSchema() map[string]any {
	commands := make([]string, 0, 3)
	for _, v := range pipeline.Variants() {
		commands = append(commands, string(v))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Pipeline variant; legacy aliases are accepted: " + strings.Join(commands, ", "),
			},
			"configOverride": map[string]any{"type": "object"},
			"correlationId":  map[string]any{"type": "string"},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}
}

func pipelineStatusInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runId": map[string]any{"type": "string"},
		},
		"additionalProperties": false,
	}
}

func runIDInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runId": map[string]any{"type": "string"},
		},
		"required":             []string{"runId"},
		"additionalProperties": false,
	}
}

func pipelineListInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{"type": "string"},
			"limit":  map[string]any{"type": "integer", "minimum": 1},
			"cursor": map[string]any{"type": "string"},
		},
		"additionalProperties": false,
	}
}

func pipelineLogsInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runId": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "minimum": 1},
			"level": map[string]any{"type": "string"},
			"step":  map[string]any{"type": "string"},
			"event": map[string]any{"type": "string"},
			"since": map[string]any{"type": "string"},
		},
		"required":             []string{"runId"},
		"additionalProperties": false,
	}
}

func ackOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":        map[string]any{"type": "string", "enum": []string{usecase.AckStarted, usecase.AckError}},
			"message":       map[string]any{"type": "string"},
			"code":          map[string]any{"type": "string"},
			"runId":         map[string]any{"type": "string"},
			"variant":       map[string]any{"type": "string"},
			"correlationId": map[string]any{"type": "string"},
		},
		"required":             []string{"status"},
		"additionalProperties": false,
	}
}

func runStateOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runId":              map[string]any{"type": "string"},
			"correlationId":      map[string]any{"type": "string"},
			"variant":            map[string]any{"type": "string"},
			"status":             map[string]any{"type": "string"},
			"currentStep":        map[string]any{"type": "string"},
			"currentStepOrdinal": map[string]any{"type": "integer"},
			"finalOrdinal":       map[string]any{"type": "integer"},
			"retryCount":         map[string]any{"type": "integer"},
			"totalSteps":         map[string]any{"type": "integer"},
			"completedSteps":     map[string]any{"type": "integer"},
			"startedAt":          map[string]any{"type": "string"},
			"endedAt":            map[string]any{"type": "string"},
			"cancelRequested":    map[string]any{"type": "boolean"},
			"lastError": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":    map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
					"subKind": map[string]any{"type": "string"},
				},
				"required":             []string{"code", "message"},
				"additionalProperties": false,
			},
		},
		"required": []string{
			"runId",
			"correlationId",
			"variant",
			"status",
			"currentStepOrdinal",
			"finalOrdinal",
			"retryCount",
			"totalSteps",
			"completedSteps",
			"startedAt",
			"cancelRequested",
		},
		"additionalProperties": false,
	}
}

func pipelineStatusOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"active": map[string]any{"type": "boolean"},
			"run":    runStateOutputSchema(),
		},
		"required":             []string{"active"},
		"additionalProperties": false,
	}
}

func pipelineCancelOutputSchema() map[string]any {
	out := runStateOutputSchema()
	properties, _ := out["properties"].(map[string]any)
	properties["acknowledged"] = map[string]any{"type": "boolean"}
	required, _ := out["required"].([]string)
	out["required"] = append(required, "acknowledged")
	return out
}

func pipelineListOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runs": map[string]any{
				"type":  "array",
				"items": runStateOutputSchema(),
			},
			"nextCursor": map[string]any{"type": "string"},
		},
		"required":             []string{"runs"},
		"additionalProperties": false,
	}
}

func pipelineLogsOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runId": map[string]any{"type": "string"},
			"logs": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"timestamp": map[string]any{"type": "string"},
						"level":     map[string]any{"type": "string"},
						"event":     map[string]any{"type": "string"},
						"message":   map[string]any{"type": "string"},
						"step":      map[string]any{"type": "string"},
						"ordinal":   map[string]any{"type": "integer"},
						"attempt":   map[string]any{"type": "integer"},
					},
					"required":             []string{"timestamp", "level", "event", "message"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"runId", "logs"},
		"additionalProperties": false,
	}
}
