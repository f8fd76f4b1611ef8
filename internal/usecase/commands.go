package usecase

import (
	"context"
	"strings"

	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/pipeline"
)

const (
	AckStarted = "started"
	AckError   = "error"
)

// Command is what a command channel delivers.
type Command struct {
	Command        string         `json:"command"`
	ConfigOverride map[string]any `json:"configOverride,omitempty"`
	CorrelationID  string         `json:"correlationId,omitempty"`
}

// Ack is returned synchronously while the run proceeds in the background.
type Ack struct {
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	Code          string `json:"code,omitempty"`
	RunID         string `json:"runId,omitempty"`
	Variant       string `json:"variant,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (a Ack) Started() bool {
	return a.Status == AckStarted
}

type CommandService struct {
	runtime PipelineRuntime
	config  *ConfigService
}

func NewCommandService(runtime PipelineRuntime, config *ConfigService) *CommandService {
	return &CommandService{runtime: runtime, config: config}
}

// Dispatch loads the configuration once, merges the inline override and
// starts the run. Every failure is reported as an error ack.
func (s *CommandService) Dispatch(ctx context.Context, cmd Command) Ack {
	if s.runtime == nil || s.config == nil {
		return errorAck(fault.Unimplemented("pipeline runtime is not configured"))
	}
	variant, err := pipeline.ParseVariant(cmd.Command)
	if err != nil {
		return errorAck(fault.Validation(err.Error()))
	}
	snapshot, err := s.config.Snapshot(ctx, cmd.ConfigOverride)
	if err != nil {
		return errorAck(err)
	}
	run, err := s.runtime.Start(StartRunRequest{
		Variant:       variant,
		Config:        snapshot,
		CorrelationID: strings.TrimSpace(cmd.CorrelationID),
	})
	if err != nil {
		ack := errorAck(err)
		ack.Variant = string(variant)
		return ack
	}
	return Ack{
		Status:        AckStarted,
		Message:       string(variant) + " started",
		RunID:         run.RunID,
		Variant:       run.Variant,
		CorrelationID: run.CorrelationID,
	}
}

func errorAck(err error) Ack {
	f, ok := fault.As(err)
	if !ok {
		f = fault.Internal(err.Error())
	}
	return Ack{
		Status:        AckError,
		Message:       f.Message,
		Code:          string(f.Code),
		CorrelationID: f.CorrelationID,
	}
}
