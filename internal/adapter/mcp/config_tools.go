package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/adpilot/internal/domain/settings"
)

type configSaveToolInput struct {
	Values map[string]any `json:"values"`
	Merge  bool           `json:"merge,omitempty"`
}

type configToolOutput struct {
	Config map[string]any `json:"config"`
	Keys   []string       `json:"keys"`
}

type configClearToolOutput struct {
	Cleared bool `json:"cleared"`
}

func (s *Server) registerConfigTools() {
	s.server.AddTool(&sdkmcp.Tool{
		Name:         "config.load",
		Title:        "Config Load",
		Description:  "Returns the stored operator configuration",
		InputSchema:  emptyInputSchema(),
		OutputSchema: configOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
		Meta:         sdkmcp.Meta{"adpilot:type": "config"},
	}, s.handleConfigLoad)

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "config.save",
		Title:        "Config Save",
		Description:  "Validates and stores the operator configuration, optionally merged over the current one",
		InputSchema:  configSaveInputSchema(),
		OutputSchema: configOutputSchema(),
		Annotations:  &sdkmcp.ToolAnnotations{ReadOnlyHint: false},
		Meta:         sdkmcp.Meta{"adpilot:type": "config"},
	}, s.handleConfigSave)

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "config.clear",
		Title:       "Config Clear",
		Description: "Removes the stored operator configuration",
		InputSchema: emptyInputSchema(),
		OutputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"cleared": map[string]any{"type": "boolean"}},
			"required":             []string{"cleared"},
			"additionalProperties": false,
		},
		Annotations: &sdkmcp.ToolAnnotations{ReadOnlyHint: false, DestructiveHint: boolPtr(true)},
		Meta:        sdkmcp.Meta{"adpilot:type": "config"},
	}, s.handleConfigClear)
}

func (s *Server) handleConfigLoad(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Config == nil {
		return nil, s.unavailable("configuration provider")
	}
	var input struct{}
	if err := s.decodeArgs("config.load", req, &input); err != nil {
		return nil, err
	}
	cfg, err := s.deps.Config.Load(ctx)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(configOutput(cfg))
}

func (s *Server) handleConfigSave(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Config == nil {
		return nil, s.unavailable("configuration provider")
	}
	var input configSaveToolInput
	if err := s.decodeArgs("config.save", req, &input); err != nil {
		return nil, err
	}
	cfg, err := s.deps.Config.Save(ctx, input.Values, input.Merge)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(configOutput(cfg))
}

func (s *Server) handleConfigClear(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if s.deps.Config == nil {
		return nil, s.unavailable("configuration provider")
	}
	var input struct{}
	if err := s.decodeArgs("config.clear", req, &input); err != nil {
		return nil, err
	}
	if err := s.deps.Config.Clear(ctx); err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(configClearToolOutput{Cleared: true})
}

func configOutput(cfg settings.Configuration) configToolOutput {
	keys := cfg.Keys()
	if keys == nil {
		keys = []string{}
	}
	values := cfg.Map()
	if values == nil {
		values = map[string]any{}
	}
	return configToolOutput{Config: values, Keys: keys}
}

func emptyInputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
	}
}

func configSaveInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"values": settings.Schema,
			"merge":  map[string]any{"type": "boolean"},
		},
		"required":             []string{"values"},
		"additionalProperties": false,
	}
}

func configOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"config": map[string]any{"type": "object"},
			"keys": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required":             []string{"config", "keys"},
		"additionalProperties": false,
	}
}

func boolPtr(v bool) *bool {
	return &v
}
