package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/adpilot/internal/usecase"
)

const (
	resourceURIStatus      = "adpilot://status"
	resourceURIRuns        = "adpilot://runs"
	resourceTemplateRunURI = "adpilot://runs/{runId}"
	resourceRunPrefix      = "adpilot://runs/"
	resourceRunsLimit      = 100
)

func (s *Server) registerResources() {
	s.server.AddResource(&sdkmcp.Resource{
		Name:        "server_status",
		Title:       "Server Status",
		Description: "Server version, registered steps, active run and host health",
		MIMEType:    "application/json",
		URI:         resourceURIStatus,
	}, s.handleServerStatusResource)

	s.server.AddResource(&sdkmcp.Resource{
		Name:        "run_list",
		Title:       "Pipeline Runs",
		Description: "Recent pipeline runs, newest first",
		MIMEType:    "application/json",
		URI:         resourceURIRuns,
	}, s.handleRunsResource)

	s.server.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		Name:        "run_item",
		Title:       "Pipeline Run",
		Description: "Single pipeline run identified by runId",
		MIMEType:    "application/json",
		URITemplate: resourceTemplateRunURI,
	}, s.handleRunByIDResource)
}

func (s *Server) handleServerStatusResource(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	if req.Params.URI != resourceURIStatus {
		return nil, sdkmcp.ResourceNotFoundError(req.Params.URI)
	}
	steps := []map[string]any{}
	if s.deps.Catalog != nil {
		for _, d := range s.deps.Catalog.List() {
			steps = append(steps, map[string]any{"name": d.Name, "title": d.Title, "ordinal": d.Ordinal})
		}
	}
	status := map[string]any{
		"version":    serverVersion,
		"steps":      steps,
		"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.deps.Runtime != nil {
		if current, ok := s.deps.Runtime.Current(); ok {
			status["activeRun"] = current
		}
	}
	if s.deps.Health != nil {
		status["host"] = s.deps.Health()
	}
	return resourceJSON(req.Params.URI, status)
}

func (s *Server) handleRunsResource(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	if req.Params.URI != resourceURIRuns {
		return nil, sdkmcp.ResourceNotFoundError(req.Params.URI)
	}
	runs := []usecase.RunSnapshot{}
	if s.deps.Runtime != nil {
		listed, _, err := s.deps.Runtime.List(usecase.RunListOptions{Limit: resourceRunsLimit})
		if err != nil {
			return nil, err
		}
		runs = listed
	}
	return resourceJSON(req.Params.URI, map[string]any{"runs": runs})
}

func (s *Server) handleRunByIDResource(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	uri := strings.TrimSpace(req.Params.URI)
	if !strings.HasPrefix(uri, resourceRunPrefix) || s.deps.Runtime == nil {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}
	runID := strings.TrimPrefix(uri, resourceRunPrefix)
	if runID == "" || strings.Contains(runID, "/") {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}
	snapshot, err := s.deps.Runtime.Status(runID)
	if err != nil {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}
	return resourceJSON(uri, snapshot)
}

func resourceJSON(uri string, value any) (*sdkmcp.ReadResourceResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal resource %q: %w", uri, err)
	}
	return &sdkmcp.ReadResourceResult{
		Contents: []*sdkmcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(payload),
			},
		},
	}, nil
}
