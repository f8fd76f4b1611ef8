package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/adpilot/internal/adapter/htmldom"
	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/element"
	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/domain/runlog"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
	"github.com/roushou/adpilot/internal/usecase"
)

type toolCallResponse struct {
	Result *sdkmcp.CallToolResult
	Error  *jsonrpc.Error
}

type testEnv struct {
	server   *Server
	runtime  *usecase.Orchestrator
	provider *settings.InMemoryProvider
}

// newTestEnv wires a real orchestrator over a static page. Every step
// clicks "Go"; the campaign step blocks until canceled when block is set.
func newTestEnv(t *testing.T, block bool) testEnv {
	t.Helper()
	doc, err := htmldom.ParseString(`<html><body><button>Go</button></body></html>`)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}

	catalog := step.NewCatalog()
	for i, name := range pipeline.VariantFull.StepNames() {
		handler := step.HandlerFunc(func(ctx context.Context, env step.Env) action.Result {
			return env.UI.Click(ctx, element.Button("Go"))
		})
		if block && name == pipeline.StepCampaign {
			handler = func(ctx context.Context, _ step.Env) action.Result {
				<-ctx.Done()
				return action.Canceled(ctx.Err())
			}
		}
		if err := catalog.Register(step.Descriptor{Name: name, Title: name, Ordinal: i + 1, Handler: handler}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	runtime := usecase.NewOrchestrator(slog.Default(), catalog, doc, nil, runlog.NewInMemoryStore(), usecase.OrchestratorConfig{
		Retry:  pipeline.RetryPolicy{MaxAttempts: 2},
		Timing: action.Timing{PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = runtime.Close(ctx)
	})

	provider := settings.NewInMemoryProvider(settings.Configuration{})
	config := usecase.NewConfigService(provider, slog.Default())
	server := NewServer("adpilot-test", nil, nil, slog.Default(), Deps{
		Runtime:  runtime,
		Commands: usecase.NewCommandService(runtime, config),
		Config:   config,
		Catalog:  catalog,
		Health:   func() map[string]any { return map[string]any{"connected": true} },
	})
	return testEnv{server: server, runtime: runtime, provider: provider}
}

func connectMCPClient(t *testing.T, server *Server) (*sdkmcp.ClientSession, func()) {
	t.Helper()
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)

	serverSession, err := server.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect server transport: %v", err)
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "adpilot-test-client",
		Version: "v0.1.0",
	}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		_ = serverSession.Close()
		cancel()
		t.Fatalf("connect client session: %v", err)
	}

	cleanup := func() {
		_ = clientSession.Close()
		_ = serverSession.Close()
		cancel()
	}
	return clientSession, cleanup
}

func callTool(t *testing.T, client *sdkmcp.ClientSession, name string, arguments map[string]any) toolCallResponse {
	t.Helper()
	result, err := client.CallTool(context.Background(), &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err == nil {
		return toolCallResponse{Result: result}
	}

	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) {
		return toolCallResponse{Error: wireErr}
	}
	return toolCallResponse{
		Error: &jsonrpc.Error{
			Code:    jsonrpc.CodeInternalError,
			Message: err.Error(),
		},
	}
}

func structured(t *testing.T, resp toolCallResponse) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected tool error: %#v", resp.Error)
	}
	out, ok := resp.Result.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("unexpected structured content %#v", resp.Result.StructuredContent)
	}
	return out
}

func decodeErrorData(t *testing.T, err *jsonrpc.Error) map[string]any {
	t.Helper()
	if err == nil || len(err.Data) == 0 {
		return nil
	}
	var data map[string]any
	if unmarshalErr := json.Unmarshal(err.Data, &data); unmarshalErr != nil {
		t.Fatalf("unmarshal error data: %v", unmarshalErr)
	}
	return data
}

// conformsTo validates value against a tool schema built as a map.
func conformsTo(t *testing.T, schema map[string]any, value any) {
	t.Helper()
	raw, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		t.Fatalf("resolve schema: %v", err)
	}
	if err := resolved.Validate(value); err != nil {
		t.Fatalf("value does not conform to schema: %v", err)
	}
}

func waitForStatus(t *testing.T, client *sdkmcp.ClientSession, runID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		out := structured(t, callTool(t, client, "pipeline.status", map[string]any{"runId": runID}))
		last = out
		if run, ok := out["run"].(map[string]any); ok && run["status"] == want {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last %#v", want, last)
	return nil
}
