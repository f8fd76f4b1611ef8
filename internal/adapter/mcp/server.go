package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/step"
	"github.com/roushou/adpilot/internal/usecase"
)

const serverVersion = "0.1.0"

const (
	errorCodeUnimplemented int64 = -32041
	errorCodeConflict      int64 = -32042
	errorCodeNotFound      int64 = -32044
	errorCodeIntervention  int64 = -32045
)

// Deps are the use cases the MCP surface fronts. Health is optional.
type Deps struct {
	Runtime  usecase.PipelineRuntime
	Commands *usecase.CommandService
	Config   *usecase.ConfigService
	Catalog  *step.Catalog
	Health   func() map[string]any
}

type Server struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger
	deps   Deps
	guards *requestGuards
	server *sdkmcp.Server
}

func NewServer(name string, reader io.Reader, writer io.Writer, logger *slog.Logger, deps Deps) *Server {
	return NewServerWithRuntimeConfig(name, reader, writer, logger, deps, defaultServerRuntimeConfig())
}

func NewServerWithRuntimeConfig(
	name string,
	reader io.Reader,
	writer io.Writer,
	logger *slog.Logger,
	deps Deps,
	serverCfg ServerRuntimeConfig,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reader: reader,
		writer: writer,
		logger: logger,
		deps:   deps,
		guards: newRequestGuards(serverCfg),
		server: sdkmcp.NewServer(&sdkmcp.Implementation{
			Name:    name,
			Version: serverVersion,
		}, &sdkmcp.ServerOptions{
			Logger: logger,
		}),
	}
	s.registerTools()
	return s
}

func (s *Server) Serve(ctx context.Context) error {
	reader := s.reader
	if reader == nil {
		reader = os.Stdin
	}
	writer := s.writer
	if writer == nil {
		writer = os.Stdout
	}
	transport := &sdkmcp.IOTransport{
		Reader: io.NopCloser(reader),
		Writer: nopWriteCloser{Writer: writer},
	}
	return s.server.Run(ctx, transport)
}

func (s *Server) registerTools() {
	s.registerPipelineTools()
	s.registerConfigTools()
	s.registerResources()
}

func (s *Server) toolResultWithStructured(output any) (*sdkmcp.CallToolResult, error) {
	rawOutput, err := json.Marshal(output)
	if err != nil {
		return nil, wireError(
			jsonrpc.CodeInternalError,
			"failed to encode tool output",
			map[string]any{"details": err.Error()},
		)
	}

	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{
			&sdkmcp.TextContent{Text: string(rawOutput)},
		},
		StructuredContent: output,
	}, nil
}

func (s *Server) toCallToolError(err error) error {
	if f, ok := fault.As(err); ok {
		data := map[string]any{
			"code":           f.Code,
			"category":       f.Category,
			"retryable":      f.Retryable,
			"correlation_id": f.CorrelationID,
			"details":        f.Details,
		}
		if f.Code == fault.CodeValidation && f.Details != nil {
			if path, ok := f.Details["validation_path"]; ok {
				data["validation_path"] = path
			}
			if rule, ok := f.Details["validation_rule"]; ok {
				data["validation_rule"] = rule
			}
		}
		return wireError(mapFaultCode(f.Code), f.Message, data)
	}
	return wireError(
		jsonrpc.CodeInternalError,
		"internal error",
		map[string]any{"details": err.Error()},
	)
}

func mapFaultCode(code fault.Code) int64 {
	switch code {
	case fault.CodeValidation:
		return jsonrpc.CodeInvalidParams
	case fault.CodeNotFound:
		return errorCodeNotFound
	case fault.CodeConcurrencyConflict:
		return errorCodeConflict
	case fault.CodeHumanIntervention:
		return errorCodeIntervention
	case fault.CodeUnimplemented:
		return errorCodeUnimplemented
	default:
		return jsonrpc.CodeInternalError
	}
}

func wireError(code int64, message string, data any) *jsonrpc.Error {
	out := &jsonrpc.Error{
		Code:    code,
		Message: message,
	}
	if data == nil {
		return out
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"details":%q}`, err.Error()))
	}
	out.Data = json.RawMessage(raw)
	return out
}

func decodeToolArguments(req *sdkmcp.CallToolRequest, target any) error {
	if len(req.Params.Arguments) == 0 {
		return json.Unmarshal([]byte(`{}`), target)
	}
	return json.Unmarshal(req.Params.Arguments, target)
}

// decodeArgs applies the payload guard and decodes the tool arguments.
func (s *Server) decodeArgs(tool string, req *sdkmcp.CallToolRequest, target any) error {
	if err := s.guards.check(tool, req.Params.Arguments); err != nil {
		return err
	}
	if err := decodeToolArguments(req, target); err != nil {
		return wireError(
			jsonrpc.CodeInvalidParams,
			"invalid "+tool+" arguments",
			map[string]any{"details": err.Error()},
		)
	}
	return nil
}

func (s *Server) unavailable(what string) error {
	return s.toCallToolError(fault.Unimplemented(what + " is not configured"))
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
