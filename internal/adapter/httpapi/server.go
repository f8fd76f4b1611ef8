// Package httpapi exposes the command channel and run inspection over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/usecase"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Runtime  usecase.PipelineRuntime
	Commands *usecase.CommandService
	Config   *usecase.ConfigService
	Health   func() map[string]any
}

type Server struct {
	router chi.Router
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/commands", s.handleCommand)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/logs", s.handleRunLogs)
				r.Post("/cancel", s.handleCancelRun)
			})
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Put("/", s.handlePutConfig)
			r.Delete("/", s.handleDeleteConfig)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          string         `json:"code"`
	Category      string         `json:"category,omitempty"`
	Message       string         `json:"message"`
	Retryable     bool           `json:"retryable"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	f, ok := fault.As(err)
	if !ok {
		f = fault.Internal(err.Error())
	}
	writeJSON(w, statusForCode(string(f.Code)), errorBody{Error: errorDetail{
		Code:          string(f.Code),
		Category:      string(f.Category),
		Message:       f.Message,
		Retryable:     f.Retryable,
		CorrelationID: f.CorrelationID,
		Details:       f.Details,
	}})
}

func statusForCode(code string) int {
	switch fault.Code(code) {
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeConcurrencyConflict, fault.CodeHumanIntervention:
		return http.StatusConflict
	case fault.CodeUnimplemented:
		return http.StatusNotImplemented
	case fault.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(target); err != nil {
		return fault.Validation("invalid request body: " + err.Error())
	}
	return nil
}
