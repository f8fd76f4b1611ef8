package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/usecase"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Runtime != nil {
		if current, ok := s.deps.Runtime.Current(); ok {
			body["activeRun"] = current.RunID
		}
	}
	if s.deps.Health != nil {
		body["host"] = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleCommand answers with the ack; 202 when the run started.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeError(w, fault.Unimplemented("pipeline runtime is not configured"))
		return
	}
	var cmd usecase.Command
	if err := decodeBody(w, r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = r.Header.Get("X-Correlation-ID")
	}
	ack := s.deps.Commands.Dispatch(r.Context(), cmd)
	status := http.StatusAccepted
	if !ack.Started() {
		status = statusForCode(ack.Code)
	}
	writeJSON(w, status, ack)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runtime == nil {
		writeError(w, fault.Unimplemented("pipeline runtime is not configured"))
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	runs, next, err := s.deps.Runtime.List(usecase.RunListOptions{
		Status: q.Get("status"),
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []usecase.RunSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "nextCursor": next})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runtime == nil {
		writeError(w, fault.Unimplemented("pipeline runtime is not configured"))
		return
	}
	snapshot, err := s.deps.Runtime.Status(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runtime == nil {
		writeError(w, fault.Unimplemented("pipeline runtime is not configured"))
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	var since time.Time
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, fault.Validation("since must be RFC3339 timestamp"))
			return
		}
	}
	runID := chi.URLParam(r, "runID")
	logs, err := s.deps.Runtime.Logs(runID, usecase.RunLogOptions{
		Limit: limit,
		Level: q.Get("level"),
		Step:  q.Get("step"),
		Event: q.Get("event"),
		Since: since,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []usecase.RunLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runId": runID, "logs": logs})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runtime == nil {
		writeError(w, fault.Unimplemented("pipeline runtime is not configured"))
		return
	}
	snapshot, acknowledged, err := s.deps.Runtime.Cancel(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": snapshot, "acknowledged": acknowledged})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, fault.Unimplemented("configuration provider is not configured"))
		return
	}
	cfg, err := s.deps.Config.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configBody(cfg))
}

// handlePutConfig replaces the configuration; ?merge=true patches it.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, fault.Unimplemented("configuration provider is not configured"))
		return
	}
	var values map[string]any
	if err := decodeBody(w, r, &values); err != nil {
		writeError(w, err)
		return
	}
	merge, _ := strconv.ParseBool(r.URL.Query().Get("merge"))
	cfg, err := s.deps.Config.Save(r.Context(), values, merge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configBody(cfg))
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, fault.Unimplemented("configuration provider is not configured"))
		return
	}
	if err := s.deps.Config.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func configBody(cfg settings.Configuration) map[string]any {
	values := cfg.Map()
	if values == nil {
		values = map[string]any{}
	}
	keys := cfg.Keys()
	if keys == nil {
		keys = []string{}
	}
	return map[string]any{"config": values, "keys": keys}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fault.Validation("limit must be a non-negative integer")
	}
	return n, nil
}
