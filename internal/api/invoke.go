package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opentalon/tutorflow/internal/audit"
	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/reqid"
	"github.com/opentalon/tutorflow/internal/router"
	"github.com/opentalon/tutorflow/internal/workflow"
)

const maxBodyBytes = 1 << 20

type InvokeRequest struct {
	UserMessage string `json:"user_message" jsonschema:"The learner's free-text request."`
}

type InvokeResponse struct {
	InputMessage  string              `json:"input_message"`
	FinalPayloads []extractor.Payload `json:"final_payloads"`
}

// NewInvokeResponse shapes a workflow result for the wire. The payload list
// is never null.
func NewInvokeResponse(res *workflow.Result) InvokeResponse {
	payloads := res.Payloads
	if payloads == nil {
		payloads = []extractor.Payload{}
	}
	return InvokeResponse{InputMessage: res.InputMessage, FinalPayloads: payloads}
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// ErrEmptyMessage is returned for a blank user_message.
var ErrEmptyMessage = errors.New("user_message is required")

// DecodeInvokeRequest reads and checks an invoke body.
func DecodeInvokeRequest(r io.Reader) (InvokeRequest, error) {
	var req InvokeRequest
	if err := json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(&req); err != nil {
		return req, errors.New("invalid request body: " + err.Error())
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return req, ErrEmptyMessage
	}
	return req, nil
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Orchestrator is running", "version": h.version})
}

// Invoke handles POST /invoke. Only a routing failure is an error response;
// per-tool extraction problems are reported inside final_payloads.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeInvokeRequest(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id := reqid.New()
	w.Header().Set(headerInvocationID, id)
	res, err := h.wf.RunWith(reqid.WithID(r.Context(), id), req.UserMessage)
	if err != nil {
		status := http.StatusInternalServerError
		stage := ""
		if errors.Is(err, router.ErrRouting) {
			status, stage = http.StatusBadGateway, string(workflow.StageRouting)
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Stage: stage})
		return
	}
	writeJSON(w, http.StatusOK, NewInvokeResponse(res))
}

type toolView struct {
	Name        string          `json:"name"`
	Trigger     string          `json:"trigger"`
	Description string          `json:"description,omitempty"`
	ChatHistory bool            `json:"chat_history"`
	Schema      json.RawMessage `json:"schema"`
}

func (h *Handler) Catalog(w http.ResponseWriter, _ *http.Request) {
	tools := h.catalog.Tools()
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		schema, err := h.catalog.Schema(t.Name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		out = append(out, toolView{
			Name:        t.Name,
			Trigger:     t.Trigger,
			Description: t.Description,
			ChatHistory: t.ChatHistory,
			Schema:      schema,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

type invocationView struct {
	ID         string   `json:"id"`
	RequestID  string   `json:"request_id,omitempty"`
	StartedAt  string   `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`
	Outcome    string   `json:"outcome"`
	Tools      []string `json:"tools"`
	Statuses   []string `json:"statuses"`
	Error      string   `json:"error,omitempty"`
}

func viewOf(rec *audit.Record) invocationView {
	return invocationView{
		ID:         rec.ID,
		RequestID:  rec.RequestID,
		StartedAt:  rec.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMS: rec.Duration.Milliseconds(),
		Outcome:    rec.Outcome,
		Tools:      rec.Tools,
		Statuses:   rec.Statuses,
		Error:      rec.Error,
	}
}

func (h *Handler) ListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	recs, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing invocations", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit store unavailable"})
		return
	}
	out := make([]invocationView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": out})
}

func (h *Handler) GetInvocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, audit.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		h.logger.Error("reading invocation", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit store unavailable"})
	default:
		writeJSON(w, http.StatusOK, viewOf(rec))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
