// Package api exposes the trip planner over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/jobs"
)

const maxRequestBodySize = 1 << 20 // 1MB

// minThreadIDLength is the shortest accepted conversation id.
const minThreadIDLength = 5

// ChatService queues turns and reports on them. *jobs.Service implements it.
type ChatService interface {
	Submit(ctx context.Context, conversationID, text string, continuation bool) (string, error)
	Resume(ctx context.Context, conversationID string, input conversation.HumanInput) (string, error)
	Reset(ctx context.Context, conversationID string) error
	Poll(ctx context.Context, jobID string) (jobs.Status, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Chat    ChatService
	Token   string
	Metrics http.Handler // optional; serves /metrics when set
	Ready   func(ctx context.Context) error
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ThreadID       string `json:"thread_id"`
	IsContinuation bool   `json:"is_continuation"`
}

// CustomerInfoRequest is the body of POST /chat/customer-info.
type CustomerInfoRequest struct {
	ThreadID     string                  `json:"thread_id"`
	CustomerInfo conversation.HumanInput `json:"customer_info"`
}

// TaskResponse acknowledges a queued job.
type TaskResponse struct {
	TaskID string `json:"task_id"`
}

// StatusResult carries either the reply or the error of a finished job.
type StatusResult struct {
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// StatusResponse is the body of GET /chat/status/{task_id}.
type StatusResponse struct {
	TaskID        string        `json:"task_id"`
	Status        jobs.State    `json:"status"`
	Result        *StatusResult `json:"result,omitempty"`
	FormToDisplay string        `json:"form_to_display,omitempty"`
}

// NewHandler returns the HTTP API. Chat routes require the bearer token;
// /health and /metrics do not.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/chat", handleChat(deps))
		r.Get("/chat/status/{task_id}", handleStatus(deps))
		r.Post("/chat/customer-info", handleCustomerInfo(deps))
		r.Delete("/chat/thread/{thread_id}", handleReset(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				httpError(w, http.StatusServiceUnavailable, "api_error", "not ready: %v", err)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateThreadID(req.ThreadID); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		id, err := deps.Chat.Submit(r.Context(), req.ThreadID, req.Message, req.IsContinuation)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: id})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Chat.Poll(r.Context(), chi.URLParam(r, "task_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse(st))
	}
}

func statusResponse(st jobs.Status) StatusResponse {
	resp := StatusResponse{TaskID: st.JobID, Status: st.State, FormToDisplay: st.PendingFormKind}
	switch st.State {
	case jobs.StateCompleted:
		resp.Result = &StatusResult{Reply: st.Reply}
	case jobs.StateFailed:
		resp.Result = &StatusResult{Error: st.Error}
	}
	return resp
}

func handleCustomerInfo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CustomerInfoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateThreadID(req.ThreadID); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id, err := deps.Chat.Resume(r.Context(), req.ThreadID, req.CustomerInfo)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: id})
	}
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "thread_id")
		if err := deps.Chat.Reset(r.Context(), threadID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func validateThreadID(id string) error {
	if len(strings.TrimSpace(id)) < minThreadIDLength {
		return fmt.Errorf("thread_id must be at least %d characters", minThreadIDLength)
	}
	return nil
}

// serviceError maps service errors to a status code and error type.
func serviceError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrAwaitingResume):
		return http.StatusConflict, "awaiting_resume"
	case errors.Is(err, conversation.ErrNotSuspended):
		return http.StatusConflict, "not_suspended"
	case errors.Is(err, conversation.ErrBusy):
		return http.StatusConflict, "conversation_busy"
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "api_error"
}

func writeServiceError(w http.ResponseWriter, err error) {
	code, errType := serviceError(err)
	if code == http.StatusInternalServerError {
		slog.Error("chat request failed", "error", err)
	}
	httpError(w, code, errType, "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
