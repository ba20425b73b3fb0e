// Package server exposes status lists, verification and the trust registry
// over JSON HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/relves/trustkit/pkg/types"
)

// NewServer creates the HTTP handler with every route registered.
//
// Parameters:
//   - opts: Configuration options (WithRevocation, WithPipeline, WithTrust, WithValidator)
func NewServer(opts ...Option) (http.Handler, error) {
	cfg := applyOptions(opts...)

	if cfg.Revocation == nil {
		return nil, errors.New("revocation registry is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("verification pipeline is required")
	}
	if cfg.Trust == nil {
		return nil, errors.New("trust registry is required")
	}

	h := NewHTTPHandler(cfg)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, nil
}

// Register adds the handler's routes to mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /status-lists", h.HandleCreateStatusList)
	mux.HandleFunc("GET /status-lists/{id}", h.HandleGetStatusList)
	mux.HandleFunc("POST /status-lists/{id}/revoke", h.HandleRevoke)
	mux.HandleFunc("POST /status-lists/{id}/suspend", h.HandleSuspend)
	mux.HandleFunc("POST /status-lists/{id}/reinstate", h.HandleReinstate)
	mux.HandleFunc("POST /status-lists/{id}/anchor", h.HandleAnchor)
	mux.HandleFunc("GET /status-lists/{id}/anchor", h.HandleVerifyAnchor)
	mux.HandleFunc("GET /snapshots/{cid}", h.HandleGetSnapshot)

	mux.HandleFunc("POST /verify", h.HandleVerify)

	mux.HandleFunc("GET /trust/anchors", h.HandleListAnchors)
	mux.HandleFunc("POST /trust/anchors", h.HandleAddAnchor)
	mux.HandleFunc("DELETE /trust/anchors/{did}", h.HandleRemoveAnchor)
	mux.HandleFunc("POST /trust/edges", h.HandleAddEdge)
	mux.HandleFunc("GET /trust/path", h.HandleFindPath)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusForbidden
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		resp.Code = vErr.Code
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
