package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/pkg/anchor"
	"github.com/relves/trustkit/pkg/revocation"
	"github.com/relves/trustkit/pkg/statuslist"
	"github.com/relves/trustkit/pkg/trust"
	"github.com/relves/trustkit/pkg/types"
	"github.com/relves/trustkit/pkg/verify"
)

// HTTPHandler handles the JSON endpoints.
type HTTPHandler struct {
	revocation *revocation.Registry
	pipeline   *verify.Pipeline
	trust      *trust.Registry
	validator  RequestValidator
	logger     *slog.Logger
	maxBody    int64
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(cfg *Config) *HTTPHandler {
	return &HTTPHandler{
		revocation: cfg.Revocation,
		pipeline:   cfg.Pipeline,
		trust:      cfg.Trust,
		validator:  cfg.Validator,
		logger:     cfg.Logger,
		maxBody:    cfg.MaxBodyBytes,
	}
}

func (h *HTTPHandler) validate(r *http.Request, action string) error {
	if h.validator == nil {
		return nil
	}
	err := h.validator.ValidateRequest(r.Context(), r, action)
	if err == nil {
		return nil
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return err
	}
	return NewValidationError("VALIDATION_ERROR", err.Error())
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request: %v", types.ErrInvalidInput, err)
	}
	return nil
}

// HandleHealth handles GET /health.
func (h *HTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateStatusListRequest is the body of POST /status-lists.
type CreateStatusListRequest struct {
	Issuer  string              `json:"issuer"`
	Purpose types.StatusPurpose `json:"purpose"`
	Size    uint64              `json:"size,omitempty"`
	ID      string              `json:"id,omitempty"`
}

// StatusListResponse summarizes a status list.
type StatusListResponse struct {
	ID          string              `json:"id"`
	Issuer      string              `json:"issuer"`
	Purpose     types.StatusPurpose `json:"purpose"`
	Size        uint64              `json:"size"`
	SetCount    uint64              `json:"setCount"`
	Version     uint64              `json:"version"`
	CreatedAt   time.Time           `json:"createdAt"`
	EncodedList string              `json:"encodedList,omitempty"`
	Pending     *anchor.Pending     `json:"pending,omitempty"`
}

func summarize(l *statuslist.StatusList) StatusListResponse {
	return StatusListResponse{
		ID:        l.ID(),
		Issuer:    l.Issuer(),
		Purpose:   l.Purpose(),
		Size:      l.Size(),
		SetCount:  l.SetCount(),
		Version:   l.Version(),
		CreatedAt: l.CreatedAt(),
	}
}

// HandleCreateStatusList handles POST /status-lists.
func (h *HTTPHandler) HandleCreateStatusList(w http.ResponseWriter, r *http.Request) {
	if err := h.validate(r, ActionCreateStatusList); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CreateStatusListRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.revocation.CreateStatusList(r.Context(), req.Issuer, req.Purpose, req.Size, req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(list))
}

// HandleGetStatusList handles GET /status-lists/{id}.
func (h *HTTPHandler) HandleGetStatusList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	list, err := h.revocation.Manager().Get(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := summarize(list)
	if resp.EncodedList, err = list.Encode(); err != nil {
		h.writeError(w, r, err)
		return
	}
	pending, err := h.revocation.Pending(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp.Pending = &pending
	writeJSON(w, http.StatusOK, resp)
}

// MutationRequest is the body of the revoke, suspend and reinstate routes.
type MutationRequest struct {
	CredentialID string `json:"credentialId"`
}

// MutationResponse reports whether a mutation changed the list.
type MutationResponse struct {
	Changed bool `json:"changed"`
}

func (h *HTTPHandler) handleMutation(w http.ResponseWriter, r *http.Request, action string, apply func(credentialID, listID string) (bool, error)) {
	if err := h.validate(r, action); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req MutationRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	changed, err := apply(req.CredentialID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Changed: changed})
}

// HandleRevoke handles POST /status-lists/{id}/revoke.
func (h *HTTPHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, ActionRevoke, func(credentialID, listID string) (bool, error) {
		return h.revocation.Revoke(r.Context(), credentialID, listID)
	})
}

// HandleSuspend handles POST /status-lists/{id}/suspend.
func (h *HTTPHandler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, ActionSuspend, func(credentialID, listID string) (bool, error) {
		return h.revocation.Suspend(r.Context(), credentialID, listID)
	})
}

// HandleReinstate handles POST /status-lists/{id}/reinstate.
func (h *HTTPHandler) HandleReinstate(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, ActionReinstate, func(credentialID, listID string) (bool, error) {
		return h.revocation.Reinstate(r.Context(), credentialID, listID)
	})
}

// AnchorResponse describes an anchor receipt.
type AnchorResponse struct {
	ListID     string         `json:"listId"`
	Version    uint64         `json:"version"`
	Digest     string         `json:"digest"`
	Receipt    anchor.Receipt `json:"receipt"`
	AnchoredAt time.Time      `json:"anchoredAt"`
}

func anchorResponse(rec *storage.AnchorRecord) AnchorResponse {
	return AnchorResponse{
		ListID:  rec.ListID,
		Version: rec.Version,
		Digest:  rec.Digest,
		Receipt: anchor.Receipt{
			ChainID:        rec.ChainID,
			TransactionRef: rec.TransactionRef,
			BlockRef:       rec.BlockRef,
		},
		AnchoredAt: rec.AnchoredAt,
	}
}

// HandleAnchor handles POST /status-lists/{id}/anchor.
func (h *HTTPHandler) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	if err := h.validate(r, ActionAnchor); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.revocation.AnchorNow(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, anchorResponse(rec))
}

// AnchorCheckResponse is the response for GET /status-lists/{id}/anchor.
type AnchorCheckResponse struct {
	AnchorResponse
	Verified bool `json:"verified"`
	Archived bool `json:"archived"`
}

// HandleVerifyAnchor handles GET /status-lists/{id}/anchor.
func (h *HTTPHandler) HandleVerifyAnchor(w http.ResponseWriter, r *http.Request) {
	check, err := h.revocation.VerifyAnchor(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AnchorCheckResponse{
		AnchorResponse: anchorResponse(check.Record),
		Verified:       check.Verified,
		Archived:       check.Archived,
	})
}

// HandleGetSnapshot handles GET /snapshots/{cid}.
func (h *HTTPHandler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.revocation.Snapshot(r.Context(), r.PathValue("cid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// HandleVerify handles POST /verify. The body is one credential or a JSON
// array of credentials; the response is a Result or an array of Results in
// the same order.
func (h *HTTPHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			h.writeError(w, r, fmt.Errorf("%w: decode credentials: %v", types.ErrInvalidInput, err))
			return
		}
		batch := make([][]byte, len(raws))
		for i, raw := range raws {
			batch[i] = raw
		}
		results, err := h.pipeline.VerifyBatch(r.Context(), batch)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}

	result, err := h.pipeline.Verify(r.Context(), trimmed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, limit)); err != nil {
		return nil, fmt.Errorf("%w: read request: %v", types.ErrInvalidInput, err)
	}
	return buf.Bytes(), nil
}

// HandleListAnchors handles GET /trust/anchors.
func (h *HTTPHandler) HandleListAnchors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trust.Anchors())
}

// AddAnchorRequest is the body of POST /trust/anchors.
type AddAnchorRequest struct {
	DID               string   `json:"did"`
	AllowedClaimTypes []string `json:"allowedClaimTypes,omitempty"`
	Description       string   `json:"description,omitempty"`
}

// HandleAddAnchor handles POST /trust/anchors.
func (h *HTTPHandler) HandleAddAnchor(w http.ResponseWriter, r *http.Request) {
	if err := h.validate(r, ActionAddAnchor); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AddAnchorRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.trust.AddAnchor(req.DID, req.AllowedClaimTypes, req.Description); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, _ := h.trust.Anchor(req.DID)
	writeJSON(w, http.StatusCreated, a)
}

// HandleRemoveAnchor handles DELETE /trust/anchors/{did}.
func (h *HTTPHandler) HandleRemoveAnchor(w http.ResponseWriter, r *http.Request) {
	if err := h.validate(r, ActionRemoveAnchor); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.trust.RemoveAnchor(r.PathValue("did"))
	w.WriteHeader(http.StatusNoContent)
}

// AddEdgeRequest is the body of POST /trust/edges.
type AddEdgeRequest struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	ClaimTypes []string `json:"claimTypes,omitempty"`
}

// HandleAddEdge handles POST /trust/edges.
func (h *HTTPHandler) HandleAddEdge(w http.ResponseWriter, r *http.Request) {
	if err := h.validate(r, ActionAddEdge); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AddEdgeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.trust.AddEdge(req.From, req.To, req.ClaimTypes...); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trust.Edge{From: req.From, To: req.To, ClaimTypes: req.ClaimTypes})
}

// PathResponse is the response for GET /trust/path.
type PathResponse struct {
	trust.Path
	Score float64 `json:"score"`
}

// HandleFindPath handles GET /trust/path?from=&to=&claimType=&maxHops=.
// Without from, the search starts at the trust anchors.
func (h *HTTPHandler) HandleFindPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := q.Get("to")
	if to == "" {
		h.writeError(w, r, fmt.Errorf("%w: to is required", types.ErrInvalidInput))
		return
	}

	var opts []trust.PathOption
	if ct := q.Get("claimType"); ct != "" {
		opts = append(opts, trust.WithClaimType(ct))
	}
	if s := q.Get("maxHops"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: maxHops: %v", types.ErrInvalidInput, err))
			return
		}
		opts = append(opts, trust.WithMaxHops(n))
	}

	var p trust.Path
	if from := q.Get("from"); from != "" {
		p = h.trust.FindPath(from, to, opts...)
	} else {
		p = h.trust.FindPathFromAnchors(to, opts...)
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: p, Score: h.trust.Score(p)})
}
