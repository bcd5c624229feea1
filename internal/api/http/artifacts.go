package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentlegible/orchestrator/internal/lifecycle"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// CreateArtifactRequest is the body of POST /v1/artifacts.
type CreateArtifactRequest struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SchemaRef string                 `json:"schema_ref"`
	State     string                 `json:"state"`
	Data      map[string]interface{} `json:"data"`
	BlobRef   string                 `json:"blob_ref,omitempty"`
	ActorType string                 `json:"actor_type,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
}

// UpdateDataRequest is the body of PUT /v1/artifacts/{id}/data.
type UpdateDataRequest struct {
	Data      map[string]interface{} `json:"data"`
	ActorType string                 `json:"actor_type,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
}

// TransitionRequest is the body of POST /v1/artifacts/{id}/transition.
type TransitionRequest struct {
	Manifest  string `json:"manifest"`
	ToState   string `json:"to_state"`
	ActorType string `json:"actor_type,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}

// RollbackRequest is the body of POST /v1/artifacts/{id}/rollback.
type RollbackRequest struct {
	TargetVersion int64  `json:"target_version"`
	ActorType     string `json:"actor_type,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
}

// ArtifactsHandler handles all /v1/artifacts routes.
type ArtifactsHandler struct {
	engine *lifecycle.Engine
}

// NewArtifactsHandler creates the artifacts handler.
func NewArtifactsHandler(engine *lifecycle.Engine) *ArtifactsHandler {
	return &ArtifactsHandler{engine: engine}
}

// ServeHTTP routes artifact requests:
//
//	POST /v1/artifacts
//	GET  /v1/artifacts/{id}
//	PUT  /v1/artifacts/{id}/data
//	POST /v1/artifacts/{id}/validate
//	POST /v1/artifacts/{id}/transition
//	POST /v1/artifacts/{id}/rollback
//	GET  /v1/artifacts/{id}/versions
//	GET  /v1/artifacts/{id}/versions/{n}
//	GET  /v1/artifacts/{id}/events
func (h *ArtifactsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/artifacts"), "/")
	parts := []string{}
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch {
	case len(parts) == 0:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.create(w, r, requestID)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.get(w, r, parts[0], requestID)
	case len(parts) == 2:
		h.subresource(w, r, parts[0], parts[1], requestID)
	case len(parts) == 3 && parts[1] == "versions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.getVersion(w, r, parts[0], parts[2], requestID)
	default:
		writeError(w, http.StatusNotFound, "not found", requestID)
	}
}

func (h *ArtifactsHandler) subresource(w http.ResponseWriter, r *http.Request, id, action, requestID string) {
	switch action {
	case "data":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.updateData(w, r, id, requestID)
	case "validate":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.validate(w, r, id, requestID)
	case "transition":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.transition(w, r, id, requestID)
	case "rollback":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.rollback(w, r, id, requestID)
	case "versions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.listVersions(w, r, id, requestID)
	case "events":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
			return
		}
		h.listEvents(w, r, id, requestID)
	default:
		writeError(w, http.StatusNotFound, "not found", requestID)
	}
}

func (h *ArtifactsHandler) create(w http.ResponseWriter, r *http.Request, requestID string) {
	var req CreateArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	artifact, err := h.engine.Create(r.Context(), lifecycle.CreateRequest{
		ID:        req.ID,
		Type:      req.Type,
		SchemaRef: req.SchemaRef,
		State:     req.State,
		Data:      req.Data,
		BlobRef:   req.BlobRef,
		Actor:     actorFrom(req.ActorType, req.ActorID),
	})
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (h *ArtifactsHandler) get(w http.ResponseWriter, r *http.Request, id, requestID string) {
	artifact, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (h *ArtifactsHandler) updateData(w http.ResponseWriter, r *http.Request, id, requestID string) {
	var req UpdateDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	artifact, err := h.engine.UpdateData(r.Context(), id, req.Data, actorFrom(req.ActorType, req.ActorID))
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (h *ArtifactsHandler) validate(w http.ResponseWriter, r *http.Request, id, requestID string) {
	result, err := h.engine.Validate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ArtifactsHandler) transition(w http.ResponseWriter, r *http.Request, id, requestID string) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	artifact, err := h.engine.Transition(r.Context(), id, req.Manifest, req.ToState,
		actorFrom(req.ActorType, req.ActorID))
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (h *ArtifactsHandler) rollback(w http.ResponseWriter, r *http.Request, id, requestID string) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	artifact, err := h.engine.Rollback(r.Context(), id, req.TargetVersion,
		actorFrom(req.ActorType, req.ActorID))
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (h *ArtifactsHandler) listVersions(w http.ResponseWriter, r *http.Request, id, requestID string) {
	snaps, err := h.engine.ListVersions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifact_id": id,
		"versions":    snaps,
	})
}

func (h *ArtifactsHandler) getVersion(w http.ResponseWriter, r *http.Request, id, rawVersion, requestID string) {
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid version %q", rawVersion), requestID)
		return
	}

	snap, err := h.engine.GetVersion(r.Context(), id, version)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ArtifactsHandler) listEvents(w http.ResponseWriter, r *http.Request, id, requestID string) {
	events, err := h.engine.ListEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifact_id": id,
		"events":      events,
	})
}

// actorFrom builds the acting principal from optional request fields. Both
// empty means the caller stayed anonymous; the engine substitutes the
// default principal.
func actorFrom(actorType, actorID string) types.Actor {
	if actorType == "" && actorID == "" {
		return types.Actor{}
	}
	if actorType == "" {
		actorType = string(types.ActorHuman)
	}
	if actorID == "" {
		actorID = "unknown"
	}
	return types.Actor{Type: types.ActorType(actorType), ID: actorID}
}
