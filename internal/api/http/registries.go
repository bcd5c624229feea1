package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentlegible/orchestrator/internal/registry"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// ManifestsHandler handles /v1/manifests routes.
type ManifestsHandler struct {
	registry *registry.ManifestRegistry
}

// NewManifestsHandler creates the manifests handler.
func NewManifestsHandler(r *registry.ManifestRegistry) *ManifestsHandler {
	return &ManifestsHandler{registry: r}
}

// ServeHTTP routes manifest requests:
//
//	PUT /v1/manifests           (upsert, keyed by body name)
//	GET /v1/manifests           (list)
//	GET /v1/manifests/{name}
func (h *ManifestsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/manifests"), "/")

	switch {
	case name == "" && r.Method == http.MethodPut:
		var m types.Manifest
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
		if err := h.registry.Upsert(r.Context(), &m); err != nil {
			writeDomainError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case name == "" && r.Method == http.MethodGet:
		summaries, err := h.registry.List(r.Context())
		if err != nil {
			writeDomainError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"manifests": summaries})
	case name != "" && !strings.Contains(name, "/") && r.Method == http.MethodGet:
		m, err := h.registry.Get(r.Context(), name)
		if err != nil {
			writeDomainError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, m)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

// UpsertSchemaRequest is the body of PUT /v1/schemas.
type UpsertSchemaRequest struct {
	SchemaRef string                 `json:"schema_ref"`
	Version   int64                  `json:"version"`
	Schema    map[string]interface{} `json:"schema"`
}

// SchemasHandler handles /v1/schemas routes.
type SchemasHandler struct {
	registry *registry.SchemaRegistry
}

// NewSchemasHandler creates the schemas handler.
func NewSchemasHandler(r *registry.SchemaRegistry) *SchemasHandler {
	return &SchemasHandler{registry: r}
}

// ServeHTTP routes schema requests:
//
//	PUT /v1/schemas             (upsert, keyed by body schema_ref)
//	GET /v1/schemas             (list)
//	GET /v1/schemas/{ref}
func (h *SchemasHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	ref := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/schemas"), "/")

	switch {
	case ref == "" && r.Method == http.MethodPut:
		var req UpsertSchemaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
		if err := h.registry.Upsert(r.Context(), req.SchemaRef, req.Version, req.Schema); err != nil {
			writeDomainError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case ref == "" && r.Method == http.MethodGet:
		summaries, err := h.registry.List(r.Context())
		if err != nil {
			writeDomainError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"schemas": summaries})
	case ref != "" && !strings.Contains(ref, "/") && r.Method == http.MethodGet:
		schema, err := h.registry.Get(r.Context(), ref)
		if err != nil {
			writeDomainError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, schema)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}
