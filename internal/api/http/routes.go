package http

import (
	"net/http"

	"github.com/agentlegible/orchestrator/internal/lifecycle"
	"github.com/agentlegible/orchestrator/internal/observability"
	"github.com/agentlegible/orchestrator/internal/registry"
)

// NewMux assembles the full API surface with the default middleware chain.
// ready may be nil; the health endpoint then always reports ok.
func NewMux(
	engine *lifecycle.Engine,
	manifests *registry.ManifestRegistry,
	schemas *registry.SchemaRegistry,
	stats *observability.OpStats,
	ready func() bool,
) *http.ServeMux {
	chain := DefaultMiddleware()

	mux := http.NewServeMux()
	artifacts := chain(NewArtifactsHandler(engine))
	mux.Handle("/v1/artifacts", artifacts)
	mux.Handle("/v1/artifacts/", artifacts)

	manifestsHandler := chain(NewManifestsHandler(manifests))
	mux.Handle("/v1/manifests", manifestsHandler)
	mux.Handle("/v1/manifests/", manifestsHandler)

	schemasHandler := chain(NewSchemasHandler(schemas))
	mux.Handle("/v1/schemas", schemasHandler)
	mux.Handle("/v1/schemas/", schemasHandler)

	mux.Handle("/v1/stats", chain(NewStatsHandler(stats)))
	mux.Handle("/v1/healthz", chain(NewHealthHandler(ready)))
	return mux
}
