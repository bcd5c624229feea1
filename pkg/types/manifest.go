package types

import "time"

// Manifest is a named policy document declaring the legal states, the
// transition graph, and the governed artifact types. Manifests are keyed by
// name with upsert-replace semantics; no manifest history is retained.
type Manifest struct {
	Name          string              `json:"name"`
	Version       int64               `json:"version"`
	ArtifactTypes []string            `json:"artifact_types"`
	AllowedStates []string            `json:"allowed_states"`
	Transitions   map[string][]string `json:"transitions"`

	// Validators are auxiliary policy hooks referencing schemas.
	Validators []ManifestValidator `json:"validators,omitempty"`

	// AgentPermissions maps agent actor IDs to the lifecycle operations
	// they may perform. An empty map leaves agents unrestricted.
	AgentPermissions map[string][]string `json:"agent_permissions,omitempty"`

	// PublishTargets declare export destinations for artifacts entering a
	// designated state.
	PublishTargets []PublishTarget `json:"publish_targets,omitempty"`
}

// ManifestValidator is an auxiliary validation hook declared by a manifest.
type ManifestValidator struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // currently only "jsonschema"
	SchemaRef string `json:"schema_ref,omitempty"`
}

// PublishTarget declares that artifacts transitioning into State should be
// exported under Prefix in object storage.
type PublishTarget struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Prefix string `json:"prefix"`
}

// StateAllowed reports whether the state label is declared by the manifest.
func (m *Manifest) StateAllowed(state string) bool {
	for _, s := range m.AllowedStates {
		if s == state {
			return true
		}
	}
	return false
}

// Governs reports whether the manifest governs the given artifact type.
func (m *Manifest) Governs(artifactType string) bool {
	for _, t := range m.ArtifactTypes {
		if t == artifactType {
			return true
		}
	}
	return false
}

// TargetFor returns the publish target for the given state, if any.
func (m *Manifest) TargetFor(state string) (PublishTarget, bool) {
	for _, t := range m.PublishTargets {
		if t.State == state {
			return t, true
		}
	}
	return PublishTarget{}, false
}

// ManifestSummary is the listing view of a registered manifest.
type ManifestSummary struct {
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schema is a registered JSON Schema document, keyed by SchemaRef with
// upsert-replace semantics.
type Schema struct {
	SchemaRef string                 `json:"schema_ref"`
	Version   int64                  `json:"version"`
	Document  map[string]interface{} `json:"schema"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// SchemaSummary is the listing view of a registered schema.
type SchemaSummary struct {
	SchemaRef string    `json:"schema_ref"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
