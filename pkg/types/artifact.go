// Package types provides the shared domain types for the orchestrator.
package types

import "time"

// ActorType identifies the kind of principal performing a lifecycle operation.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// Actor identifies who performed a lifecycle operation.
type Actor struct {
	Type ActorType `json:"actor_type"`
	ID   string    `json:"actor_id"`
}

// DefaultActor is used when a caller does not identify itself.
func DefaultActor() Actor {
	return Actor{Type: ActorHuman, ID: "unknown"}
}

// SystemActor is the principal recorded for engine-initiated writes,
// such as validation audit events.
func SystemActor(id string) Actor {
	return Actor{Type: ActorSystem, ID: id}
}

// Valid reports whether the actor type is one of the known kinds.
func (a Actor) Valid() bool {
	switch a.Type {
	case ActorHuman, ActorAgent, ActorSystem:
		return a.ID != ""
	}
	return false
}

// Artifact is the mutable head record of a governed, versioned entity.
// Exactly one live row exists per ID; it is only ever mutated by the
// lifecycle engine.
type Artifact struct {
	// ID is the caller-supplied unique identifier. Immutable.
	ID string `json:"id"`

	// Type is the artifact type label, governed by manifests.
	Type string `json:"type"`

	// SchemaRef names the schema the artifact's data is validated against.
	SchemaRef string `json:"schema_ref"`

	// State is the current lifecycle state label.
	State string `json:"state"`

	// Version is the current version number (>= 1). Strictly increasing,
	// bumped by exactly one on every successful mutation.
	Version int64 `json:"version"`

	// Data is the artifact's structured document.
	Data map[string]interface{} `json:"data"`

	// BlobRef optionally points at an externally stored payload.
	BlobRef string `json:"blob_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionSnapshot is an immutable copy of an artifact's full state at one
// version number. Snapshots are created once and never edited or deleted;
// for every artifact the set of snapshot versions is {1..Version} with no
// gaps.
type VersionSnapshot struct {
	ArtifactID string                 `json:"artifact_id"`
	Version    int64                  `json:"version"`
	SchemaRef  string                 `json:"schema_ref"`
	State      string                 `json:"state"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
