package types

import "time"

// EventType categorizes a lineage event.
type EventType string

const (
	EventCreated      EventType = "artifact.created"
	EventUpdated      EventType = "artifact.updated"
	EventValidated    EventType = "artifact.validated"
	EventTransitioned EventType = "artifact.transitioned"
	EventRolledBack   EventType = "artifact.rolled_back"
)

// LineageEvent is one immutable audit record of a lifecycle action.
// Events are append-only: no update or delete operation exists anywhere in
// the system. For a given artifact, listings order events by timestamp
// ascending with EventID (a ULID, lexicographically time-ordered) breaking
// ties, yielding a total deterministic order.
type LineageEvent struct {
	EventID    string                 `json:"event_id"`
	ArtifactID string                 `json:"artifact_id"`
	EventType  EventType              `json:"event_type"`
	ActorType  ActorType              `json:"actor_type"`
	ActorID    string                 `json:"actor_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationIssue is a single structural validation error, ordered
// deterministically by instance path.
type ValidationIssue struct {
	Message    string `json:"message"`
	Path       string `json:"path"`
	SchemaPath string `json:"schema_path"`
}

// ValidationResult is the outcome of validating an artifact's data against
// its registered schema. ok=false is a recorded result, not an error.
type ValidationResult struct {
	OK        bool              `json:"ok"`
	SchemaRef string            `json:"schema_ref"`
	Version   int64             `json:"version"`
	Errors    []ValidationIssue `json:"errors"`
}
