package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	oerrors "github.com/agentlegible/orchestrator/internal/errors"
	"github.com/agentlegible/orchestrator/internal/store"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// Lineage is the append-only audit ledger. Events are written once and
// never updated or deleted; no such operation exists on this type. Event
// IDs are ULIDs, so ordering by (timestamp, event_id) is total and
// deterministic even when timestamps collide.
type Lineage struct {
	store *store.Store
	ulid  *types.ULIDGenerator
}

// NewLineage creates the lineage ledger over the given store.
func NewLineage(s *store.Store) *Lineage {
	return &Lineage{store: s, ulid: types.NewULIDGenerator()}
}

// newEvent assembles an event record with a fresh ULID and timestamp.
func (l *Lineage) newEvent(artifactID string, eventType types.EventType, actor types.Actor, metadata map[string]interface{}) (types.LineageEvent, error) {
	id, err := l.ulid.Generate()
	if err != nil {
		return types.LineageEvent{}, oerrors.NewInternal("lineage: failed to generate event id", err)
	}
	return types.LineageEvent{
		EventID:    id.String(),
		ArtifactID: artifactID,
		EventType:  eventType,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}, nil
}

// AppendTx writes one event inside the caller's transaction, making the
// audit record durable if and only if the state mutation commits.
func (l *Lineage) AppendTx(ctx context.Context, tx *sql.Tx, artifactID string, eventType types.EventType, actor types.Actor, metadata map[string]interface{}) (types.LineageEvent, error) {
	event, err := l.newEvent(artifactID, eventType, actor, metadata)
	if err != nil {
		return types.LineageEvent{}, err
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return types.LineageEvent{}, err
	}
	return event, nil
}

// Append writes one event in its own transaction. Used for audit records
// that accompany no state mutation, such as validation outcomes.
func (l *Lineage) Append(ctx context.Context, artifactID string, eventType types.EventType, actor types.Actor, metadata map[string]interface{}) (types.LineageEvent, error) {
	event, err := l.newEvent(artifactID, eventType, actor, metadata)
	if err != nil {
		return types.LineageEvent{}, err
	}
	if err := insertEvent(ctx, l.store.Writer(), event); err != nil {
		return types.LineageEvent{}, err
	}
	return event, nil
}

// execer covers *sql.Tx and *sql.DB.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event types.LineageEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return oerrors.NewInternal("lineage: failed to encode event metadata", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO artifact_events (event_id, artifact_id, event_type, actor_type, actor_id, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.ArtifactID, string(event.EventType),
		string(event.ActorType), event.ActorID, event.Timestamp, string(metadata))
	if err != nil {
		return fmt.Errorf("lineage: failed to append event: %w", err)
	}
	return nil
}

// List returns all events for an artifact ordered by timestamp ascending
// with event ID as tie-break. Read-only; runs on the read pool.
func (l *Lineage) List(ctx context.Context, artifactID string) ([]types.LineageEvent, error) {
	rows, err := l.store.Reader().QueryContext(ctx,
		`SELECT event_id, artifact_id, event_type, actor_type, actor_id, timestamp, metadata
		 FROM artifact_events WHERE artifact_id = ?
		 ORDER BY timestamp ASC, event_id ASC`,
		artifactID)
	if err != nil {
		return nil, fmt.Errorf("lineage: failed to list events: %w", err)
	}
	defer rows.Close()

	events := []types.LineageEvent{}
	for rows.Next() {
		var (
			e         types.LineageEvent
			eventType string
			actorType string
			metadata  string
		)
		if err := rows.Scan(&e.EventID, &e.ArtifactID, &eventType, &actorType,
			&e.ActorID, &e.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("lineage: failed to scan event: %w", err)
		}
		e.EventType = types.EventType(eventType)
		e.ActorType = types.ActorType(actorType)
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, oerrors.NewInternal("lineage: corrupt event metadata", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
