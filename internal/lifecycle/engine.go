// Package lifecycle implements the orchestrator's core engine: governed,
// versioned artifact mutations with an immutable version history and an
// append-only lineage ledger.
//
// Concurrency discipline: every mutation is optimistic. The head row is
// updated with a compare-and-swap on the version the caller observed; zero
// affected rows aborts the transaction with a retryable conflict. The
// version snapshot and the lineage event are written in the same
// transaction as the head update, so a committed mutation always leaves
// exactly one new snapshot and one new event behind.
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	oerrors "github.com/agentlegible/orchestrator/internal/errors"
	"github.com/agentlegible/orchestrator/internal/policy"
	"github.com/agentlegible/orchestrator/internal/registry"
	"github.com/agentlegible/orchestrator/internal/schemacheck"
	"github.com/agentlegible/orchestrator/internal/store"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// Sink receives committed lifecycle events for asynchronous fan-out.
// Manifest is non-nil only for transition events.
type Sink interface {
	Publish(event types.LineageEvent, artifact *types.Artifact, manifest *types.Manifest)
}

// Recorder collects per-operation latency and failure counts.
type Recorder interface {
	Record(op string, d time.Duration, failed bool)
}

// Config carries the engine's collaborators. Sink and Stats are optional.
type Config struct {
	Store     *store.Store
	Manifests *registry.ManifestRegistry
	Schemas   *registry.SchemaRegistry
	Validator *schemacheck.Validator
	Policy    *policy.Engine
	Sink      Sink
	Stats     Recorder
	Logger    *log.Logger
}

// Engine executes all artifact lifecycle operations.
type Engine struct {
	store     *store.Store
	manifests *registry.ManifestRegistry
	schemas   *registry.SchemaRegistry
	validator *schemacheck.Validator
	policy    *policy.Engine
	lineage   *Lineage
	versions  *Versions
	sink      Sink
	stats     Recorder
	logger    *log.Logger
}

// New creates a lifecycle engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[lifecycle] ", log.LstdFlags)
	}
	return &Engine{
		store:     cfg.Store,
		manifests: cfg.Manifests,
		schemas:   cfg.Schemas,
		validator: cfg.Validator,
		policy:    cfg.Policy,
		lineage:   NewLineage(cfg.Store),
		versions:  NewVersions(cfg.Store),
		sink:      cfg.Sink,
		stats:     cfg.Stats,
		logger:    logger,
	}
}

// Lineage exposes the engine's event ledger for read paths.
func (e *Engine) Lineage() *Lineage {
	return e.lineage
}

// Versions exposes the engine's snapshot store for read paths.
func (e *Engine) Versions() *Versions {
	return e.versions
}

// CreateRequest carries the inputs for Create.
type CreateRequest struct {
	ID        string
	Type      string
	SchemaRef string
	State     string
	Data      map[string]interface{}
	BlobRef   string
	Actor     types.Actor
}

// Create registers a new artifact at version 1. The data must validate
// against the referenced schema; creation of structurally invalid artifacts
// is refused outright.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (a *types.Artifact, err error) {
	defer e.observe("create", time.Now(), &err)

	actor, err := normalizeActor(req.Actor)
	if err != nil {
		return nil, err
	}
	if req.ID == "" || req.Type == "" || req.SchemaRef == "" || req.State == "" {
		return nil, oerrors.NewMalformed("artifact id, type, schema_ref and state are required")
	}

	schema, err := e.schemas.Get(ctx, req.SchemaRef)
	if err != nil {
		return nil, err
	}
	issues, err := e.validator.Validate(schema.Document, req.Data)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, oerrors.NewValidationFailed(
			fmt.Sprintf("artifact data fails schema %q", req.SchemaRef), issues)
	}

	now := time.Now().UTC()
	artifact := &types.Artifact{
		ID:        req.ID,
		Type:      req.Type,
		SchemaRef: req.SchemaRef,
		State:     req.State,
		Version:   1,
		Data:      req.Data,
		BlobRef:   req.BlobRef,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var event types.LineageEvent
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		data, err := encodeData(artifact.Data)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO artifacts (id, type, schema_ref, state, version, data, blob_ref, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			artifact.ID, artifact.Type, artifact.SchemaRef, artifact.State,
			artifact.Version, data, artifact.BlobRef, artifact.CreatedAt, artifact.UpdatedAt)
		if isConstraintErr(err) {
			return oerrors.NewConflict(oerrors.CodeDuplicateArtifact,
				fmt.Sprintf("artifact %q already exists", artifact.ID))
		}
		if err != nil {
			return fmt.Errorf("lifecycle: failed to insert artifact: %w", err)
		}
		if err := e.versions.SnapshotTx(ctx, tx, snapshotOf(artifact, now)); err != nil {
			return err
		}
		event, err = e.lineage.AppendTx(ctx, tx, artifact.ID, types.EventCreated, actor,
			map[string]interface{}{
				"schema_ref": artifact.SchemaRef,
				"state":      artifact.State,
				"version":    artifact.Version,
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("created artifact %s (type=%s state=%s)", artifact.ID, artifact.Type, artifact.State)
	e.notify(event, artifact, nil)
	return artifact, nil
}

// Get returns the current head of an artifact.
func (e *Engine) Get(ctx context.Context, id string) (*types.Artifact, error) {
	return readArtifact(ctx, e.store.Reader(), id)
}

// UpdateData replaces the artifact's data document and bumps the version.
// The new data is persisted even if it no longer validates against the
// artifact's schema; validity is enforced at transition time, not here.
func (e *Engine) UpdateData(ctx context.Context, id string, data map[string]interface{}, reqActor types.Actor) (a *types.Artifact, err error) {
	defer e.observe("update", time.Now(), &err)

	actor, err := normalizeActor(reqActor)
	if err != nil {
		return nil, err
	}
	artifact, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newVersion := artifact.Version + 1

	var event types.LineageEvent
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		encoded, err := encodeData(data)
		if err != nil {
			return err
		}
		if err := casUpdate(ctx, tx, artifact.ID, artifact.Version,
			`UPDATE artifacts SET data = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
			encoded, newVersion, now, artifact.ID, artifact.Version); err != nil {
			return err
		}
		artifact.Data = data
		artifact.Version = newVersion
		artifact.UpdatedAt = now
		if err := e.versions.SnapshotTx(ctx, tx, snapshotOf(artifact, now)); err != nil {
			return err
		}
		event, err = e.lineage.AppendTx(ctx, tx, artifact.ID, types.EventUpdated, actor,
			map[string]interface{}{"version": newVersion})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.notify(event, artifact, nil)
	return artifact, nil
}

// Validate checks the artifact's current data against its registered schema
// and records the outcome as a lineage event. A failed validation is a
// result, not an error: the artifact is untouched and its version does not
// move.
func (e *Engine) Validate(ctx context.Context, id string) (r *types.ValidationResult, err error) {
	defer e.observe("validate", time.Now(), &err)

	artifact, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	schema, err := e.schemas.Get(ctx, artifact.SchemaRef)
	if err != nil {
		return nil, err
	}
	issues, err := e.validator.Validate(schema.Document, artifact.Data)
	if err != nil {
		return nil, err
	}

	result := &types.ValidationResult{
		OK:        len(issues) == 0,
		SchemaRef: artifact.SchemaRef,
		Version:   artifact.Version,
		Errors:    issues,
	}

	metadata := map[string]interface{}{
		"ok":         result.OK,
		"schema_ref": result.SchemaRef,
		"version":    result.Version,
	}
	if len(issues) > 0 {
		metadata["errors"] = issues
	}
	event, err := e.lineage.Append(ctx, artifact.ID, types.EventValidated,
		types.SystemActor("validator"), metadata)
	if err != nil {
		return nil, err
	}

	e.notify(event, artifact, nil)
	return result, nil
}

// Transition moves the artifact to a new lifecycle state under the named
// manifest. The manifest must govern the artifact's type, the actor must be
// permitted, the transition must be admitted by the policy engine, and the
// artifact's current data must validate against its schema.
func (e *Engine) Transition(ctx context.Context, id, manifestName, toState string, reqActor types.Actor) (a *types.Artifact, err error) {
	defer e.observe("transition", time.Now(), &err)

	actor, err := normalizeActor(reqActor)
	if err != nil {
		return nil, err
	}
	if manifestName == "" || toState == "" {
		return nil, oerrors.NewMalformed("manifest name and target state are required")
	}

	artifact, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	manifest, err := e.manifests.Get(ctx, manifestName)
	if err != nil {
		return nil, err
	}
	if !manifest.Governs(artifact.Type) {
		return nil, oerrors.NewPolicyViolation(oerrors.CodeTypeNotGoverned,
			fmt.Sprintf("manifest %q does not govern artifact type %q", manifest.Name, artifact.Type))
	}
	if err := policy.CheckActor(manifest, actor, "transition"); err != nil {
		return nil, err
	}
	if err := e.policy.CheckTransition(manifest, artifact.State, toState); err != nil {
		return nil, err
	}

	// Transitions demand a structurally valid document, even though
	// intermediate updates may have left it invalid.
	schema, err := e.schemas.Get(ctx, artifact.SchemaRef)
	if err != nil {
		return nil, err
	}
	issues, err := e.validator.Validate(schema.Document, artifact.Data)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, oerrors.NewValidationFailed(
			fmt.Sprintf("artifact %q fails schema %q; transition refused", id, artifact.SchemaRef), issues)
	}

	fromState := artifact.State
	now := time.Now().UTC()
	newVersion := artifact.Version + 1

	var event types.LineageEvent
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := casUpdate(ctx, tx, artifact.ID, artifact.Version,
			`UPDATE artifacts SET state = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
			toState, newVersion, now, artifact.ID, artifact.Version); err != nil {
			return err
		}
		artifact.State = toState
		artifact.Version = newVersion
		artifact.UpdatedAt = now
		if err := e.versions.SnapshotTx(ctx, tx, snapshotOf(artifact, now)); err != nil {
			return err
		}
		var err error
		event, err = e.lineage.AppendTx(ctx, tx, artifact.ID, types.EventTransitioned, actor,
			map[string]interface{}{
				"from":     fromState,
				"to":       toState,
				"manifest": manifest.Name,
				"version":  newVersion,
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("transitioned artifact %s: %s -> %s (manifest=%s v%d)",
		artifact.ID, fromState, toState, manifest.Name, newVersion)
	e.notify(event, artifact, manifest)
	return artifact, nil
}

// Rollback restores the artifact's schema ref, state and data from an
// earlier snapshot by writing them forward as a new version. History is
// never rewound: the target snapshot stays where it is and the head gains
// one more version carrying the restored content.
func (e *Engine) Rollback(ctx context.Context, id string, targetVersion int64, reqActor types.Actor) (a *types.Artifact, err error) {
	defer e.observe("rollback", time.Now(), &err)

	actor, err := normalizeActor(reqActor)
	if err != nil {
		return nil, err
	}
	if targetVersion < 1 {
		return nil, oerrors.NewMalformed("target version must be >= 1")
	}

	artifact, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := e.versions.Get(ctx, id, targetVersion)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newVersion := artifact.Version + 1

	var event types.LineageEvent
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		encoded, err := encodeData(snap.Data)
		if err != nil {
			return err
		}
		if err := casUpdate(ctx, tx, artifact.ID, artifact.Version,
			`UPDATE artifacts SET schema_ref = ?, state = ?, data = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
			snap.SchemaRef, snap.State, encoded, newVersion, now, artifact.ID, artifact.Version); err != nil {
			return err
		}
		artifact.SchemaRef = snap.SchemaRef
		artifact.State = snap.State
		artifact.Data = snap.Data
		artifact.Version = newVersion
		artifact.UpdatedAt = now
		if err := e.versions.SnapshotTx(ctx, tx, snapshotOf(artifact, now)); err != nil {
			return err
		}
		event, err = e.lineage.AppendTx(ctx, tx, artifact.ID, types.EventRolledBack, actor,
			map[string]interface{}{
				"target_version": targetVersion,
				"new_version":    newVersion,
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("rolled back artifact %s to v%d content (now v%d)", artifact.ID, targetVersion, newVersion)
	e.notify(event, artifact, nil)
	return artifact, nil
}

// ListVersions returns the artifact's full snapshot history, ascending.
func (e *Engine) ListVersions(ctx context.Context, id string) ([]types.VersionSnapshot, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.versions.List(ctx, id)
}

// GetVersion returns one snapshot of the artifact.
func (e *Engine) GetVersion(ctx context.Context, id string, version int64) (*types.VersionSnapshot, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.versions.Get(ctx, id, version)
}

// ListEvents returns the artifact's lineage, oldest first.
func (e *Engine) ListEvents(ctx context.Context, id string) ([]types.LineageEvent, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.lineage.List(ctx, id)
}

// withTx runs fn inside a transaction on the write connection.
func (e *Engine) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := e.store.Writer().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lifecycle: failed to commit transaction: %w", err)
	}
	return nil
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	if e.stats != nil {
		e.stats.Record(op, time.Since(start), *err != nil)
	}
}

func (e *Engine) notify(event types.LineageEvent, artifact *types.Artifact, manifest *types.Manifest) {
	if e.sink != nil {
		e.sink.Publish(event, artifact, manifest)
	}
}

// casUpdate executes an UPDATE guarded by the version the caller read.
// Zero affected rows means another writer advanced the artifact first.
func casUpdate(ctx context.Context, tx *sql.Tx, id string, expectedVersion int64, query string, args ...interface{}) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to update artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lifecycle: failed to read update result: %w", err)
	}
	if n == 0 {
		return oerrors.NewConflict(oerrors.CodeVersionMismatch,
			fmt.Sprintf("artifact %q moved past version %d; re-read and retry", id, expectedVersion))
	}
	return nil
}

func snapshotOf(a *types.Artifact, at time.Time) types.VersionSnapshot {
	return types.VersionSnapshot{
		ArtifactID: a.ID,
		Version:    a.Version,
		SchemaRef:  a.SchemaRef,
		State:      a.State,
		Data:       a.Data,
		CreatedAt:  at,
	}
}

func encodeData(data map[string]interface{}) (string, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", oerrors.NewInternal("lifecycle: failed to encode artifact data", err)
	}
	return string(encoded), nil
}

func normalizeActor(actor types.Actor) (types.Actor, error) {
	if actor == (types.Actor{}) {
		return types.DefaultActor(), nil
	}
	if !actor.Valid() {
		return types.Actor{}, oerrors.NewMalformed(
			fmt.Sprintf("unknown actor type %q", actor.Type))
	}
	return actor, nil
}

// readArtifact loads the head row for id from db.
func readArtifact(ctx context.Context, db *sql.DB, id string) (*types.Artifact, error) {
	var (
		a    types.Artifact
		data string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, type, schema_ref, state, version, data, blob_ref, created_at, updated_at
		 FROM artifacts WHERE id = ?`, id).
		Scan(&a.ID, &a.Type, &a.SchemaRef, &a.State, &a.Version, &data,
			&a.BlobRef, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, oerrors.NewNotFound(oerrors.CodeArtifactNotFound,
			fmt.Sprintf("artifact %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: failed to load artifact: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
		return nil, oerrors.NewInternal("lifecycle: corrupt artifact data", err)
	}
	return &a, nil
}
