package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	oerrors "github.com/agentlegible/orchestrator/internal/errors"
	"github.com/agentlegible/orchestrator/internal/store"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// Versions is the immutable snapshot store. A snapshot is written exactly
// once per (artifact, version); the primary key rejects rewrites, so an
// attempt to snapshot an existing version surfaces as a conflict instead of
// silently clobbering history.
type Versions struct {
	store *store.Store
}

// NewVersions creates the version store over the given store.
func NewVersions(s *store.Store) *Versions {
	return &Versions{store: s}
}

// SnapshotTx inserts one immutable snapshot inside the caller's transaction.
func (v *Versions) SnapshotTx(ctx context.Context, tx *sql.Tx, snap types.VersionSnapshot) error {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return oerrors.NewInternal("versions: failed to encode snapshot data", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO artifact_versions (artifact_id, version, schema_ref, state, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ArtifactID, snap.Version, snap.SchemaRef, snap.State, string(data), snap.CreatedAt)
	if isConstraintErr(err) {
		return oerrors.NewConflict(oerrors.CodeDuplicateSnapshot,
			fmt.Sprintf("snapshot for artifact %q version %d already exists", snap.ArtifactID, snap.Version))
	}
	if err != nil {
		return fmt.Errorf("versions: failed to write snapshot: %w", err)
	}
	return nil
}

// Get returns one snapshot, or VERSION_NOT_FOUND.
func (v *Versions) Get(ctx context.Context, artifactID string, version int64) (*types.VersionSnapshot, error) {
	var (
		snap types.VersionSnapshot
		data string
	)
	err := v.store.Reader().QueryRowContext(ctx,
		`SELECT artifact_id, version, schema_ref, state, data, created_at
		 FROM artifact_versions WHERE artifact_id = ? AND version = ?`,
		artifactID, version).
		Scan(&snap.ArtifactID, &snap.Version, &snap.SchemaRef, &snap.State, &data, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, oerrors.NewNotFound(oerrors.CodeVersionNotFound,
			fmt.Sprintf("artifact %q has no version %d", artifactID, version))
	}
	if err != nil {
		return nil, fmt.Errorf("versions: failed to load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Data); err != nil {
		return nil, oerrors.NewInternal("versions: corrupt snapshot data", err)
	}
	return &snap, nil
}

// List returns all snapshots for an artifact, ascending by version.
func (v *Versions) List(ctx context.Context, artifactID string) ([]types.VersionSnapshot, error) {
	rows, err := v.store.Reader().QueryContext(ctx,
		`SELECT artifact_id, version, schema_ref, state, data, created_at
		 FROM artifact_versions WHERE artifact_id = ? ORDER BY version ASC`,
		artifactID)
	if err != nil {
		return nil, fmt.Errorf("versions: failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []types.VersionSnapshot{}
	for rows.Next() {
		var (
			snap types.VersionSnapshot
			data string
		)
		if err := rows.Scan(&snap.ArtifactID, &snap.Version, &snap.SchemaRef,
			&snap.State, &data, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("versions: failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &snap.Data); err != nil {
			return nil, oerrors.NewInternal("versions: corrupt snapshot data", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// isConstraintErr reports whether err is a SQLite uniqueness violation.
func isConstraintErr(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
