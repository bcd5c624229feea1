// Package registry provides the manifest and schema registries: keyed,
// read-mostly stores with upsert-replace semantics. Neither registry keeps
// history; re-registering a key fully replaces the prior definition.
package registry

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

// ManifestRegistry stores policy manifests keyed by name.
type ManifestRegistry struct {
	store *store.Store
}

// NewManifestRegistry creates a manifest registry over the given store.
func NewManifestRegistry(s *store.Store) *ManifestRegistry {
	return &ManifestRegistry{store: s}
}

// Upsert registers or replaces a manifest. The manifest must be
// structurally sound: a name, a version >= 1, and a transition graph whose
// endpoints are all declared in allowed_states.
func (r *ManifestRegistry) Upsert(ctx context.Context, m *types.Manifest) error {
	if err := validateManifest(m); err != nil {
		return err
	}

	body, err := json.Marshal(m)
	if err != nil {
		return oerrors.NewInternal("registry: failed to encode manifest", err)
	}

	_, err = r.store.Writer().ExecContext(ctx,
		`INSERT INTO manifests (name, version, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version = excluded.version,
		 body = excluded.body, updated_at = excluded.updated_at`,
		m.Name, m.Version, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registry: failed to upsert manifest %s: %w", m.Name, err)
	}
	return nil
}

// Get returns the manifest registered under name.
func (r *ManifestRegistry) Get(ctx context.Context, name string) (*types.Manifest, error) {
	var body string
	err := r.store.Reader().QueryRowContext(ctx,
		"SELECT body FROM manifests WHERE name = ?", name).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, oerrors.NewNotFound(oerrors.CodeManifestNotFound,
			fmt.Sprintf("manifest %q not found", name))
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load manifest %s: %w", name, err)
	}

	var m types.Manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, oerrors.NewInternal("registry: corrupt manifest body", err)
	}
	return &m, nil
}

// List returns summaries of all registered manifests, ordered by name.
func (r *ManifestRegistry) List(ctx context.Context) ([]types.ManifestSummary, error) {
	rows, err := r.store.Reader().QueryContext(ctx,
		"SELECT name, version, updated_at FROM manifests ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list manifests: %w", err)
	}
	defer rows.Close()

	summaries := []types.ManifestSummary{}
	for rows.Next() {
		var s types.ManifestSummary
		if err := rows.Scan(&s.Name, &s.Version, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("registry: failed to scan manifest row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func validateManifest(m *types.Manifest) error {
	if m == nil || m.Name == "" {
		return oerrors.NewMalformed("manifest name is required")
	}
	if m.Version < 1 {
		return oerrors.NewMalformed("manifest version must be >= 1")
	}
	if len(m.AllowedStates) == 0 {
		return oerrors.NewMalformed("manifest must declare at least one allowed state")
	}
	for from, tos := range m.Transitions {
		if !m.StateAllowed(from) {
			return oerrors.NewMalformed(
				fmt.Sprintf("transition source %q is not an allowed state", from))
		}
		for _, to := range tos {
			if !m.StateAllowed(to) {
				return oerrors.NewMalformed(
					fmt.Sprintf("transition target %q is not an allowed state", to))
			}
		}
	}
	for _, t := range m.PublishTargets {
		if t.State == "" || t.Prefix == "" {
			return oerrors.NewMalformed("publish target requires state and prefix")
		}
		if !m.StateAllowed(t.State) {
			return oerrors.NewMalformed(
				fmt.Sprintf("publish target state %q is not an allowed state", t.State))
		}
	}
	return nil
}
