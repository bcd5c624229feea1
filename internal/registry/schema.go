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

// SchemaRegistry stores JSON Schema documents keyed by schema ref.
type SchemaRegistry struct {
	store *store.Store
}

// NewSchemaRegistry creates a schema registry over the given store.
func NewSchemaRegistry(s *store.Store) *SchemaRegistry {
	return &SchemaRegistry{store: s}
}

// Upsert registers or replaces a schema document.
func (r *SchemaRegistry) Upsert(ctx context.Context, schemaRef string, version int64, document map[string]interface{}) error {
	if schemaRef == "" {
		return oerrors.NewMalformed("schema_ref is required")
	}
	if version < 1 {
		return oerrors.NewMalformed("schema version must be >= 1")
	}
	if document == nil {
		return oerrors.NewMalformed("schema document is required")
	}

	doc, err := json.Marshal(document)
	if err != nil {
		return oerrors.NewInternal("registry: failed to encode schema", err)
	}

	_, err = r.store.Writer().ExecContext(ctx,
		`INSERT INTO schemas (schema_ref, version, document, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(schema_ref) DO UPDATE SET version = excluded.version,
		 document = excluded.document, updated_at = excluded.updated_at`,
		schemaRef, version, string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registry: failed to upsert schema %s: %w", schemaRef, err)
	}
	return nil
}

// Get returns the schema registered under schemaRef.
func (r *SchemaRegistry) Get(ctx context.Context, schemaRef string) (*types.Schema, error) {
	var (
		doc       string
		version   int64
		updatedAt time.Time
	)
	err := r.store.Reader().QueryRowContext(ctx,
		"SELECT version, document, updated_at FROM schemas WHERE schema_ref = ?",
		schemaRef).Scan(&version, &doc, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, oerrors.NewNotFound(oerrors.CodeSchemaNotFound,
			fmt.Sprintf("schema %q not found", schemaRef))
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load schema %s: %w", schemaRef, err)
	}

	var document map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &document); err != nil {
		return nil, oerrors.NewInternal("registry: corrupt schema document", err)
	}
	return &types.Schema{
		SchemaRef: schemaRef,
		Version:   version,
		Document:  document,
		UpdatedAt: updatedAt,
	}, nil
}

// List returns summaries of all registered schemas, ordered by ref.
func (r *SchemaRegistry) List(ctx context.Context) ([]types.SchemaSummary, error) {
	rows, err := r.store.Reader().QueryContext(ctx,
		"SELECT schema_ref, version, updated_at FROM schemas ORDER BY schema_ref")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list schemas: %w", err)
	}
	defer rows.Close()

	summaries := []types.SchemaSummary{}
	for rows.Next() {
		var s types.SchemaSummary
		if err := rows.Scan(&s.SchemaRef, &s.Version, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("registry: failed to scan schema row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
