package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step. Version 1 is schemaSQL itself; later
// steps list the statements that move the schema forward.
type migration struct {
	version     int
	description string
	stmts       []string
}

// Entries are append-only: a released version never changes.
var migrations = []migration{
	{version: 1, description: "base schema"},
	{
		version:     2,
		description: "index source spans by document ref",
		stmts:       []string{"CREATE INDEX IF NOT EXISTS idx_spans_ref ON source_spans(document_ref)"},
	},
	{
		version:     3,
		description: "index triples by chunk for span listings",
		stmts:       []string{"CREATE INDEX IF NOT EXISTS idx_triples_chunk ON triples(document_id, chunk_seq)"},
	},
}

const schemaVersionSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate applies every migration newer than the recorded schema version,
// each in its own transaction together with its schema_version row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaVersionSQL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending(current) {
		slog.Info("store: applying migration", "version", m.version, "description", m.description)
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)",
				m.version, m.description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

// pending returns the migrations after version current, in order.
func pending(current int) []migration {
	var out []migration
	for _, m := range migrations {
		if m.version > current {
			out = append(out, m)
		}
	}
	return out
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return current, nil
}
