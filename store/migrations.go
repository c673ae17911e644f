package store

import (
	"context"

	"github.com/kbrag/engine/errorsx"
)

// migrations defines the metadata schema (§3), run in order and guarded
// by IF NOT EXISTS so re-running is idempotent, following the teacher
// pack's RunMigration([]string) convention (vasic-digital-SuperAgent's
// internal/database/db.go).
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,

	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		embedding_model text NOT NULL,
		embedding_dimension int NOT NULL,
		chunk_size int NOT NULL DEFAULT 1000,
		chunk_overlap int NOT NULL DEFAULT 200,
		chunking_strategy text NOT NULL DEFAULT 'fixed_size',
		lexical_match_mode text NOT NULL DEFAULT 'balanced',
		lexical_min_should_match int NOT NULL DEFAULT 50,
		lexical_use_phrase boolean NOT NULL DEFAULT true,
		lexical_analyzer text NOT NULL DEFAULT 'mixed',
		retrieval_settings jsonb NOT NULL DEFAULT '{}'::jsonb,
		collection_name text NOT NULL UNIQUE,
		document_count int NOT NULL DEFAULT 0,
		total_chunks int NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		knowledge_base_id uuid NOT NULL REFERENCES knowledge_bases(id),
		filename text NOT NULL DEFAULT '',
		content text NOT NULL,
		content_hash text NOT NULL,
		file_type text NOT NULL DEFAULT '',
		overall_status text NOT NULL DEFAULT 'pending',
		embeddings_status text NOT NULL DEFAULT 'pending',
		bm25_status text NOT NULL DEFAULT 'pending',
		chunk_count int NOT NULL DEFAULT 0,
		progress_percent int NOT NULL DEFAULT 0,
		stage text NOT NULL DEFAULT '',
		error_message text NOT NULL DEFAULT '',
		deleted_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS documents_kb_content_hash_live_idx
		ON documents (knowledge_base_id, content_hash) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS document_structures (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		document_id uuid NOT NULL UNIQUE REFERENCES documents(id),
		document_type text NOT NULL DEFAULT '',
		approved boolean NOT NULL DEFAULT false,
		sections jsonb NOT NULL DEFAULT '[]'::jsonb,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS app_settings (
		id smallint PRIMARY KEY DEFAULT 1,
		settings jsonb NOT NULL DEFAULT '{}'::jsonb,
		CONSTRAINT app_settings_singleton CHECK (id = 1)
	)`,

	`INSERT INTO app_settings (id, settings) VALUES (1, '{}'::jsonb) ON CONFLICT (id) DO NOTHING`,
}

// Migrate applies every migration in order.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: migration failed")
		}
	}
	return nil
}
