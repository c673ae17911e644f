package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/kbrag/engine/errorsx"
)

// UpsertStructure creates or replaces a document's structure. Callers are
// responsible for validating that every section's [chunk_start, chunk_end]
// falls within [0, chunk_count-1] before calling this (§3).
func (s *Store) UpsertStructure(ctx context.Context, st *DocumentStructure) (*DocumentStructure, error) {
	sections, err := json.Marshal(st.Sections)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.InvalidConfig, "store: marshal sections")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO document_structures (document_id, document_type, approved, sections)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			approved = EXCLUDED.approved,
			sections = EXCLUDED.sections,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		st.DocumentID, st.DocumentType, st.Approved, sections)

	if err := row.Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: upsert document structure")
	}
	return st, nil
}

// GetStructure fetches the structure for a document, if one was extracted.
func (s *Store) GetStructure(ctx context.Context, documentID string) (*DocumentStructure, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, document_id, document_type, approved, sections, created_at, updated_at
		FROM document_structures WHERE document_id = $1`, documentID)
	return scanStructure(row)
}

func scanStructure(row pgx.Row) (*DocumentStructure, error) {
	var st DocumentStructure
	var sections []byte
	err := row.Scan(&st.ID, &st.DocumentID, &st.DocumentType, &st.Approved, &sections,
		&st.CreatedAt, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errorsx.New(errorsx.NotFound, "store: document structure not found")
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: scan document structure")
	}
	if err := json.Unmarshal(sections, &st.Sections); err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: unmarshal sections")
	}
	return &st, nil
}

// ApproveStructure sets a structure's approved flag (§3). The flag is only
// stored; structure.TranslateFilter and retrieval do not check it.
func (s *Store) ApproveStructure(ctx context.Context, documentID string, approved bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE document_structures SET approved = $1, updated_at = now() WHERE document_id = $2`,
		approved, documentID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: approve document structure")
	}
	return nil
}
