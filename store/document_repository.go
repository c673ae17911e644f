package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kbrag/engine/errorsx"
)

// CreateDocument inserts a pending document. A duplicate content_hash
// within the same live (non-deleted) KB surfaces as Conflict (§3).
func (s *Store) CreateDocument(ctx context.Context, doc *Document) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (knowledge_base_id, filename, content, content_hash, file_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, overall_status, embeddings_status, bm25_status, created_at, updated_at`,
		doc.KnowledgeBaseID, doc.Filename, doc.Content, doc.ContentHash, doc.FileType)

	if err := row.Scan(&doc.ID, &doc.OverallStatus, &doc.EmbeddingsStatus, &doc.BM25Status,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, errorsx.New(errorsx.Conflict, "store: document with this content already exists in knowledge base")
		}
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: create document")
	}
	return doc, nil
}

// GetDocument fetches one document, live or soft-deleted, by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx, documentSelectColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// ListDocuments returns the live (non-deleted) documents of a KB.
func (s *Store) ListDocuments(ctx context.Context, kbID string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		documentSelectColumns+` FROM documents WHERE knowledge_base_id = $1 AND deleted_at IS NULL ORDER BY created_at`,
		kbID)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: list documents")
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

const documentSelectColumns = `
	SELECT id, knowledge_base_id, filename, content, content_hash, file_type,
		overall_status, embeddings_status, bm25_status, chunk_count, progress_percent,
		stage, error_message, deleted_at, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.Filename, &doc.Content, &doc.ContentHash,
		&doc.FileType, &doc.OverallStatus, &doc.EmbeddingsStatus, &doc.BM25Status, &doc.ChunkCount,
		&doc.ProgressPercent, &doc.Stage, &doc.ErrorMessage, &doc.DeletedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errorsx.New(errorsx.NotFound, "store: document not found")
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: scan document")
	}
	return &doc, nil
}

// UpdateProgress records ingestion progress without touching status.
func (s *Store) UpdateProgress(ctx context.Context, docID string, percent int, stage string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET progress_percent = $1, stage = $2, updated_at = now() WHERE id = $3`,
		percent, stage, docID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: update progress")
	}
	return nil
}

// UpdateSubStatus sets one of the two independent sub-statuses (embeddings
// or bm25) and recomputes overall_status from the lattice (§3). which must
// be "embeddings" or "bm25".
func (s *Store) UpdateSubStatus(ctx context.Context, docID, which string, status Status, errMsg string) error {
	var col string
	switch which {
	case "embeddings":
		col = "embeddings_status"
	case "bm25":
		col = "bm25_status"
	default:
		return errorsx.Newf(errorsx.InvalidConfig, "store: unknown sub-status column %q", which)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET `+col+` = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		status, errMsg, docID); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: update sub-status")
	}

	var embeddings, bm25 Status
	if err := tx.QueryRow(ctx, `SELECT embeddings_status, bm25_status FROM documents WHERE id = $1`, docID).
		Scan(&embeddings, &bm25); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: reread sub-status")
	}

	overall := OverallStatus(embeddings, bm25)
	if _, err := tx.Exec(ctx, `UPDATE documents SET overall_status = $1, updated_at = now() WHERE id = $2`,
		overall, docID); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: update overall status")
	}

	if err := tx.Commit(ctx); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: commit sub-status update")
	}
	return nil
}

// SetChunkCount records the chunk count produced for a document.
func (s *Store) SetChunkCount(ctx context.Context, docID string, count int) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET chunk_count = $1, updated_at = now() WHERE id = $2`,
		count, docID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: set chunk count")
	}
	return nil
}

// SoftDeleteDocument marks a document deleted without removing the row,
// freeing its content_hash for reuse within the KB (§3 supplemented
// soft-delete/restore feature).
func (s *Store) SoftDeleteDocument(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		docID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: soft delete document")
	}
	return nil
}

// RestoreDocument clears a document's deleted_at, rejecting the restore
// with Conflict if its content_hash now collides with a live document.
func (s *Store) RestoreDocument(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET deleted_at = NULL, updated_at = now() WHERE id = $1 AND deleted_at IS NOT NULL`,
		docID)
	if err != nil {
		if isUniqueViolation(err) {
			return errorsx.New(errorsx.Conflict, "store: restoring document collides with a live duplicate")
		}
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: restore document")
	}
	return nil
}

// PurgeDocument permanently removes a soft-deleted document row.
func (s *Store) PurgeDocument(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND deleted_at IS NOT NULL`, docID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: purge document")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
