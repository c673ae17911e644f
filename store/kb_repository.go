package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kbrag/engine/errorsx"
)

// CollectionName derives the deterministic Milvus collection name for a
// KB id: "kb_" plus the id's hex digits with hyphens stripped (§3).
func CollectionName(kbID string) string {
	return "kb_" + strings.ReplaceAll(kbID, "-", "")
}

// CreateKnowledgeBase inserts a new KB. The embedding dimension is
// immutable after this call (§3).
func (s *Store) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) (*KnowledgeBase, error) {
	if kb.RetrievalSettings == nil {
		kb.RetrievalSettings = json.RawMessage("{}")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO knowledge_bases
			(name, embedding_model, embedding_dimension, chunk_size, chunk_overlap,
			 chunking_strategy, lexical_match_mode, lexical_min_should_match,
			 lexical_use_phrase, lexical_analyzer, retrieval_settings, collection_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '')
		RETURNING id, created_at, updated_at`,
		kb.Name, kb.EmbeddingModel, kb.EmbeddingDimension, kb.ChunkSize, kb.ChunkOverlap,
		kb.ChunkingStrategy, kb.LexicalMatchMode, kb.LexicalMinShouldMatch,
		kb.LexicalUsePhrase, kb.LexicalAnalyzer, kb.RetrievalSettings)

	if err := row.Scan(&kb.ID, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: create knowledge_base")
	}

	kb.CollectionName = CollectionName(kb.ID)
	if _, err := s.pool.Exec(ctx, `UPDATE knowledge_bases SET collection_name = $1 WHERE id = $2`,
		kb.CollectionName, kb.ID); err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: set collection_name")
	}
	return kb, nil
}

// GetKnowledgeBase fetches one KB by id.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, embedding_model, embedding_dimension, chunk_size, chunk_overlap,
			chunking_strategy, lexical_match_mode, lexical_min_should_match,
			lexical_use_phrase, lexical_analyzer, retrieval_settings, collection_name,
			document_count, total_chunks, created_at, updated_at
		FROM knowledge_bases WHERE id = $1`, id)
	return scanKnowledgeBase(row)
}

func scanKnowledgeBase(row pgx.Row) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := row.Scan(&kb.ID, &kb.Name, &kb.EmbeddingModel, &kb.EmbeddingDimension, &kb.ChunkSize,
		&kb.ChunkOverlap, &kb.ChunkingStrategy, &kb.LexicalMatchMode, &kb.LexicalMinShouldMatch,
		&kb.LexicalUsePhrase, &kb.LexicalAnalyzer, &kb.RetrievalSettings, &kb.CollectionName,
		&kb.DocumentCount, &kb.TotalChunks, &kb.CreatedAt, &kb.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errorsx.New(errorsx.NotFound, "store: knowledge_base not found")
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: scan knowledge_base")
	}
	return &kb, nil
}

// RecomputeKBCounters recomputes document_count and total_chunks from the
// documents table rather than incrementing them, per §3's invariant that
// counters stay consistent with the documents table after any transition.
func (s *Store) RecomputeKBCounters(ctx context.Context, kbID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE knowledge_bases SET
			document_count = (SELECT count(*) FROM documents WHERE knowledge_base_id = $1 AND deleted_at IS NULL),
			total_chunks = (SELECT coalesce(sum(chunk_count), 0) FROM documents WHERE knowledge_base_id = $1 AND deleted_at IS NULL),
			updated_at = now()
		WHERE id = $1`, kbID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: recompute kb counters")
	}
	return nil
}

// UpdateRetrievalSettings overwrites a KB's retrieval_settings JSON blob.
func (s *Store) UpdateRetrievalSettings(ctx context.Context, kbID string, settings json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_bases SET retrieval_settings = $1, updated_at = now() WHERE id = $2`,
		settings, kbID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: update retrieval_settings")
	}
	return nil
}
