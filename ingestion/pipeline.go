// Package ingestion orchestrates the chunk → embed → dual-store-index
// pipeline that brings a document from PENDING to a terminal status
// (§4.6), mirroring the staged, progress-reporting shape of the teacher's
// register.go Register() while generalizing its single-store insert into
// the engine's independent embeddings/BM25 sub-statuses.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kbrag/engine/chunker"
	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/logging"
	"github.com/kbrag/engine/ragstore"
	"github.com/kbrag/engine/ragstore/providers"
	"github.com/kbrag/engine/store"
	"github.com/kbrag/engine/structure"
)

const (
	defaultEmbedBatchSize       = 100
	defaultOllamaEmbedBatchSize = 10
	defaultUpsertBatchSize      = 256
)

// MetadataStore is the slice of *store.Store the pipeline needs, narrowed
// to an interface so it can run against a fake in tests without a live
// Postgres connection.
type MetadataStore interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	GetKnowledgeBase(ctx context.Context, id string) (*store.KnowledgeBase, error)
	UpdateProgress(ctx context.Context, docID string, percent int, stage string) error
	UpdateSubStatus(ctx context.Context, docID, which string, status store.Status, errMsg string) error
	SetChunkCount(ctx context.Context, docID string, count int) error
	RecomputeKBCounters(ctx context.Context, kbID string) error
	UpsertStructure(ctx context.Context, st *store.DocumentStructure) (*store.DocumentStructure, error)
}

// Pipeline runs one document's ingestion to a terminal status.
type Pipeline struct {
	store    MetadataStore
	vectors  ragstore.VectorStore
	lexical  ragstore.LexicalStore
	embedder func(kb *store.KnowledgeBase) (providers.EmbeddingProvider, error)
	llm      providers.LLMProvider
	limiter  *structure.Limiter
	log      logging.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	tokenCounterOnce sync.Once
	cachedCounter    chunker.TokenCounter
}

// New builds a Pipeline. embedder resolves the embedding provider for a
// KB (its registered factory plus API credentials), kept as a function so
// the pipeline doesn't need to know provider configuration shape. llm and
// limiter may be nil, in which case AnalyzeStructure always fails with
// InvalidConfig rather than panicking.
func New(st MetadataStore, vectors ragstore.VectorStore, lexical ragstore.LexicalStore,
	embedder func(kb *store.KnowledgeBase) (providers.EmbeddingProvider, error),
	llm providers.LLMProvider, limiter *structure.Limiter, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Global
	}
	return &Pipeline{store: st, vectors: vectors, lexical: lexical, embedder: embedder, llm: llm, limiter: limiter, log: log, inFlight: make(map[string]bool)}
}

// ContentHash is SHA-256 over the raw document bytes (§3).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Run executes the 7-stage pipeline for documentID to a terminal status.
// It rejects a concurrent run against the same document id with Conflict
// (§4.6's at-most-one-active-ingestion invariant) and never returns
// leaving the document in a non-terminal status.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	if !p.claim(documentID) {
		return errorsx.New(errorsx.Conflict, "ingestion: document already has an active ingestion")
	}
	defer p.release(documentID)

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OverallStatus == store.StatusProcessing {
		return errorsx.New(errorsx.Conflict, "ingestion: document is already processing")
	}

	kb, err := p.store.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return p.fail(ctx, doc, kb, err)
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 5, "loaded")

	if err := p.runStages(ctx, doc, kb); err != nil {
		return p.fail(ctx, doc, kb, err)
	}
	return nil
}

// Reprocess deletes a document's existing vector points and lexical
// chunks, then re-runs the pipeline from scratch — idempotent reprocessing
// per §4.6. Rejected with Conflict while the document is PROCESSING.
func (p *Pipeline) Reprocess(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OverallStatus == store.StatusProcessing {
		return errorsx.New(errorsx.Conflict, "ingestion: cannot reprocess a document that is currently processing")
	}
	kb, err := p.store.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return err
	}

	filter := ragstore.NewFilter().WithEquals("document_id", doc.ID)
	if err := p.vectors.DeleteByFilter(ctx, kb.CollectionName, filter); err != nil {
		return err
	}
	if err := p.lexical.DeleteByDocument(ctx, kb.ID, doc.ID); err != nil {
		return err
	}

	return p.Run(ctx, documentID)
}

// defaultScrollPageSize bounds how many chunk records AnalyzeStructure
// reads per Scroll page, matching the original's
// STRUCTURE_ANALYSIS_QDRANT_PAGE_SIZE default.
const defaultScrollPageSize = 500

// AnalyzeStructure builds and persists a document's table of contents via
// an LLM call over its already-indexed chunks (§4.9's document-structure
// analysis, rate limited by the same §5 token bucket as intent
// extraction). Every resulting section's chunk range is validated against
// the document's chunk_count before being stored.
func (p *Pipeline) AnalyzeStructure(ctx context.Context, documentID string, sample structure.SampleParams) (*store.DocumentStructure, error) {
	if p.llm == nil {
		return nil, errorsx.New(errorsx.InvalidConfig, "ingestion: no LLM provider configured for structure analysis")
	}
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	kb, err := p.store.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}

	chunks, err := p.scrollAllChunks(ctx, kb.CollectionName, doc.ID)
	if err != nil {
		return nil, err
	}

	analysis, err := structure.Analyze(ctx, p.llm, p.limiter, doc.Filename, chunks, sample)
	if err != nil {
		return nil, err
	}

	for _, s := range analysis.Sections {
		if err := validateSectionRange(s, doc.ChunkCount); err != nil {
			return nil, err
		}
	}

	return p.store.UpsertStructure(ctx, &store.DocumentStructure{
		DocumentID:   doc.ID,
		DocumentType: analysis.DocumentType,
		Sections:     analysis.Sections,
	})
}

func validateSectionRange(s store.Section, chunkCount int) error {
	if s.ChunkStart < 0 || s.ChunkEnd >= chunkCount || s.ChunkStart > s.ChunkEnd {
		return errorsx.Newf(errorsx.InvalidConfig,
			"ingestion: section %q chunk range [%d,%d] outside [0,%d]", s.ID, s.ChunkStart, s.ChunkEnd, chunkCount-1)
	}
	for _, sub := range s.Subsections {
		if err := validateSectionRange(sub, chunkCount); err != nil {
			return err
		}
	}
	return nil
}

// scrollAllChunks pages through every chunk record for a document, sorted
// by chunk index, mirroring the original's _get_document_chunks pagination.
func (p *Pipeline) scrollAllChunks(ctx context.Context, collection, documentID string) ([]structure.AnalysisChunk, error) {
	filter := ragstore.NewFilter().WithEquals("document_id", documentID)
	var cursor ragstore.ScrollCursor
	var records []ragstore.ChunkRecord
	for {
		page, next, err := p.vectors.Scroll(ctx, collection, filter, defaultScrollPageSize, cursor)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ChunkIndex < records[j].ChunkIndex })
	chunks := make([]structure.AnalysisChunk, len(records))
	for i, r := range records {
		chunks[i] = structure.AnalysisChunk{Index: r.ChunkIndex, Text: r.Text}
	}
	return chunks, nil
}

// MarkFailed writes a terminal FAILED status for documentID without
// running the pipeline, satisfying background.FailTerminal for the
// shutdown/panic-safety path (§4.11).
func (p *Pipeline) MarkFailed(ctx context.Context, documentID, reason string) error {
	if err := p.store.UpdateSubStatus(ctx, documentID, "embeddings", store.StatusFailed, reason); err != nil {
		return err
	}
	return p.store.UpdateSubStatus(ctx, documentID, "bm25", store.StatusFailed, reason)
}

func (p *Pipeline) claim(documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[documentID] {
		return false
	}
	p.inFlight[documentID] = true
	return true
}

func (p *Pipeline) release(documentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, documentID)
}

func (p *Pipeline) runStages(ctx context.Context, doc *store.Document, kb *store.KnowledgeBase) error {
	if err := p.store.UpdateSubStatus(ctx, doc.ID, "embeddings", store.StatusProcessing, ""); err != nil {
		return err
	}
	if err := p.store.UpdateSubStatus(ctx, doc.ID, "bm25", store.StatusPending, ""); err != nil {
		return err
	}
	collection := kb.CollectionName
	if err := p.vectors.EnsureCollection(ctx, collection, kb.EmbeddingDimension); err != nil {
		return err
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 15, "collection ready")

	chunks, err := chunker.New(chunker.Strategy(kb.ChunkingStrategy)).Split(doc.Content, chunker.Params{
		ChunkSize:         kb.ChunkSize,
		ChunkOverlap:      kb.ChunkOverlap,
		RespectBoundaries: kb.ChunkingStrategy != string(chunker.StrategyFixedSize),
		TokenCounter:      p.tokenCounter(),
	})
	if err != nil {
		return err
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 30, "chunked")

	embedder, err := p.embedder(kb)
	if err != nil {
		return err
	}
	records, vectors, err := p.embedAll(ctx, doc, kb, chunks, embedder)
	if err != nil {
		_ = p.store.UpdateSubStatus(ctx, doc.ID, "embeddings", store.StatusFailed, err.Error())
		_ = p.store.RecomputeKBCounters(ctx, kb.ID)
		return err
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 75, "embedded")

	points := make([]ragstore.UpsertPoint, len(records))
	for i, rec := range records {
		points[i] = ragstore.UpsertPoint{ID: rec.PointID, Vector: vectors[i], Record: rec}
	}
	if err := p.vectors.Upsert(ctx, collection, points, defaultUpsertBatchSize); err != nil {
		_ = p.store.UpdateSubStatus(ctx, doc.ID, "embeddings", store.StatusFailed, err.Error())
		_ = p.store.RecomputeKBCounters(ctx, kb.ID)
		return err
	}
	if err := p.store.UpdateSubStatus(ctx, doc.ID, "embeddings", store.StatusCompleted, ""); err != nil {
		return err
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 85, "upserted")

	if err := p.store.UpdateSubStatus(ctx, doc.ID, "bm25", store.StatusProcessing, ""); err != nil {
		return err
	}
	if err := p.lexical.IndexChunks(ctx, kb.ID, doc.ID, records); err != nil {
		_ = p.store.UpdateSubStatus(ctx, doc.ID, "bm25", store.StatusFailed, err.Error())
	} else {
		_ = p.store.UpdateSubStatus(ctx, doc.ID, "bm25", store.StatusCompleted, "")
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 95, "indexed")

	if err := p.store.SetChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		return err
	}
	if err := p.store.RecomputeKBCounters(ctx, kb.ID); err != nil {
		return err
	}
	_ = p.store.UpdateProgress(ctx, doc.ID, 100, "complete")
	return nil
}

func (p *Pipeline) embedAll(ctx context.Context, doc *store.Document, kb *store.KnowledgeBase, chunks []chunker.Chunk, embedder providers.EmbeddingProvider) ([]ragstore.ChunkRecord, []ragstore.Vector, error) {
	batchSize := defaultEmbedBatchSize
	if kb.EmbeddingModel != "" && isOllamaModel(kb.EmbeddingModel) {
		batchSize = defaultOllamaEmbedBatchSize
	}

	records := make([]ragstore.ChunkRecord, 0, len(chunks))
	vectors := make([]ragstore.Vector, 0, len(chunks))
	now := time.Now().UTC()

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		embedded, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
		for i, c := range batch {
			records = append(records, ragstore.ChunkRecord{
				PointID:         pointID(doc.ID, c.ChunkIndex),
				DocumentID:      doc.ID,
				KnowledgeBaseID: kb.ID,
				ChunkIndex:      c.ChunkIndex,
				Text:            c.Content,
				CharCount:       c.CharCount,
				WordCount:       c.WordCount,
				TokenCount:      c.TokenCount,
				StartChar:       c.StartChar,
				EndChar:         c.EndChar,
				Filename:        doc.Filename,
				FileType:        doc.FileType,
				IndexedAt:       now,
			})
			vectors = append(vectors, embedded[i])
		}

		progress := 35 + int(float64(end)/float64(len(chunks))*(75-35))
		_ = p.store.UpdateProgress(ctx, doc.ID, progress, "embedding")
	}
	return records, vectors, nil
}

// tokenCounter lazily builds a cl100k_base tiktoken counter, falling back
// to the dependency-free word counter if the encoding can't be loaded
// (e.g. no network access to fetch its vocabulary file).
func (p *Pipeline) tokenCounter() chunker.TokenCounter {
	p.tokenCounterOnce.Do(func() {
		tc, err := chunker.NewTikTokenCounter("cl100k_base")
		if err != nil {
			p.log.Warn("falling back to word-based token counting", "error", err)
			p.cachedCounter = chunker.DefaultTokenCounter{}
			return
		}
		p.cachedCounter = tc
	})
	return p.cachedCounter
}

func pointID(documentID string, chunkIndex int) string {
	return documentID + ":" + strconv.Itoa(chunkIndex)
}

func isOllamaModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "ollama")
}

func (p *Pipeline) fail(ctx context.Context, doc *store.Document, kb *store.KnowledgeBase, cause error) error {
	_ = p.store.UpdateSubStatus(ctx, doc.ID, "embeddings", store.StatusFailed, cause.Error())
	if kb != nil {
		_ = p.store.RecomputeKBCounters(ctx, kb.ID)
	}
	return cause
}
