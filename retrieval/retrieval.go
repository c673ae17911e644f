// Package retrieval runs the dense/lexical/hybrid search, MMR, windowed
// expansion, and context assembly described in §4.8, generalizing the
// teacher's Retriever.Retrieve probe-then-search shape onto two
// independent stores with a weighted-fusion merge instead of a single
// vector-only search.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kbrag/engine/logging"
	"github.com/kbrag/engine/ragstore"
	"github.com/kbrag/engine/ragstore/providers"
	"github.com/kbrag/engine/settings"
)

// Engine runs retrieval against one KB's vector and lexical stores.
type Engine struct {
	vectors  ragstore.VectorStore
	lexical  ragstore.LexicalStore
	embedder providers.EmbeddingProvider
	log      logging.Logger
}

// New builds an Engine for one KB's embedding provider and stores.
func New(vectors ragstore.VectorStore, lexical ragstore.LexicalStore, embedder providers.EmbeddingProvider, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Global
	}
	return &Engine{vectors: vectors, lexical: lexical, embedder: embedder, log: log}
}

// Request parameterizes one retrieval call.
type Request struct {
	Query           string
	CollectionName  string
	KnowledgeBaseID string
	Settings        settings.Effective
	StructureFilter *ragstore.Filter // from §4.9, ANDed with any caller filter
	DocumentIDs     []string         // optional caller-supplied restriction
}

// Retrieve runs the full §4.8 pipeline: dense and/or lexical search,
// fusion, threshold/truncate, and optional window expansion.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]ragstore.RetrievedChunk, error) {
	filter, empty := combineFilters(req.StructureFilter, req.DocumentIDs)
	if empty {
		return nil, nil
	}

	var dense, lexical []ragstore.RetrievedChunk
	var err error

	if req.Settings.RetrievalMode == "hybrid" || req.Settings.RetrievalMode == "dense" {
		dense, err = e.denseSearch(ctx, req, filter)
		if err != nil {
			return nil, err
		}
	}
	if req.Settings.RetrievalMode == "hybrid" {
		lexical, err = e.lexicalSearch(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	var fused []ragstore.RetrievedChunk
	switch req.Settings.RetrievalMode {
	case "hybrid":
		fused = ragstore.FuseHybrid(dense, lexical, req.Settings.HybridDenseWeight, req.Settings.HybridLexicalWeight)
	default:
		fused = dense
	}

	fused = ragstore.ApplyThresholdAndTruncate(fused, req.Settings.ScoreThreshold, req.Settings.TopK)

	if wantsWindow(req.Settings) {
		fused, err = e.expandWindow(ctx, req, fused)
		if err != nil {
			return nil, err
		}
	}
	return fused, nil
}

func (e *Engine) denseSearch(ctx context.Context, req Request, filter ragstore.Filter) ([]ragstore.RetrievedChunk, error) {
	qv, err := e.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	opts := ragstore.SearchOptions{
		Limit:  req.Settings.TopK,
		Filter: filter,
		MMR:    req.Settings.UseMMR,
	}
	if req.Settings.UseMMR {
		opts.MMRDiversity = req.Settings.MMRDiversity
	}
	if req.Settings.ScoreThreshold > 0 {
		t := req.Settings.ScoreThreshold
		opts.ScoreThreshold = &t
	}

	hits, err := e.vectors.Search(ctx, req.CollectionName, qv, opts)
	if err != nil {
		return nil, err
	}

	out := make([]ragstore.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = ragstore.RetrievedChunk{
			DocumentID:      h.Record.DocumentID,
			KnowledgeBaseID: h.Record.KnowledgeBaseID,
			ChunkIndex:      h.Record.ChunkIndex,
			Text:            h.Record.Text,
			Filename:        h.Record.Filename,
			Score:           h.Score,
			SourceType:      ragstore.SourceDense,
		}
	}
	return out, nil
}

func (e *Engine) lexicalSearch(ctx context.Context, req Request) ([]ragstore.RetrievedChunk, error) {
	q := ragstore.LexicalQuery{
		Text:            req.Query,
		KnowledgeBaseID: req.KnowledgeBaseID,
		MatchMode:       ragstore.MatchMode(req.Settings.BM25MatchMode),
		UsePhrase:       req.Settings.BM25UsePhrase,
		Analyzer:        req.Settings.BM25Analyzer,
		Limit:           req.Settings.LexicalTopK,
	}
	if req.StructureFilter != nil {
		if docID, ok := req.StructureFilter.Equals["document_id"]; ok {
			q.DocumentID, _ = docID.(string)
		}
		if r, ok := req.StructureFilter.Ranges["chunk_index"]; ok {
			q.ChunkIndexFilter = &r
		}
	}
	if req.Settings.BM25MinShouldMatch > 0 {
		min := req.Settings.BM25MinShouldMatch
		q.MinShouldMatch = &min
	}

	hits, err := e.lexical.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]ragstore.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = ragstore.RetrievedChunk{
			DocumentID:      h.Record.DocumentID,
			KnowledgeBaseID: h.Record.KnowledgeBaseID,
			ChunkIndex:      h.Record.ChunkIndex,
			Text:            h.Record.Text,
			Filename:        h.Record.Filename,
			Score:           h.Score,
			SourceType:      ragstore.SourceLexical,
		}
	}
	return out, nil
}

func wantsWindow(s settings.Effective) bool {
	if s.ContextWindow <= 0 {
		return false
	}
	for _, e := range s.ContextExpansion {
		if e == "window" {
			return true
		}
	}
	return false
}

// expandWindow implements §4.8's windowed expansion: for every matched
// chunk, pull neighbors in [chunk_index-W, chunk_index+W] via scroll,
// then emit the match together with its neighbors as a single ascending
// run of chunk indices (§4.8: "walking each original match and emitting
// indices in that window in ascending order"), walking matches in their
// original order and de-duplicating by (document_id, chunk_index) on
// first occurrence across the whole result.
func (e *Engine) expandWindow(ctx context.Context, req Request, matches []ragstore.RetrievedChunk) ([]ragstore.RetrievedChunk, error) {
	w := req.Settings.ContextWindow
	seen := make(map[string]bool, len(matches))
	out := make([]ragstore.RetrievedChunk, 0, len(matches))

	for _, m := range matches {
		lo, hi := m.ChunkIndex-w, m.ChunkIndex+w
		indices := make([]interface{}, 0, 2*w+1)
		for i := lo; i <= hi; i++ {
			if i == m.ChunkIndex {
				continue
			}
			indices = append(indices, i)
		}

		var records []ragstore.ChunkRecord
		if len(indices) > 0 {
			filter := ragstore.NewFilter().
				WithEquals("document_id", m.DocumentID).
				WithAnyOf("chunk_index", indices)
			var err error
			records, _, err = e.vectors.Scroll(ctx, req.CollectionName, filter, len(indices), "")
			if err != nil {
				return nil, err
			}
		}

		window := make([]ragstore.RetrievedChunk, 0, len(records)+1)
		window = append(window, m)
		for _, r := range records {
			window = append(window, ragstore.RetrievedChunk{
				DocumentID:      r.DocumentID,
				KnowledgeBaseID: r.KnowledgeBaseID,
				ChunkIndex:      r.ChunkIndex,
				Text:            r.Text,
				Filename:        r.Filename,
				Score:           0,
				SourceType:      ragstore.SourceWindow,
			})
		}
		sort.Slice(window, func(i, j int) bool { return window[i].ChunkIndex < window[j].ChunkIndex })

		for _, c := range window {
			key := fmt.Sprintf("%s:%d", c.DocumentID, c.ChunkIndex)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// AssembleContext concatenates chunks into one prompt-ready block per
// §4.8, stopping before any block that would exceed maxChars (0 or
// negative means unbounded).
func AssembleContext(chunks []ragstore.RetrievedChunk, maxChars int, log logging.Logger) string {
	var b strings.Builder
	for i, c := range chunks {
		block := fmt.Sprintf("[Source %d: %s, chunk %d]\n%s\n", i+1, c.Filename, c.ChunkIndex, c.Text)
		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if maxChars > 0 && b.Len()+sep+len(block) > maxChars {
			if log != nil {
				log.Warn("context truncated", "max_context_chars", maxChars, "dropped_from", i)
			}
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block)
	}
	return b.String()
}

func combineFilters(structureFilter *ragstore.Filter, documentIDs []string) (ragstore.Filter, bool) {
	f := ragstore.NewFilter()
	if structureFilter != nil {
		for k, v := range structureFilter.Equals {
			f.Equals[k] = v
		}
		for k, v := range structureFilter.AnyOf {
			f.AnyOf[k] = v
		}
		for k, v := range structureFilter.Ranges {
			f.Ranges[k] = v
		}
	}
	if len(documentIDs) == 0 {
		return f, false
	}

	if sfDocID, ok := f.Equals["document_id"]; ok {
		id, _ := sfDocID.(string)
		for _, d := range documentIDs {
			if d == id {
				return f, false
			}
		}
		return f, true // intersection of a single id with a disjoint list is empty
	}

	anyOf := make([]interface{}, len(documentIDs))
	for i, d := range documentIDs {
		anyOf[i] = d
	}
	f.AnyOf["document_id"] = anyOf
	return f, false
}
