package ragstore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/logging"
)

// analyzerMixed names a custom analyzer registered on the index mapping
// (not one of bleve's built-ins): unicode tokenizer, lowercase, then
// Russian stopwords/stemmer followed by English stopwords/stemmer, the
// same kb_analyzer filter chain the original's OpenSearch mapping builds
// (lexical_store.go ensure_index's "kb_analyzer"). analyzerRU and
// analyzerEN name the analyzers the en/ru lang packages self-register on
// import, each with language-appropriate stemming and stopword removal.
const analyzerMixed = "kb_mixed"

var (
	analyzerRU      = ru.AnalyzerName
	analyzerEN      = en.AnalyzerName
	defaultAnalyzer = analyzerMixed
)

// bleveDoc is the document shape stored in the shared lexical index. The
// text field carries the chunk's content; the rest are metadata, indexed
// for filtering and stored to reconstruct a ChunkRecord on a hit.
type bleveDoc struct {
	Text            string `json:"text"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	DocumentID      string `json:"document_id"`
	ChunkIndex      int    `json:"chunk_index"`
	CharCount       int    `json:"char_count"`
	WordCount       int    `json:"word_count"`
	StartChar       int    `json:"start_char"`
	EndChar         int    `json:"end_char"`
	Filename        string `json:"filename"`
	FileType        string `json:"file_type"`
	IndexedAtUnix   int64  `json:"indexed_at_unix"`
}

// BleveLexicalStore is a LexicalStore backed by a single Bleve index
// shared across knowledge bases, grounded on the index-mapping and
// corruption-recovery approach of a Bleve-based BM25 adapter elsewhere in
// the example pack, generalized from one hardcoded code analyzer to the
// mixed/ru/en analyzer set §4.5 requires.
type BleveLexicalStore struct {
	mu    sync.RWMutex
	index bleve.Index
	log   logging.Logger
}

// NewBleveLexicalStore opens (or creates) the lexical index at path. An
// empty path creates an in-memory index, useful for tests.
func NewBleveLexicalStore(path string, log logging.Logger) (*BleveLexicalStore, error) {
	indexMapping, err := buildLexicalMapping()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.InvalidConfig, "bleve: build mapping")
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, errorsx.Wrap(mkErr, errorsx.StoreUnavailable, "bleve: create index dir")
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil {
			log.Warn("bleve index open failed, recreating", "path", path, "error", err.Error())
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, errorsx.Wrap(rmErr, errorsx.StoreUnavailable, "bleve: clear corrupt index")
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: open/create index")
	}

	return &BleveLexicalStore{index: idx, log: log}, nil
}

// buildLexicalMapping registers the mixed/ru/en analyzers over a single
// "text" field and keyword-analyzes the rest for exact filtering.
func buildLexicalMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(analyzerMixed, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			ru.StopName,
			ru.StemmerName,
			en.StopName,
			en.StemmerName,
		},
	}); err != nil {
		return nil, errorsx.Wrap(err, errorsx.InvalidConfig, "bleve: register mixed analyzer")
	}

	textMapping := bleve.NewTextFieldMapping()
	textMapping.Analyzer = analyzerMixed
	textMapping.Store = true
	textMapping.Index = true
	textMapping.IncludeTermVectors = true

	keywordMapping := bleve.NewTextFieldMapping()
	keywordMapping.Analyzer = "keyword"
	keywordMapping.Store = true
	keywordMapping.Index = true

	numericMapping := bleve.NewNumericFieldMapping()
	numericMapping.Store = true
	numericMapping.Index = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textMapping)
	doc.AddFieldMappingsAt("knowledge_base_id", keywordMapping)
	doc.AddFieldMappingsAt("document_id", keywordMapping)
	doc.AddFieldMappingsAt("chunk_index", numericMapping)
	doc.AddFieldMappingsAt("char_count", numericMapping)
	doc.AddFieldMappingsAt("word_count", numericMapping)
	doc.AddFieldMappingsAt("start_char", numericMapping)
	doc.AddFieldMappingsAt("end_char", numericMapping)
	doc.AddFieldMappingsAt("filename", keywordMapping)
	doc.AddFieldMappingsAt("file_type", keywordMapping)
	doc.AddFieldMappingsAt("indexed_at_unix", numericMapping)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = analyzerMixed
	return im, nil
}

func pointID(documentID string, chunkIndex int) string {
	return documentID + ":" + strconv.Itoa(chunkIndex)
}

// IndexChunks adds or replaces the lexical entries for a document's chunks.
func (b *BleveLexicalStore) IndexChunks(ctx context.Context, kbID, documentID string, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	for _, r := range records {
		doc := bleveDoc{
			Text:            r.Text,
			KnowledgeBaseID: kbID,
			DocumentID:      documentID,
			ChunkIndex:      r.ChunkIndex,
			CharCount:       r.CharCount,
			WordCount:       r.WordCount,
			StartChar:       r.StartChar,
			EndChar:         r.EndChar,
			Filename:        r.Filename,
			FileType:        r.FileType,
			IndexedAtUnix:   r.IndexedAt.Unix(),
		}
		if err := batch.Index(pointID(documentID, r.ChunkIndex), doc); err != nil {
			return errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: batch index")
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: execute batch")
	}
	return nil
}

// DeleteByDocument removes every chunk belonging to one document.
func (b *BleveLexicalStore) DeleteByDocument(ctx context.Context, kbID, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	docQ := bleve.NewTermQuery(documentID)
	docQ.SetField("document_id")
	kbQ := bleve.NewTermQuery(kbID)
	kbQ.SetField("knowledge_base_id")
	conj := bleve.NewConjunctionQuery(docQ, kbQ)

	req := bleve.NewSearchRequestOptions(conj, 10000, 0, false)
	req.Fields = []string{}
	result, err := b.index.Search(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: search for delete")
	}

	batch := b.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := b.index.Batch(batch); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: delete batch")
	}
	return nil
}

// Search runs a BM25 query per §4.5's match-mode and phrase rules,
// retrying once against the default analyzer if the requested one is
// rejected by the index mapping.
func (b *BleveLexicalStore) Search(ctx context.Context, q LexicalQuery) ([]LexicalHit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errorsx.New(errorsx.EmptyInput, "bleve: empty query text")
	}

	analyzer := resolveAnalyzer(q.Analyzer)

	hits, source, err := b.search(ctx, q, analyzer)
	if err != nil && analyzer != defaultAnalyzer {
		b.log.Warn("lexical analyzer rejected, retrying with default", "analyzer", q.Analyzer, "error", err.Error())
		hits, source, err = b.search(ctx, q, defaultAnalyzer)
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: search")
	}
	for i := range hits {
		hits[i].Source = source
	}
	return hits, nil
}

// resolveAnalyzer maps the settings-level "mixed"/"ru"/"en" name (§4.7's
// bm25_analyzer key) to the bleve analyzer actually registered for it.
func resolveAnalyzer(name string) string {
	switch name {
	case "ru":
		return analyzerRU
	case "en":
		return analyzerEN
	default:
		return defaultAnalyzer
	}
}

func (b *BleveLexicalStore) search(ctx context.Context, q LexicalQuery, analyzer string) ([]LexicalHit, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	textQuery := buildTextQuery(q, analyzer)

	kbQ := bleve.NewTermQuery(q.KnowledgeBaseID)
	kbQ.SetField("knowledge_base_id")

	clauses := []query.Query{textQuery, kbQ}
	if q.DocumentID != "" {
		docQ := bleve.NewTermQuery(q.DocumentID)
		docQ.SetField("document_id")
		clauses = append(clauses, docQ)
	}
	if q.ChunkIndexFilter != nil {
		clauses = append(clauses, rangeQuery("chunk_index", *q.ChunkIndexFilter))
	}

	finalQuery := bleve.NewConjunctionQuery(clauses...)

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(finalQuery, limit, 0, false)
	req.Fields = []string{"text", "knowledge_base_id", "document_id", "chunk_index", "char_count",
		"word_count", "start_char", "end_char", "filename", "file_type", "indexed_at_unix"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, "", err
	}

	out := make([]LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		out = append(out, LexicalHit{Record: recordFromFields(hit.Fields), Score: hit.Score})
	}
	return out, analyzer, nil
}

// buildTextQuery implements the match_mode/use_phrase rules of §4.5.
// strict is a single match query with the AND operator. balanced/loose
// are a disjunction of per-term match queries: loose requires just one
// term, balanced requires ~min_should_match percent of them (default
// 50). use_phrase adds a match_phrase query OR'd in, and the disjunction
// as a whole then requires at least one clause to match.
func buildTextQuery(q LexicalQuery, analyzer string) query.Query {
	if q.MatchMode == MatchStrict {
		match := bleve.NewMatchQuery(q.Text)
		match.SetField("text")
		match.Analyzer = analyzer
		match.SetOperator(query.MatchQueryOperatorAnd)
		return withPhrase(match, q, analyzer)
	}

	terms := strings.Fields(q.Text)
	if len(terms) == 0 {
		match := bleve.NewMatchQuery(q.Text)
		match.SetField("text")
		match.Analyzer = analyzer
		return withPhrase(match, q, analyzer)
	}

	termQueries := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		tq := bleve.NewMatchQuery(term)
		tq.SetField("text")
		tq.Analyzer = analyzer
		termQueries = append(termQueries, tq)
	}

	min := 1
	if q.MatchMode == MatchBalanced {
		percent := 50
		if q.MinShouldMatch != nil {
			percent = *q.MinShouldMatch
		}
		min = minShouldCount(len(terms), percent)
	}

	disj := bleve.NewDisjunctionQuery(termQueries...)
	disj.SetMin(float64(min))
	return withPhrase(disj, q, analyzer)
}

// withPhrase OR's a match_phrase clause in when requested, wrapping the
// base query so the combined disjunction requires at least one match.
func withPhrase(base query.Query, q LexicalQuery, analyzer string) query.Query {
	if !q.UsePhrase {
		return base
	}
	phrase := bleve.NewMatchPhraseQuery(q.Text)
	phrase.SetField("text")
	phrase.Analyzer = analyzer

	disj := bleve.NewDisjunctionQuery(base, phrase)
	disj.SetMin(1)
	return disj
}

// minShouldCount converts a percentage (e.g. 50 for "~50%") into an
// absolute minimum term count, rounding up, with a floor of 1.
func minShouldCount(termCount, percent int) int {
	count := (termCount*percent + 99) / 100
	if count < 1 {
		count = 1
	}
	return count
}

func rangeQuery(field string, r Range) query.Query {
	var min, max *float64
	inclusiveMin, inclusiveMax := true, true
	if r.GTE != nil {
		v := float64(*r.GTE)
		min = &v
	} else if r.GT != nil {
		v := float64(*r.GT)
		min = &v
		inclusiveMin = false
	}
	if r.LTE != nil {
		v := float64(*r.LTE)
		max = &v
	} else if r.LT != nil {
		v := float64(*r.LT)
		max = &v
		inclusiveMax = false
	}
	nq := bleve.NewNumericRangeInclusiveQuery(min, max, &inclusiveMin, &inclusiveMax)
	nq.SetField(field)
	return nq
}

func recordFromFields(fields map[string]interface{}) ChunkRecord {
	documentID, _ := fields["document_id"].(string)
	chunkIndex := fieldInt(fields["chunk_index"])
	rec := ChunkRecord{
		PointID:    pointID(documentID, chunkIndex),
		DocumentID: documentID,
		ChunkIndex: chunkIndex,
		CharCount:  fieldInt(fields["char_count"]),
		WordCount:  fieldInt(fields["word_count"]),
		StartChar:  fieldInt(fields["start_char"]),
		EndChar:    fieldInt(fields["end_char"]),
	}
	rec.KnowledgeBaseID, _ = fields["knowledge_base_id"].(string)
	rec.Text, _ = fields["text"].(string)
	rec.Filename, _ = fields["filename"].(string)
	rec.FileType, _ = fields["file_type"].(string)
	if unix := fieldInt(fields["indexed_at_unix"]); unix != 0 {
		rec.IndexedAt = time.Unix(int64(unix), 0).UTC()
	}
	return rec
}

func fieldInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// Close releases the underlying index.
func (b *BleveLexicalStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "bleve: close")
	}
	return nil
}
