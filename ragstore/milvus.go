package ragstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/logging"
)

// schemaFields is the fixed ChunkRecord payload schema (§3) every
// collection is created with. point_id is the primary key, carrying
// "{document_id}:{chunk_index}" per §6's persisted-state layout.
var schemaFields = []string{
	"point_id", "document_id", "knowledge_base_id", "chunk_index",
	"text", "char_count", "word_count", "start_char", "end_char",
	"filename", "file_type", "indexed_at",
}

const vectorField = "embedding"
const maxTextLen = 65535
const maxKeywordLen = 512

// MilvusStore implements VectorStore against a Milvus cluster, generalizing
// the teacher's MilvusDB wrapper (rag/milvus.go) from a dynamic schema-map
// API to the engine's fixed ChunkRecord payload, and adding the filter
// grammar, scroll, delete-by-filter, and MMR operations §4.4 requires.
type MilvusStore struct {
	client client.Client
	log    logging.Logger
}

// NewMilvusStore connects to the Milvus server at address.
func NewMilvusStore(ctx context.Context, address string, log logging.Logger) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: connect")
	}
	if log == nil {
		log = logging.Global
	}
	return &MilvusStore{client: c, log: log}, nil
}

func (m *MilvusStore) Close() error { return m.client.Close() }

func (m *MilvusStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return false, errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: has_collection")
	}
	if ok {
		return true, nil
	}
	// collection_exists must also recognize known aliases (§4.4).
	aliases, aerr := m.client.DescribeAlias(ctx, name)
	if aerr != nil {
		return false, nil
	}
	return aliases != nil, nil
}

func (m *MilvusStore) DropCollection(ctx context.Context, name string) error {
	return m.client.DropCollection(ctx, name)
}

// EnsureCollection creates the collection with the fixed ChunkRecord
// schema and an HNSW cosine index if it does not already exist, then
// loads it, following the teacher's create->index->load sequence in
// register.go's ensureCollection step.
func (m *MilvusStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	exists, err := m.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return m.client.LoadCollection(ctx, name, false)
	}

	schema := entity.NewSchema().WithName(name).WithDescription("kbrag chunk records")
	schema.WithField(entity.NewField().WithName("point_id").WithDataType(entity.FieldTypeVarChar).
		WithIsPrimaryKey(true).WithMaxLength(maxKeywordLen))
	schema.WithField(entity.NewField().WithName(vectorField).WithDataType(entity.FieldTypeFloatVector).
		WithDim(int64(dimension)))
	schema.WithField(entity.NewField().WithName("document_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxKeywordLen))
	schema.WithField(entity.NewField().WithName("knowledge_base_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxKeywordLen))
	schema.WithField(entity.NewField().WithName("chunk_index").WithDataType(entity.FieldTypeInt64))
	schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxTextLen))
	schema.WithField(entity.NewField().WithName("char_count").WithDataType(entity.FieldTypeInt64))
	schema.WithField(entity.NewField().WithName("word_count").WithDataType(entity.FieldTypeInt64))
	schema.WithField(entity.NewField().WithName("start_char").WithDataType(entity.FieldTypeInt64))
	schema.WithField(entity.NewField().WithName("end_char").WithDataType(entity.FieldTypeInt64))
	schema.WithField(entity.NewField().WithName("filename").WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxKeywordLen))
	schema.WithField(entity.NewField().WithName("file_type").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
	schema.WithField(entity.NewField().WithName("indexed_at").WithDataType(entity.FieldTypeInt64))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: create_collection")
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
	if err != nil {
		return errorsx.Wrap(err, errorsx.InvalidConfig, "milvus: index params")
	}
	if err := m.client.CreateIndex(ctx, name, vectorField, idx, false); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: create_index")
	}
	return m.client.LoadCollection(ctx, name, false)
}

// Upsert inserts points in batches of batchSize, preserving the original
// order within each batch (§5 ordering guarantee: chunk index -> point
// ordering is preserved across upsert batches).
func (m *MilvusStore) Upsert(ctx context.Context, name string, points []UpsertPoint, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(points)
	}
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := m.upsertBatch(ctx, name, points[start:end]); err != nil {
			return err
		}
	}
	return m.client.Flush(ctx, name, false)
}

func (m *MilvusStore) upsertBatch(ctx context.Context, name string, points []UpsertPoint) error {
	ids := make([]string, len(points))
	vectors := make([][]float32, len(points))
	documentIDs := make([]string, len(points))
	kbIDs := make([]string, len(points))
	chunkIdx := make([]int64, len(points))
	texts := make([]string, len(points))
	charCounts := make([]int64, len(points))
	wordCounts := make([]int64, len(points))
	startChars := make([]int64, len(points))
	endChars := make([]int64, len(points))
	filenames := make([]string, len(points))
	fileTypes := make([]string, len(points))
	indexedAts := make([]int64, len(points))

	for i, p := range points {
		ids[i] = p.ID
		vectors[i] = p.Vector
		documentIDs[i] = p.Record.DocumentID
		kbIDs[i] = p.Record.KnowledgeBaseID
		chunkIdx[i] = int64(p.Record.ChunkIndex)
		texts[i] = p.Record.Text
		charCounts[i] = int64(p.Record.CharCount)
		wordCounts[i] = int64(p.Record.WordCount)
		startChars[i] = int64(p.Record.StartChar)
		endChars[i] = int64(p.Record.EndChar)
		filenames[i] = p.Record.Filename
		fileTypes[i] = p.Record.FileType
		indexedAts[i] = p.Record.IndexedAt.Unix()
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("point_id", ids),
		entity.NewColumnFloatVector(vectorField, len(vectors[0]), vectors),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("knowledge_base_id", kbIDs),
		entity.NewColumnInt64("chunk_index", chunkIdx),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("char_count", charCounts),
		entity.NewColumnInt64("word_count", wordCounts),
		entity.NewColumnInt64("start_char", startChars),
		entity.NewColumnInt64("end_char", endChars),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnVarChar("file_type", fileTypes),
		entity.NewColumnInt64("indexed_at", indexedAts),
	}

	_, err := m.client.Insert(ctx, name, "", columns...)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: insert")
	}
	return nil
}

// Search runs a dense kNN search, optionally overfetching and applying
// MMR re-ranking client-side (§4.4): MMR draws its candidate set from
// max(limit*10, limit) nearest neighbors.
func (m *MilvusStore) Search(ctx context.Context, name string, query Vector, opts SearchOptions) ([]SearchHit, error) {
	fetch := opts.Limit
	if opts.MMR {
		fetch = opts.Limit * 10
		if fetch < opts.Limit {
			fetch = opts.Limit
		}
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.InvalidConfig, "milvus: search param")
	}

	outputFields := schemaFields
	if opts.MMR {
		outputFields = append(append([]string{}, schemaFields...), vectorField)
	}
	expr := filterExpr(opts.Filter)
	results, err := m.client.Search(ctx, name, nil, expr, outputFields,
		[]entity.Vector{entity.FloatVector(query)}, vectorField, entity.COSINE, fetch, sp)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: search")
	}

	hits := wrapSearchResults(results)
	if opts.ScoreThreshold != nil {
		filtered := hits[:0]
		for _, h := range hits {
			if h.Score >= *opts.ScoreThreshold {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if opts.MMR {
		hits = mmrSelect(query, hits, opts.Limit, opts.MMRDiversity)
	} else if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// Scroll pages through payloads matching filter, ignoring vectors
// (§4.4). Milvus has no native cursor for Query, so the cursor here
// encodes a simple numeric offset.
func (m *MilvusStore) Scroll(ctx context.Context, name string, filter Filter, limit int, cursor ScrollCursor) ([]ChunkRecord, ScrollCursor, error) {
	offset := 0
	if cursor != "" {
		if v, err := strconv.Atoi(string(cursor)); err == nil {
			offset = v
		}
	}
	expr := filterExpr(filter)
	cols, err := m.client.Query(ctx, name, nil, expr, schemaFields)
	if err != nil {
		return nil, "", errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: query")
	}
	records := columnsToRecords(cols)
	if offset >= len(records) {
		return nil, "", nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	page := records[offset:end]
	var next ScrollCursor
	if end < len(records) {
		next = ScrollCursor(strconv.Itoa(end))
	}
	return page, next, nil
}

func (m *MilvusStore) DeleteByFilter(ctx context.Context, name string, filter Filter) error {
	expr := filterExpr(filter)
	if expr == "" {
		return errorsx.New(errorsx.InvalidConfig, "milvus: delete_by_filter requires a non-empty filter")
	}
	return m.client.Delete(ctx, name, "", expr)
}

func (m *MilvusStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	cols, err := m.client.Query(ctx, name, nil, filterExpr(filter), []string{"point_id"})
	if err != nil {
		return 0, errorsx.Wrap(err, errorsx.StoreUnavailable, "milvus: count")
	}
	if len(cols) == 0 {
		return 0, nil
	}
	return cols[0].Len(), nil
}

// filterExpr translates the engine's filter grammar (§4.4) into a Milvus
// boolean expression string.
func filterExpr(f Filter) string {
	var clauses []string
	for field, val := range f.Equals {
		clauses = append(clauses, fmt.Sprintf("%s == %s", field, literal(val)))
	}
	for field, vals := range f.AnyOf {
		lits := make([]string, len(vals))
		for i, v := range vals {
			lits[i] = literal(v)
		}
		clauses = append(clauses, fmt.Sprintf("%s in [%s]", field, strings.Join(lits, ", ")))
	}
	for field, r := range f.Ranges {
		if r.GTE != nil {
			clauses = append(clauses, fmt.Sprintf("%s >= %d", field, *r.GTE))
		}
		if r.LTE != nil {
			clauses = append(clauses, fmt.Sprintf("%s <= %d", field, *r.LTE))
		}
		if r.GT != nil {
			clauses = append(clauses, fmt.Sprintf("%s > %d", field, *r.GT))
		}
		if r.LT != nil {
			clauses = append(clauses, fmt.Sprintf("%s < %d", field, *r.LT))
		}
	}
	sort.Strings(clauses)
	return strings.Join(clauses, " && ")
}

func literal(v interface{}) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func wrapSearchResults(results []client.SearchResult) []SearchHit {
	var hits []SearchHit
	for _, rs := range results {
		for i := 0; i < rs.ResultCount; i++ {
			rec := columnRowToRecord(rs.Fields, i)
			var vec Vector
			if col := findColumn(rs.Fields, vectorField); col != nil {
				if v, err := col.Get(i); err == nil {
					if fv, ok := v.([]float32); ok {
						vec = fv
					}
				}
			}
			hits = append(hits, SearchHit{
				PointID: rec.PointID,
				Score:   float64(rs.Scores[i]),
				Record:  rec,
				Vector:  vec,
			})
		}
	}
	return hits
}

// mmrSelect implements the greedy Maximal Marginal Relevance selection of
// §4.4: argmax_i [(1-lambda)*sim(q,i) - lambda*max_{j in S} sim(i,j)],
// ties broken by higher dense similarity then lower point id. Candidates
// lacking a vector (e.g. the backend didn't return one) are scored as if
// maximally dissimilar to every selected point, so they neither block nor
// dominate selection unfairly.
func mmrSelect(query Vector, candidates []SearchHit, limit int, lambda float64) []SearchHit {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	selected := make([]SearchHit, 0, limit)
	used := make([]bool, len(candidates))

	for len(selected) < limit {
		bestIdx := -1
		var bestScore float64
		for i, c := range candidates {
			if used[i] {
				continue
			}
			sim := c.Score
			maxSimToSelected := 0.0
			for _, s := range selected {
				if c.Vector == nil || s.Vector == nil {
					continue
				}
				if d := cosineSimilarity(c.Vector, s.Vector); d > maxSimToSelected {
					maxSimToSelected = d
				}
			}
			mmrScore := (1-lambda)*sim - lambda*maxSimToSelected
			if bestIdx == -1 || mmrScore > bestScore ||
				(mmrScore == bestScore && (c.Score > candidates[bestIdx].Score ||
					(c.Score == candidates[bestIdx].Score && c.PointID < candidates[bestIdx].PointID))) {
				bestIdx = i
				bestScore = mmrScore
			}
		}
		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
	}
	return selected
}

func cosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func columnsToRecords(cols []entity.Column) []ChunkRecord {
	if len(cols) == 0 {
		return nil
	}
	n := cols[0].Len()
	records := make([]ChunkRecord, n)
	for i := 0; i < n; i++ {
		records[i] = columnRowToRecord(cols, i)
	}
	return records
}

func findColumn(cols []entity.Column, name string) entity.Column {
	for _, c := range cols {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func columnRowToRecord(cols []entity.Column, row int) ChunkRecord {
	get := func(name string) interface{} {
		if col := findColumn(cols, name); col != nil {
			if v, err := col.Get(row); err == nil {
				return v
			}
		}
		return nil
	}
	asString := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	asInt := func(v interface{}) int {
		switch t := v.(type) {
		case int64:
			return int(t)
		case int:
			return t
		}
		return 0
	}
	indexedAt := time.Unix(int64(asInt(get("indexed_at"))), 0).UTC()
	return ChunkRecord{
		PointID:         asString(get("point_id")),
		DocumentID:      asString(get("document_id")),
		KnowledgeBaseID: asString(get("knowledge_base_id")),
		ChunkIndex:      asInt(get("chunk_index")),
		Text:            asString(get("text")),
		CharCount:       asInt(get("char_count")),
		WordCount:       asInt(get("word_count")),
		StartChar:       asInt(get("start_char")),
		EndChar:         asInt(get("end_char")),
		Filename:        asString(get("filename")),
		FileType:        asString(get("file_type")),
		IndexedAt:       indexedAt,
	}
}
