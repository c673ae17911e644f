package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbrag/engine/ragstore"
	"github.com/kbrag/engine/settings"
)

type stubVectorStore struct {
	hits        []ragstore.SearchHit
	scrollRecs  []ragstore.ChunkRecord
	lastFilter  ragstore.Filter
	lastOptions ragstore.SearchOptions
}

func (s *stubVectorStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	return nil
}
func (s *stubVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (s *stubVectorStore) DropCollection(ctx context.Context, name string) error { return nil }
func (s *stubVectorStore) Upsert(ctx context.Context, name string, points []ragstore.UpsertPoint, batchSize int) error {
	return nil
}
func (s *stubVectorStore) Search(ctx context.Context, name string, query ragstore.Vector, opts ragstore.SearchOptions) ([]ragstore.SearchHit, error) {
	s.lastOptions = opts
	s.lastFilter = opts.Filter
	return s.hits, nil
}
func (s *stubVectorStore) Scroll(ctx context.Context, name string, filter ragstore.Filter, limit int, cursor ragstore.ScrollCursor) ([]ragstore.ChunkRecord, ragstore.ScrollCursor, error) {
	return s.scrollRecs, "", nil
}
func (s *stubVectorStore) DeleteByFilter(ctx context.Context, name string, filter ragstore.Filter) error {
	return nil
}
func (s *stubVectorStore) Count(ctx context.Context, name string, filter ragstore.Filter) (int, error) {
	return 0, nil
}
func (s *stubVectorStore) Close() error { return nil }

type stubLexicalStore struct {
	hits []ragstore.LexicalHit
}

func (s *stubLexicalStore) IndexChunks(ctx context.Context, kbID, documentID string, records []ragstore.ChunkRecord) error {
	return nil
}
func (s *stubLexicalStore) DeleteByDocument(ctx context.Context, kbID, documentID string) error {
	return nil
}
func (s *stubLexicalStore) Search(ctx context.Context, q ragstore.LexicalQuery) ([]ragstore.LexicalHit, error) {
	return s.hits, nil
}
func (s *stubLexicalStore) Close() error { return nil }

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Dimension() int { return s.dim }
func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) (ragstore.Vector, error) {
	return make(ragstore.Vector, s.dim), nil
}
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]ragstore.Vector, error) {
	return nil, nil
}

func TestRetrieveDenseOnlyReturnsHitsInOrder(t *testing.T) {
	vs := &stubVectorStore{hits: []ragstore.SearchHit{
		{Record: ragstore.ChunkRecord{DocumentID: "d1", ChunkIndex: 0, Text: "a", Filename: "f"}, Score: 0.9},
		{Record: ragstore.ChunkRecord{DocumentID: "d1", ChunkIndex: 1, Text: "b", Filename: "f"}, Score: 0.5},
	}}
	e := New(vs, &stubLexicalStore{}, &stubEmbedder{dim: 4}, nil)

	got, err := e.Retrieve(context.Background(), Request{
		Query: "q", CollectionName: "c", Settings: func() settings.Effective {
			s := settings.Defaults()
			s.RetrievalMode = "dense"
			s.TopK = 5
			return s
		}(),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ragstore.SourceDense, got[0].SourceType)
}

func TestRetrieveHybridFusesDenseAndLexical(t *testing.T) {
	vs := &stubVectorStore{hits: []ragstore.SearchHit{
		{Record: ragstore.ChunkRecord{DocumentID: "d1", ChunkIndex: 0, Text: "a", Filename: "f"}, Score: 0.8},
	}}
	ls := &stubLexicalStore{hits: []ragstore.LexicalHit{
		{Record: ragstore.ChunkRecord{DocumentID: "d1", ChunkIndex: 0, Text: "a", Filename: "f"}, Score: 5.0},
	}}
	e := New(vs, ls, &stubEmbedder{dim: 4}, nil)

	s := settings.Defaults()
	s.RetrievalMode = "hybrid"
	s.TopK = 5

	got, err := e.Retrieve(context.Background(), Request{Query: "q", CollectionName: "c", Settings: s})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ragstore.SourceHybrid, got[0].SourceType)
}

func TestRetrieveEmptyDocumentIntersectionShortCircuits(t *testing.T) {
	vs := &stubVectorStore{}
	e := New(vs, &stubLexicalStore{}, &stubEmbedder{dim: 4}, nil)

	sf := ragstore.NewFilter().WithEquals("document_id", "other-doc")
	s := settings.Defaults()
	s.RetrievalMode = "dense"

	got, err := e.Retrieve(context.Background(), Request{
		Query: "q", CollectionName: "c", Settings: s,
		StructureFilter: &sf, DocumentIDs: []string{"doc-a", "doc-b"},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestExpandWindowAddsNeighborsOnce exercises §8 scenario 4 literally: a
// match on chunk 5 with context_window=2 must yield the single ascending
// run 3,4,5,6,7, not the match followed by its sorted neighbors.
func TestExpandWindowAddsNeighborsOnce(t *testing.T) {
	vs := &stubVectorStore{scrollRecs: []ragstore.ChunkRecord{
		{DocumentID: "d1", ChunkIndex: 4, Text: "n4", Filename: "f"},
		{DocumentID: "d1", ChunkIndex: 3, Text: "n3", Filename: "f"},
		{DocumentID: "d1", ChunkIndex: 7, Text: "n7", Filename: "f"},
		{DocumentID: "d1", ChunkIndex: 6, Text: "n6", Filename: "f"},
	}}
	e := New(vs, &stubLexicalStore{}, &stubEmbedder{dim: 4}, nil)

	matches := []ragstore.RetrievedChunk{
		{DocumentID: "d1", ChunkIndex: 5, Text: "match", Filename: "f", Score: 1.0, SourceType: ragstore.SourceDense},
	}
	s := settings.Defaults()
	s.ContextWindow = 2
	s.ContextExpansion = []string{"window"}

	out, err := e.expandWindow(context.Background(), Request{CollectionName: "c", Settings: s}, matches)
	require.NoError(t, err)
	require.Len(t, out, 5)

	gotIndices := make([]int, len(out))
	for i, c := range out {
		gotIndices[i] = c.ChunkIndex
	}
	assert.Equal(t, []int{3, 4, 5, 6, 7}, gotIndices)

	assert.Equal(t, ragstore.SourceDense, out[2].SourceType)
	assert.Equal(t, 1.0, out[2].Score)
	assert.Equal(t, ragstore.SourceWindow, out[0].SourceType)
	assert.Equal(t, 0.0, out[0].Score)
}

func TestAssembleContextStopsBeforeExceedingMax(t *testing.T) {
	chunks := []ragstore.RetrievedChunk{
		{Filename: "f", ChunkIndex: 0, Text: "short"},
		{Filename: "f", ChunkIndex: 1, Text: "this block is much longer than the remaining budget allows"},
	}
	out := AssembleContext(chunks, 30, nil)
	assert.Contains(t, out, "short")
	assert.NotContains(t, out, "much longer")
}
