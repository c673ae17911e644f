package ragstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbrag/engine/logging"
)

func newTestLexicalStore(t *testing.T) *BleveLexicalStore {
	t.Helper()
	store, err := NewBleveLexicalStore("", logging.New(logging.LevelError))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBleveIndexAndSearchRoundTrip(t *testing.T) {
	store := newTestLexicalStore(t)
	ctx := context.Background()

	records := []ChunkRecord{
		{ChunkIndex: 0, Text: "the quick brown fox jumps over the lazy dog", Filename: "a.md", IndexedAt: time.Now()},
		{ChunkIndex: 1, Text: "completely unrelated content about oceans", Filename: "a.md", IndexedAt: time.Now()},
	}
	require.NoError(t, store.IndexChunks(ctx, "kb1", "doc1", records))

	hits, err := store.Search(ctx, LexicalQuery{
		Text: "quick fox", KnowledgeBaseID: "kb1", MatchMode: MatchLoose, Limit: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, 0, hits[0].Record.ChunkIndex)
}

func TestBleveStrictModeRequiresAllTerms(t *testing.T) {
	store := newTestLexicalStore(t)
	ctx := context.Background()

	records := []ChunkRecord{
		{ChunkIndex: 0, Text: "alpha beta gamma", IndexedAt: time.Now()},
		{ChunkIndex: 1, Text: "alpha only", IndexedAt: time.Now()},
	}
	require.NoError(t, store.IndexChunks(ctx, "kb1", "doc1", records))

	hits, err := store.Search(ctx, LexicalQuery{
		Text: "alpha beta", KnowledgeBaseID: "kb1", MatchMode: MatchStrict, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, 0, hits[0].Record.ChunkIndex)
}

func TestBleveDeleteByDocumentRemovesChunks(t *testing.T) {
	store := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, store.IndexChunks(ctx, "kb1", "doc1", []ChunkRecord{
		{ChunkIndex: 0, Text: "hello world", IndexedAt: time.Now()},
	}))
	require.NoError(t, store.DeleteByDocument(ctx, "kb1", "doc1"))

	hits, err := store.Search(ctx, LexicalQuery{Text: "hello", KnowledgeBaseID: "kb1", MatchMode: MatchLoose})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestBleveMixedAnalyzerStemsEnglishTerms(t *testing.T) {
	store := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, store.IndexChunks(ctx, "kb1", "doc1", []ChunkRecord{
		{ChunkIndex: 0, Text: "the fox is jumping over the fence", IndexedAt: time.Now()},
	}))

	hits, err := store.Search(ctx, LexicalQuery{Text: "jump", KnowledgeBaseID: "kb1", MatchMode: MatchLoose})
	require.NoError(t, err)
	require.NotEmpty(t, hits, "mixed analyzer should stem jumping down to jump")
}

func TestBleveMixedAnalyzerStemsRussianTerms(t *testing.T) {
	store := newTestLexicalStore(t)
	ctx := context.Background()

	require.NoError(t, store.IndexChunks(ctx, "kb1", "doc1", []ChunkRecord{
		{ChunkIndex: 0, Text: "новые книги лежат на столе", IndexedAt: time.Now()},
	}))

	hits, err := store.Search(ctx, LexicalQuery{Text: "книга", KnowledgeBaseID: "kb1", MatchMode: MatchLoose})
	require.NoError(t, err)
	require.NotEmpty(t, hits, "mixed analyzer should stem книги to the same root as книга")
}

func TestBleveEmptyQueryRejected(t *testing.T) {
	store := newTestLexicalStore(t)
	_, err := store.Search(context.Background(), LexicalQuery{Text: "   ", KnowledgeBaseID: "kb1"})
	require.Error(t, err)
}
