package chunker

import (
	"strings"
	"testing"

	"github.com/kbrag/engine/errorsx"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIsIdempotent(t *testing.T) {
	input := "a   b\t\tc\n\n\n\nd  "
	once := Normalize(input)
	twice := Normalize(once)
	require.Equal(t, once, twice)
	require.Equal(t, "a b c\n\nd", once)
}

func TestFixedSizeChunkerRespectsLengthAndOverlap(t *testing.T) {
	text := strings.Repeat("word ", 600) // 3000 chars
	c := New(StrategyFixedSize)
	chunks, err := c.Split(text, Params{ChunkSize: 1000, ChunkOverlap: 200})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		require.LessOrEqual(t, ch.CharCount, 1000)
	}
	for i := 1; i < len(chunks); i++ {
		require.Equal(t, i, chunks[i].ChunkIndex)
		require.Equal(t, 200, chunks[i-1].EndChar-chunks[i].StartChar)
	}
}

func TestSplitRejectsEmptyInput(t *testing.T) {
	c := New(StrategyFixedSize)
	_, err := c.Split("   \n\n  ", Params{ChunkSize: 100, ChunkOverlap: 10})
	require.Error(t, err)
	require.True(t, errorsx.Is(err, errorsx.EmptyInput))
}

func TestSplitRejectsOverlapGreaterOrEqualChunkSize(t *testing.T) {
	c := New(StrategyFixedSize)
	_, err := c.Split("some text here", Params{ChunkSize: 100, ChunkOverlap: 100})
	require.Error(t, err)
	require.True(t, errorsx.Is(err, errorsx.InvalidConfig))
}

func TestSmartChunkerSnapsToSentenceBoundary(t *testing.T) {
	text := strings.Repeat("Sentence one is here. ", 40) + "Final sentence ends here."
	c := New(StrategySmart)
	chunks, err := c.Split(text, Params{ChunkSize: 200, ChunkOverlap: 40, RespectBoundaries: true})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks[:len(chunks)-1] {
		trimmed := strings.TrimSpace(ch.Content)
		require.True(t, strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?"))
	}
}

func TestIngestSmallMarkdownProducesThreeChunks(t *testing.T) {
	text := strings.Repeat("x", 2500)
	c := New(StrategyFixedSize)
	chunks, err := c.Split(text, Params{ChunkSize: 1000, ChunkOverlap: 200})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		require.LessOrEqual(t, ch.CharCount, 1000)
	}
}

func TestDefaultTokenCounterApproximatesWordCount(t *testing.T) {
	text := strings.Repeat("word ", 600)
	c := New(StrategyFixedSize)
	chunks, err := c.Split(text, Params{ChunkSize: 1000, ChunkOverlap: 200})
	require.NoError(t, err)
	for _, ch := range chunks {
		require.Equal(t, ch.WordCount, ch.TokenCount)
		require.Greater(t, ch.TokenCount, 0)
	}
}

func TestTikTokenCounterCountsEncodedTokens(t *testing.T) {
	tc, err := NewTikTokenCounter("cl100k_base")
	require.NoError(t, err)
	count := tc.Count("hello world")
	require.Greater(t, count, 0)
}
