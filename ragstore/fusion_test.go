package ragstore

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFuseHybridCombinesOverlappingChunks(t *testing.T) {
	dense := []RetrievedChunk{
		{DocumentID: "doc1", ChunkIndex: 0, Score: 0.9},
		{DocumentID: "doc1", ChunkIndex: 1, Score: 0.5},
	}
	lexical := []RetrievedChunk{
		{DocumentID: "doc1", ChunkIndex: 0, Score: 10.0},
		{DocumentID: "doc2", ChunkIndex: 0, Score: 5.0},
	}
	out := FuseHybrid(dense, lexical, 0.6, 0.4)
	require.Len(t, out, 3)

	byKey := map[string]RetrievedChunk{}
	for _, c := range out {
		byKey[c.DocumentID+":"+strconv.Itoa(c.ChunkIndex)] = c
	}

	both := byKey["doc1:0"]
	require.Equal(t, SourceHybrid, both.SourceType)
	require.InDelta(t, 0.6*1.0+0.4*1.0, both.Score, 1e-9)

	denseOnly := byKey["doc1:1"]
	require.Equal(t, SourceDense, denseOnly.SourceType)
	require.InDelta(t, 0.6*(0.5/0.9), denseOnly.Score, 1e-9)

	lexicalOnly := byKey["doc2:0"]
	require.Equal(t, SourceLexical, lexicalOnly.SourceType)
	require.InDelta(t, 0.4*(5.0/10.0), lexicalOnly.Score, 1e-9)
}

func TestFuseHybridDefaultsToEvenWeightsWhenBothZero(t *testing.T) {
	dense := []RetrievedChunk{{DocumentID: "doc1", ChunkIndex: 0, Score: 1.0}}
	out := FuseHybrid(dense, nil, 0, 0)
	require.Len(t, out, 1)
	require.InDelta(t, 0.5, out[0].Score, 1e-9)
}

func TestApplyThresholdAndTruncate(t *testing.T) {
	chunks := []RetrievedChunk{
		{DocumentID: "a", Score: 0.9},
		{DocumentID: "b", Score: 0.1},
		{DocumentID: "c", Score: 0.5},
	}
	out := ApplyThresholdAndTruncate(chunks, 0.2, 1)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].DocumentID)
}
