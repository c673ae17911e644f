package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFallsBackToDefaultsWhenNothingSupplied(t *testing.T) {
	eff := Resolve(nil, nil, nil, KBBM25Overrides{}, nil)
	assert.Equal(t, Defaults(), eff)
}

func TestResolvePrecedenceRequestBeatsEverything(t *testing.T) {
	reqTopK := 50
	kbJSON := []byte(`{"top_k": 10, "retrieval_mode": "hybrid"}`)
	globalJSON := []byte(`{"top_k": 7}`)

	eff := Resolve(&Overrides{TopK: &reqTopK}, nil, kbJSON, KBBM25Overrides{}, globalJSON)

	assert.Equal(t, 50, eff.TopK)
	assert.Equal(t, "hybrid", eff.RetrievalMode)
}

func TestResolveKBJSONBeatsGlobalSettings(t *testing.T) {
	kbJSON := []byte(`{"lexical_top_k": 30}`)
	globalJSON := []byte(`{"lexical_top_k": 99, "top_k": 8}`)

	eff := Resolve(nil, nil, kbJSON, KBBM25Overrides{}, globalJSON)

	assert.Equal(t, 30, eff.LexicalTopK)
	assert.Equal(t, 8, eff.TopK)
}

func TestResolveKBBM25ColumnsBeatKBJSONBM25Defaults(t *testing.T) {
	kb := KBBM25Overrides{MatchMode: "strict", MinShouldMatch: 75, UsePhrase: false, Analyzer: "en"}

	eff := Resolve(nil, nil, nil, kb, nil)

	assert.Equal(t, "strict", eff.BM25MatchMode)
	assert.Equal(t, 75, eff.BM25MinShouldMatch)
	assert.False(t, eff.BM25UsePhrase)
	assert.Equal(t, "en", eff.BM25Analyzer)
}

func TestResolveConversationBeatsKBButNotRequest(t *testing.T) {
	convTopK := 12
	convMode := "dense"
	reqMode := "hybrid"
	kbJSON := []byte(`{"top_k": 10}`)

	eff := Resolve(&Overrides{RetrievalMode: &reqMode}, &Overrides{TopK: &convTopK, RetrievalMode: &convMode}, kbJSON, KBBM25Overrides{}, nil)

	require.Equal(t, 12, eff.TopK)
	require.Equal(t, "hybrid", eff.RetrievalMode)
}
