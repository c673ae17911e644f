package structure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbrag/engine/ragstore/providers"
	"github.com/kbrag/engine/store"
)

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Generate(ctx context.Context, params providers.GenerateParams) (providers.GenerateResult, error) {
	if s.err != nil {
		return providers.GenerateResult{}, s.err
	}
	return providers.GenerateResult{Content: s.response}, nil
}

func TestExtractIntentParsesStructuredJSON(t *testing.T) {
	llm := &stubLLM{response: `{"intent_type":"structured_search","document_name":"tma01","section_type":"question","section_number":"3","confidence":0.9}`}

	intent := ExtractIntent(context.Background(), llm, nil, "what is question 3 in tma01?", []string{"tma01.txt"})

	require.Equal(t, IntentStructuredSearch, intent.IntentType)
	assert.Equal(t, "tma01", intent.DocumentName)
	assert.True(t, intent.IsStructured())
}

func TestExtractIntentDegradesOnLLMError(t *testing.T) {
	llm := &stubLLM{err: assertErr{}}

	intent := ExtractIntent(context.Background(), llm, nil, "anything", nil)

	assert.Equal(t, IntentSemanticSearch, intent.IntentType)
	assert.False(t, intent.IsStructured())
}

func TestExtractIntentDegradesOnUnparsableJSON(t *testing.T) {
	llm := &stubLLM{response: "not json at all"}

	intent := ExtractIntent(context.Background(), llm, nil, "anything", nil)

	assert.Equal(t, IntentSemanticSearch, intent.IntentType)
}

func TestIsStructuredRejectsLowConfidence(t *testing.T) {
	intent := Intent{IntentType: IntentStructuredSearch, Confidence: 0.4}
	assert.False(t, intent.IsStructured())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestTranslateFilterReturnsNilForSemanticIntent(t *testing.T) {
	intent := Intent{IntentType: IntentSemanticSearch}
	got := TranslateFilter(intent, []DocumentCandidate{{ID: "d1"}})
	assert.Nil(t, got)
}

func TestTranslateFilterResolvesByDocumentNameAndSection(t *testing.T) {
	structure := &store.DocumentStructure{
		DocumentType: "tma_questions",
		Sections: []store.Section{
			{ID: "q1", Type: "question", ChunkStart: 0, ChunkEnd: 1, Metadata: map[string]interface{}{"question_number": "1"}},
			{ID: "q3", Type: "question", ChunkStart: 4, ChunkEnd: 6, Metadata: map[string]interface{}{"question_number": "3"}},
		},
	}
	candidates := []DocumentCandidate{
		{ID: "d1", Filename: "tma01.txt", Structure: structure},
		{ID: "d2", Filename: "other.txt"},
	}
	intent := Intent{
		IntentType: IntentStructuredSearch, Confidence: 0.9,
		DocumentName: "tma01", SectionType: "question", SectionNumber: "3",
	}

	f := TranslateFilter(intent, candidates)
	require.NotNil(t, f)
	assert.Equal(t, "d1", f.Equals["document_id"])
	r := f.Ranges["chunk_index"]
	require.NotNil(t, r.GTE)
	require.NotNil(t, r.LTE)
	assert.Equal(t, 4, *r.GTE)
	assert.Equal(t, 6, *r.LTE)
}

func TestTranslateFilterFallsBackToSingleDocument(t *testing.T) {
	structure := &store.DocumentStructure{
		Sections: []store.Section{
			{ID: "s1", Type: "section", ChunkStart: 2, ChunkEnd: 3},
		},
	}
	candidates := []DocumentCandidate{{ID: "only", Filename: "whatever.txt", Structure: structure}}
	intent := Intent{IntentType: IntentStructuredSearch, Confidence: 0.9, SectionType: "section"}

	f := TranslateFilter(intent, candidates)
	require.NotNil(t, f)
	assert.Equal(t, "only", f.Equals["document_id"])
}

func TestTranslateFilterReturnsNilWhenSectionNotFound(t *testing.T) {
	structure := &store.DocumentStructure{Sections: []store.Section{{ID: "s1", Type: "section", ChunkStart: 0, ChunkEnd: 1}}}
	candidates := []DocumentCandidate{{ID: "only", Structure: structure}}
	intent := Intent{IntentType: IntentStructuredSearch, Confidence: 0.9, SectionType: "chapter", SectionNumber: "99"}

	f := TranslateFilter(intent, candidates)
	assert.Nil(t, f)
}

func TestAnalyzeParsesTableOfContents(t *testing.T) {
	llm := &stubLLM{response: `{"document_type":"tma_questions","description":"assessment","sections":[` +
		`{"id":"q1","title":"Question 1","type":"question","chunk_start":0,"chunk_end":1,"metadata":{"question_number":1}}]}`}

	chunks := []AnalysisChunk{{Index: 0, Text: "Question 1: ..."}, {Index: 1, Text: "more text"}}
	analysis, err := Analyze(context.Background(), llm, nil, "tma01.txt", chunks, SampleParams{})

	require.NoError(t, err)
	assert.Equal(t, "tma_questions", analysis.DocumentType)
	require.Len(t, analysis.Sections, 1)
	assert.Equal(t, "q1", analysis.Sections[0].ID)
}

func TestAnalyzeRejectsEmptyChunks(t *testing.T) {
	_, err := Analyze(context.Background(), &stubLLM{}, nil, "empty.txt", nil, SampleParams{})
	require.Error(t, err)
}

func TestAnalyzeFailsOnUnparsableResponse(t *testing.T) {
	llm := &stubLLM{response: "not json"}
	_, err := Analyze(context.Background(), llm, nil, "doc.txt", []AnalysisChunk{{Index: 0, Text: "x"}}, SampleParams{})
	require.Error(t, err)
}

func TestSampleContentRespectsAllLimits(t *testing.T) {
	chunks := []AnalysisChunk{
		{Index: 0, Text: "0123456789"},
		{Index: 1, Text: "abcdefghij"},
		{Index: 2, Text: "zzzzzzzzzz"},
	}
	out := sampleContent(chunks, SampleParams{MaxChunks: 2, MaxCharsPerChunk: 4, MaxTotalChars: 20})
	assert.LessOrEqual(t, len(out), 20+len("\n... (truncated)"))
	assert.NotContains(t, out, "zzzzzzzzzz")
}
