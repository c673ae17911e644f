package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbrag/engine/ragstore"
	"github.com/kbrag/engine/ragstore/providers"
	"github.com/kbrag/engine/retrieval"
	"github.com/kbrag/engine/settings"
)

type fakeVectorStore struct {
	hits []ragstore.SearchHit
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	return nil
}
func (f *fakeVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (f *fakeVectorStore) DropCollection(ctx context.Context, name string) error { return nil }
func (f *fakeVectorStore) Upsert(ctx context.Context, name string, points []ragstore.UpsertPoint, batchSize int) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, name string, query ragstore.Vector, opts ragstore.SearchOptions) ([]ragstore.SearchHit, error) {
	return f.hits, nil
}
func (f *fakeVectorStore) Scroll(ctx context.Context, name string, filter ragstore.Filter, limit int, cursor ragstore.ScrollCursor) ([]ragstore.ChunkRecord, ragstore.ScrollCursor, error) {
	return nil, "", nil
}
func (f *fakeVectorStore) DeleteByFilter(ctx context.Context, name string, filter ragstore.Filter) error {
	return nil
}
func (f *fakeVectorStore) Count(ctx context.Context, name string, filter ragstore.Filter) (int, error) {
	return 0, nil
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeLexicalStore struct{}

func (f *fakeLexicalStore) IndexChunks(ctx context.Context, kbID, documentID string, records []ragstore.ChunkRecord) error {
	return nil
}
func (f *fakeLexicalStore) DeleteByDocument(ctx context.Context, kbID, documentID string) error {
	return nil
}
func (f *fakeLexicalStore) Search(ctx context.Context, q ragstore.LexicalQuery) ([]ragstore.LexicalHit, error) {
	return nil, nil
}
func (f *fakeLexicalStore) Close() error { return nil }

type fakeEmbedder struct{}

func (f *fakeEmbedder) Dimension() int { return 4 }
func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) (ragstore.Vector, error) {
	return ragstore.Vector{0.1, 0.2, 0.3, 0.4}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]ragstore.Vector, error) {
	return nil, nil
}

type fakeLLM struct {
	content string
	model   string
	calls   int
	lastMsg []providers.Message
}

func (f *fakeLLM) Generate(ctx context.Context, params providers.GenerateParams) (providers.GenerateResult, error) {
	f.calls++
	f.lastMsg = params.Messages
	return providers.GenerateResult{Content: f.content, Model: f.model}, nil
}

func newTestOrchestrator(hits []ragstore.SearchHit, llm *fakeLLM) *Orchestrator {
	vs := &fakeVectorStore{hits: hits}
	engine := retrieval.New(vs, &fakeLexicalStore{}, &fakeEmbedder{}, nil)
	return New(engine, llm, nil, nil)
}

func TestAnswerReturnsNoInformationWhenNothingRetrieved(t *testing.T) {
	llm := &fakeLLM{content: "should not be called"}
	o := newTestOrchestrator(nil, llm)

	s := settings.Defaults()
	s.RetrievalMode = "dense"
	ans, err := o.Answer(context.Background(), Query{Question: "anything?", Settings: s, CollectionName: "c"})

	require.NoError(t, err)
	assert.Equal(t, noInformationAnswer, ans.Answer)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0, llm.calls)
}

func TestAnswerAssemblesContextAndCallsLLM(t *testing.T) {
	llm := &fakeLLM{content: "the answer", model: "test-model"}
	hits := []ragstore.SearchHit{
		{Record: ragstore.ChunkRecord{DocumentID: "d1", ChunkIndex: 0, Text: "relevant text", Filename: "doc.txt"}, Score: 0.8},
	}
	o := newTestOrchestrator(hits, llm)

	s := settings.Defaults()
	s.RetrievalMode = "dense"
	ans, err := o.Answer(context.Background(), Query{
		Question: "what is this about?", Settings: s, CollectionName: "c",
		SystemPrompt: "You are a helpful assistant.",
	})

	require.NoError(t, err)
	assert.Equal(t, "the answer", ans.Answer)
	assert.Equal(t, "test-model", ans.Model)
	assert.InDelta(t, 0.8, ans.Confidence, 0.001)
	assert.Contains(t, ans.ContextUsed, "relevant text")
	require.Equal(t, 1, llm.calls)

	last := llm.lastMsg[len(llm.lastMsg)-1]
	assert.Contains(t, last.Content, "<context>")
	assert.Contains(t, last.Content, "<question>what is this about?</question>")
}

func TestAnswerAddsVerbatimInstructionWhenAsked(t *testing.T) {
	llm := &fakeLLM{content: "the answer"}
	hits := []ragstore.SearchHit{
		{Record: ragstore.ChunkRecord{DocumentID: "d1", ChunkIndex: 0, Text: "q3 text", Filename: "doc.txt"}, Score: 0.5},
	}
	o := newTestOrchestrator(hits, llm)

	s := settings.Defaults()
	s.RetrievalMode = "dense"
	_, err := o.Answer(context.Background(), Query{Question: "show me question 3", Settings: s, CollectionName: "c"})
	require.NoError(t, err)

	last := llm.lastMsg[len(llm.lastMsg)-1]
	assert.Contains(t, last.Content, "verbatim")
}

func TestBuildMessagesCapsHistoryAtTen(t *testing.T) {
	q := Query{Question: "q"}
	for i := 0; i < 15; i++ {
		q.History = append(q.History, HistoryMessage{Role: providers.RoleUser, Content: "msg"})
	}
	msgs := buildMessages(q, "ctx")
	// 10 history + 1 final user message, no system prompt supplied
	assert.Len(t, msgs, 11)
}

func TestSelfCheckReplacesAnswer(t *testing.T) {
	llm := &fakeLLM{content: "validated answer"}
	o := newTestOrchestrator(nil, llm)

	got, err := o.SelfCheck(context.Background(), "validator prompt", "q", "draft", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "validated answer", got)
}
