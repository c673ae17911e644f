// Package rag composes the structure filter, retrieval engine, and LLM
// provider into the end-to-end question-answering flow (§4.10), grounded
// on the teacher's ContextualRAG.Search (context-block assembly, average-
// relevance-score logging) and RAG.processResults result shaping.
package rag

import (
	"context"
	"strings"

	"github.com/kbrag/engine/logging"
	"github.com/kbrag/engine/ragstore"
	"github.com/kbrag/engine/ragstore/providers"
	"github.com/kbrag/engine/retrieval"
	"github.com/kbrag/engine/settings"
	"github.com/kbrag/engine/structure"
)

const noInformationAnswer = "I could not find any relevant information to answer your question."

// maxHistoryMessages is §4.10's cap on how many prior conversation
// messages are replayed to the LLM.
const maxHistoryMessages = 10

// HistoryMessage is one turn of prior conversation.
type HistoryMessage struct {
	Role    providers.Role
	Content string
}

// Query is one question posed against a KB.
type Query struct {
	Question          string
	SystemPrompt      string // externally supplied template (§4.10 step 4)
	History           []HistoryMessage
	DocumentFilenames []string // used for intent extraction, when UseStructure
	Candidates        []structure.DocumentCandidate
	DocumentIDs       []string
	Settings          settings.Effective
	CollectionName    string
	KnowledgeBaseID   string
}

// Answer is the orchestrator's result (§4.10 step 5).
type Answer struct {
	Answer      string
	Sources     []ragstore.RetrievedChunk
	Query       string
	ContextUsed string
	Model       string
	Confidence  float64
}

// Orchestrator runs one KB's end-to-end RAG flow.
type Orchestrator struct {
	retriever *retrieval.Engine
	llm       providers.LLMProvider
	limiter   *structure.Limiter
	log       logging.Logger
}

// New builds an Orchestrator. limiter may be nil to disable rate limiting
// on intent extraction (e.g. in tests).
func New(retriever *retrieval.Engine, llm providers.LLMProvider, limiter *structure.Limiter, log logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Global
	}
	return &Orchestrator{retriever: retriever, llm: llm, limiter: limiter, log: log}
}

// Answer runs the full §4.10 flow for one query.
func (o *Orchestrator) Answer(ctx context.Context, q Query) (Answer, error) {
	var structureFilter *ragstore.Filter
	if q.Settings.UseStructure {
		intent := structure.ExtractIntent(ctx, o.llm, o.limiter, q.Question, q.DocumentFilenames)
		structureFilter = structure.TranslateFilter(intent, q.Candidates)
	}

	chunks, err := o.retriever.Retrieve(ctx, retrieval.Request{
		Query:           q.Question,
		CollectionName:  q.CollectionName,
		KnowledgeBaseID: q.KnowledgeBaseID,
		Settings:        q.Settings,
		StructureFilter: structureFilter,
		DocumentIDs:     q.DocumentIDs,
	})
	if err != nil {
		return Answer{}, err
	}

	if len(chunks) == 0 {
		o.log.Info("no chunks retrieved", "question", q.Question)
		return Answer{Answer: noInformationAnswer, Query: q.Question}, nil
	}

	contextStr := retrieval.AssembleContext(chunks, q.Settings.MaxContextChars, o.log)

	messages := buildMessages(q, contextStr)
	result, err := o.llm.Generate(ctx, providers.GenerateParams{Messages: messages})
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Answer:      result.Content,
		Sources:     chunks,
		Query:       q.Question,
		ContextUsed: contextStr,
		Model:       result.Model,
		Confidence:  averageScore(chunks),
	}, nil
}

// SelfCheck re-invokes the LLM with a validator prompt and replaces the
// draft answer with the validator's output (§4.10's optional self-check).
func (o *Orchestrator) SelfCheck(ctx context.Context, validatorSystemPrompt, question, draftAnswer, contextUsed string) (string, error) {
	result, err := o.llm.Generate(ctx, providers.GenerateParams{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: validatorSystemPrompt},
			{Role: providers.RoleUser, Content: "Question: " + question + "\nDraft answer: " + draftAnswer + "\nContext: " + contextUsed},
		},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// verbatimTriggers are the phrases §4.10 step 4 says should add a
// "show verbatim question" instruction to the final user message.
var verbatimTriggers = []string{"show", "display", "give", "list"}

func buildMessages(q Query, contextStr string) []providers.Message {
	messages := make([]providers.Message, 0, len(q.History)+2)
	if q.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: q.SystemPrompt})
	}

	history := q.History
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, h := range history {
		messages = append(messages, providers.Message{Role: h.Role, Content: h.Content})
	}

	userMsg := "<context>" + contextStr + "</context>\n<question>" + q.Question + "</question>"
	if wantsVerbatimQuestion(q.Question) {
		userMsg += "\nIf the question asks to show, display, give, or list a numbered question, reproduce that question verbatim from the context."
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: userMsg})
	return messages
}

func wantsVerbatimQuestion(question string) bool {
	lower := strings.ToLower(question)
	for _, trigger := range verbatimTriggers {
		if strings.Contains(lower, trigger) && strings.Contains(lower, "question") {
			return true
		}
	}
	return false
}

func averageScore(chunks []ragstore.RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Score
	}
	return sum / float64(len(chunks))
}
