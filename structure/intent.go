// Package structure extracts "which section of which document" intent
// from a user question via an LLM call, then translates that intent into
// a chunk-index range filter over a document's stored section tree
// (§4.9). The LLM-call shape is grounded on the teacher's
// llm.Generate(ctx, gollm.NewPrompt(...)) call in rag.go, re-expressed
// through the engine's own providers.LLMProvider contract.
package structure

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kbrag/engine/ragstore/providers"
)

// IntentType classifies what the user is asking for.
type IntentType string

const (
	IntentStructuredSearch IntentType = "structured_search"
	IntentSemanticSearch   IntentType = "semantic_search"
	IntentUnknown          IntentType = "unknown"
)

// Intent is the structured result of intent extraction (§4.9).
type Intent struct {
	IntentType    IntentType `json:"intent_type"`
	DocumentName  string     `json:"document_name,omitempty"`
	SectionType   string     `json:"section_type,omitempty"` // question|section|chapter
	SectionNumber string     `json:"section_number,omitempty"`
	SectionID     string     `json:"section_id,omitempty"`
	Confidence    float64    `json:"confidence"`
}

// confidenceThreshold is §4.9's floor below which a structured intent is
// discarded in favor of no filter.
const confidenceThreshold = 0.6

// Limiter bounds LLM calls for intent extraction and document-structure
// analysis to a fixed rate (§5), shared across one process regardless of
// how many requests concur.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter builds a token-bucket limiter refilling at
// requestsPerMinute, with a burst of 1 (no bursting beyond the steady
// rate, since intent extraction and structure analysis calls are not
// expected to arrive bursty).
func NewLimiter(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	perSecond := float64(requestsPerMinute) / 60.0
	return &Limiter{inner: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Wait blocks until the limiter admits one more call, or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.inner.Wait(ctx)
}

// ExtractIntent calls the LLM with a low-temperature prompt built from the
// question and the KB's document filenames, and parses its JSON reply.
// Any error or parse failure degrades to IntentSemanticSearch rather than
// failing the caller (§4.9).
func ExtractIntent(ctx context.Context, llm providers.LLMProvider, limiter *Limiter, question string, documentFilenames []string) Intent {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Intent{IntentType: IntentSemanticSearch}
		}
	}

	temp := 0.0
	result, err := llm.Generate(ctx, providers.GenerateParams{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: intentSystemPrompt(documentFilenames)},
			{Role: providers.RoleUser, Content: question},
		},
		Temperature: &temp,
	})
	if err != nil {
		return Intent{IntentType: IntentSemanticSearch}
	}

	var intent Intent
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &intent); err != nil {
		return Intent{IntentType: IntentSemanticSearch}
	}
	if intent.IntentType == "" {
		intent.IntentType = IntentSemanticSearch
	}
	return intent
}

func intentSystemPrompt(filenames []string) string {
	var b strings.Builder
	b.WriteString("Classify the user's question as one of: structured_search, semantic_search, unknown.\n")
	b.WriteString("Reply with JSON only: {\"intent_type\":..., \"document_name\":..., \"section_type\":\"question|section|chapter\", \"section_number\":..., \"section_id\":..., \"confidence\":0..1}.\n")
	b.WriteString("Known documents: ")
	b.WriteString(strings.Join(filenames, ", "))
	return b.String()
}

// extractJSON trims any prose surrounding a JSON object a model might add
// despite being asked for JSON only, taking the substring from the first
// '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

// IsStructured reports whether an Intent should drive a structure filter
// (§4.9: intent_type=structured_search and confidence >= 0.6).
func (i Intent) IsStructured() bool {
	return i.IntentType == IntentStructuredSearch && i.Confidence >= confidenceThreshold
}
