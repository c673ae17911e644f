package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/ragstore/providers"
	"github.com/kbrag/engine/store"
)

// analysisSystemPrompt is the system message for structure analysis; the
// instructions for a flat, per-question table of contents (mirroring the
// original implementation's DocumentAnalyzer.ANALYSIS_PROMPT) are in
// analysisUserPrompt.
const analysisSystemPrompt = "You are a document structure analyzer. Return only valid JSON."

// AnalysisChunk is one ordered, indexed chunk of a document's text, the
// unit document structure analysis reasons over.
type AnalysisChunk struct {
	Index int
	Text  string
}

// SampleParams bounds how much of a document's chunk stream is fed to the
// LLM, matching the original's STRUCTURE_ANALYSIS_MAX_CHUNKS /
// STRUCTURE_ANALYSIS_MAX_CHARS_PER_CHUNK / STRUCTURE_ANALYSIS_MAX_TOTAL_CHARS
// knobs. Zero means unlimited for each.
type SampleParams struct {
	MaxChunks        int
	MaxCharsPerChunk int
	MaxTotalChars    int
}

// Analysis is the parsed result of one document-structure analysis call.
type Analysis struct {
	DocumentType string          `json:"document_type"`
	Description  string          `json:"description"`
	Sections     []store.Section `json:"sections"`
}

// Analyze asks llm to build a hierarchical table of contents for a
// document's chunks, rate limited by limiter (§5's
// structure_requests_per_minute, shared with intent extraction). It
// returns an error rather than degrading gracefully, since unlike query-
// time intent extraction there is no safe fallback behavior for a failed
// structure analysis: the caller must retry or leave the document
// without a stored structure.
func Analyze(ctx context.Context, llm providers.LLMProvider, limiter *Limiter, filename string, chunks []AnalysisChunk, params SampleParams) (Analysis, error) {
	if len(chunks) == 0 {
		return Analysis{}, errorsx.New(errorsx.EmptyInput, "structure: no chunks to analyze")
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Analysis{}, errorsx.Wrap(err, errorsx.IntentFailure, "structure: rate limiter wait failed")
		}
	}

	sample := sampleContent(chunks, params)
	prompt := analysisUserPrompt(filename, len(chunks), sample)

	result, err := llm.Generate(ctx, providers.GenerateParams{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: analysisSystemPrompt},
			{Role: providers.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Analysis{}, errorsx.Wrap(err, errorsx.IntentFailure, "structure: analysis LLM call failed")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &analysis); err != nil {
		return Analysis{}, errorsx.Wrap(err, errorsx.IntentFailure, "structure: analysis response was not valid JSON")
	}
	if analysis.DocumentType == "" {
		return Analysis{}, errorsx.New(errorsx.IntentFailure, "structure: analysis response missing document_type")
	}
	return analysis, nil
}

// sampleContent truncates the chunk stream to params' limits and renders
// it as "[Chunk i]\n{text}\n\n" blocks, the same shape the original's
// _prepare_content_sample builds for its prompt.
func sampleContent(chunks []AnalysisChunk, params SampleParams) string {
	sample := chunks
	if params.MaxChunks > 0 && len(sample) > params.MaxChunks {
		sample = sample[:params.MaxChunks]
	}

	var b strings.Builder
	for _, c := range sample {
		b.WriteString(fmt.Sprintf("[Chunk %d]\n", c.Index))
		text := c.Text
		if params.MaxCharsPerChunk > 0 && len(text) > params.MaxCharsPerChunk {
			text = text[:params.MaxCharsPerChunk]
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	content := b.String()
	if params.MaxTotalChars > 0 && len(content) > params.MaxTotalChars {
		content = content[:params.MaxTotalChars] + "\n... (truncated)"
	}
	return content
}

func analysisUserPrompt(filename string, totalChunks int, contentSample string) string {
	var b strings.Builder
	b.WriteString("Analyze this document and create a hierarchical table of contents.\n\n")
	fmt.Fprintf(&b, "Document: %s\nTotal chunks: %d\n\n", filename, totalChunks)
	b.WriteString("Content (first chunks):\n")
	b.WriteString(contentSample)
	b.WriteString("\n\nYour task:\n")
	b.WriteString("1. Identify the document type (e.g. tma_questions, textbook_chapter, lecture_notes, documentation)\n")
	b.WriteString("2. Create a FLAT structure with minimal nesting - prioritize main sections over subsections\n")
	b.WriteString("3. Map each section to chunk ranges (chunk_start, chunk_end)\n")
	b.WriteString("4. Extract relevant metadata (e.g. marks for questions, section numbers)\n\n")
	b.WriteString("For assessment documents, create one section per numbered question; do not group " +
		"multiple questions together and do not split sub-parts like (a)/(b) into their own sections.\n\n")
	b.WriteString(`Return ONLY valid JSON: {"document_type":"...","description":"...","sections":[` +
		`{"id":"...","title":"...","type":"...","chunk_start":0,"chunk_end":0,"metadata":{},"subsections":[]}]}`)
	return b.String()
}
