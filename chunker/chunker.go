// Package chunker splits normalized document text into bounded, overlapping
// chunks suitable for embedding and lexical indexing. Chunking is a tagged
// variant (fixed_size, smart, semantic) dispatched behind one Split
// contract, mirroring the polymorphism the teacher uses for its
// TextChunker/TokenCounter pair in rag/chunk.go, generalized here from a
// token budget to the char budget and boundary-search rules the engine
// requires.
package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kbrag/engine/errorsx"
)

// Strategy names the chunking algorithm to dispatch to.
type Strategy string

const (
	StrategyFixedSize Strategy = "fixed_size"
	StrategySmart     Strategy = "smart"
	StrategySemantic  Strategy = "semantic"
)

// Params are the chunking parameters carried by a KnowledgeBase.
type Params struct {
	// ChunkSize is the maximum length of a chunk in characters.
	ChunkSize int
	// ChunkOverlap is the approximate number of characters shared between
	// consecutive chunks. Must be strictly less than ChunkSize.
	ChunkOverlap int
	// RespectBoundaries enables the backward boundary search described in
	// the smart/semantic strategies; ignored by fixed_size.
	RespectBoundaries bool
	// TokenCounter populates each Chunk's TokenCount, used for reporting;
	// context assembly is capped by characters, not by this count.
	// Defaults to DefaultTokenCounter when nil.
	TokenCounter TokenCounter
}

// Chunk is one bounded, contiguous slice of a document's normalized text.
type Chunk struct {
	Content    string
	ChunkIndex int
	CharCount  int
	WordCount  int
	TokenCount int
	StartChar  int
	EndChar    int
}

// TokenCounter counts tokens in a text segment, used to populate
// Chunk.TokenCount for reporting.
type TokenCounter interface {
	Count(text string) int
}

// DefaultTokenCounter approximates a token as a whitespace-delimited word,
// cheap and dependency-free for callers that don't need model-accurate
// counts.
type DefaultTokenCounter struct{}

func (DefaultTokenCounter) Count(text string) int { return wordCount(text) }

// TikTokenCounter counts tokens using the same byte-pair encoding OpenAI's
// models use, for accurate context-window budgeting against a real model.
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTikTokenCounter builds a TikTokenCounter for the named encoding, e.g.
// "cl100k_base" for GPT-4/ChatGPT-family models.
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.InvalidConfig, "chunker: load tiktoken encoding")
	}
	return &TikTokenCounter{tke: tke}, nil
}

func (t *TikTokenCounter) Count(text string) int {
	return len(t.tke.Encode(text, nil, nil))
}

// Chunker splits text into an ordered sequence of Chunks.
type Chunker interface {
	Split(text string, params Params) ([]Chunk, error)
}

// New returns the Chunker for the given strategy.
func New(strategy Strategy) Chunker {
	switch strategy {
	case StrategySmart:
		return smartChunker{}
	case StrategySemantic:
		return semanticChunker{}
	default:
		return fixedChunker{}
	}
}

// Normalize collapses runs of spaces/tabs to a single space, collapses 3+
// newlines to 2, and trims the result. Normalization is idempotent.
func Normalize(text string) string {
	var b strings.Builder
	spaceRun := false
	for _, r := range text {
		if r == ' ' || r == '\t' {
			if spaceRun {
				continue
			}
			spaceRun = true
			b.WriteRune(' ')
			continue
		}
		spaceRun = false
		b.WriteRune(r)
	}
	collapsed := b.String()
	for strings.Contains(collapsed, "\n\n\n") {
		collapsed = strings.ReplaceAll(collapsed, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(collapsed)
}

func wordCount(s string) int { return len(strings.Fields(s)) }

// fixedChunker cuts exactly at chunk_size with no boundary preference.
type fixedChunker struct{}

func (fixedChunker) Split(text string, params Params) ([]Chunk, error) {
	return split(text, params, false)
}

// smartChunker respects sentence/paragraph/word boundaries when cutting.
type smartChunker struct{}

func (smartChunker) Split(text string, params Params) ([]Chunk, error) {
	return split(text, params, true)
}

// semanticChunker behaves like smartChunker for the purposes of this
// engine: both search for a natural boundary within the tail of the
// window, the distinction upstream systems draw (grouping by embedding
// similarity) is out of scope without a second embedding pass per chunk
// candidate, which the spec does not budget for.
type semanticChunker struct{}

func (semanticChunker) Split(text string, params Params) ([]Chunk, error) {
	return split(text, params, true)
}

// split implements the shared algorithm: normalize, then repeatedly emit a
// window of length <= ChunkSize, optionally snapping its end to a nearby
// boundary. Each next window starts ChunkOverlap characters before the
// previous window's (possibly snapped) end, or ChunkSize-ChunkOverlap past
// the previous start if that would not move forward.
func split(text string, params Params, respectBoundaries bool) ([]Chunk, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, errorsx.New(errorsx.EmptyInput, "chunker: empty input after normalization")
	}
	if params.ChunkSize <= 0 {
		return nil, errorsx.New(errorsx.InvalidConfig, "chunker: chunk_size must be positive")
	}
	if params.ChunkOverlap >= params.ChunkSize {
		return nil, errorsx.New(errorsx.InvalidConfig, "chunker: chunk_overlap must be less than chunk_size")
	}

	counter := params.TokenCounter
	if counter == nil {
		counter = DefaultTokenCounter{}
	}

	runes := []rune(normalized)
	n := len(runes)
	stride := params.ChunkSize - params.ChunkOverlap

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + params.ChunkSize
		if end > n {
			end = n
		} else if respectBoundaries && params.RespectBoundaries {
			end = snapToBoundary(runes, start, end, params.ChunkSize)
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				ChunkIndex: len(chunks),
				CharCount:  len([]rune(content)),
				WordCount:  wordCount(content),
				TokenCount: counter.Count(content),
				StartChar:  start,
				EndChar:    end,
			})
		}
		if end >= n {
			break
		}
		next := end - params.ChunkOverlap
		if next <= start {
			next = start + stride
		}
		start = next
	}
	return chunks, nil
}

// snapToBoundary scans backward from end, within the last 20% of
// chunkSize, for a sentence terminator followed by whitespace, a
// paragraph break, or a word boundary, in that priority order, per §4.1.
func snapToBoundary(runes []rune, start, end, chunkSize int) int {
	lookback := chunkSize / 5
	floor := end - lookback
	if floor < start {
		floor = start
	}

	for i := end - 1; i > floor; i-- {
		if i+1 < len(runes) && isSentenceTerminator(runes[i]) && isWhitespace(runes[i+1]) {
			return i + 1
		}
	}
	for i := end - 1; i > floor+1; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i > floor; i-- {
		if isWhitespace(runes[i]) {
			return i
		}
	}
	return end
}

func isSentenceTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }
func isWhitespace(r rune) bool         { return r == ' ' || r == '\n' || r == '\t' }
