package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/ragstore"
)

func init() {
	RegisterEmbedder("openai", NewOpenAIEmbedder)
}

const defaultEmbeddingAPI = "https://api.openai.com/v1/embeddings"

var embeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder implements EmbeddingProvider against OpenAI's (or an
// OpenAI-compatible) embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey    string
	client    *http.Client
	apiURL    string
	modelName string
	dimension int
}

// NewOpenAIEmbedder builds an OpenAIEmbedder from config keys "api_key"
// (required), "model", "api_url", "timeout", "dimension".
func NewOpenAIEmbedder(config map[string]interface{}) (EmbeddingProvider, error) {
	apiKey, ok := config["api_key"].(string)
	if !ok || apiKey == "" {
		return nil, errorsx.New(errorsx.InvalidConfig, "openai embedder: api_key is required")
	}

	e := &OpenAIEmbedder{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		apiURL:    defaultEmbeddingAPI,
		modelName: "text-embedding-3-small",
	}
	if model, ok := config["model"].(string); ok && model != "" {
		e.modelName = model
	}
	if apiURL, ok := config["api_url"].(string); ok && apiURL != "" {
		e.apiURL = apiURL
	}
	if timeout, ok := config["timeout"].(time.Duration); ok {
		e.client.Timeout = timeout
	}
	if dim, ok := config["dimension"].(int); ok && dim > 0 {
		e.dimension = dim
	} else if d, known := embeddingDimensions[e.modelName]; known {
		e.dimension = d
	}
	return e, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Input interface{} `json:"input"`
	Model string      `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedOne embeds a single text. Blank text is rejected per §4.2.
func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) (ragstore.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errorsx.New(errorsx.EmptyInput, "openai embedder: empty text")
	}
	vecs, err := e.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds many texts in a single request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]ragstore.Vector, error) {
	if len(texts) == 0 {
		return nil, errorsx.New(errorsx.EmptyInput, "openai embedder: empty batch")
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, errorsx.New(errorsx.EmptyInput, "openai embedder: empty text in batch")
		}
	}
	return e.call(ctx, texts)
}

func (e *OpenAIEmbedder) call(ctx context.Context, texts []string) ([]ragstore.Vector, error) {
	var input interface{} = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	reqBody, err := json.Marshal(embeddingRequest{Input: input, Model: e.modelName})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderPermanent, "openai embedder: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderPermanent, "openai embedder: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errorsx.Wrap(err, errorsx.ProviderTransient, "openai embedder: timeout")
		}
		return nil, errorsx.Wrap(err, errorsx.ProviderTransient, "openai embedder: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderTransient, "openai embedder: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errorsx.Newf(errorsx.ProviderTransient, "openai embedder: status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorsx.Newf(errorsx.ProviderPermanent, "openai embedder: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderPermanent, "openai embedder: unmarshal response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, errorsx.Newf(errorsx.ProviderPermanent, "openai embedder: expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	vecs := make([]ragstore.Vector, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
