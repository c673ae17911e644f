package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/ragstore"
)

func init() {
	RegisterEmbedder("ollama", NewOllamaEmbedder)
}

const defaultOllamaURL = "http://localhost:11434/api/embeddings"

// OllamaEmbedder implements EmbeddingProvider against a local Ollama
// server. Ollama's embeddings endpoint is single-text per request, so
// EmbedBatch issues one call per text rather than a native batch call.
type OllamaEmbedder struct {
	client    *http.Client
	apiURL    string
	modelName string
	dimension int
}

// NewOllamaEmbedder builds an OllamaEmbedder from config keys "model"
// (required), "api_url", "timeout", "dimension".
func NewOllamaEmbedder(config map[string]interface{}) (EmbeddingProvider, error) {
	model, ok := config["model"].(string)
	if !ok || model == "" {
		return nil, errorsx.New(errorsx.InvalidConfig, "ollama embedder: model is required")
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Timeout: 60 * time.Second},
		apiURL:    defaultOllamaURL,
		modelName: model,
	}
	if apiURL, ok := config["api_url"].(string); ok && apiURL != "" {
		e.apiURL = apiURL
	}
	if timeout, ok := config["timeout"].(time.Duration); ok {
		e.client.Timeout = timeout
	}
	if dim, ok := config["dimension"].(int); ok && dim > 0 {
		e.dimension = dim
	}
	return e, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEmbedder) EmbedOne(ctx context.Context, text string) (ragstore.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errorsx.New(errorsx.EmptyInput, "ollama embedder: empty text")
	}

	reqBody, err := json.Marshal(ollamaEmbeddingRequest{Model: e.modelName, Prompt: text})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderPermanent, "ollama embedder: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderPermanent, "ollama embedder: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderTransient, "ollama embedder: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderTransient, "ollama embedder: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errorsx.Newf(errorsx.ProviderTransient, "ollama embedder: status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorsx.Newf(errorsx.ProviderPermanent, "ollama embedder: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ProviderPermanent, "ollama embedder: unmarshal response")
	}
	return parsed.Embedding, nil
}

// EmbedBatch issues one EmbedOne call per text, per §4.6's smaller
// batch-size default for local providers.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]ragstore.Vector, error) {
	if len(texts) == 0 {
		return nil, errorsx.New(errorsx.EmptyInput, "ollama embedder: empty batch")
	}
	vecs := make([]ragstore.Vector, len(texts))
	for i, t := range texts {
		v, err := e.EmbedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}
