package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/kbrag/engine/errorsx"
)

func init() {
	RegisterLLM("openai", NewOpenAILLM)
}

const defaultChatAPI = "https://api.openai.com/v1/chat/completions"

// OpenAILLM implements LLMProvider against OpenAI's (or an
// OpenAI-compatible) chat completions endpoint.
type OpenAILLM struct {
	apiKey    string
	client    *http.Client
	apiURL    string
	modelName string
}

// NewOpenAILLM builds an OpenAILLM from config keys "api_key" (required),
// "model", "api_url", "timeout".
func NewOpenAILLM(config map[string]interface{}) (LLMProvider, error) {
	apiKey, ok := config["api_key"].(string)
	if !ok || apiKey == "" {
		return nil, errorsx.New(errorsx.InvalidConfig, "openai llm: api_key is required")
	}

	l := &OpenAILLM{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 60 * time.Second},
		apiURL:    defaultChatAPI,
		modelName: "gpt-4o-mini",
	}
	if model, ok := config["model"].(string); ok && model != "" {
		l.modelName = model
	}
	if apiURL, ok := config["api_url"].(string); ok && apiURL != "" {
		l.apiURL = apiURL
	}
	if timeout, ok := config["timeout"].(time.Duration); ok {
		l.client.Timeout = timeout
	}
	return l, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends the message sequence to the chat completions endpoint.
// A nil Temperature is omitted from the request entirely so reasoning
// models that reject the field are not sent one (§4.3).
func (l *OpenAILLM) Generate(ctx context.Context, params GenerateParams) (GenerateResult, error) {
	if len(params.Messages) == 0 {
		return GenerateResult{}, errorsx.New(errorsx.EmptyInput, "openai llm: empty messages")
	}

	messages := make([]chatMessage, len(params.Messages))
	for i, m := range params.Messages {
		messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:       l.modelName,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return GenerateResult{}, errorsx.Wrap(err, errorsx.ProviderPermanent, "openai llm: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return GenerateResult{}, errorsx.Wrap(err, errorsx.ProviderPermanent, "openai llm: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return GenerateResult{}, errorsx.Wrap(err, errorsx.ProviderTransient, "openai llm: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResult{}, errorsx.Wrap(err, errorsx.ProviderTransient, "openai llm: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return GenerateResult{}, errorsx.Newf(errorsx.ProviderTransient, "openai llm: status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return GenerateResult{}, errorsx.Newf(errorsx.ProviderPermanent, "openai llm: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GenerateResult{}, errorsx.Wrap(err, errorsx.ProviderPermanent, "openai llm: unmarshal response")
	}
	if len(parsed.Choices) == 0 {
		return GenerateResult{}, errorsx.New(errorsx.ProviderPermanent, "openai llm: no choices in response")
	}

	return GenerateResult{
		Content:          parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}
