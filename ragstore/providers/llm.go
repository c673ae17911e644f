package providers

import (
	"context"
	"sync"

	"github.com/kbrag/engine/errorsx"
)

// Role names a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat completion request (§4.3).
type Message struct {
	Role    Role
	Content string
}

// GenerateParams configures one LLM call. Temperature is a pointer so it
// can be omitted entirely for reasoning models that reject it (§4.3).
type GenerateParams struct {
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// GenerateResult is the LLM's response plus token accounting (§4.3).
type GenerateResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// LLMProvider is the chat-completion contract every LLM backend
// implements (§4.3).
type LLMProvider interface {
	Generate(ctx context.Context, params GenerateParams) (GenerateResult, error)
}

// LLMFactory builds an LLMProvider from provider-specific configuration.
type LLMFactory func(config map[string]interface{}) (LLMProvider, error)

var (
	llmMu        sync.RWMutex
	llmFactories = make(map[string]LLMFactory)
)

// RegisterLLM registers a factory under a provider name.
func RegisterLLM(name string, factory LLMFactory) {
	llmMu.Lock()
	defer llmMu.Unlock()
	llmFactories[name] = factory
}

// GetLLMFactory looks up a previously registered factory.
func GetLLMFactory(name string) (LLMFactory, error) {
	llmMu.RLock()
	defer llmMu.RUnlock()
	factory, ok := llmFactories[name]
	if !ok {
		return nil, errorsx.Newf(errorsx.InvalidConfig, "llm provider not registered: %s", name)
	}
	return factory, nil
}
