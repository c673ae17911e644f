package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbrag/engine/errorsx"
)

func TestRegisterAndGetLLMFactory(t *testing.T) {
	RegisterLLM("test-stub-llm", func(config map[string]interface{}) (LLMProvider, error) {
		return nil, nil
	})
	_, err := GetLLMFactory("test-stub-llm")
	require.NoError(t, err)
}

func TestGetLLMFactoryUnknownName(t *testing.T) {
	_, err := GetLLMFactory("does-not-exist-llm")
	require.Error(t, err)
	require.True(t, errorsx.Is(err, errorsx.InvalidConfig))
}
