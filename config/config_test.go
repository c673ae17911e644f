package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutFileOrEnv(t *testing.T) {
	t.Setenv("KBRAG_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkerPoolSize)
	require.Equal(t, 100, cfg.EmbeddingBatchSize)
	require.Equal(t, 256, cfg.UpsertBatchSize)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding_provider: from-file\nllm_provider: from-file\n"), 0o600))
	t.Setenv("KBRAG_CONFIG", path)
	t.Setenv("KBRAG_EMBEDDING_PROVIDER", "ollama")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "ollama", cfg.EmbeddingProvider)
	require.Equal(t, "from-file", cfg.LLMProvider)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kbrag.yaml")
	cfg := defaults()
	cfg.MetadataDSN = "postgres://test"
	require.NoError(t, cfg.Save(path))

	t.Setenv("KBRAG_CONFIG", path)
	loaded, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://test", loaded.MetadataDSN)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
