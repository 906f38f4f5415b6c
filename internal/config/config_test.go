package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 320, cfg.Chunking.WindowSize)
	assert.Equal(t, 60, cfg.Chunking.Overlap)
	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.SourceTimeout)
	assert.Equal(t, "docs", cfg.Elasticsearch.Index)
	assert.Equal(t, "my-elser-endpoint", cfg.Elasticsearch.ElserInferenceID)
	assert.Equal(t, "elser-v2-mltokens", cfg.Elasticsearch.PipelineID)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Retrieval, cfg.Retrieval)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "pdfrag", "config.yaml"), `
retrieval:
  top_k: 7
  rrf_constant: 30
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".pdfrag.yaml"), `
retrieval:
  top_k: 9
  source_timeout: 250ms
chunking:
  overlap: 0
`)

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: project wins, user fills the gaps, untouched keys keep defaults
	assert.Equal(t, 9, cfg.Retrieval.TopK)
	assert.Equal(t, 30, cfg.Retrieval.RRFConstant)
	assert.Equal(t, 250*time.Millisecond, cfg.Retrieval.SourceTimeout)
	assert.Equal(t, 0, cfg.Chunking.Overlap, "explicit zero overlap is honoured")
	assert.Equal(t, 320, cfg.Chunking.WindowSize)
	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".pdfrag.yml"), "backend: local\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Backend)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".pdfrag.yaml"), "retrieval:\n  topk: 3\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.GetCode(err))
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".pdfrag.yaml"), "retrieval:\n  top_k: 9\n")

	t.Setenv("TOP_K", "3")
	t.Setenv("RETRIEVAL_MODE", "elser_only")
	t.Setenv("ELASTIC_URL", "http://es:9200")
	t.Setenv("ELASTIC_INDEX", "colregs")
	t.Setenv("ELSER_INFERENCE_ID", "elser-x")
	t.Setenv("PDFRAG_SOURCE_TIMEOUT", "2s")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "elser_only", cfg.Retrieval.Mode)
	assert.Equal(t, "http://es:9200", cfg.Elasticsearch.URL)
	assert.Equal(t, "colregs", cfg.Elasticsearch.Index)
	assert.Equal(t, "elser-x", cfg.Elasticsearch.ElserInferenceID)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.SourceTimeout)
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("TOP_K", "many")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.GetCode(err))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero window", func(c *Config) { c.Chunking.WindowSize = 0 }, "chunking.window_size"},
		{"overlap equals window", func(c *Config) { c.Chunking.Overlap = c.Chunking.WindowSize }, "chunking.overlap"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, "retrieval.top_k"},
		{"bad mode", func(c *Config) { c.Retrieval.Mode = "dense_only" }, "retrieval.mode"},
		{"zero fan-out", func(c *Config) { c.Retrieval.FanOutMultiplier = 0 }, "retrieval.fan_out_multiplier"},
		{"zero K", func(c *Config) { c.Retrieval.RRFConstant = 0 }, "retrieval.rrf_constant"},
		{"zero timeout", func(c *Config) { c.Retrieval.SourceTimeout = 0 }, "retrieval.source_timeout"},
		{"bad backend", func(c *Config) { c.Backend = "qdrant" }, "backend"},
		{"bad lexical", func(c *Config) { c.Local.LexicalBackend = "lucene" }, "local.lexical_backend"},
		{"bad vector", func(c *Config) { c.Local.VectorBackend = "faiss" }, "local.vector_backend"},
		{"bad provider", func(c *Config) { c.Embeddings.Provider = "openai" }, "embeddings.provider"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			ae, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeConfigInvalid, ae.Code)
			assert.Equal(t, tt.field, ae.Details["field"])
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoadFile(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Backend = BackendLocal
	cfg.Retrieval.SourceTimeout = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, loaded.Backend)
	assert.Equal(t, 1500*time.Millisecond, loaded.Retrieval.SourceTimeout)
}

func TestBackupFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	// No file, no backup
	got, err := BackupFile(path)
	require.NoError(t, err)
	assert.Empty(t, got)

	writeFile(t, path, "backend: local\n")
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)

	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "backend: local\n", string(data))
}

func TestLoadDotEnv(t *testing.T) {
	// Given: a .env file and one variable already exported
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "ELASTIC_INDEX=from-dotenv\nTOP_K=4\n")
	t.Setenv("TOP_K", "8")
	t.Setenv("ELASTIC_INDEX", "")
	require.NoError(t, os.Unsetenv("ELASTIC_INDEX"))

	// When: the file is loaded before the config
	require.NoError(t, LoadDotEnv(dir))
	t.Cleanup(func() { _ = os.Unsetenv("ELASTIC_INDEX") })
	cfg, err := Load(dir)

	// Then: the file fills gaps but does not override the environment
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Elasticsearch.Index)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(t.TempDir()))
}
