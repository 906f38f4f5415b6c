package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShow_RedactsCredentials(t *testing.T) {
	// Given: credentials in the environment
	dir := isolate(t)
	t.Setenv("ELASTIC_PASSWORD", "hunter2")
	t.Setenv("ELASTIC_API_KEY", "c2VjcmV0")

	// When: the effective config is shown as yaml
	out, err := run(t, "--dir", dir, "config", "show")

	// Then: neither secret is printed
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "c2VjcmV0")
	assert.Contains(t, out, "backend: local")
}

func TestConfigShow_JSON(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "--dir", dir, "config", "show", "--json")

	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "local", parsed["backend"])
}

func TestConfigShow_ReadsDotEnv(t *testing.T) {
	// Given: a .env in the working directory and no matching variable
	dir := isolate(t)
	t.Setenv("TOP_K", "")
	require.NoError(t, os.Unsetenv("TOP_K"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOP_K=9\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("TOP_K") })

	// When: the config is shown
	out, err := run(t, "--dir", dir, "config", "show", "--json")

	// Then: the value comes from .env
	require.NoError(t, err)
	var parsed struct {
		Retrieval struct {
			TopK int `json:"top_k"`
		} `json:"retrieval"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, 9, parsed.Retrieval.TopK)
}

func TestConfigInit_WritesProjectFile(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "--dir", dir, "config", "init")

	require.NoError(t, err)
	assert.Contains(t, out, "Created configuration")
	assert.FileExists(t, filepath.Join(dir, ".pdfrag.yaml"))
}

func TestConfigInit_KeepsExistingWithoutForce(t *testing.T) {
	// Given: an existing project config
	dir := isolate(t)
	path := filepath.Join(dir, ".pdfrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: local\n"), 0o644))

	// When: init runs without --force
	out, err := run(t, "--dir", dir, "config", "init")

	// Then: the file is untouched
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "backend: local\n", string(data))
}

func TestConfigInit_ForceBacksUp(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ".pdfrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: local\n"), 0o644))

	out, err := run(t, "--dir", dir, "config", "init", "--force")

	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "backend: local\n", string(data))
	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestConfigPath(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "--dir", dir, "config", "path")

	require.NoError(t, err)
	assert.Contains(t, out, "user:")
	assert.Contains(t, out, "(not found)")
}
