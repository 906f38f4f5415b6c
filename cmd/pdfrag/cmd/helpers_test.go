package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
)

// isolate points config, logs and the local index at temp directories
// and returns the working directory for --dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("PDFRAG_BACKEND", "local")
	t.Setenv("PDFRAG_DATA_DIR", filepath.Join(home, "index"))
	t.Setenv("EMBED_PROVIDER", "static")
	t.Setenv("ELASTIC_PASSWORD", "")
	t.Setenv("ELASTIC_API_KEY", "")
	return t.TempDir()
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
