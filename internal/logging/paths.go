package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.pdfrag/logs, or a temp dir when there is no home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pdfrag", "logs")
	}
	return filepath.Join(home, ".pdfrag", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "pdfrag.log")
}
