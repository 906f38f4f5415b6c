// Package logging sets up structured JSON logging for pdfrag.
// Logs go to a size-rotated file under ~/.pdfrag/logs/ and, with --debug,
// are mirrored to stderr.
package logging
