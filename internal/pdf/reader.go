// Package pdf extracts per-page plain text from PDF files.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ledongthuc/pdf"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// signature is the header every PDF file starts with.
var signature = []byte("%PDF-")

// Reader implements ingest.PageReader with ledongthuc/pdf.
type Reader struct {
	logger *slog.Logger
}

var _ ingest.PageReader = (*Reader)(nil)

// NewReader creates a Reader. A nil logger discards page warnings.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reader{logger: logger}
}

// ReadPages returns one string per page, page 1 first. A page whose text
// cannot be extracted yields "" so later page numbers stay correct. A
// file that is missing, is not a PDF, or cannot be parsed is an error.
func (r *Reader) ReadPages(ctx context.Context, path string) ([]string, error) {
	if err := checkSignature(path); err != nil {
		return nil, err
	}

	f, pr, err := open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileCorrupt, "cannot parse PDF", err).
			WithDetail("path", path)
	}
	defer f.Close()

	n := pr.NumPage()
	pages := make([]string, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(pr, i)
		if err != nil {
			r.logger.Warn("pdf_page_unreadable",
				slog.String("path", path),
				slog.Int("page", i),
				slog.String("error", err.Error()))
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// LooksLikePDF reports whether the file at path starts with the PDF header.
func LooksLikePDF(path string) bool {
	return checkSignature(path) == nil
}

func checkSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.New(apperrors.ErrCodeFileNotFound, "file not found: "+path, err)
		}
		return apperrors.Wrap(apperrors.ErrCodeFilePermission, err)
	}
	defer f.Close()

	head := make([]byte, len(signature))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, signature) {
		return apperrors.New(apperrors.ErrCodeFileCorrupt, "not a PDF file", nil).
			WithDetail("path", path)
	}
	return nil
}

// open wraps pdf.Open, which panics on some malformed cross-reference tables.
func open(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				_ = f.Close()
			}
			f, r, err = nil, nil, fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()
	return pdf.Open(path)
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
