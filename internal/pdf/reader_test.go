package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// writePDF builds a minimal PDF with one page per entry in pages. An empty
// entry becomes a page without a content stream.
func writePDF(t *testing.T, pages ...string) string {
	t.Helper()

	var objects []string
	catalog := "<< /Type /Catalog /Pages 2 0 R >>"
	objects = append(objects, catalog, "") // pages tree filled in below
	font := "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"
	objects = append(objects, font)

	var kids bytes.Buffer
	for _, text := range pages {
		pageNum := len(objects) + 1
		fmt.Fprintf(&kids, "%d 0 R ", pageNum)
		if text == "" {
			objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
			continue
		}
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			pageNum+1))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestReadPages(t *testing.T) {
	// Given: a three-page PDF whose middle page has no content
	path := writePDF(t, "Rule 13 Overtaking", "", "Rule 14 Head-on")

	// When
	pages, err := NewReader(nil).ReadPages(context.Background(), path)

	// Then: page numbering is preserved across the blank page
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Contains(t, pages[0], "Rule 13 Overtaking")
	assert.Empty(t, pages[1])
	assert.Contains(t, pages[2], "Rule 14 Head-on")
}

func TestReadPages_MissingFile(t *testing.T) {
	_, err := NewReader(nil).ReadPages(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileNotFound))
}

func TestReadPages_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("<html>not a pdf</html>"), 0644))

	_, err := NewReader(nil).ReadPages(context.Background(), path)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileCorrupt))
	assert.False(t, LooksLikePDF(path))
}

func TestReadPages_TruncatedPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n1 0 obj\n<< /Type"), 0644))

	_, err := NewReader(nil).ReadPages(context.Background(), path)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileCorrupt))
}

func TestReadPages_Cancelled(t *testing.T) {
	path := writePDF(t, "Rule 1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReader(nil).ReadPages(ctx, path)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestLooksLikePDF(t *testing.T) {
	assert.True(t, LooksLikePDF(writePDF(t, "x")))
	assert.False(t, LooksLikePDF(filepath.Join(t.TempDir(), "missing.pdf")))
}
