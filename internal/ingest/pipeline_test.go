package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/pdfrag/internal/chunk"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// fakeReader returns canned pages keyed by "parent/name" or, failing
// that, by base name.
type fakeReader struct {
	pages map[string][]string
	fail  map[string]error
}

func (r *fakeReader) ReadPages(_ context.Context, path string) ([]string, error) {
	name := r.key(path)
	if err := r.fail[name]; err != nil {
		return nil, err
	}
	return r.pages[name], nil
}

func (r *fakeReader) key(path string) string {
	nested := filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
	if _, ok := r.pages[nested]; ok {
		return nested
	}
	if _, ok := r.fail[nested]; ok {
		return nested
	}
	return filepath.Base(path)
}

// memorySink records upserts and removals.
type memorySink struct {
	mu      sync.Mutex
	records map[string]*Record
	removed []string
	failOn  string
}

func newMemorySink() *memorySink {
	return &memorySink{records: map[string]*Record{}}
}

func (s *memorySink) Upsert(_ context.Context, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.failOn != "" && r.DocumentID == s.failOn {
			return errors.New("disk full")
		}
		s.records[r.ID] = r
	}
	return nil
}

func (s *memorySink) RemoveDocument(_ context.Context, documentID string, keep ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, documentID)
	for id, r := range s.records {
		if r.DocumentID == documentID && !slices.Contains(keep, id) {
			delete(s.records, id)
		}
	}
	return nil
}

// countingEmbedder returns [len(text), 1] and counts calls.
type countingEmbedder struct {
	calls   atomic.Int32
	maxSeen atomic.Int32
	err     error
	short   bool
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if n := int32(len(texts)); n > e.maxSeen.Load() {
		e.maxSeen.Store(n)
	}
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if e.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

// pdfFolder creates empty files; the fake reader supplies content.
func pdfFolder(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, nil, 0644))
	}
	return dir
}

func newTestPipeline(t *testing.T, reader PageReader, emb Embedder, sink Sink, cfg Config) *Pipeline {
	t.Helper()
	chunker, err := chunk.New(chunk.DefaultConfig())
	require.NoError(t, err)
	p, err := New(Dependencies{Reader: reader, Chunker: chunker, Embedder: emb, Sink: sink}, cfg)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresDependencies(t *testing.T) {
	chunker, err := chunk.New(chunk.DefaultConfig())
	require.NoError(t, err)

	_, err = New(Dependencies{Chunker: chunker, Sink: newMemorySink()}, DefaultConfig())
	assert.Error(t, err)
	_, err = New(Dependencies{Reader: &fakeReader{}, Sink: newMemorySink()}, DefaultConfig())
	assert.Error(t, err)
	_, err = New(Dependencies{Reader: &fakeReader{}, Chunker: chunker}, DefaultConfig())
	assert.Error(t, err)
}

func TestListPDFs(t *testing.T) {
	dir := pdfFolder(t, "b.pdf", "a.PDF", "notes.txt", "sub/c.pdf")

	paths, err := ListPDFs(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.PDF"),
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "sub", "c.pdf"),
	}, paths)
}

func TestListPDFs_Errors(t *testing.T) {
	_, err := ListPDFs(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileNotFound))

	file := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = ListPDFs(file)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPath))
}

func TestIngestFile_BuildsRecords(t *testing.T) {
	// Given: a two-page PDF with an empty second page
	reader := &fakeReader{pages: map[string][]string{
		"colregs.pdf": {"Rule 13 Overtaking\n" + words(400), "   "},
	}}
	emb := &countingEmbedder{}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, emb, sink, DefaultConfig())
	path := filepath.Join(t.TempDir(), "colregs.pdf")

	// When
	res, err := p.IngestFile(context.Background(), path)

	// Then: two windows from page 1, nothing from page 2
	require.NoError(t, err)
	assert.Equal(t, "colregs.pdf", res.DocumentID)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, res.EmptyPages)
	assert.Equal(t, 2, res.Chunks)

	r := sink.records["colregs.pdf__p001_00"]
	require.NotNil(t, r)
	assert.Equal(t, "colregs.pdf", r.Filename)
	assert.Equal(t, FileURL(path, 0), r.URL)
	assert.Equal(t, 1, r.Page)
	assert.Len(t, r.Embedding, 2)
	assert.Contains(t, sink.records, "colregs.pdf__p001_01")
	assert.Equal(t, []string{"colregs.pdf"}, sink.removed)
}

func TestIngestFile_EmbedsInBatches(t *testing.T) {
	pages := make([]string, 5)
	for i := range pages {
		pages[i] = words(50)
	}
	reader := &fakeReader{pages: map[string][]string{"a.pdf": pages}}
	emb := &countingEmbedder{}
	p := newTestPipeline(t, reader, emb, newMemorySink(), Config{Workers: 1, BatchSize: 2})

	res, err := p.IngestFile(context.Background(), "a.pdf")

	require.NoError(t, err)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, int32(3), emb.calls.Load())
	assert.Equal(t, int32(2), emb.maxSeen.Load())
}

func TestIngestFile_WithoutEmbedder(t *testing.T) {
	reader := &fakeReader{pages: map[string][]string{"a.pdf": {words(10)}}}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, nil, sink, DefaultConfig())

	_, err := p.IngestFile(context.Background(), "a.pdf")

	require.NoError(t, err)
	assert.Nil(t, sink.records["a.pdf__p001_00"].Embedding)
}

func TestIngestFile_Failures(t *testing.T) {
	tests := []struct {
		name   string
		reader *fakeReader
		emb    *countingEmbedder
		sink   *memorySink
		code   string
	}{
		{
			name:   "read failure keeps its code",
			reader: &fakeReader{fail: map[string]error{"a.pdf": apperrors.New(apperrors.ErrCodeCorruptIndex, "bad pdf", nil)}},
			emb:    &countingEmbedder{},
			sink:   newMemorySink(),
			code:   apperrors.ErrCodeCorruptIndex,
		},
		{
			name:   "embedder error",
			reader: &fakeReader{pages: map[string][]string{"a.pdf": {words(10)}}},
			emb:    &countingEmbedder{err: errors.New("model missing")},
			sink:   newMemorySink(),
			code:   apperrors.ErrCodeEmbeddingFailed,
		},
		{
			name:   "embedder returns too few vectors",
			reader: &fakeReader{pages: map[string][]string{"a.pdf": {words(10)}}},
			emb:    &countingEmbedder{short: true},
			sink:   newMemorySink(),
			code:   apperrors.ErrCodeEmbeddingFailed,
		},
		{
			name:   "sink error",
			reader: &fakeReader{pages: map[string][]string{"a.pdf": {words(10)}}},
			emb:    &countingEmbedder{},
			sink:   &memorySink{records: map[string]*Record{}, failOn: "a.pdf"},
			code:   apperrors.ErrCodeIndexFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.reader, tt.emb, tt.sink, DefaultConfig())

			res, err := p.IngestFile(context.Background(), "a.pdf")

			require.Error(t, err)
			require.NotNil(t, res)
			assert.Equal(t, err, res.Err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Zero(t, res.Chunks)
		})
	}
}

func TestIngestFolder_IsolatesFailures(t *testing.T) {
	// Given: three PDFs, one unreadable
	dir := pdfFolder(t, "a.pdf", "b.pdf", "c.pdf")
	reader := &fakeReader{
		pages: map[string][]string{
			"a.pdf": {words(20)},
			"c.pdf": {words(20), words(20)},
		},
		fail: map[string]error{"b.pdf": errors.New("encrypted")},
	}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, &countingEmbedder{}, sink, Config{Workers: 2, BatchSize: 8})

	// When
	report, err := p.IngestFolder(context.Background(), dir)

	// Then: the other two are indexed and the failure is reported
	require.NoError(t, err)
	require.Len(t, report.Documents, 3)
	assert.Equal(t, 3, report.Chunks())

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b.pdf", failed[0].DocumentID)
	assert.Len(t, sink.records, 3)
}

func TestIngestFolder_ReportsProgress(t *testing.T) {
	dir := pdfFolder(t, "a.pdf", "b.pdf", "c.pdf")
	reader := &fakeReader{pages: map[string][]string{"a.pdf": {words(5)}, "b.pdf": {words(5)}, "c.pdf": {words(5)}}}
	var done []int
	cfg := Config{Workers: 3, Progress: func(n, total int, res DocumentResult) {
		assert.Equal(t, 3, total)
		assert.NotEmpty(t, res.DocumentID)
		done = append(done, n)
	}}
	p := newTestPipeline(t, reader, nil, newMemorySink(), cfg)

	_, err := p.IngestFolder(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, done)
}

func TestIngestFolder_EmptyFolder(t *testing.T) {
	p := newTestPipeline(t, &fakeReader{}, nil, newMemorySink(), DefaultConfig())

	report, err := p.IngestFolder(context.Background(), t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, report.Documents)
	assert.Zero(t, report.Chunks())
}

func TestIngestFolder_MissingFolder(t *testing.T) {
	p := newTestPipeline(t, &fakeReader{}, nil, newMemorySink(), DefaultConfig())

	_, err := p.IngestFolder(context.Background(), filepath.Join(t.TempDir(), "nope"))

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileNotFound))
}

func TestIngestFolder_Cancelled(t *testing.T) {
	dir := pdfFolder(t, "a.pdf", "b.pdf")
	reader := &fakeReader{pages: map[string][]string{"a.pdf": {words(5)}, "b.pdf": {words(5)}}}
	p := newTestPipeline(t, reader, nil, newMemorySink(), Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := p.IngestFolder(ctx, dir)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, report.Failed(), 2)
}

func TestReingestReplacesPreviousChunks(t *testing.T) {
	// Given: a document ingested with two pages
	reader := &fakeReader{pages: map[string][]string{"a.pdf": {words(10), words(10)}}}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, nil, sink, DefaultConfig())
	_, err := p.IngestFile(context.Background(), "a.pdf")
	require.NoError(t, err)
	require.Len(t, sink.records, 2)

	// When: it shrinks to one page and is ingested again
	reader.pages["a.pdf"] = []string{words(10)}
	_, err = p.IngestFile(context.Background(), "a.pdf")

	// Then: the stale page-2 chunk is gone
	require.NoError(t, err)
	assert.Len(t, sink.records, 1)
	assert.NotContains(t, sink.records, "a.pdf__p002_00")
}

func TestRemoveFile(t *testing.T) {
	// Given: two ingested documents
	reader := &fakeReader{pages: map[string][]string{"a.pdf": {words(10)}, "b.pdf": {words(10)}}}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, nil, sink, DefaultConfig())
	for _, name := range []string{"a.pdf", "b.pdf"} {
		_, err := p.IngestFile(context.Background(), name)
		require.NoError(t, err)
	}

	// When: one is removed by path
	err := p.RemoveFile(context.Background(), filepath.Join("docs", "a.pdf"))

	// Then: only its chunks are dropped
	require.NoError(t, err)
	assert.Contains(t, sink.removed, "a.pdf")
	assert.NotContains(t, sink.records, "a.pdf__p001_00")
	assert.Contains(t, sink.records, "b.pdf__p001_00")
}

func TestReingest_FailedWriteKeepsPreviousVersion(t *testing.T) {
	// Given: a two-page document already indexed
	reader := &fakeReader{pages: map[string][]string{"a.pdf": {"first edition " + words(10), words(10)}}}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, nil, sink, DefaultConfig())
	_, err := p.IngestFile(context.Background(), "a.pdf")
	require.NoError(t, err)

	// When: the new version cannot be written
	reader.pages["a.pdf"] = []string{"second edition " + words(10)}
	sink.failOn = "a.pdf"
	res, err := p.IngestFile(context.Background(), "a.pdf")

	// Then: the failure is reported and the old chunks are still served
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIndexFailed))
	assert.Zero(t, res.Chunks)
	require.Len(t, sink.records, 2)
	assert.True(t, strings.HasPrefix(sink.records["a.pdf__p001_00"].Text, "first edition"))
	assert.Contains(t, sink.records, "a.pdf__p002_00")
	assert.Equal(t, []string{"a.pdf"}, sink.removed, "no prune after a failed write")
}

func TestIngestFolder_SameNameInSubfolders(t *testing.T) {
	// Given: two PDFs with the same name in different subfolders
	dir := pdfFolder(t, "inland/rules.pdf", "international/rules.pdf", "index.pdf")
	reader := &fakeReader{pages: map[string][]string{
		"inland/rules.pdf":        {"inland text alpha"},
		"international/rules.pdf": {"international text beta"},
		"index.pdf":               {"contents"},
	}}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, nil, sink, Config{Workers: 2})

	// When
	report, err := p.IngestFolder(context.Background(), dir)

	// Then: both are kept under their relative paths
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	require.Len(t, sink.records, 3)

	inland := sink.records["inland/rules.pdf__p001_00"]
	require.NotNil(t, inland)
	assert.Equal(t, "inland text alpha", inland.Text)
	assert.Equal(t, "inland/rules.pdf", inland.DocumentID)
	assert.Equal(t, "rules.pdf", inland.Filename)

	intl := sink.records["international/rules.pdf__p001_00"]
	require.NotNil(t, intl)
	assert.Equal(t, "international text beta", intl.Text)
	assert.Equal(t, "rules.pdf", intl.Filename)

	// And: a top-level file keeps its base name
	assert.Contains(t, sink.records, "index.pdf__p001_00")

	ids := make([]string, len(report.Documents))
	for i, d := range report.Documents {
		ids[i] = d.DocumentID
	}
	assert.Equal(t, []string{"index.pdf", "inland/rules.pdf", "international/rules.pdf"}, ids)
}

func TestRemoveFile_RelativeToRoot(t *testing.T) {
	// Given: same-named PDFs ingested one by one, as the watcher does
	dir := pdfFolder(t, "inland/rules.pdf", "international/rules.pdf")
	reader := &fakeReader{pages: map[string][]string{
		"inland/rules.pdf":        {words(10)},
		"international/rules.pdf": {words(10)},
	}}
	sink := newMemorySink()
	p := newTestPipeline(t, reader, nil, sink, Config{Root: dir})
	for _, rel := range []string{"inland", "international"} {
		res, err := p.IngestFile(context.Background(), filepath.Join(dir, rel, "rules.pdf"))
		require.NoError(t, err)
		assert.Equal(t, rel+"/rules.pdf", res.DocumentID)
	}

	// When: one is deleted
	err := p.RemoveFile(context.Background(), filepath.Join(dir, "inland", "rules.pdf"))

	// Then: the other survives
	require.NoError(t, err)
	assert.NotContains(t, sink.records, "inland/rules.pdf__p001_00")
	assert.Contains(t, sink.records, "international/rules.pdf__p001_00")
}

func TestDocumentID(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		root string
		path string
		want string
	}{
		{"no root uses the base name", "", filepath.Join("docs", "a.pdf"), "a.pdf"},
		{"top-level file", root, filepath.Join(root, "a.pdf"), "a.pdf"},
		{"nested file uses slashes", root, filepath.Join(root, "intl", "part b", "rules.pdf"), "intl/part b/rules.pdf"},
		{"path outside the root", root, filepath.Join(filepath.Dir(root), "other.pdf"), "other.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DocumentID(tt.root, tt.path))
		})
	}
}

type upsertOnlySink struct{}

func (upsertOnlySink) Upsert(context.Context, []*Record) error { return nil }

func TestRemoveFile_SinkWithoutRemoval(t *testing.T) {
	p := newTestPipeline(t, &fakeReader{}, nil, upsertOnlySink{}, DefaultConfig())

	assert.NoError(t, p.RemoveFile(context.Background(), "a.pdf"))
}

func TestFileURL(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "colregs.pdf")

	assert.Equal(t, "file://"+filepath.ToSlash(abs), FileURL(abs, 0))
	assert.Equal(t, "file://"+filepath.ToSlash(abs)+"#page=12", FileURL(abs, 12))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("a.pdf"))
	assert.True(t, IsPDF("dir/B.PDF"))
	assert.False(t, IsPDF("a.pdf.txt"))
	assert.False(t, IsPDF("pdf"))
}
