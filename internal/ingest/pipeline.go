package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/pdfrag/internal/chunk"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// Config tunes a pipeline.
type Config struct {
	// Workers is how many documents are processed at once.
	Workers int
	// BatchSize is how many chunk texts go to the embedder per call.
	BatchSize int
	// Progress, if set, is called after each document of a folder
	// ingest. Calls are serialised.
	Progress func(done, total int, res DocumentResult)
	// Root is the folder IngestFile and RemoveFile name documents
	// relative to. IngestFolder always uses its own folder.
	Root string
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, BatchSize: 32}
}

// Dependencies are the collaborators a Pipeline needs. Embedder is
// optional; without it records carry no vector.
type Dependencies struct {
	Reader   PageReader
	Chunker  *chunk.Chunker
	Embedder Embedder
	Sink     Sink
	Logger   *slog.Logger
}

// Pipeline ingests PDFs into a Sink.
type Pipeline struct {
	reader   PageReader
	chunker  *chunk.Chunker
	embedder Embedder
	sink     Sink
	logger   *slog.Logger
	cfg      Config
}

// New creates a Pipeline. Reader, Chunker and Sink are required.
func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("page reader is required")
	}
	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Pipeline{
		reader:   deps.Reader,
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		sink:     deps.Sink,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// DocumentResult is the outcome for one PDF.
type DocumentResult struct {
	DocumentID string        `json:"document_id"`
	Path       string        `json:"path"`
	Pages      int           `json:"pages"`
	EmptyPages int           `json:"empty_pages"`
	Chunks     int           `json:"chunks"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Report summarises a folder ingest.
type Report struct {
	Folder    string           `json:"folder"`
	Documents []DocumentResult `json:"documents"`
	Duration  time.Duration    `json:"duration"`
}

// Chunks returns the total chunks written.
func (r *Report) Chunks() int {
	n := 0
	for _, d := range r.Documents {
		n += d.Chunks
	}
	return n
}

// Failed returns the documents that could not be ingested.
func (r *Report) Failed() []DocumentResult {
	var out []DocumentResult
	for _, d := range r.Documents {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// ListPDFs returns the PDFs under dir, recursively, sorted by path.
func ListPDFs(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrCodeFileNotFound, "folder not found: "+dir, err).
				WithDetail("folder", dir)
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeFilePermission, err)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPath, "not a folder: "+dir, nil).
			WithDetail("folder", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsPDF(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeFilePermission, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// IngestFolder ingests every PDF under dir. A failing document is
// recorded in the report and does not stop the others. The returned
// error is non-nil only if the folder cannot be listed or ctx is done.
func (p *Pipeline) IngestFolder(ctx context.Context, dir string) (*Report, error) {
	start := time.Now()

	paths, err := ListPDFs(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{Folder: dir, Documents: make([]DocumentResult, len(paths))}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		done int
	)
	g.SetLimit(p.cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			var res DocumentResult
			if ctx.Err() != nil {
				res = DocumentResult{DocumentID: DocumentID(dir, path), Path: path, Err: ctx.Err()}
			} else {
				r, _ := p.ingest(ctx, path, DocumentID(dir, path))
				res = *r
			}
			report.Documents[i] = res
			if p.cfg.Progress != nil {
				mu.Lock()
				done++
				p.cfg.Progress(done, len(paths), res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	p.logger.Info("folder_ingested",
		slog.String("folder", dir),
		slog.Int("documents", len(paths)),
		slog.Int("failed", len(report.Failed())),
		slog.Int("chunks", report.Chunks()),
		slog.Duration("duration", report.Duration))

	return report, nil
}

// IngestFile reads, chunks, embeds and writes one PDF. The result is
// always non-nil; its Err matches the returned error.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*DocumentResult, error) {
	return p.ingest(ctx, path, DocumentID(p.cfg.Root, path))
}

func (p *Pipeline) ingest(ctx context.Context, path, id string) (*DocumentResult, error) {
	start := time.Now()
	res := &DocumentResult{DocumentID: id, Path: path}

	fail := func(err error) (*DocumentResult, error) {
		res.Err = err
		res.Duration = time.Since(start)
		p.logger.Warn("document_failed",
			append([]any{slog.String("document", res.DocumentID)}, apperrors.LogAttrs(err)...)...)
		return res, err
	}

	pages, err := p.reader.ReadPages(ctx, path)
	if err != nil {
		return fail(err)
	}
	res.Pages = len(pages)

	chunks, err := p.chunker.ChunkDocument(res.DocumentID, pages)
	if err != nil {
		return fail(err)
	}
	for _, text := range pages {
		if strings.TrimSpace(text) == "" {
			res.EmptyPages++
		}
	}

	url := FileURL(path, 0)
	name := filepath.Base(path)
	records := make([]*Record, len(chunks))
	keep := make([]string, len(chunks))
	for i, c := range chunks {
		records[i] = &Record{Chunk: *c, Filename: name, URL: url}
		keep[i] = c.ID
	}

	if err := p.embed(ctx, records); err != nil {
		return fail(err)
	}

	// Write before pruning: a failed write leaves the previous version.
	if err := p.sink.Upsert(ctx, records); err != nil {
		return fail(apperrors.New(apperrors.ErrCodeIndexFailed, "failed to write chunks", err).
			WithDetail("document", res.DocumentID).
			WithSuggestion("the previously indexed version is unchanged; re-run ingest"))
	}

	if rm, ok := p.sink.(DocumentRemover); ok {
		if err := rm.RemoveDocument(ctx, res.DocumentID, keep...); err != nil {
			return fail(apperrors.New(apperrors.ErrCodeIndexFailed, "failed to remove stale chunks", err).
				WithDetail("document", res.DocumentID).
				WithSuggestion("chunks from the previous version may still be returned; re-run ingest"))
		}
	}

	res.Chunks = len(records)
	res.Duration = time.Since(start)
	p.logger.Info("document_ingested",
		slog.String("document", res.DocumentID),
		slog.Int("pages", res.Pages),
		slog.Int("empty_pages", res.EmptyPages),
		slog.Int("chunks", res.Chunks),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// RemoveFile drops every chunk of the PDF at path. Sinks that cannot
// remove documents make this a no-op.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) error {
	rm, ok := p.sink.(DocumentRemover)
	if !ok {
		return nil
	}
	id := DocumentID(p.cfg.Root, path)
	if err := rm.RemoveDocument(ctx, id); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "failed to remove document", err).
			WithDetail("document", id)
	}
	p.logger.Info("document_removed", slog.String("document", id))
	return nil
}

// embed fills record embeddings in batches.
func (p *Pipeline) embed(ctx context.Context, records []*Record) error {
	if p.embedder == nil {
		return nil
	}
	for start := 0; start < len(records); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(records))
		texts := make([]string, end-start)
		for i, r := range records[start:end] {
			texts[i] = r.Text
		}

		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeEmbeddingFailed, "failed to embed chunks", err)
		}
		if len(vecs) != len(texts) {
			return apperrors.New(apperrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), len(texts)), nil)
		}
		for i, v := range vecs {
			records[start+i].Embedding = v
		}
	}
	return nil
}
