package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// Lexical and vector backend names.
const (
	LexicalSQLite = "sqlite"
	LexicalBleve  = "bleve"
	VectorHNSW    = "hnsw"
	VectorChromem = "chromem"
)

// LocalConfig selects the local backends.
type LocalConfig struct {
	// DataDir holds every index file. Empty keeps everything in memory.
	DataDir        string
	LexicalBackend string
	VectorBackend  string
	Dimensions     int
	Expander       *TermExpander
	Logger         *slog.Logger
}

// LocalIndex composes the local indexes: lexical BM25, weighted sparse,
// dense vectors and the chunk store. One process holds it at a time.
type LocalIndex struct {
	mu      sync.Mutex
	chunks  *SQLiteChunkStore
	lexical TextIndex
	sparse  *BleveSparseIndex
	vectors VectorStore
	lock    *flock.Flock
	logger  *slog.Logger
	closed  bool
}

var (
	_ ingest.Sink            = (*LocalIndex)(nil)
	_ ingest.DocumentRemover = (*LocalIndex)(nil)
)

// IndexPaths returns the file locations under dataDir for the given backends.
func IndexPaths(dataDir, lexicalBackend, vectorBackend string) map[string]string {
	lexical := filepath.Join(dataDir, "lexical.db")
	if lexicalBackend == LexicalBleve {
		lexical = filepath.Join(dataDir, "lexical.bleve")
	}
	vectors := filepath.Join(dataDir, "vectors.hnsw")
	if vectorBackend == VectorChromem {
		vectors = filepath.Join(dataDir, "vectors.chromem")
	}
	return map[string]string{
		"chunks":  filepath.Join(dataDir, "chunks.db"),
		"lexical": lexical,
		"sparse":  filepath.Join(dataDir, "sparse.bleve"),
		"vectors": vectors,
		"lock":    filepath.Join(dataDir, "index.lock"),
	}
}

// OpenLocalIndex opens or creates every local index. It fails with
// ERR_207_INDEX_LOCKED if another process holds the data directory.
func OpenLocalIndex(cfg LocalConfig) (*LocalIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, apperrors.ConfigError("embedding dimensions must be positive", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	li := &LocalIndex{logger: logger}

	paths := map[string]string{}
	if cfg.DataDir != "" {
		paths = IndexPaths(cfg.DataDir, cfg.LexicalBackend, cfg.VectorBackend)
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeFilePermission, err)
		}

		li.lock = flock.New(paths["lock"])
		ok, err := li.lock.TryLock()
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeFilePermission, "failed to lock index", err)
		}
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeIndexLocked,
				"index is in use by another pdfrag process", nil).
				WithDetail("path", paths["lock"])
		}
	}

	if err := li.open(cfg, paths); err != nil {
		_ = li.Close()
		return nil, err
	}
	return li, nil
}

func (li *LocalIndex) open(cfg LocalConfig, paths map[string]string) error {
	var err error

	if li.chunks, err = NewSQLiteChunkStore(paths["chunks"]); err != nil {
		return apperrors.New(apperrors.ErrCodeCorruptIndex, "failed to open chunk store", err)
	}

	if li.lexical, err = openLexical(cfg.LexicalBackend, paths["lexical"]); err != nil {
		return err
	}

	if li.sparse, err = NewBleveSparseIndex(paths["sparse"], cfg.Expander); err != nil {
		return apperrors.New(apperrors.ErrCodeCorruptIndex, "failed to open sparse index", err)
	}

	if li.vectors, err = openVectors(cfg.VectorBackend, paths["vectors"], cfg.Dimensions); err != nil {
		return err
	}
	return nil
}

func openLexical(backend, path string) (TextIndex, error) {
	switch backend {
	case LexicalSQLite, "":
		idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "failed to open lexical index", err)
		}
		return idx, nil
	case LexicalBleve:
		idx, err := NewBleveBM25Index(path)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "failed to open lexical index", err)
		}
		return idx, nil
	default:
		return nil, apperrors.New(apperrors.ErrCodeBackendNotSupported,
			fmt.Sprintf("unknown lexical backend %q (valid options: sqlite, bleve)", backend), nil)
	}
}

func openVectors(backend, path string, dims int) (VectorStore, error) {
	var (
		vs  VectorStore
		err error
	)
	switch backend {
	case VectorHNSW, "":
		var h *HNSWStore
		if h, err = NewHNSWStore(path, DefaultVectorStoreConfig(dims)); err == nil {
			vs = h
		}
	case VectorChromem:
		var c *ChromemStore
		if c, err = NewChromemStore(path, dims); err == nil {
			vs = c
		}
	default:
		return nil, apperrors.New(apperrors.ErrCodeBackendNotSupported,
			fmt.Sprintf("unknown vector backend %q (valid options: hnsw, chromem)", backend), nil)
	}
	if err != nil {
		var dim ErrDimensionMismatch
		if errors.As(err, &dim) {
			return nil, apperrors.New(apperrors.ErrCodeDimensionMismatch, err.Error(), err).
				WithSuggestion("re-run 'pdfrag ingest --rebuild' after changing the embedding model")
		}
		return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "failed to open vector store", err)
	}
	return vs, nil
}

// Lexical returns the BM25 index.
func (li *LocalIndex) Lexical() TextIndex { return li.lexical }

// Sparse returns the weighted term expansion index.
func (li *LocalIndex) Sparse() *BleveSparseIndex { return li.sparse }

// Vectors returns the dense vector store.
func (li *LocalIndex) Vectors() VectorStore { return li.vectors }

// Chunks returns the chunk store.
func (li *LocalIndex) Chunks() *SQLiteChunkStore { return li.chunks }

// Upsert writes records to every index. Records without an embedding
// are skipped by the vector store.
func (li *LocalIndex) Upsert(ctx context.Context, records []*ingest.Record) error {
	if len(records) == 0 {
		return nil
	}

	li.mu.Lock()
	defer li.mu.Unlock()

	if li.closed {
		return fmt.Errorf("local index is closed")
	}

	docs := make([]*Document, len(records))
	var ids []string
	var vecs [][]float32
	for i, r := range records {
		docs[i] = &Document{ID: r.ID, Content: r.Text}
		if r.Embedding != nil {
			ids = append(ids, r.ID)
			vecs = append(vecs, r.Embedding)
		}
	}

	if err := li.chunks.Upsert(ctx, records); err != nil {
		return err
	}
	if err := li.lexical.Index(ctx, docs); err != nil {
		return fmt.Errorf("lexical index: %w", err)
	}
	if err := li.sparse.Index(ctx, docs); err != nil {
		return fmt.Errorf("sparse index: %w", err)
	}
	if err := li.vectors.Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}

	li.logger.Debug("local_upsert", slog.Int("records", len(records)), slog.Int("vectors", len(ids)))
	return nil
}

// RemoveDocument drops the chunks stored for documentID except those in keep.
func (li *LocalIndex) RemoveDocument(ctx context.Context, documentID string, keep ...string) error {
	li.mu.Lock()
	defer li.mu.Unlock()

	if li.closed {
		return fmt.Errorf("local index is closed")
	}

	stored, err := li.chunks.ChunkIDsForDocument(ctx, documentID)
	if err != nil {
		return err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	var ids []string
	for _, id := range stored {
		if _, ok := kept[id]; !ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := li.lexical.Delete(ctx, ids); err != nil {
		return err
	}
	if err := li.sparse.Delete(ctx, ids); err != nil {
		return err
	}
	if err := li.vectors.Delete(ctx, ids); err != nil {
		return err
	}
	return li.chunks.Delete(ctx, ids)
}

// GetChunks returns stored chunks by ID for citations.
func (li *LocalIndex) GetChunks(ctx context.Context, ids []string) (map[string]*ingest.Record, error) {
	return li.chunks.GetChunks(ctx, ids)
}

// Ping checks that the chunk store answers.
func (li *LocalIndex) Ping(ctx context.Context) error {
	_, err := li.chunks.Count(ctx)
	return err
}

// Save persists the vector store. The SQL and Bleve indexes write through.
func (li *LocalIndex) Save() error {
	li.mu.Lock()
	defer li.mu.Unlock()

	if li.closed || li.vectors == nil {
		return nil
	}
	return li.vectors.Save()
}

// Close saves and closes every index and releases the lock. It is idempotent.
func (li *LocalIndex) Close() error {
	if err := li.Save(); err != nil {
		li.logger.Warn("vector_save_failed", slog.String("error", err.Error()))
	}

	li.mu.Lock()
	defer li.mu.Unlock()

	if li.closed {
		return nil
	}
	li.closed = true

	var errs []error
	if li.vectors != nil {
		errs = append(errs, li.vectors.Close())
	}
	if li.sparse != nil {
		errs = append(errs, li.sparse.Close())
	}
	if li.lexical != nil {
		errs = append(errs, li.lexical.Close())
	}
	if li.chunks != nil {
		errs = append(errs, li.chunks.Close())
	}
	if li.lock != nil {
		errs = append(errs, li.lock.Unlock())
	}
	return errors.Join(errs...)
}

// RemoveLocalIndex deletes every index file under dataDir except the
// lock. The caller must not hold the index open.
func RemoveLocalIndex(dataDir string) error {
	var errs []error
	for _, backend := range [][2]string{{LexicalSQLite, VectorHNSW}, {LexicalBleve, VectorChromem}} {
		for name, path := range IndexPaths(dataDir, backend[0], backend[1]) {
			if name == "lock" {
				continue
			}
			for _, p := range []string{path, path + "-wal", path + "-shm", path + ".meta"} {
				if err := os.RemoveAll(p); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}
