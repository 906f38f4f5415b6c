package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/Aman-CERP/pdfrag/internal/ingest"
)

// DocumentInfo summarises one ingested document.
type DocumentInfo struct {
	DocumentID string
	Filename   string
	Chunks     int
	Pages      int
}

// SQLiteChunkStore persists chunk text and metadata keyed by chunk ID.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// NewSQLiteChunkStore opens or creates the store at path. An empty path
// is in-memory.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	db, err := openSQLite(path, "chunks")
	if err != nil {
		return nil, err
	}

	s := &SQLiteChunkStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id     TEXT PRIMARY KEY,
		document_id  TEXT NOT NULL,
		page         INTEGER NOT NULL,
		seq          INTEGER NOT NULL,
		text         TEXT NOT NULL,
		heading      TEXT,
		section      TEXT,
		part_section TEXT,
		filename     TEXT NOT NULL,
		url          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	`)
	return err
}

// Upsert inserts or replaces chunks in one transaction.
func (s *SQLiteChunkStore) Upsert(ctx context.Context, chunks []*ingest.Record) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, page, seq, text, heading, section, part_section, filename, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			page = excluded.page,
			seq = excluded.seq,
			text = excluded.text,
			heading = excluded.heading,
			section = excluded.section,
			part_section = excluded.part_section,
			filename = excluded.filename,
			url = excluded.url
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Page, c.Seq, c.Text,
			nullable(c.Heading), nullable(c.Section), nullable(c.PartSection), c.Filename, c.URL)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunks returns the chunks that exist among ids, keyed by chunk ID.
func (s *SQLiteChunkStore) GetChunks(ctx context.Context, ids []string) (map[string]*ingest.Record, error) {
	out := make(map[string]*ingest.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	in, args := placeholders(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, page, seq, text, heading, section, part_section, filename, url
		FROM chunks WHERE chunk_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c ingest.Record
		var heading, section, part sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Page, &c.Seq, &c.Text,
			&heading, &section, &part, &c.Filename, &c.URL); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Heading, c.Section, c.PartSection = heading.String, section.String, part.String
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// ChunkIDsForDocument returns the chunk IDs stored for documentID.
func (s *SQLiteChunkStore) ChunkIDsForDocument(ctx context.Context, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE document_id = ? ORDER BY chunk_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes chunks by ID.
func (s *SQLiteChunkStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	in, args := placeholders(ids)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Documents lists ingested documents ordered by ID.
func (s *SQLiteChunkStore) Documents(ctx context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, MIN(filename), COUNT(*), COUNT(DISTINCT page)
		FROM chunks GROUP BY document_id ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		if err := rows.Scan(&d.DocumentID, &d.Filename, &d.Chunks, &d.Pages); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Count returns the number of stored chunks.
func (s *SQLiteChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("chunk store is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close checkpoints the WAL and closes the database. It is idempotent.
func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
