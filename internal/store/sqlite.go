package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS document_chunks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_name TEXT    NOT NULL,
	chunk_index   INTEGER NOT NULL,
	chunk_text    TEXT    NOT NULL,
	embedding     TEXT,
	metadata      TEXT,
	created_at    INTEGER NOT NULL,
	UNIQUE (document_name, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_document_chunks_name ON document_chunks (document_name);
`

// SQLite is the Store implementation backed by a SQLite database file.
// Embeddings and metadata are stored as JSON text columns.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (and if needed creates) the database at path and
// initializes the schema. WAL mode keeps concurrent ingest and retrieval
// from blocking each other.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &Error{Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &Error{Op: "migrate", Err: err}
	}

	return &SQLite{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Ping checks database reachability.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// PutBatch inserts all chunks in one transaction.
func (s *SQLite) PutBatch(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "put", Err: err}
	}
	defer tx.Rollback()

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return &Error{Op: "put", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "put", Err: err}
	}
	return nil
}

// ReplaceDocument deletes the document's chunks and inserts the new set
// inside one transaction, so readers never observe a mixed generation.
func (s *SQLite) ReplaceDocument(ctx context.Context, name string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "replace", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_name = ?`, name); err != nil {
		return &Error{Op: "replace", Err: err}
	}
	if err := insertChunks(ctx, tx, chunks); err != nil {
		return &Error{Op: "replace", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "replace", Err: err}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (document_name, chunk_index, chunk_text, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		embedding, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.DocumentName, c.ChunkIndex, c.Text,
			string(embedding), string(metadata), createdAt.Unix()); err != nil {
			return fmt.Errorf("chunk %d of %s: %w", c.ChunkIndex, c.DocumentName, err)
		}
	}
	return nil
}

// DeleteByDocument removes every chunk of the named document.
func (s *SQLite) DeleteByDocument(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_name = ?`, name)
	if err != nil {
		return 0, &Error{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &Error{Op: "delete", Err: err}
	}
	return n, nil
}

// Clear removes every chunk in the corpus.
func (s *SQLite) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks`)
	if err != nil {
		return 0, &Error{Op: "clear", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &Error{Op: "clear", Err: err}
	}
	return n, nil
}

// Scan returns stored chunks, optionally filtered to one document.
func (s *SQLite) Scan(ctx context.Context, name string) ([]Chunk, error) {
	query := `
		SELECT id, document_name, chunk_index, chunk_text, embedding, metadata, created_at
		FROM document_chunks`
	args := []any{}
	if name != "" {
		query += ` WHERE document_name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY document_name, chunk_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "scan", Err: err}
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c         Chunk
			embedding sql.NullString
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.DocumentName, &c.ChunkIndex, &c.Text,
			&embedding, &metadata, &createdAt); err != nil {
			return nil, &Error{Op: "scan", Err: err}
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		if embedding.Valid && embedding.String != "" && embedding.String != "null" {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, &Error{Op: "scan", Err: fmt.Errorf("decode embedding for row %d: %w", c.ID, err)}
			}
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
				return nil, &Error{Op: "scan", Err: fmt.Errorf("decode metadata for row %d: %w", c.ID, err)}
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "scan", Err: err}
	}
	return chunks, nil
}

// ListDocuments returns chunk counts and last update per document.
func (s *SQLite) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_name, COUNT(*), MAX(created_at)
		FROM document_chunks
		GROUP BY document_name
		ORDER BY document_name`)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var (
			d           DocumentInfo
			lastUpdated int64
		)
		if err := rows.Scan(&d.Name, &d.ChunkCount, &lastUpdated); err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		d.LastUpdated = time.Unix(lastUpdated, 0).UTC()
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return docs, nil
}
