package stub

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps documents in a SQLite file. It backs RocksDB (disk) spaces.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates the database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		vector BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Upsert(ctx context.Context, doc *Document) (int, bool, error) {
	source, err := json.Marshal(doc.Source)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encode source: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE id = ?`, doc.ID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, source, vector, version) VALUES (?, ?, ?, ?)`,
			doc.ID, string(source), float32SliceToBytes(doc.Vector), version)
	case err == nil:
		version++
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET source = ?, vector = ?, version = ? WHERE id = ?`,
			string(source), float32SliceToBytes(doc.Vector), version, doc.ID)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return version, version == 1, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source, vector, version FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Each(ctx context.Context, fn func(*Document) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, vector, version FROM documents ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("failed to scan documents: %w", err)
	}
	// Collect first; fn may call back into the store and the connection pool holds one connection.
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return err
		}
		docs = append(docs, doc)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Close closes the database. The file is left on disk; Remove deletes it.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Remove closes the database and deletes its files.
func (s *SQLiteStore) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc    Document
		source string
		vector []byte
	)
	if err := row.Scan(&doc.ID, &source, &vector, &doc.Version); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(source)))
	dec.UseNumber()
	if err := dec.Decode(&doc.Source); err != nil {
		return nil, fmt.Errorf("failed to decode source of %s: %w", doc.ID, err)
	}
	doc.Vector = bytesToFloat32Slice(vector)
	return &doc, nil
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
