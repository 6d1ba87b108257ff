package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"prism-tracker/domain"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		id   TEXT NOT NULL,
		etag TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_kind ON documents(kind)`,
}

// SQLite stores documents as JSON rows in a single table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path (":memory:" for an in-memory database),
// enables WAL mode and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	for i, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, kind domain.Kind, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, etag, data FROM documents WHERE kind = ? AND id = ?`, string(kind), id)
	var doc Document
	var data string
	if err := row.Scan(&doc.ID, &doc.ETag, &data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %s %s: %w", kind, id, err)
	}
	doc.Data = []byte(data)
	return &doc, nil
}

func (s *SQLite) List(ctx context.Context, kind domain.Kind, filter Filter) ([]Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, etag, data FROM documents WHERE kind = ?`)
	args := []any{string(kind)}
	for field, want := range filter {
		sb.WriteString(` AND COALESCE(CAST(json_extract(data, '$.` + field + `') AS TEXT), '') = ?`)
		args = append(args, want)
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		var data string
		if err := rows.Scan(&doc.ID, &doc.ETag, &data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		doc.Data = []byte(data)
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLite) Insert(ctx context.Context, kind domain.Kind, doc Document) (Document, error) {
	doc.ETag = uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (kind, id, etag, data) VALUES (?, ?, ?, ?) ON CONFLICT(kind, id) DO NOTHING`,
		string(kind), doc.ID, doc.ETag, string(doc.Data))
	if err != nil {
		return Document{}, fmt.Errorf("inserting %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Document{}, domain.ErrAlreadyExists
	}
	return doc, nil
}

func (s *SQLite) Replace(ctx context.Context, kind domain.Kind, doc Document) (Document, error) {
	next := uuid.NewString()
	query := `UPDATE documents SET etag = ?, data = ? WHERE kind = ? AND id = ?`
	args := []any{next, string(doc.Data), string(kind), doc.ID}
	if doc.ETag != "" {
		query += ` AND etag = ?`
		args = append(args, doc.ETag)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Document{}, fmt.Errorf("updating %s %s: %w", kind, doc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := s.Get(ctx, kind, doc.ID)
		if err != nil {
			return Document{}, err
		}
		if cur == nil {
			return Document{}, domain.ErrNotFound
		}
		return Document{}, domain.ErrConcurrencyConflict
	}
	doc.ETag = next
	return doc, nil
}

func (s *SQLite) Delete(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return false, fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
