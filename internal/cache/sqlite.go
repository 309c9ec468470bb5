package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"queryagent/internal/apperrors"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	position INTEGER PRIMARY KEY,
	id TEXT NOT NULL,
	query_text TEXT NOT NULL UNIQUE,
	embedding TEXT NOT NULL,
	answer TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	hit_count INTEGER NOT NULL
);
`

// SQLitePersister keeps the store in a SQLite table. Save rewrites the table
// inside one transaction so readers never observe a partial store.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens (or creates) the database at dbPath.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Backend() string { return "sqlite" }

func (p *SQLitePersister) Load(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, query_text, embedding, answer, created_at, last_accessed_at, hit_count
		FROM cache_entries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                   Entry
			embedding, answer   string
			createdAt, accessed int64
		)
		if err := rows.Scan(&e.ID, &e.QueryText, &embedding, &answer, &createdAt, &accessed, &e.HitCount); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", apperrors.ErrCorruptStore, err)
		}
		if err := json.Unmarshal([]byte(embedding), &e.Embedding); err != nil {
			return nil, fmt.Errorf("%w: embedding of %q: %v", apperrors.ErrCorruptStore, e.QueryText, err)
		}
		if err := json.Unmarshal([]byte(answer), &e.Answer); err != nil {
			return nil, fmt.Errorf("%w: answer of %q: %v", apperrors.ErrCorruptStore, e.QueryText, err)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		e.LastAccessedAt = time.Unix(0, accessed).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cache entries: %w", err)
	}
	return entries, nil
}

func (p *SQLitePersister) Save(ctx context.Context, entries []Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("truncate cache entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries
			(position, id, query_text, embedding, answer, created_at, last_accessed_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		embedding, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		answer, err := json.Marshal(e.Answer)
		if err != nil {
			return fmt.Errorf("encode answer: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			i, e.ID, e.QueryText, string(embedding), string(answer),
			e.CreatedAt.UnixNano(), e.LastAccessedAt.UnixNano(), e.HitCount,
		); err != nil {
			return fmt.Errorf("insert cache entry %q: %w", e.QueryText, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache tx: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
