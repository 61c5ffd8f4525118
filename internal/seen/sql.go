package seen

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const (
	defaultTable    = "seen_articles"
	insertBatchSize = 500
)

// SQLBackend keeps the mapping in a table (dedup_key, title, seen_at).
// Write replaces the table contents inside one transaction.
type SQLBackend struct {
	driver   string
	dsn      string
	table    string
	location string
	builder  sq.StatementBuilderType

	// exists reports whether the database is there at all; nil means "assume yes".
	exists func() bool
	// prepare runs before a write, e.g. to create parent directories.
	prepare func() error
}

var _ Backend = (*SQLBackend)(nil)

// Location returns a human-readable description of the database.
func (b *SQLBackend) Location() string {
	return b.location
}

func (b *SQLBackend) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(b.driver, b.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (b *SQLBackend) migrate(ctx context.Context, db *sql.DB) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		dedup_key TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		seen_at TEXT NOT NULL
	)`, b.table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Read loads every row.
func (b *SQLBackend) Read(ctx context.Context) (map[string]Record, error) {
	if b.exists != nil && !b.exists() {
		return nil, ErrNotFound
	}

	db, err := b.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer db.Close()

	if err := b.migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	query, args, err := b.builder.
		Select("dedup_key", "title", "seen_at").
		From(b.table).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build select: %v", ErrUnreadable, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var key string
		var rec Record
		if err := rows.Scan(&key, &rec.Title, &rec.SeenAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrCorrupt, err)
		}
		records[key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrCorrupt, err)
	}
	return records, nil
}

// Write replaces all rows with records.
func (b *SQLBackend) Write(ctx context.Context, records map[string]Record) error {
	if b.prepare != nil {
		if err := b.prepare(); err != nil {
			return err
		}
	}

	db, err := b.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := b.migrate(ctx, db); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// no-op after Commit
	defer tx.Rollback()

	query, args, err := b.builder.Delete(b.table).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear seen table: %w", err)
	}

	insert := b.newInsert()
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert seen rows: %w", err)
		}
		insert = b.newInsert()
		pending = 0
		return nil
	}

	for key, rec := range records {
		insert = insert.Values(key, rec.Title, rec.SeenAt)
		pending++
		if pending == insertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seen store: %w", err)
	}
	return nil
}

func (b *SQLBackend) newInsert() sq.InsertBuilder {
	return b.builder.Insert(b.table).Columns("dedup_key", "title", "seen_at")
}

// isValidIdentifier accepts table names made of letters, digits and underscores.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

func tableOrDefault(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !isValidIdentifier(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
