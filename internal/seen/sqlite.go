package seen

import (
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"
)

// NewSQLiteBackend stores the mapping in a SQLite database file.
// An empty table name uses "seen_articles".
func NewSQLiteBackend(path, table string) (*SQLBackend, error) {
	table, err := tableOrDefault(table)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{
		driver:   "sqlite",
		dsn:      path,
		table:    table,
		location: fmt.Sprintf("sqlite:%s#%s", path, table),
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		exists: func() bool {
			_, err := os.Stat(path)
			return err == nil
		},
		prepare: func() error {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create seen store directory: %w", err)
			}
			return nil
		},
	}, nil
}
