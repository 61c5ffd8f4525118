package seen

import (
	"fmt"
	"net/url"

	sq "github.com/Masterminds/squirrel"

	_ "github.com/lib/pq" // registers "postgres"
)

// NewPostgresBackend stores the mapping in a PostgreSQL table.
// An empty table name uses "seen_articles".
func NewPostgresBackend(dsn, table string) (*SQLBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	table, err := tableOrDefault(table)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{
		driver:   "postgres",
		dsn:      dsn,
		table:    table,
		location: fmt.Sprintf("postgres:%s#%s", redactDSN(dsn), table),
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// redactDSN hides the password of URL-style DSNs so locations can be logged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "(dsn)"
	}
	return u.Redacted()
}
