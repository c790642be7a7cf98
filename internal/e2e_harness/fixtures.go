package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/lychee-technology/duplex"
)

// SeedDocuments inserts records straight into a documents table, bypassing
// the store under test. The table must already exist.
func SeedDocuments(ctx context.Context, db *sql.DB, table, collection string, recs ...duplex.Record) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $4)`, pq.QuoteIdentifier(table))
	now := time.Now().UnixMilli()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", collection, rec.ID(), err)
		}
		if _, err := db.ExecContext(ctx, stmt, collection, rec.ID(), string(data), now); err != nil {
			return fmt.Errorf("seed %s/%s: %w", collection, rec.ID(), err)
		}
	}
	return nil
}

// CountDocuments returns how many rows collection has in table.
func CountDocuments(ctx context.Context, db *sql.DB, table, collection string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE collection = $1`, pq.QuoteIdentifier(table))
	var n int
	if err := db.QueryRowContext(ctx, query, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// TruncateDocuments empties table.
func TruncateDocuments(ctx context.Context, db *sql.DB, table string) error {
	if _, err := db.ExecContext(ctx, "TRUNCATE "+pq.QuoteIdentifier(table)); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}
