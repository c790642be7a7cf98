// Package duckstore is an embedded Cache backend on DuckDB. Documents are kept
// as JSON text next to a dedicated name_normalized column that serves prefix
// range queries.
package duckstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/criteria"
	"go.uber.org/zap"
)

const defaultMaxBatchSize = 400

// Store is a DuckDB-backed document store.
type Store struct {
	db           *sql.DB
	table        string
	maxBatchSize int
	nowFunc      func() time.Time
}

var _ duplex.CacheBackend = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the documents
// table. An empty path opens an in-memory database.
func Open(ctx context.Context, path, table string, maxBatchSize int) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// a single connection keeps batches and reads on one session
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	s := New(db, table, maxBatchSize)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	zap.S().Infow("duckdb cache ready", "path", dsn, "table", table)
	return s, nil
}

// New wraps an open DuckDB handle.
func New(db *sql.DB, table string, maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}
	return &Store{db: db, table: table, maxBatchSize: maxBatchSize, nowFunc: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck runs a trivial query against the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	var v int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&v); err != nil {
		return fmt.Errorf("duckdb health query failed: %w", err)
	}
	if v != 1 {
		return fmt.Errorf("unexpected duckdb health result: %d", v)
	}
	return nil
}

func (s *Store) tableName() string {
	return `"` + strings.ReplaceAll(s.table, `"`, `""`) + `"`
}

// EnsureSchema creates the documents table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		collection VARCHAR NOT NULL,
		id VARCHAR NOT NULL,
		data VARCHAR NOT NULL,
		name_normalized VARCHAR,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (collection, id)
	)`, s.tableName())
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) NewID(string) string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Store) MaxBatchSize() int {
	return s.maxBatchSize
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nameKey(rec duplex.Record) any {
	if v, ok := rec[duplex.FieldNameNormalized].(string); ok {
		return v
	}
	return nil
}

func (s *Store) write(ctx context.Context, ex execer, verb, collection, id string, rec duplex.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	query := fmt.Sprintf(`%s INTO %s (collection, id, data, name_normalized, updated_at) VALUES (?, ?, ?, ?, ?)`, verb, s.tableName())
	_, err = ex.ExecContext(ctx, query, collection, id, string(doc), nameKey(rec), s.nowFunc().UnixMilli())
	return err
}

func decode(raw string) (duplex.Record, error) {
	var rec duplex.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, collection string, data duplex.Record) (duplex.Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = duplex.Record{}
	}
	if rec.ID() == "" {
		rec[duplex.FieldID] = s.NewID(collection)
	}
	if err := s.write(ctx, s.db, "INSERT", collection, rec.ID(), rec); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, data duplex.Record) error {
	if id == "" {
		return duplex.NewValidationError(duplex.FieldID, "id is required")
	}
	rec := data.Clone()
	if rec == nil {
		rec = duplex.Record{}
	}
	rec[duplex.FieldID] = id
	if err := s.write(ctx, s.db, "INSERT OR REPLACE", collection, id, rec); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Update reads, merges and rewrites the document in one transaction.
func (s *Store) Update(ctx context.Context, collection, id string, patch duplex.Record) (duplex.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	var raw string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? AND id = ?`, s.tableName())
	if err := tx.QueryRowContext(ctx, query, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, duplex.NewNotFoundError(collection, id)
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	existing, err := decode(raw)
	if err != nil {
		return nil, err
	}
	merged := duplex.Merge(existing, patch)
	merged[duplex.FieldID] = id
	if err := s.write(ctx, tx, "INSERT OR REPLACE", collection, id, merged); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return merged, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND id = ?`, s.tableName()), collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return duplex.NewNotFoundError(collection, id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (duplex.Record, error) {
	var raw string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? AND id = ?`, s.tableName())
	if err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, duplex.NewNotFoundError(collection, id)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decode(raw)
}

func (s *Store) List(ctx context.Context, collection string) ([]duplex.Record, error) {
	return s.queryDocuments(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? ORDER BY id`, s.tableName()), collection)
}

func (s *Store) Filter(ctx context.Context, collection string, c duplex.Criteria) ([]duplex.Record, error) {
	all, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	return criteria.Apply(all, c, nil)
}

// sortedColumn maps a document field to its sorted column, if any.
func sortedColumn(field string) (string, bool) {
	switch field {
	case duplex.FieldNameNormalized:
		return "name_normalized", true
	case duplex.FieldID:
		return "id", true
	default:
		return "", false
	}
}

// Query supports ranges over name_normalized and id only. DuckDB keeps no
// client read cache, so Fresh needs no handling.
func (s *Store) Query(ctx context.Context, collection string, q duplex.Query) ([]duplex.Record, error) {
	var sb strings.Builder
	args := []any{collection}
	fmt.Fprintf(&sb, `SELECT data FROM %s WHERE collection = ?`, s.tableName())

	if q.Field != "" {
		col, ok := sortedColumn(q.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", duplex.ErrIndexMissing, collection, q.Field)
		}
		if q.GTE != nil {
			sb.WriteString(" AND " + col + " >= ?")
			args = append(args, *q.GTE)
		}
		if q.LTE != nil {
			sb.WriteString(" AND " + col + " <= ?")
			args = append(args, *q.LTE)
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = q.Field
	}
	if orderBy == "" {
		orderBy = duplex.FieldID
	}
	col, ok := sortedColumn(orderBy)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", duplex.ErrIndexMissing, collection, orderBy)
	}
	dir := "ASC"
	if q.SortOrder == duplex.SortOrderDesc {
		dir = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id", col, dir)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return s.queryDocuments(ctx, sb.String(), args...)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]duplex.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]duplex.Record, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		rec, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// CommitBatch applies ops in one transaction.
func (s *Store) CommitBatch(ctx context.Context, collection string, ops []duplex.BatchOp) error {
	if len(ops) > s.maxBatchSize {
		return duplex.NewBatchSizeExceededError(len(ops), s.maxBatchSize)
	}
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND id = ?`, s.tableName())
	for i, op := range ops {
		if op.ID == "" {
			return duplex.NewValidationError(duplex.FieldID, fmt.Sprintf("batch op %d has no id", i))
		}
		switch op.Type {
		case duplex.BatchPut:
			rec := op.Data.Clone()
			if rec == nil {
				rec = duplex.Record{}
			}
			rec[duplex.FieldID] = op.ID
			if err := s.write(ctx, tx, "INSERT OR REPLACE", collection, op.ID, rec); err != nil {
				return fmt.Errorf("batch upsert: %w", err)
			}
		case duplex.BatchDelete:
			if _, err := tx.ExecContext(ctx, deleteSQL, collection, op.ID); err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
		default:
			return duplex.NewValidationError("type", fmt.Sprintf("batch op %d has unknown type %q", i, op.Type))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
