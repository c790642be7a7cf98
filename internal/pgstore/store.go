// Package pgstore keeps documents as JSONB rows in one Postgres table keyed by
// (collection, id).
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/criteria"
	"go.uber.org/zap"
)

const (
	defaultMaxBatchSize = 400
	pgUniqueViolation   = "23505"
)

type documentPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store is a Postgres-backed document store. It satisfies duplex.CacheBackend
// so the same table layout can also serve as Cache.
type Store struct {
	pool         documentPool
	table        string
	maxBatchSize int
	nowFunc      func() time.Time
}

// New creates a store over table.
func New(pool documentPool, table string, maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}
	return &Store{
		pool:         pool,
		table:        table,
		maxBatchSize: maxBatchSize,
		nowFunc:      time.Now,
	}
}

var _ duplex.CacheBackend = (*Store)(nil)

func (s *Store) withClock(now func() time.Time) {
	if now != nil {
		s.nowFunc = now
	}
}

func (s *Store) nowMillis() int64 {
	return s.nowFunc().UnixMilli()
}

func (s *Store) tableName() string {
	return pgx.Identifier{s.table}.Sanitize()
}

func (s *Store) indexName() string {
	return pgx.Identifier{s.table + "_name_normalized_idx"}.Sanitize()
}

// EnsureSchema creates the documents table and the sorted name index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (collection, id)
		)`, s.tableName()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (collection, (data->>'%s') COLLATE "C")`,
			s.indexName(), s.tableName(), duplex.FieldNameNormalized),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	zap.S().Infow("documents table ready", "table", s.table)
	return nil
}

func (s *Store) NewID(string) string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Store) MaxBatchSize() int {
	return s.maxBatchSize
}

func encode(rec duplex.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

func decode(raw []byte) (duplex.Record, error) {
	var rec duplex.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, collection string, data duplex.Record) (duplex.Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = duplex.Record{}
	}
	id := rec.ID()
	if id == "" {
		id = s.NewID(collection)
		rec[duplex.FieldID] = id
	}
	doc, err := encode(rec)
	if err != nil {
		return nil, err
	}
	now := s.nowMillis()
	query := fmt.Sprintf(`INSERT INTO %s (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3::jsonb, $4, $4)`, s.tableName())
	if _, err := s.pool.Exec(ctx, query, collection, id, doc, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%s/%s: document already exists: %w", collection, id, err)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return rec, nil
}

func (s *Store) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3::jsonb, $4, $4)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, s.tableName())
}

func (s *Store) deleteSQL() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, s.tableName())
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
	doc, err := encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.upsertSQL(), collection, id, doc, s.nowMillis()); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Update merges patch into the stored document with the jsonb || operator.
func (s *Store) Update(ctx context.Context, collection, id string, patch duplex.Record) (duplex.Record, error) {
	p := patch.Clone()
	delete(p, duplex.FieldID)
	if p == nil {
		p = duplex.Record{}
	}
	doc, err := encode(p)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`UPDATE %s SET data = data || $3::jsonb, updated_at = $4 WHERE collection = $1 AND id = $2 RETURNING data`, s.tableName())
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, collection, id, doc, s.nowMillis()).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, duplex.NewNotFoundError(collection, id)
		}
		return nil, fmt.Errorf("update document: %w", err)
	}
	return decode(raw)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx, s.deleteSQL(), collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return duplex.NewNotFoundError(collection, id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (duplex.Record, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = $1 AND id = $2`, s.tableName())
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, duplex.NewNotFoundError(collection, id)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decode(raw)
}

func (s *Store) List(ctx context.Context, collection string) ([]duplex.Record, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = $1 ORDER BY id`, s.tableName())
	return s.queryDocuments(ctx, query, collection)
}

// Filter pushes scalar equality down as a JSONB containment test and applies
// the full criteria to the rows that come back.
func (s *Store) Filter(ctx context.Context, collection string, c duplex.Criteria) ([]duplex.Record, error) {
	m, err := criteria.New(c, nil)
	if err != nil {
		return nil, err
	}
	contains := containmentDoc(m, c)
	var recs []duplex.Record
	if len(contains) == 0 {
		recs, err = s.List(ctx, collection)
	} else {
		doc, encErr := encode(contains)
		if encErr != nil {
			return nil, encErr
		}
		query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`, s.tableName())
		recs, err = s.queryDocuments(ctx, query, collection, doc)
	}
	if err != nil {
		return nil, err
	}
	return m.Apply(recs), nil
}

// containmentDoc keeps the criteria that JSONB containment can decide exactly.
func containmentDoc(m *criteria.Matcher, c duplex.Criteria) duplex.Record {
	doc := duplex.Record{}
	for field, v := range c {
		if strings.Contains(field, ".") || m.IsDateField(field) {
			continue
		}
		switch v.(type) {
		case string, bool:
			doc[field] = v
		}
	}
	return doc
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func fieldExpr(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", duplex.NewValidationError("field", fmt.Sprintf("unsupported query field %q", field))
	}
	return fmt.Sprintf(`(data->>'%s') COLLATE "C"`, field), nil
}

// Query runs a range query over a text projection of one field using byte
// order collation, so name_normalized ranges hit the expression index. Fresh
// is ignored; Postgres has no client read cache to bypass.
func (s *Store) Query(ctx context.Context, collection string, q duplex.Query) ([]duplex.Record, error) {
	var sb strings.Builder
	args := []any{collection}
	fmt.Fprintf(&sb, `SELECT data FROM %s WHERE collection = $1`, s.tableName())

	if q.Field != "" {
		expr, err := fieldExpr(q.Field)
		if err != nil {
			return nil, err
		}
		if q.GTE != nil {
			args = append(args, *q.GTE)
			fmt.Fprintf(&sb, ` AND %s >= $%d`, expr, len(args))
		}
		if q.LTE != nil {
			args = append(args, *q.LTE)
			fmt.Fprintf(&sb, ` AND %s <= $%d`, expr, len(args))
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = q.Field
	}
	if orderBy != "" {
		expr, err := fieldExpr(orderBy)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.SortOrder == duplex.SortOrderDesc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY %s %s, id`, expr, dir)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	return s.queryDocuments(ctx, sb.String(), args...)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]duplex.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]duplex.Record, 0)
	for rows.Next() {
		var raw []byte
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

// CommitBatch applies ops inside one transaction.
func (s *Store) CommitBatch(ctx context.Context, collection string, ops []duplex.BatchOp) error {
	if len(ops) > s.maxBatchSize {
		return duplex.NewBatchSizeExceededError(len(ops), s.maxBatchSize)
	}
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	now := s.nowMillis()
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
			doc, err := encode(rec)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, s.upsertSQL(), collection, op.ID, doc, now); err != nil {
				return fmt.Errorf("batch upsert: %w", err)
			}
		case duplex.BatchDelete:
			if _, err := tx.Exec(ctx, s.deleteSQL(), collection, op.ID); err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
		default:
			return duplex.NewValidationError("type", fmt.Sprintf("batch op %d has unknown type %q", i, op.Type))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
