// Package pgstore provides a PostgreSQL implementation of tabular.Store.
// Each logical table maps to a Postgres table of TEXT columns plus a
// row_id BIGSERIAL that fixes insertion order.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
)

var tracer = otel.Tracer("github.com/wolfman30/clinic-automation/internal/tabular/pgstore")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists tabular rows in PostgreSQL.
type Store struct {
	db   DB
	mu   sync.RWMutex
	defs map[string]tabular.TableDef
}

var _ tabular.Store = (*Store)(nil)

// New wraps a pgx pool or connection.
func New(db DB) *Store {
	return &Store{db: db, defs: make(map[string]tabular.TableDef)}
}

// TableName returns the Postgres table backing a logical table.
func TableName(def tabular.TableDef) string {
	return strings.ToLower(def.Name)
}

// CreateTableSQL renders the DDL for def. cmd/migrate ships the same shape.
func CreateTableSQL(def tabular.TableDef) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgx.Identifier{TableName(def)}.Sanitize())
	b.WriteString(" (row_id BIGSERIAL PRIMARY KEY")
	for _, c := range def.Columns {
		b.WriteString(", ")
		b.WriteString(pgx.Identifier{c}.Sanitize())
		b.WriteString(" TEXT NOT NULL DEFAULT ''")
	}
	b.WriteString(")")
	return b.String()
}

// EnsureSchema creates missing tables. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context, defs []tabular.TableDef) error {
	ctx, span := startSpan(ctx, "pgstore.EnsureSchema", "CREATE")
	defer span.End()

	for _, def := range defs {
		if _, err := s.db.Exec(ctx, CreateTableSQL(def)); err != nil {
			recordErr(span, err)
			return tabular.Unavailable("create table "+def.Name, err)
		}
		s.mu.Lock()
		s.defs[def.Name] = def
		s.mu.Unlock()
	}
	return nil
}

// Append inserts a row and returns its row_id.
func (s *Store) Append(ctx context.Context, table string, row tabular.Row) (tabular.RowID, error) {
	def, err := s.def(table)
	if err != nil {
		return 0, err
	}
	ctx, span := startSpan(ctx, "pgstore.Append", "INSERT")
	defer span.End()

	cols := make([]string, len(def.Columns))
	placeholders := make([]string, len(def.Columns))
	args := make([]any, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING row_id",
		pgx.Identifier{TableName(def)}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var id int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		recordErr(span, err)
		return 0, tabular.Unavailable("append "+table, err)
	}
	return tabular.RowID(id), nil
}

// Scan reads every row ordered by row_id and filters with pred.
func (s *Store) Scan(ctx context.Context, table string, pred tabular.Predicate) ([]tabular.Row, error) {
	def, err := s.def(table)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "pgstore.Scan", "SELECT")
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY row_id", columnList(def), pgx.Identifier{TableName(def)}.Sanitize())
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		recordErr(span, err)
		return nil, tabular.Unavailable("scan "+table, err)
	}
	defer rows.Close()

	var out []tabular.Row
	for rows.Next() {
		values := make([]string, len(def.Columns))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("pgstore: scan %s row: %w: %w", table, apperr.ErrFatal, err)
		}
		r := tabular.FromValues(def, def.Columns, values)
		if tabular.Match(pred, r) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, tabular.Unavailable("scan "+table, err)
	}
	return out, nil
}

// UpdateWhere patches the lowest row_id matching keyField in one statement.
func (s *Store) UpdateWhere(ctx context.Context, table, keyField, keyValue string, patch tabular.Row) error {
	def, err := s.def(table)
	if err != nil {
		return err
	}
	if err := tabular.CheckPatch(def, patch); err != nil {
		return err
	}
	if !tabular.HasColumn(def, keyField) {
		return fmt.Errorf("pgstore: %s has no key column %q: %w", table, keyField, apperr.ErrFatal)
	}
	if len(patch) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "pgstore.UpdateWhere", "UPDATE")
	defer span.End()

	var sets []string
	var args []any
	for _, c := range def.Columns {
		v, ok := patch[c]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}
	args = append(args, keyValue)
	tbl := pgx.Identifier{TableName(def)}.Sanitize()
	query := fmt.Sprintf("UPDATE %s SET %s WHERE row_id = (SELECT row_id FROM %s WHERE %s = $%d ORDER BY row_id LIMIT 1)",
		tbl, strings.Join(sets, ", "), tbl, pgx.Identifier{keyField}.Sanitize(), len(args))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		recordErr(span, err)
		return tabular.Unavailable("update "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: %s where %s=%q: %w", table, keyField, keyValue, apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) def(table string) (tabular.TableDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[table]
	if !ok {
		return tabular.TableDef{}, tabular.UnknownTable(table)
	}
	return def, nil
}

func columnList(def tabular.TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(cols, ", ")
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordErr(span trace.Span, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
