// Package tabular is the durable store boundary: named tables with a fixed
// column order, append-only inserts, predicate scans and keyed single-row
// updates. Backends live in subpackages (memstore, sheetstore, pgstore).
package tabular

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-automation/internal/apperr"
)

// Row is one record keyed by column name. Columns not in the table definition
// are ignored on read and rejected on update.
type Row map[string]string

// RowID is the 1-based position of a data row within its table (header excluded).
type RowID int64

// Predicate selects rows during a scan. A nil Predicate matches every row.
type Predicate func(Row) bool

// TableDef names a table and fixes its column order.
type TableDef struct {
	Name    string
	Columns []string
}

// Store is implemented by every backend.
type Store interface {
	// EnsureSchema creates missing tables and header rows. Idempotent.
	EnsureSchema(ctx context.Context, defs []TableDef) error
	// Append adds one row and returns its RowID.
	Append(ctx context.Context, table string, row Row) (RowID, error)
	// Scan returns rows matching pred in insertion order.
	Scan(ctx context.Context, table string, pred Predicate) ([]Row, error)
	// UpdateWhere patches the first row whose keyField equals keyValue.
	// Returns apperr.ErrNotFound when no row matches.
	UpdateWhere(ctx context.Context, table, keyField, keyValue string, patch Row) error
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Eq matches rows whose column equals value.
func Eq(column, value string) Predicate {
	return func(r Row) bool { return r[column] == value }
}

// EqFold matches rows whose column equals value, ignoring case and surrounding space.
func EqFold(column, value string) Predicate {
	value = strings.TrimSpace(value)
	return func(r Row) bool { return strings.EqualFold(strings.TrimSpace(r[column]), value) }
}

// And matches rows accepted by every predicate. Nil predicates are skipped.
func And(preds ...Predicate) Predicate {
	return func(r Row) bool {
		for _, p := range preds {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

// Match applies pred, treating nil as match-all.
func Match(pred Predicate, r Row) bool {
	return pred == nil || pred(r)
}

// Project keeps only the defined columns of r, in a fresh Row. Missing
// columns become empty strings so every returned row has the full shape.
func Project(def TableDef, r Row) Row {
	out := make(Row, len(def.Columns))
	for _, c := range def.Columns {
		out[c] = r[c]
	}
	return out
}

// Values lays r out in column order for positional backends.
func Values(def TableDef, r Row) []string {
	out := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		out[i] = r[c]
	}
	return out
}

// FromValues rebuilds a Row from a positional record using header to resolve
// column names. Header cells not in def are dropped.
func FromValues(def TableDef, header, values []string) Row {
	known := make(map[string]struct{}, len(def.Columns))
	for _, c := range def.Columns {
		known[c] = struct{}{}
	}
	out := make(Row, len(def.Columns))
	for _, c := range def.Columns {
		out[c] = ""
	}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, ok := known[name]; !ok {
			continue
		}
		if i < len(values) {
			out[name] = values[i]
		}
	}
	return out
}

// CheckPatch rejects patches naming columns the table does not define.
func CheckPatch(def TableDef, patch Row) error {
	for k := range patch {
		if !HasColumn(def, k) {
			return fmt.Errorf("tabular: table %s has no column %q: %w", def.Name, k, apperr.ErrFatal)
		}
	}
	return nil
}

// HasColumn reports whether def defines column.
func HasColumn(def TableDef, column string) bool {
	for _, c := range def.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// UnknownTable is returned when an operation names a table EnsureSchema never saw.
func UnknownTable(name string) error {
	return fmt.Errorf("tabular: unknown table %q: %w", name, apperr.ErrFatal)
}

// Unavailable wraps a backend transport failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("tabular: %s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}
