// Package memstore provides an in-memory implementation of tabular.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
)

type table struct {
	def  tabular.TableDef
	rows []tabular.Row
}

// Store holds tables in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table

	// FailNext, when set, is returned by the next mutating call instead of
	// touching state. Tests use it to simulate transport loss.
	failNext error
}

var _ tabular.Store = (*Store)(nil)

// New initializes an empty Store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// FailNext makes the next Append or UpdateWhere fail with err wrapped as
// ErrStoreUnavailable.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// EnsureSchema registers tables; existing tables keep their rows.
func (s *Store) EnsureSchema(_ context.Context, defs []tabular.TableDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range defs {
		if t, ok := s.tables[def.Name]; ok {
			t.def = def
			continue
		}
		s.tables[def.Name] = &table{def: def}
	}
	return nil
}

// Append stores a projected copy of row.
func (s *Store) Append(_ context.Context, name string, row tabular.Row) (tabular.RowID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("append"); err != nil {
		return 0, err
	}
	t, ok := s.tables[name]
	if !ok {
		return 0, tabular.UnknownTable(name)
	}
	t.rows = append(t.rows, tabular.Project(t.def, row))
	return tabular.RowID(len(t.rows)), nil
}

// Scan returns copies of matching rows in insertion order.
func (s *Store) Scan(_ context.Context, name string, pred tabular.Predicate) ([]tabular.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, tabular.UnknownTable(name)
	}
	var out []tabular.Row
	for _, r := range t.rows {
		if tabular.Match(pred, r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// UpdateWhere patches the first matching row under the store lock.
func (s *Store) UpdateWhere(_ context.Context, name, keyField, keyValue string, patch tabular.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("update"); err != nil {
		return err
	}
	t, ok := s.tables[name]
	if !ok {
		return tabular.UnknownTable(name)
	}
	if err := tabular.CheckPatch(t.def, patch); err != nil {
		return err
	}
	for _, r := range t.rows {
		if r[keyField] != keyValue {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		return nil
	}
	return fmt.Errorf("memstore: %s where %s=%q: %w", name, keyField, keyValue, apperr.ErrNotFound)
}

// Len returns the number of rows in a table.
func (s *Store) Len(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

func (s *Store) takeFailure(op string) error {
	if s.failNext == nil {
		return nil
	}
	err := s.failNext
	s.failNext = nil
	return tabular.Unavailable(op, err)
}
