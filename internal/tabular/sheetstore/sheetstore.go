// Package sheetstore provides a Google Sheets implementation of tabular.Store.
// Each table is a tab in one spreadsheet; row 1 holds the column headers.
package sheetstore

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
)

// API is the subset of the Sheets values API the store needs.
type API interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string) error
	Get(ctx context.Context, rng string) ([][]string, error)
	// Append writes one row after the last data row and returns the updated A1 range.
	Append(ctx context.Context, rng string, values []string) (string, error)
	Update(ctx context.Context, rng string, values []string) error
}

// Store implements tabular.Store on top of a spreadsheet.
type Store struct {
	api  API
	mu   sync.Mutex
	defs map[string]tabular.TableDef
}

var _ tabular.Store = (*Store)(nil)

// New wraps an API implementation.
func New(api API) *Store {
	return &Store{api: api, defs: make(map[string]tabular.TableDef)}
}

// NewFromCredentials builds a Store backed by the Sheets service using a
// service-account credentials file.
func NewFromCredentials(ctx context.Context, credentialsFile, spreadsheetID string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheetstore: create sheets service: %w", err)
	}
	return New(&ServiceAPI{svc: svc, spreadsheetID: spreadsheetID}), nil
}

// EnsureSchema creates missing tabs and writes header rows where absent.
func (s *Store) EnsureSchema(ctx context.Context, defs []tabular.TableDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	titles, err := s.api.SheetTitles(ctx)
	if err != nil {
		return tabular.Unavailable("list sheets", err)
	}
	existing := make(map[string]bool, len(titles))
	for _, t := range titles {
		existing[t] = true
	}

	for _, def := range defs {
		if !existing[def.Name] {
			if err := s.api.AddSheet(ctx, def.Name); err != nil {
				return tabular.Unavailable("add sheet "+def.Name, err)
			}
		}
		header, err := s.api.Get(ctx, headerRange(def))
		if err != nil {
			return tabular.Unavailable("read header "+def.Name, err)
		}
		if len(header) == 0 || len(header[0]) == 0 {
			if err := s.api.Update(ctx, headerRange(def), def.Columns); err != nil {
				return tabular.Unavailable("write header "+def.Name, err)
			}
		}
		s.defs[def.Name] = def
	}
	return nil
}

// Append adds a row laid out in the fixed column order.
func (s *Store) Append(ctx context.Context, table string, row tabular.Row) (tabular.RowID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[table]
	if !ok {
		return 0, tabular.UnknownTable(table)
	}
	updated, err := s.api.Append(ctx, fullRange(def), tabular.Values(def, row))
	if err != nil {
		return 0, tabular.Unavailable("append "+table, err)
	}
	sheetRow, err := firstRowOf(updated)
	if err != nil {
		return 0, fmt.Errorf("sheetstore: append %s: %w: %w", table, apperr.ErrFatal, err)
	}
	return tabular.RowID(sheetRow - 1), nil
}

// Scan reads the whole tab and filters client-side.
func (s *Store) Scan(ctx context.Context, table string, pred tabular.Predicate) ([]tabular.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[table]
	if !ok {
		return nil, tabular.UnknownTable(table)
	}
	header, data, err := s.read(ctx, def)
	if err != nil {
		return nil, err
	}
	var out []tabular.Row
	for _, values := range data {
		r := tabular.FromValues(def, header, values)
		if tabular.Match(pred, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpdateWhere rewrites the first row whose keyField matches. The store lock is
// held across the read-modify-write.
func (s *Store) UpdateWhere(ctx context.Context, table, keyField, keyValue string, patch tabular.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[table]
	if !ok {
		return tabular.UnknownTable(table)
	}
	if err := tabular.CheckPatch(def, patch); err != nil {
		return err
	}
	header, data, err := s.read(ctx, def)
	if err != nil {
		return err
	}
	for i, values := range data {
		r := tabular.FromValues(def, header, values)
		if r[keyField] != keyValue {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		sheetRow := i + 2
		rng := fmt.Sprintf("%s!A%d:%s%d", def.Name, sheetRow, columnLetter(len(header)), sheetRow)
		if err := s.api.Update(ctx, rng, layout(header, r)); err != nil {
			return tabular.Unavailable("update "+table, err)
		}
		return nil
	}
	return fmt.Errorf("sheetstore: %s where %s=%q: %w", table, keyField, keyValue, apperr.ErrNotFound)
}

func (s *Store) read(ctx context.Context, def tabular.TableDef) ([]string, [][]string, error) {
	values, err := s.api.Get(ctx, fullRange(def))
	if err != nil {
		return nil, nil, tabular.Unavailable("read "+def.Name, err)
	}
	if len(values) == 0 {
		return def.Columns, nil, nil
	}
	return values[0], values[1:], nil
}

// layout orders r by the sheet's actual header so extra columns added by
// hand in the sheet keep their position.
func layout(header []string, r tabular.Row) []string {
	out := make([]string, len(header))
	for i, name := range header {
		out[i] = r[name]
	}
	return out
}

func headerRange(def tabular.TableDef) string {
	return fmt.Sprintf("%s!A1:%s1", def.Name, columnLetter(len(def.Columns)))
}

func fullRange(def tabular.TableDef) string {
	return def.Name
}

// columnLetter converts a 1-based column index to A1 notation (1 -> A, 27 -> AA).
func columnLetter(n int) string {
	if n < 1 {
		n = 1
	}
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

var a1Row = regexp.MustCompile(`![A-Z]+(\d+)`)

func firstRowOf(a1 string) (int, error) {
	m := a1Row.FindStringSubmatch(a1)
	if m == nil {
		return 0, fmt.Errorf("unexpected updated range %q", a1)
	}
	return strconv.Atoi(m[1])
}

// ServiceAPI adapts *sheets.Service to API.
type ServiceAPI struct {
	svc           *sheets.Service
	spreadsheetID string
}

// SheetTitles lists the tab titles of the spreadsheet.
func (a *ServiceAPI) SheetTitles(ctx context.Context) ([]string, error) {
	ss, err := a.svc.Spreadsheets.Get(a.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (a *ServiceAPI) AddSheet(ctx context.Context, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	_, err := a.svc.Spreadsheets.BatchUpdate(a.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (a *ServiceAPI) Get(ctx context.Context, rng string) ([][]string, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(a.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

func (a *ServiceAPI) Append(ctx context.Context, rng string, values []string) (string, error) {
	resp, err := a.svc.Spreadsheets.Values.Append(a.spreadsheetID, rng, toValueRange(values)).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.Updates == nil {
		return "", fmt.Errorf("append response missing updates")
	}
	return resp.Updates.UpdatedRange, nil
}

func (a *ServiceAPI) Update(ctx context.Context, rng string, values []string) error {
	_, err := a.svc.Spreadsheets.Values.Update(a.spreadsheetID, rng, toValueRange(values)).
		ValueInputOption("RAW").
		Context(ctx).Do()
	return err
}

func toValueRange(values []string) *sheets.ValueRange {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return &sheets.ValueRange{Values: [][]interface{}{row}}
}
