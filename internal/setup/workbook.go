package setup

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// SheetNames maps workbook sheet names to collections, in import order.
var SheetNames = []struct {
	Sheet      string
	Collection string
}{
	{"Company", types.CollectionCompany},
	{"Warehouses", types.CollectionWarehouses},
	{"Suppliers", types.CollectionSuppliers},
	{"Customers", types.CollectionCustomers},
	{"Categories", types.CollectionCategories},
	{"Products", types.CollectionProducts},
}

// ErrNoSheets reports a workbook without any recognised sheet.
var ErrNoSheets = errors.New("workbook has no recognised sheets")

// RowError locates a failure in the workbook. Row is 1-based as shown in
// spreadsheet applications; row 1 is the header.
type RowError struct {
	Sheet string
	Row   int
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s!%d: %v", e.Sheet, e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ImportError collects every row error of an import.
type ImportError struct {
	Rows []RowError
}

func (e *ImportError) Error() string {
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("%s: %d row error(s): %s", types.ErrValidation, len(e.Rows), strings.Join(msgs, "; "))
}

func (e *ImportError) Unwrap() error { return types.ErrValidation }

// sheetRows is the parsed content of one sheet.
type sheetRows struct {
	sheet      string
	collection string
	// rows holds field maps keyed by header; line is the source row number.
	rows  []types.Fields
	lines []int
}

// readWorkbook parses every recognised sheet. Header problems are reported
// as row errors on row 1 and the sheet is left out.
func readWorkbook(r io.Reader) ([]sheetRows, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	present := f.GetSheetList()
	var out []sheetRows
	var rowErrs []RowError
	found := false
	for _, s := range SheetNames {
		if !slices.Contains(present, s.Sheet) {
			continue
		}
		found = true
		rows, err := f.GetRows(s.Sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("read sheet %s: %w", s.Sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		schema, _ := types.SchemaFor(s.Collection)
		header, err := checkHeader(schema, rows[0])
		if err != nil {
			rowErrs = append(rowErrs, RowError{Sheet: s.Sheet, Row: 1, Err: err})
			continue
		}

		parsed := sheetRows{sheet: s.Sheet, collection: s.Collection}
		for i, row := range rows[1:] {
			if blank(row) {
				continue
			}
			fields := make(types.Fields, len(header))
			for col, name := range header {
				if name == "" || name == types.FieldID {
					continue
				}
				if col < len(row) {
					fields[name] = row[col]
				}
			}
			parsed.rows = append(parsed.rows, fields)
			parsed.lines = append(parsed.lines, i+2)
		}
		out = append(out, parsed)
	}
	if !found {
		return nil, nil, ErrNoSheets
	}
	return out, rowErrs, nil
}

// checkHeader accepts the input columns of the schema in any order, plus an
// optional id column that is ignored. Every required column must be present.
func checkHeader(schema types.Schema, raw []string) ([]string, error) {
	allowed := schema.InputColumns()
	header := make([]string, len(raw))
	seen := make(map[string]bool)
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if h != types.FieldID && !slices.Contains(allowed, h) {
			return nil, fmt.Errorf("unexpected column %q, expected %s", h, strings.Join(allowed, ", "))
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		header[i] = h
	}
	for _, f := range schema.Fields {
		if f.Required && !seen[f.Name] {
			return nil, fmt.Errorf("missing required column %q", f.Name)
		}
	}
	return header, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WriteTemplate writes an empty import workbook: one sheet per source
// collection with its header row.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range SheetNames {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.Sheet); err != nil {
			return err
		}
		schema, _ := types.SchemaFor(s.Collection)
		cols := schema.InputColumns()
		header := make([]interface{}, len(cols))
		for j, c := range cols {
			header[j] = c
		}
		if err := f.SetSheetRow(s.Sheet, "A1", &header); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}
