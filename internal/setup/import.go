package setup

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/store"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// ImportReport summarises an import. Collections are all-or-nothing:
// Imported counts rows of collections that were accepted in full, Failed
// lists collections that were left unchanged.
type ImportReport struct {
	Imported map[string]int
	Failed   []string
	Errors   []RowError
}

// Err returns an *ImportError when any row failed, else nil.
func (r ImportReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &ImportError{Rows: r.Errors}
}

// validateFunc checks one row against the target, given the rows already
// accepted from the same sheet.
type validateFunc func(collection string, fields types.Fields, accepted []types.Entity) (types.Fields, error)

// applyFunc stores every accepted row of one collection.
type applyFunc func(collection string, rows []types.Fields) error

func runImport(r io.Reader, validate validateFunc, apply applyFunc) (ImportReport, error) {
	report := ImportReport{Imported: make(map[string]int)}
	sheets, headerErrs, err := readWorkbook(r)
	if err != nil {
		return report, err
	}
	report.Errors = append(report.Errors, headerErrs...)
	for _, he := range headerErrs {
		report.Failed = append(report.Failed, collectionOf(he.Sheet))
	}

	for _, s := range sheets {
		var accepted []types.Entity
		var good []types.Fields
		var bad []RowError
		for i, row := range s.rows {
			values, err := validate(s.collection, row, accepted)
			if err != nil {
				bad = append(bad, RowError{Sheet: s.sheet, Row: s.lines[i], Err: err})
				continue
			}
			accepted = append(accepted, types.Entity{Collection: s.collection, Fields: values})
			good = append(good, values)
		}
		if len(bad) > 0 {
			report.Errors = append(report.Errors, bad...)
			report.Failed = append(report.Failed, s.collection)
			continue
		}
		if err := apply(s.collection, good); err != nil {
			report.Errors = append(report.Errors, RowError{Sheet: s.sheet, Row: 0, Err: err})
			report.Failed = append(report.Failed, s.collection)
			continue
		}
		report.Imported[s.collection] = len(good)
	}
	return report, nil
}

func collectionOf(sheet string) string {
	for _, s := range SheetNames {
		if s.Sheet == sheet {
			return s.Collection
		}
	}
	return sheet
}

// Import stages workbook rows into the wizard draft. A collection with any
// invalid row is left untouched; the others are appended.
func (w *Wizard) Import(r io.Reader) (ImportReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ImportReport{}, ErrWizardClosed
	}
	report, err := runImport(r,
		func(c string, fields types.Fields, accepted []types.Entity) (types.Fields, error) {
			others := append(types.CloneAll(w.draft[c]), accepted...)
			return w.store.Validate(c, fields, others)
		},
		func(c string, rows []types.Fields) error {
			for _, values := range rows {
				w.draft[c] = append(w.draft[c], types.Entity{ID: w.draftID(c), Collection: c, Fields: values})
			}
			return nil
		})
	if err != nil {
		return report, err
	}
	w.log.WithFields(logrus.Fields{"imported": report.Imported, "failed": report.Failed}).Info("workbook staged")
	return report, nil
}

// ImportIntoStore commits workbook rows straight into the store with the
// same per-collection atomicity: every row of a collection is validated
// first, then the collection is written in a single store batch.
func ImportIntoStore(st *store.Store, r io.Reader, log logrus.FieldLogger) (ImportReport, error) {
	report, err := runImport(r, st.Validate, func(c string, rows []types.Fields) error {
		_, err := st.CreateBatch(map[string][]types.Fields{c: rows})
		return err
	})
	if err != nil {
		return report, err
	}
	if log != nil {
		log.WithFields(logrus.Fields{"module": "setup", "imported": report.Imported, "failed": report.Failed}).Info("workbook imported")
	}
	return report, nil
}
