// Package sheetstest provides an in-memory sheets.Documents for tests.
package sheetstest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/stockroom/internal/sheets"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Doc is one fake spreadsheet.
type Doc struct {
	sheets.Candidate
	Sheets map[string][][]string
	Order  []string
}

// Fake stores documents in memory and records calls. Failures are injected
// per operation with FailOn.
type Fake struct {
	mu       sync.Mutex
	docs     map[string]*Doc
	nextID   int
	calls    map[string]int
	failures map[string]error
	// hook, when set, runs before every Write with the sheet name. Tests use
	// it to block or observe in-flight writes.
	hook func(sheet string)
	// active counts writes in flight; Peak is the highest value seen.
	active int
	peak   int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{docs: make(map[string]*Doc), calls: make(map[string]int), failures: make(map[string]error)}
}

// AddDoc registers an existing document for discovery.
func (f *Fake) AddDoc(c sheets.Candidate, sheetNames ...string) *Doc {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &Doc{Candidate: c, Sheets: make(map[string][][]string)}
	for _, n := range sheetNames {
		d.Sheets[n] = nil
		d.Order = append(d.Order, n)
	}
	f.docs[c.ID] = d
	return d
}

// FailOn makes every call to op fail with err until cleared with a nil err.
// op is the method name, optionally suffixed with ":<sheet>", for example
// "Write:products".
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// OnWrite installs a hook run at the start of every Write.
func (f *Fake) OnWrite(hook func(sheet string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// PeakConcurrentWrites reports the most writes ever in flight at once.
func (f *Fake) PeakConcurrentWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// Rows returns a copy of a sheet's content.
func (f *Fake) Rows(docID, sheet string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return nil
	}
	out := make([][]string, len(d.Sheets[sheet]))
	for i, r := range d.Sheets[sheet] {
		out[i] = slices.Clone(r)
	}
	return out
}

// SetRows replaces a sheet's content, creating the sheet if needed.
func (f *Fake) SetRows(docID, sheet string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[docID]
	if _, ok := d.Sheets[sheet]; !ok {
		d.Order = append(d.Order, sheet)
	}
	d.Sheets[sheet] = rows
}

// DocCount returns the number of documents.
func (f *Fake) DocCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *Fake) enter(op, sheet string) error {
	f.calls[op]++
	if err, ok := f.failures[op]; ok {
		return err
	}
	if sheet != "" {
		if err, ok := f.failures[op+":"+sheet]; ok {
			return err
		}
	}
	return nil
}

func (f *Fake) Search(ctx context.Context, q sheets.Query) ([]sheets.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Search", ""); err != nil {
		return nil, err
	}
	var out []sheets.Candidate
	for _, d := range f.docs {
		c := d.Candidate
		if q.NameContains != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(q.NameContains)) {
			continue
		}
		if q.FullText != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(q.FullText)) {
			continue
		}
		if q.OwnedByMe && !c.OwnedByMe {
			continue
		}
		if q.SharedWithMe && (c.OwnedByMe || !c.Shared) {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b sheets.Candidate) int {
		if q.OrderByRecent {
			if c := b.ModifiedTime.Compare(a.ModifiedTime); c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, ctx.Err()
}

func (f *Fake) Create(_ context.Context, title string, sheetNames []string) (sheets.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Create", ""); err != nil {
		return sheets.Candidate{}, err
	}
	f.nextID++
	c := sheets.Candidate{ID: fmt.Sprintf("doc-%d", f.nextID), Name: title, OwnedByMe: true, ModifiedTime: time.Now()}
	d := &Doc{Candidate: c, Sheets: make(map[string][][]string)}
	for _, n := range sheetNames {
		d.Sheets[n] = nil
		d.Order = append(d.Order, n)
	}
	f.docs[c.ID] = d
	return c, nil
}

func (f *Fake) doc(docID string) (*Doc, error) {
	d, ok := f.docs[docID]
	if !ok {
		return nil, types.Rejected("open document", fmt.Errorf("document %s not found", docID))
	}
	return d, nil
}

func (f *Fake) SheetNames(_ context.Context, docID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SheetNames", ""); err != nil {
		return nil, err
	}
	d, err := f.doc(docID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.Order), nil
}

func (f *Fake) AddSheet(_ context.Context, docID, sheet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddSheet", sheet); err != nil {
		return err
	}
	d, err := f.doc(docID)
	if err != nil {
		return err
	}
	if _, ok := d.Sheets[sheet]; !ok {
		d.Sheets[sheet] = nil
		d.Order = append(d.Order, sheet)
	}
	return nil
}

func (f *Fake) Clear(_ context.Context, docID, sheet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Clear", sheet); err != nil {
		return err
	}
	d, err := f.doc(docID)
	if err != nil {
		return err
	}
	d.Sheets[sheet] = nil
	return nil
}

func (f *Fake) Write(ctx context.Context, docID, sheet string, rows [][]string) error {
	f.mu.Lock()
	hook := f.hook
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()

	if hook != nil {
		hook(sheet)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	if err := f.enter("Write", sheet); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := f.doc(docID)
	if err != nil {
		return err
	}
	copied := make([][]string, len(rows))
	for i, r := range rows {
		copied[i] = slices.Clone(r)
	}
	d.Sheets[sheet] = copied
	return nil
}

func (f *Fake) Read(_ context.Context, docID, sheet string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Read", sheet); err != nil {
		return nil, err
	}
	d, err := f.doc(docID)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(d.Sheets[sheet]))
	for i, r := range d.Sheets[sheet] {
		out[i] = slices.Clone(r)
	}
	return out, nil
}
