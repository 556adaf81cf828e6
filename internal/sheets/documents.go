// Package sheets implements the Remote Tabular Adapter: collections are
// mirrored to a spreadsheet document with one sheet per collection, the
// first row holding column names.
package sheets

import (
	"context"
	"time"
)

// Candidate is a remote document found during discovery.
type Candidate struct {
	ID           string
	Name         string
	OwnedByMe    bool
	Shared       bool
	ModifiedTime time.Time
}

// Query narrows a document search. Empty fields do not constrain.
type Query struct {
	NameContains  string
	FullText      string
	OwnedByMe     bool
	SharedWithMe  bool
	OrderByRecent bool
	Limit         int
}

// Documents is the remote document service the adapter drives. Values are
// exchanged as plain cell text.
type Documents interface {
	Search(ctx context.Context, q Query) ([]Candidate, error)
	Create(ctx context.Context, title string, sheetNames []string) (Candidate, error)
	SheetNames(ctx context.Context, docID string) ([]string, error)
	AddSheet(ctx context.Context, docID, sheet string) error
	Clear(ctx context.Context, docID, sheet string) error
	Write(ctx context.Context, docID, sheet string, rows [][]string) error
	Read(ctx context.Context, docID, sheet string) ([][]string, error)
}
