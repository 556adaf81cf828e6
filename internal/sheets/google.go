package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

const spreadsheetMime = "application/vnd.google-apps.spreadsheet"

// Google implements Documents with the Sheets API for cell values and the
// Drive API for discovery.
type Google struct {
	sheets *sheets.Service
	drive  *drive.Service
}

// NewGoogle builds both API clients from one token source.
func NewGoogle(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*Google, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	sh, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	dr, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return &Google{sheets: sh, drive: dr}, nil
}

// Search lists spreadsheets matching q through the Drive API.
func (g *Google) Search(ctx context.Context, q Query) ([]Candidate, error) {
	clauses := []string{"mimeType = '" + spreadsheetMime + "'", "trashed = false"}
	if q.NameContains != "" {
		clauses = append(clauses, "name contains '"+escapeQuery(q.NameContains)+"'")
	}
	if q.FullText != "" {
		clauses = append(clauses, "fullText contains '"+escapeQuery(q.FullText)+"'")
	}
	if q.OwnedByMe {
		clauses = append(clauses, "'me' in owners")
	}
	if q.SharedWithMe {
		clauses = append(clauses, "sharedWithMe = true")
	}

	call := g.drive.Files.List().
		Q(strings.Join(clauses, " and ")).
		Fields("files(id,name,modifiedTime,ownedByMe,shared)").
		Context(ctx)
	if q.OrderByRecent {
		call = call.OrderBy("modifiedTime desc")
	}
	if q.Limit > 0 {
		call = call.PageSize(int64(q.Limit))
	}
	list, err := call.Do()
	if err != nil {
		return nil, classify("search documents", err)
	}

	out := make([]Candidate, 0, len(list.Files))
	for _, f := range list.Files {
		c := Candidate{ID: f.Id, Name: f.Name, OwnedByMe: f.OwnedByMe, Shared: f.Shared}
		if ts, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			c.ModifiedTime = ts
		}
		out = append(out, c)
	}
	return out, nil
}

// Create makes a spreadsheet titled title with one tab per sheet name.
func (g *Google) Create(ctx context.Context, title string, sheetNames []string) (Candidate, error) {
	ss := &sheets.Spreadsheet{Properties: &sheets.SpreadsheetProperties{Title: title}}
	for _, name := range sheetNames {
		ss.Sheets = append(ss.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: name}})
	}
	created, err := g.sheets.Spreadsheets.Create(ss).Context(ctx).Do()
	if err != nil {
		return Candidate{}, classify("create document", err)
	}
	return Candidate{ID: created.SpreadsheetId, Name: title, OwnedByMe: true, ModifiedTime: time.Now().UTC()}, nil
}

// SheetNames returns the tab titles of docID in order.
func (g *Google) SheetNames(ctx context.Context, docID string) ([]string, error) {
	ss, err := g.sheets.Spreadsheets.Get(docID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, classify("list sheets", err)
	}
	names := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			names = append(names, s.Properties.Title)
		}
	}
	return names, nil
}

// AddSheet appends an empty tab named sheet.
func (g *Google) AddSheet(ctx context.Context, docID, sheet string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheet}},
	}}}
	if _, err := g.sheets.Spreadsheets.BatchUpdate(docID, req).Context(ctx).Do(); err != nil {
		return classify("add sheet", err)
	}
	return nil
}

// Clear empties every cell of sheet.
func (g *Google) Clear(ctx context.Context, docID, sheet string) error {
	_, err := g.sheets.Spreadsheets.Values.Clear(docID, sheetRange(sheet), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return classify("clear sheet", err)
	}
	return nil
}

// Write stores rows into sheet starting at A1. Cells outside rows are left
// as they were; callers Clear first to replace a sheet.
func (g *Google) Write(ctx context.Context, docID, sheet string, rows [][]string) error {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(row))
		for j, cell := range row {
			values[i][j] = cell
		}
	}
	_, err := g.sheets.Spreadsheets.Values.
		Update(docID, sheetRange(sheet)+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify("write sheet", err)
	}
	return nil
}

// Read returns every row of sheet as text.
func (g *Google) Read(ctx context.Context, docID, sheet string) ([][]string, error) {
	vr, err := g.sheets.Spreadsheets.Values.Get(docID, sheetRange(sheet)).Context(ctx).Do()
	if err != nil {
		return nil, classify("read sheet", err)
	}
	rows := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = fmt.Sprint(cell)
		}
	}
	return rows, nil
}

// About returns the user behind the token source.
func (g *Google) About(ctx context.Context) (displayName, email string, err error) {
	about, err := g.drive.About.Get().Fields("user").Context(ctx).Do()
	if err != nil {
		return "", "", classify("about", err)
	}
	if about.User == nil {
		return "", "", nil
	}
	return about.User.DisplayName, about.User.EmailAddress, nil
}

// classify maps API failures onto the remote error taxonomy: 401 and 5xx are
// transient, other 4xx (permission, missing document, quota) are rejections.
// Token refresh, network and deadline failures are transient.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusUnauthorized {
		return types.Rejected(op, err)
	}
	return types.Unavailable(op, err)
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func sheetRange(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}
