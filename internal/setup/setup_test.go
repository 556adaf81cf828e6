package setup

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/stockroom/internal/kv"
	"github.com/mesh-intelligence/stockroom/internal/store"
	"github.com/mesh-intelligence/stockroom/internal/tracker"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	backing := kv.NewMemory()
	tr, err := tracker.New(backing)
	require.NoError(t, err)
	st, err := store.New(backing, tr)
	require.NoError(t, err)
	return st
}

type sheet struct {
	name string
	rows [][]string
}

func workbook(t *testing.T, sheets ...sheet) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.name))
		} else {
			_, err := f.NewSheet(s.name)
			require.NoError(t, err)
		}
		for r, row := range s.rows {
			cells := make([]interface{}, len(row))
			for j, c := range row {
				cells[j] = c
			}
			require.NoError(t, f.SetSheetRow(s.name, fmt.Sprintf("A%d", r+1), &cells))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestWizard_LinearNavigation(t *testing.T) {
	w := NewWizard(newStore(t), nil)
	assert.NotEmpty(t, w.SessionID())
	assert.Equal(t, StepCompany, w.Step())
	assert.ErrorIs(t, w.Back(), ErrFirstStep)

	for _, want := range []Step{StepWarehouse, StepSupplier, StepCustomer, StepCategory, StepProduct} {
		require.NoError(t, w.Next())
		assert.Equal(t, want, w.Step())
	}
	assert.ErrorIs(t, w.Next(), ErrLastStep)
	assert.Equal(t, types.CollectionProducts, w.Step().Collection())
	assert.Equal(t, "product", w.Step().String())
}

func TestWizard_BackKeepsDraft(t *testing.T) {
	w := NewWizard(newStore(t), nil)
	_, err := w.Add(types.Fields{"name": "Stockroom Ltd"})
	require.NoError(t, err)
	require.NoError(t, w.Next())
	_, err = w.Add(types.Fields{"name": "Main"})
	require.NoError(t, err)

	require.NoError(t, w.Back())
	assert.Len(t, w.Draft(types.CollectionCompany), 1)
	assert.Len(t, w.Draft(types.CollectionWarehouses), 1)
}

func TestWizard_DraftValidation(t *testing.T) {
	w := NewWizard(newStore(t), nil)
	_, err := w.Add(types.Fields{"name": "One"})
	require.NoError(t, err)
	_, err = w.Add(types.Fields{"name": "Two"})
	assert.ErrorIs(t, err, types.ErrValidation, "company is a singleton")

	require.NoError(t, w.Next())
	a, err := w.Add(types.Fields{"name": "Main"})
	require.NoError(t, err)
	_, err = w.Add(types.Fields{"name": "MAIN"})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = w.Add(types.Fields{})
	assert.ErrorIs(t, err, types.ErrValidation)

	edited, err := w.Edit(types.CollectionWarehouses, a.ID, types.Fields{"name": "main", "location": "Dock"})
	require.NoError(t, err)
	assert.Equal(t, "Dock", edited.Text("location"))
	require.NoError(t, w.Remove(types.CollectionWarehouses, a.ID))
	assert.Empty(t, w.Draft(types.CollectionWarehouses))
	assert.ErrorIs(t, w.Remove(types.CollectionWarehouses, a.ID), types.ErrNotFound)
}

func TestWizard_CompleteRequiresProducts(t *testing.T) {
	st := newStore(t)
	w := NewWizard(st, nil)
	_, err := w.Add(types.Fields{"name": "Stockroom Ltd"})
	require.NoError(t, err)

	_, err = w.Complete()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIncompleteSetup)
	var ise *types.IncompleteSetupError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, []string{types.CollectionProducts}, ise.Missing)

	companies, _ := st.List(types.CollectionCompany)
	assert.Empty(t, companies, "nothing reaches the store")
	assert.Len(t, w.Draft(types.CollectionCompany), 1, "draft survives a failed completion")
}

func TestWizard_CompleteCommits(t *testing.T) {
	st := newStore(t)
	_, err := st.Create(types.CollectionCategories, types.Fields{"name": "Existing"})
	require.NoError(t, err)

	w := NewWizard(st, nil)
	_, err = w.Add(types.Fields{"name": "Stockroom Ltd"})
	require.NoError(t, err)
	require.NoError(t, w.Next())
	_, err = w.Add(types.Fields{"name": "Main", "isPrimary": true})
	require.NoError(t, err)
	for w.Step() != StepProduct {
		require.NoError(t, w.Next())
	}
	draft, err := w.Add(types.Fields{"name": "Widget", "stock": "10"})
	require.NoError(t, err)
	assert.NotEqual(t, "PRD-001", draft.ID)

	created, err := w.Complete()
	require.NoError(t, err)
	assert.Equal(t, []string{"CMP-001"}, created[types.CollectionCompany])
	assert.Equal(t, []string{"WH-001"}, created[types.CollectionWarehouses])
	assert.Equal(t, []string{"PRD-001"}, created[types.CollectionProducts])
	assert.Equal(t, StepCommitted, w.Step())

	os, _ := st.List(types.CollectionOpeningStock)
	require.Len(t, os, 1)
	assert.Equal(t, int64(10), os[0].Fields["quantity"])
	assert.True(t, st.Tracker().IsDirty(types.CollectionProducts))

	_, err = w.Add(types.Fields{"name": "Late"})
	assert.ErrorIs(t, err, ErrWizardClosed)
}

func TestWizard_CompleteRejectedLeavesStoreAndDraft(t *testing.T) {
	st := newStore(t)
	w := NewWizard(st, nil)
	_, err := w.Add(types.Fields{"name": "Acme"})
	require.NoError(t, err)
	require.NoError(t, w.Next())
	staged, err := w.Add(types.Fields{"name": "Main"})
	require.NoError(t, err)

	// Another writer takes the name after it was staged.
	_, err = st.Create(types.CollectionWarehouses, types.Fields{"name": "main"})
	require.NoError(t, err)

	for w.Step() != StepProduct {
		require.NoError(t, w.Next())
	}
	_, err = w.Add(types.Fields{"name": "Widget"})
	require.NoError(t, err)

	created, err := w.Complete()
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Nil(t, created)
	assert.Equal(t, StepProduct, w.Step())
	companies, _ := st.List(types.CollectionCompany)
	assert.Empty(t, companies)
	products, _ := st.List(types.CollectionProducts)
	assert.Empty(t, products)
	assert.Len(t, w.Draft(types.CollectionCompany), 1)
	assert.Len(t, w.Draft(types.CollectionProducts), 1)

	_, err = w.Edit(types.CollectionWarehouses, staged.ID, types.Fields{"name": "Overflow"})
	require.NoError(t, err)
	created, err = w.Complete()
	require.NoError(t, err)
	assert.Equal(t, []string{"CMP-001"}, created[types.CollectionCompany])
	assert.Equal(t, []string{"WH-002"}, created[types.CollectionWarehouses])
	assert.Equal(t, []string{"PRD-001"}, created[types.CollectionProducts])
	companies, _ = st.List(types.CollectionCompany)
	assert.Len(t, companies, 1)
}

func TestWizard_CancelDiscards(t *testing.T) {
	st := newStore(t)
	w := NewWizard(st, nil)
	_, err := w.Add(types.Fields{"name": "Stockroom Ltd"})
	require.NoError(t, err)

	w.Cancel()
	assert.Empty(t, w.Draft(types.CollectionCompany))
	_, err = w.Complete()
	assert.ErrorIs(t, err, ErrWizardClosed)
	companies, _ := st.List(types.CollectionCompany)
	assert.Empty(t, companies)
	assert.Empty(t, st.Tracker().DirtyCollections())
}

func TestImportIntoStore_CollectionAtomicity(t *testing.T) {
	st := newStore(t)
	buf := workbook(t,
		sheet{"Suppliers", [][]string{
			{"name", "email", "phone"},
			{"Acme", "sales@acme.test", "555"},
			{"Globex", "", ""},
		}},
		sheet{"Products", [][]string{
			{"name", "sku", "stock", "purchasePrice", "salePrice"},
			{"Widget", "W-1", "10", "5", "9"},
			{"Gadget", "G-1", "lots", "2", "3"},
			{"Gizmo", "Z-1", "1", "1", "1"},
		}},
	)

	report, err := ImportIntoStore(st, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{types.CollectionSuppliers: 2}, report.Imported)
	assert.Equal(t, []string{types.CollectionProducts}, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Products", report.Errors[0].Sheet)
	assert.Equal(t, 3, report.Errors[0].Row)
	assert.Contains(t, report.Errors[0].Error(), "Products!3")

	importErr := report.Err()
	assert.ErrorIs(t, importErr, types.ErrValidation)

	suppliers, _ := st.List(types.CollectionSuppliers)
	assert.Len(t, suppliers, 2)
	products, _ := st.List(types.CollectionProducts)
	assert.Empty(t, products)
}

func TestImport_DuplicateWithinSheet(t *testing.T) {
	st := newStore(t)
	buf := workbook(t, sheet{"Categories", [][]string{
		{"name", "description"},
		{"Tools", ""},
		{"tools", "again"},
	}})
	report, err := ImportIntoStore(st, buf, nil)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Row)
	categories, _ := st.List(types.CollectionCategories)
	assert.Empty(t, categories)
}

func TestImport_HeaderValidation(t *testing.T) {
	st := newStore(t)
	buf := workbook(t,
		sheet{"Customers", [][]string{{"name", "favouriteColour"}, {"Bob", "blue"}}},
		sheet{"Categories", [][]string{{"description"}, {"no name"}}},
		sheet{"Warehouses", [][]string{{"id", "name"}, {"WH-777", "Main"}}},
	)
	report, err := ImportIntoStore(st, buf, nil)
	require.NoError(t, err)
	require.Len(t, report.Errors, 2)
	for _, re := range report.Errors {
		assert.Equal(t, 1, re.Row)
	}
	assert.ElementsMatch(t, []string{types.CollectionCustomers, types.CollectionCategories}, report.Failed)

	warehouses, _ := st.List(types.CollectionWarehouses)
	require.Len(t, warehouses, 1)
	assert.Equal(t, "WH-001", warehouses[0].ID, "workbook identifiers are ignored")
}

func TestImport_NoRecognisedSheets(t *testing.T) {
	_, err := ImportIntoStore(newStore(t), workbook(t, sheet{"Budget", [][]string{{"a"}}}), nil)
	assert.ErrorIs(t, err, ErrNoSheets)
}

func TestWizard_ImportStagesDraft(t *testing.T) {
	st := newStore(t)
	w := NewWizard(st, nil)
	_, err := w.Add(types.Fields{"name": "Stockroom Ltd"})
	require.NoError(t, err)

	buf := workbook(t,
		sheet{"Company", [][]string{{"name"}, {"Another Ltd"}}},
		sheet{"Products", [][]string{{"name", "stock"}, {"Widget", "3"}, {"Gadget", "4"}}},
	)
	report, err := w.Import(buf)
	require.NoError(t, err)
	assert.Equal(t, []string{types.CollectionCompany}, report.Failed, "company is already drafted")
	assert.Len(t, w.Draft(types.CollectionProducts), 2)

	products, _ := st.List(types.CollectionProducts)
	assert.Empty(t, products, "import only stages")

	created, err := w.Complete()
	require.NoError(t, err)
	assert.Len(t, created[types.CollectionProducts], 2)
}

func TestTemplateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	var names []string
	for _, s := range SheetNames {
		names = append(names, s.Sheet)
	}
	assert.Equal(t, names, f.GetSheetList())

	rows, err := f.GetRows("Products")
	require.NoError(t, err)
	schema, _ := types.SchemaFor(types.CollectionProducts)
	assert.Equal(t, [][]string{schema.InputColumns()}, rows)

	row := []interface{}{"Widget", "W-1", "Tools", "pcs", "10", "2", "5", "9"}
	require.NoError(t, f.SetSheetRow("Products", "A2", &row))
	var filled bytes.Buffer
	require.NoError(t, f.Write(&filled))

	st := newStore(t)
	report, err := ImportIntoStore(st, &filled, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Imported[types.CollectionProducts])

	products, _ := st.List(types.CollectionProducts)
	require.Len(t, products, 1)
	assert.Equal(t, "W-1", products[0].Text("sku"))
	assert.Equal(t, int64(2), products[0].Fields["minStock"])
}
