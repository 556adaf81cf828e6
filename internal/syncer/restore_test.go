package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func TestRestore(t *testing.T) {
	f := newFixture(t, user, nil)
	ctx := context.Background()

	_, err := f.store.Create(types.CollectionSuppliers, types.Fields{"name": "Local supplier"})
	require.NoError(t, err)
	_, err = f.store.Create(types.CollectionProducts, types.Fields{"name": "Local widget"})
	require.NoError(t, err)
	require.NoError(t, f.coord.SyncNow(ctx).Err)
	doc := f.binding(t).DocumentID

	// The remote copy moves on, and products are edited locally.
	f.fake.SetRows(doc, types.CollectionSuppliers, [][]string{
		{"id", "name", "phone"},
		{"SUP-001", "Acme", "555"},
		{"SUP-007", "Globex"},
	})
	f.fake.SetRows(doc, types.CollectionProducts, [][]string{
		{"id", "name", "stock"},
		{"PRD-003", "Remote widget", "4"},
	})
	_, err = f.store.Create(types.CollectionProducts, types.Fields{"name": "Unsynced gadget"})
	require.NoError(t, err)

	res, err := f.coord.Restore(ctx, false)
	require.NoError(t, err)
	assert.Contains(t, res.Restored, types.CollectionSuppliers)
	assert.Equal(t, []string{types.CollectionProducts}, res.Skipped)

	suppliers, _ := f.store.List(types.CollectionSuppliers)
	require.Len(t, suppliers, 2)
	assert.Equal(t, "Acme", suppliers[0].Name())
	assert.Equal(t, "555", suppliers[0].Text("phone"))
	assert.False(t, f.store.Tracker().IsDirty(types.CollectionSuppliers))

	products, _ := f.store.List(types.CollectionProducts)
	assert.Len(t, products, 2, "dirty local collection wins")

	res, err = f.coord.Restore(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	products, _ = f.store.List(types.CollectionProducts)
	require.Len(t, products, 1)
	assert.Equal(t, "PRD-003", products[0].ID)
	assert.Equal(t, int64(4), products[0].Fields["stock"])
	assert.False(t, f.store.Tracker().IsDirty(types.CollectionProducts))

	next, err := f.store.Create(types.CollectionSuppliers, types.Fields{"name": "Initech"})
	require.NoError(t, err)
	assert.Equal(t, "SUP-008", next.ID)
}

func TestRestore_RequiresBinding(t *testing.T) {
	f := newFixture(t, user, nil)
	_, err := f.coord.Restore(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrNoBinding)
	assert.Equal(t, 0, f.fake.Calls("Create"))
}

func TestResetRemote(t *testing.T) {
	f := newFixture(t, user, nil)
	ctx := context.Background()
	assert.ErrorIs(t, f.coord.ResetRemote(ctx), types.ErrNoBinding)

	_, err := f.store.Create(types.CollectionCustomers, types.Fields{"name": "Bob"})
	require.NoError(t, err)
	require.NoError(t, f.coord.SyncNow(ctx).Err)
	b := f.binding(t)

	require.NoError(t, f.coord.ResetRemote(ctx))
	assert.Empty(t, f.fake.Rows(b.DocumentID, types.CollectionCustomers))
	assert.Equal(t, 1, f.fake.DocCount())
	assert.Equal(t, b, f.binding(t), "binding survives a remote reset")

	customers, _ := f.store.List(types.CollectionCustomers)
	assert.Len(t, customers, 1, "local data is untouched")
}
