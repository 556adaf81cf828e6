package types

// Standard collection names.
const (
	CollectionCompany      = "company"
	CollectionWarehouses   = "warehouses"
	CollectionSuppliers    = "suppliers"
	CollectionCustomers    = "customers"
	CollectionCategories   = "categories"
	CollectionProducts     = "products"
	CollectionOpeningStock = "opening-stock"
)

// Collections lists every collection in canonical order. Sync writes and
// remote sheets follow this order.
var Collections = []string{
	CollectionCompany,
	CollectionWarehouses,
	CollectionSuppliers,
	CollectionCustomers,
	CollectionCategories,
	CollectionProducts,
	CollectionOpeningStock,
}

// SourceCollections lists the collections edited directly by users, in setup
// order. Opening stock is derived from warehouses and products.
var SourceCollections = []string{
	CollectionCompany,
	CollectionWarehouses,
	CollectionSuppliers,
	CollectionCustomers,
	CollectionCategories,
	CollectionProducts,
}

// IsCollection reports whether name is a standard collection.
func IsCollection(name string) bool {
	_, ok := schemas[name]
	return ok
}

// SortCollections returns names ordered by their position in Collections.
// Unknown names are dropped.
func SortCollections(names []string) []string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	out := make([]string, 0, len(names))
	for _, c := range Collections {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
