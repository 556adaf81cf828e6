package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// tx stages changes to collections and counters so that validation and
// derived regeneration happen before anything is persisted.
type tx struct {
	s        *Store
	changed  map[string][]types.Entity
	order    []string
	counters map[string]int64
	// quiet collections match the remote document and are left clean.
	quiet map[string]bool
}

func (s *Store) begin() *tx {
	return &tx{
		s:        s,
		changed:  make(map[string][]types.Entity),
		counters: make(map[string]int64),
		quiet:    make(map[string]bool),
	}
}

func (t *tx) list(collection string) []types.Entity {
	if es, ok := t.changed[collection]; ok {
		return es
	}
	return t.s.data[collection]
}

func (t *tx) put(collection string, entities []types.Entity) {
	if _, ok := t.changed[collection]; !ok {
		t.order = append(t.order, collection)
	}
	t.changed[collection] = entities
}

func (t *tx) counter(collection string) int64 {
	if n, ok := t.counters[collection]; ok {
		return n
	}
	return t.s.counters[collection]
}

func (t *tx) nextID(schema types.Schema) string {
	n := t.counter(schema.Collection) + 1
	t.counters[schema.Collection] = n
	return schema.FormatID(n)
}

// create stages a new entity built from already coerced values. Singleton
// and uniqueness rules are checked against staged data, so entities created
// earlier in the same tx count.
func (t *tx) create(schema types.Schema, values types.Fields, now time.Time) (types.Entity, error) {
	collection := schema.Collection
	existing := t.list(collection)
	if schema.Singleton && len(existing) > 0 {
		return types.Entity{}, &types.ValidationError{Collection: collection, Reason: "already exists (" + existing[0].ID + ")"}
	}
	e := types.Entity{Collection: collection, Fields: values}
	if err := checkUnique(schema, existing, e); err != nil {
		return types.Entity{}, err
	}
	e.ID = t.nextID(schema)
	e.Fields[types.FieldCreatedAt] = now
	e.Fields[types.FieldUpdatedAt] = now
	next := make([]types.Entity, len(existing), len(existing)+1)
	copy(next, existing)
	t.put(collection, append(next, e))
	t.afterChange(collection, e, now)
	return e, nil
}

// afterChange applies cross-entity rules triggered by writing e.
func (t *tx) afterChange(collection string, e types.Entity, now time.Time) {
	if collection == types.CollectionWarehouses {
		if primary, _ := e.Fields["isPrimary"].(bool); primary {
			list := t.list(collection)
			next := make([]types.Entity, len(list))
			for i, w := range list {
				if p, _ := w.Fields["isPrimary"].(bool); p && w.ID != e.ID {
					w = w.Clone()
					w.Fields["isPrimary"] = false
					w.Fields[types.FieldUpdatedAt] = now
				}
				next[i] = w
			}
			t.put(collection, next)
		}
	}
	t.regenerateIfSource(collection, now)
}

func (t *tx) regenerateIfSource(collection string, now time.Time) {
	if collection == types.CollectionWarehouses || collection == types.CollectionProducts {
		t.regenerate(now)
	}
}

// regenerate rebuilds opening stock as warehouses x products. Existing pairs
// keep their ID, quantity and unit cost; orphaned entries are dropped. The
// collection is staged only when its membership changed.
func (t *tx) regenerate(now time.Time) {
	schema, _ := types.SchemaFor(types.CollectionOpeningStock)
	warehouses := t.list(types.CollectionWarehouses)
	products := t.list(types.CollectionProducts)
	current := t.list(types.CollectionOpeningStock)

	byPair := make(map[[2]string]types.Entity, len(current))
	for _, e := range current {
		byPair[[2]string{e.Text("warehouseId"), e.Text("productId")}] = e
	}

	primary := primaryWarehouse(warehouses)
	next := make([]types.Entity, 0, len(warehouses)*len(products))
	for _, w := range warehouses {
		for _, p := range products {
			if e, ok := byPair[[2]string{w.ID, p.ID}]; ok {
				next = append(next, e)
				continue
			}
			qty := int64(0)
			if w.ID == primary {
				qty, _ = p.Fields["stock"].(int64)
			}
			cost, ok := p.Fields["purchasePrice"].(decimal.Decimal)
			if !ok {
				cost = decimal.Zero
			}
			next = append(next, types.Entity{
				ID:         t.nextID(schema),
				Collection: types.CollectionOpeningStock,
				Fields: types.Fields{
					"warehouseId":         w.ID,
					"productId":           p.ID,
					"quantity":            qty,
					"unitCost":            cost,
					types.FieldCreatedAt: now,
					types.FieldUpdatedAt: now,
				},
			})
		}
	}

	if sameIDs(current, next) {
		return
	}
	t.put(types.CollectionOpeningStock, next)
}

func primaryWarehouse(warehouses []types.Entity) string {
	for _, w := range warehouses {
		if p, _ := w.Fields["isPrimary"].(bool); p {
			return w.ID
		}
	}
	if len(warehouses) > 0 {
		return warehouses[0].ID
	}
	return ""
}

func sameIDs(a, b []types.Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// commit persists staged collections and counters, swaps them in and marks
// the tracker. It returns the collections marked dirty.
func (s *Store) commit(t *tx) ([]string, error) {
	for _, c := range t.order {
		schema, _ := types.SchemaFor(c)
		raw, err := encodeCollection(schema, t.changed[c])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c, err)
		}
		if err := s.kv.Set(types.CollectionKey(c), raw); err != nil {
			return nil, fmt.Errorf("persist %s: %w", c, err)
		}
	}
	for c, n := range t.counters {
		var err error
		if n == 0 {
			err = s.kv.Delete(types.CounterKey(c))
		} else {
			err = s.kv.Set(types.CounterKey(c), strconv.FormatInt(n, 10))
		}
		if err != nil {
			return nil, fmt.Errorf("persist %s counter: %w", c, err)
		}
	}

	for _, c := range t.order {
		s.data[c] = t.changed[c]
	}
	for c, n := range t.counters {
		s.counters[c] = n
	}

	var dirty []string
	for _, c := range t.order {
		if t.quiet[c] {
			if err := s.tracker.ClearDirty(c); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := s.tracker.MarkDirty(c); err != nil {
			return nil, err
		}
		dirty = append(dirty, c)
	}
	return dirty, nil
}
