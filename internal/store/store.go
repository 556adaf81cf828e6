// Package store implements the Entity Store: the authoritative local copy of
// every collection, persisted to the KV store on each write.
package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/logging"
	"github.com/mesh-intelligence/stockroom/internal/tracker"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Store is safe for concurrent use. Operations are serialized by a single
// mutex, so no mutation is ever observed half-applied.
type Store struct {
	mu        sync.Mutex
	kv        types.KV
	tracker   *tracker.Tracker
	log       logrus.FieldLogger
	validate  *validator.Validate
	now       func() time.Time
	data      map[string][]types.Entity
	counters  map[string]int64
	observers []func(collection string)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads every collection and counter from kv.
func New(kv types.KV, tr *tracker.Tracker, opts ...Option) (*Store, error) {
	discard := logging.Discard()
	s := &Store{
		kv:       kv,
		tracker:  tr,
		log:      discard,
		validate: newValidator(),
		now:      time.Now,
		data:     make(map[string][]types.Entity),
		counters: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("module", "store")

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload discards the in-memory view and reads every collection and counter
// from the KV store again. Used when another process changed shared state.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() error {
	data := make(map[string][]types.Entity)
	counters := make(map[string]int64)
	for _, c := range types.Collections {
		schema, _ := types.SchemaFor(c)
		raw, ok, err := s.kv.Get(types.CollectionKey(c))
		if err != nil {
			return fmt.Errorf("load %s: %w", c, err)
		}
		if ok {
			entities, err := decodeCollection(schema, raw)
			if err != nil {
				return fmt.Errorf("load %s: %w", c, err)
			}
			data[c] = entities
		}

		raw, ok, err = s.kv.Get(types.CounterKey(c))
		if err != nil {
			return fmt.Errorf("load %s counter: %w", c, err)
		}
		if ok {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("load %s counter: %w", c, err)
			}
			counters[c] = n
		}
		// Never reissue an ID that is already present.
		for _, e := range data[c] {
			if n, ok := schema.ParseID(e.ID); ok && n > counters[c] {
				counters[c] = n
			}
		}
	}
	s.data = data
	s.counters = counters
	return nil
}

// Tracker returns the change tracker the store marks on every write.
func (s *Store) Tracker() *tracker.Tracker { return s.tracker }

// OnChange registers fn to run after every committed mutation, once per
// changed collection. fn runs outside the store lock.
func (s *Store) OnChange(fn func(collection string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Create validates fields, assigns the next identifier and appends the new
// entity to collection.
func (s *Store) Create(collection string, fields types.Fields) (types.Entity, error) {
	schema, values, err := s.prepareCreate(collection, fields)
	if err != nil {
		return types.Entity{}, err
	}

	s.mu.Lock()
	tx := s.begin()
	e, err := tx.create(schema, values, s.now().UTC())
	if err != nil {
		s.mu.Unlock()
		return types.Entity{}, err
	}
	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return types.Entity{}, err
	}
	s.notify(changed)
	s.log.WithFields(logrus.Fields{"collection": collection, "id": e.ID}).Debug("created")
	return e.Clone(), nil
}

// CreateBatch creates every entity in batch in a single commit: either all of
// them are persisted or none are. Collections are processed in
// types.SourceCollections order so that later rows see earlier ones when
// uniqueness is checked. It returns the new IDs per collection, in input
// order.
func (s *Store) CreateBatch(batch map[string][]types.Fields) (map[string][]string, error) {
	type prepared struct {
		schema types.Schema
		values []types.Fields
	}
	var plan []prepared
	for c := range batch {
		if !slices.Contains(types.SourceCollections, c) {
			if _, err := types.SchemaFor(c); err != nil {
				return nil, err
			}
			return nil, &types.ValidationError{Collection: c, Reason: "derived collection cannot be created directly"}
		}
	}
	for _, c := range types.SourceCollections {
		rows, ok := batch[c]
		if !ok || len(rows) == 0 {
			continue
		}
		p := prepared{values: make([]types.Fields, len(rows))}
		for i, fields := range rows {
			schema, values, err := s.prepareCreate(c, fields)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", c, i+1, err)
			}
			p.schema = schema
			p.values[i] = values
		}
		plan = append(plan, p)
	}
	if len(plan) == 0 {
		return map[string][]string{}, nil
	}

	s.mu.Lock()
	tx := s.begin()
	now := s.now().UTC()
	ids := make(map[string][]string, len(plan))
	for _, p := range plan {
		c := p.schema.Collection
		for i, values := range p.values {
			e, err := tx.create(p.schema, values, now)
			if err != nil {
				s.mu.Unlock()
				return nil, fmt.Errorf("%s row %d: %w", c, i+1, err)
			}
			ids[c] = append(ids[c], e.ID)
		}
	}
	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(changed)
	for c, list := range ids {
		s.log.WithFields(logrus.Fields{"collection": c, "count": len(list)}).Debug("created batch")
	}
	return ids, nil
}

// prepareCreate coerces and checks fields for a new entity without touching
// stored data.
func (s *Store) prepareCreate(collection string, fields types.Fields) (types.Schema, types.Fields, error) {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return types.Schema{}, nil, err
	}
	if schema.Derived {
		return types.Schema{}, nil, &types.ValidationError{Collection: collection, Reason: "derived collection cannot be created directly"}
	}
	values, err := s.normalize(schema, fields)
	if err != nil {
		return types.Schema{}, nil, err
	}
	for k, v := range values {
		if v == nil {
			delete(values, k)
		}
	}
	if err := checkRequired(schema, values); err != nil {
		return types.Schema{}, nil, err
	}
	return schema, values, nil
}

// Validate checks fields the way Create would, against the current contents
// of collection plus others, without writing anything. It returns the
// coerced fields.
func (s *Store) Validate(collection string, fields types.Fields, others []types.Entity) (types.Fields, error) {
	schema, values, err := s.prepareCreate(collection, fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing := append(types.CloneAll(s.data[collection]), others...)
	s.mu.Unlock()
	if schema.Singleton && len(existing) > 0 {
		return nil, &types.ValidationError{Collection: collection, Reason: "already exists"}
	}
	if err := checkUnique(schema, existing, types.Entity{Collection: collection, Fields: values}); err != nil {
		return nil, err
	}
	return values, nil
}

// Update merges fields into an existing entity. A nil value clears an
// optional field. Editing a product's stock or purchasePrice does not change
// opening stock rows that already exist; those values only seed new pairs.
func (s *Store) Update(collection, id string, fields types.Fields) (types.Entity, error) {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return types.Entity{}, err
	}
	values, err := s.normalize(schema, fields)
	if err != nil {
		return types.Entity{}, err
	}

	s.mu.Lock()
	tx := s.begin()
	existing := tx.list(collection)
	idx := indexOf(existing, id)
	if idx < 0 {
		s.mu.Unlock()
		return types.Entity{}, &types.NotFoundError{Collection: collection, ID: id}
	}

	e := existing[idx].Clone()
	for k, v := range values {
		if schema.Derived && (k == "warehouseId" || k == "productId") && v != e.Fields[k] {
			s.mu.Unlock()
			return types.Entity{}, &types.ValidationError{Collection: collection, Field: k, Reason: "cannot be changed"}
		}
		if v == nil {
			delete(e.Fields, k)
		} else {
			e.Fields[k] = v
		}
	}
	if err := checkRequired(schema, e.Fields); err != nil {
		s.mu.Unlock()
		return types.Entity{}, err
	}
	if err := checkUnique(schema, existing, e); err != nil {
		s.mu.Unlock()
		return types.Entity{}, err
	}

	now := s.now().UTC()
	e.Fields[types.FieldUpdatedAt] = now
	next := types.CloneAll(existing)
	next[idx] = e
	tx.put(collection, next)
	tx.afterChange(collection, e, now)

	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return types.Entity{}, err
	}
	s.notify(changed)
	s.log.WithFields(logrus.Fields{"collection": collection, "id": id}).Debug("updated")
	return e.Clone(), nil
}

// Delete removes an entity and the opening stock entries that reference it.
func (s *Store) Delete(collection, id string) error {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return err
	}
	if schema.Derived {
		return &types.ValidationError{Collection: collection, Reason: "derived entries are removed with their warehouse or product"}
	}

	s.mu.Lock()
	tx := s.begin()
	existing := tx.list(collection)
	idx := indexOf(existing, id)
	if idx < 0 {
		s.mu.Unlock()
		return &types.NotFoundError{Collection: collection, ID: id}
	}
	next := make([]types.Entity, 0, len(existing)-1)
	next = append(next, existing[:idx]...)
	next = append(next, existing[idx+1:]...)
	tx.put(collection, next)
	tx.regenerateIfSource(collection, s.now().UTC())

	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(changed)
	s.log.WithFields(logrus.Fields{"collection": collection, "id": id}).Debug("deleted")
	return nil
}

// Get returns a copy of one entity.
func (s *Store) Get(collection, id string) (types.Entity, error) {
	if _, err := types.SchemaFor(collection); err != nil {
		return types.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := s.data[collection]
	idx := indexOf(entities, id)
	if idx < 0 {
		return types.Entity{}, &types.NotFoundError{Collection: collection, ID: id}
	}
	return entities[idx].Clone(), nil
}

// List returns an insertion-ordered snapshot of collection. The result
// shares nothing with the store.
func (s *Store) List(collection string) ([]types.Entity, error) {
	if _, err := types.SchemaFor(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneAll(s.data[collection]), nil
}

// ResetCollection removes every entity of collection and restarts its
// identifier counter. Binding, credential and sync record are untouched.
func (s *Store) ResetCollection(collection string) error {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return err
	}
	s.mu.Lock()
	tx := s.begin()
	tx.put(collection, nil)
	tx.counters[collection] = 0
	if schema.Derived {
		tx.regenerate(s.now().UTC())
	} else {
		tx.regenerateIfSource(collection, s.now().UTC())
	}
	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(changed)
	s.log.WithField("collection", collection).Info("collection reset")
	return nil
}

// ResetAll empties every collection. Keys outside the collection and
// counter namespaces, notably the remote binding, are preserved.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	tx := s.begin()
	for _, c := range types.Collections {
		tx.put(c, nil)
		tx.counters[c] = 0
	}
	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(changed)
	s.log.Info("all collections reset")
	return nil
}

// Replace overwrites collection wholesale with entities read from the remote
// document. IDs are kept and the counter is advanced past them. The
// collection now matches the remote, so its dirty bit is cleared and
// observers are not notified. Opening stock is reconciled and marked dirty
// if that changes it.
func (s *Store) Replace(collection string, entities []types.Entity) error {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return err
	}
	clean := make([]types.Entity, 0, len(entities))
	seen := make(map[string]bool, len(entities))
	for _, in := range entities {
		if in.ID == "" || seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		e := types.Entity{ID: in.ID, Collection: collection, Fields: make(types.Fields)}
		for _, f := range schema.Fields {
			v, err := f.Coerce(in.Fields[f.Name])
			if err != nil {
				return &types.ValidationError{Collection: collection, Field: f.Name, Reason: fmt.Sprintf("%s: %v", in.ID, err)}
			}
			if str, ok := v.(string); ok && strings.TrimSpace(str) == "" {
				continue
			}
			if v != nil {
				e.Fields[f.Name] = v
			}
		}
		clean = append(clean, e)
	}

	s.mu.Lock()
	tx := s.begin()
	tx.put(collection, clean)
	tx.quiet[collection] = true
	for _, e := range clean {
		if n, ok := schema.ParseID(e.ID); ok && n > tx.counter(collection) {
			tx.counters[collection] = n
		}
	}
	tx.regenerateIfSource(collection, s.now().UTC())
	if schema.Derived {
		tx.regenerate(s.now().UTC())
		if !sameIDs(clean, tx.list(collection)) {
			delete(tx.quiet, collection)
		}
	}
	changed, err := s.commit(tx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(changed)
	s.log.WithFields(logrus.Fields{"collection": collection, "count": len(clean)}).Info("collection replaced")
	return nil
}

func (s *Store) notify(changed []string) {
	if len(changed) == 0 {
		return
	}
	s.mu.Lock()
	observers := append([]func(string){}, s.observers...)
	s.mu.Unlock()
	for _, c := range changed {
		for _, fn := range observers {
			fn(c)
		}
	}
}

func indexOf(entities []types.Entity, id string) int {
	for i, e := range entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}
