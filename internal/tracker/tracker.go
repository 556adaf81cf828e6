// Package tracker maintains the dirty set: the collections changed locally
// since their last confirmed remote write.
package tracker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Tracker is safe for concurrent use. Every change is mirrored to the KV
// store under types.KeyDirty so an interrupted sync survives a restart.
type Tracker struct {
	mu    sync.Mutex
	kv    types.KV
	dirty map[string]bool
	// gen counts marks per collection. It is process-local; a restart only
	// needs the dirty bits.
	gen map[string]uint64
}

// New loads the persisted dirty set from kv.
func New(kv types.KV) (*Tracker, error) {
	t := &Tracker{kv: kv, dirty: make(map[string]bool), gen: make(map[string]uint64)}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload replaces the dirty set with the persisted one. Collections that
// become dirty get a new generation.
func (t *Tracker) Reload() error {
	raw, ok, err := t.kv.Get(types.KeyDirty)
	if err != nil {
		return fmt.Errorf("load dirty set: %w", err)
	}
	dirty := make(map[string]bool)
	if ok && raw != "" {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return fmt.Errorf("decode dirty set: %w", err)
		}
		for _, n := range names {
			if types.IsCollection(n) {
				dirty[n] = true
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for n := range dirty {
		if !t.dirty[n] {
			t.gen[n]++
		}
	}
	t.dirty = dirty
	return nil
}

// MarkDirty flags collection and returns its new generation.
func (t *Tracker) MarkDirty(collection string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen[collection]++
	if t.dirty[collection] {
		return t.gen[collection], nil
	}
	t.dirty[collection] = true
	if err := t.persistLocked(); err != nil {
		delete(t.dirty, collection)
		return 0, err
	}
	return t.gen[collection], nil
}

// ClearDirty unconditionally clears the flag.
func (t *Tracker) ClearDirty(collection string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearLocked(collection)
}

// ClearIfUnchanged clears the flag only when no MarkDirty happened after gen
// was observed. It reports whether the flag was cleared.
func (t *Tracker) ClearIfUnchanged(collection string, gen uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen[collection] != gen {
		return false, nil
	}
	if err := t.clearLocked(collection); err != nil {
		return false, err
	}
	return true, nil
}

// Generation returns the current mark count of collection.
func (t *Tracker) Generation(collection string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen[collection]
}

// IsDirty reports whether collection has local changes not yet synced.
func (t *Tracker) IsDirty(collection string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty[collection]
}

// DirtyCollections returns the dirty set in canonical collection order.
func (t *Tracker) DirtyCollections() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.namesLocked()
}

// Snapshot returns the dirty set along with each collection's generation.
func (t *Tracker) Snapshot() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]uint64, len(t.dirty))
	for n := range t.dirty {
		out[n] = t.gen[n]
	}
	return out
}

func (t *Tracker) clearLocked(collection string) error {
	if !t.dirty[collection] {
		return nil
	}
	delete(t.dirty, collection)
	if err := t.persistLocked(); err != nil {
		t.dirty[collection] = true
		return err
	}
	return nil
}

func (t *Tracker) namesLocked() []string {
	names := make([]string, 0, len(t.dirty))
	for n := range t.dirty {
		names = append(names, n)
	}
	return types.SortCollections(names)
}

func (t *Tracker) persistLocked() error {
	raw, err := json.Marshal(t.namesLocked())
	if err != nil {
		return fmt.Errorf("encode dirty set: %w", err)
	}
	if err := t.kv.Set(types.KeyDirty, string(raw)); err != nil {
		return fmt.Errorf("persist dirty set: %w", err)
	}
	return nil
}
