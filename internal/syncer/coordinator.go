// Package syncer implements the Sync Coordinator: it pushes dirty
// collections to the bound remote document under mutual exclusion, on a
// periodic cadence, after a debounce quiet period, or on demand.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/logging"
	"github.com/mesh-intelligence/stockroom/internal/sheets"
	"github.com/mesh-intelligence/stockroom/internal/store"
	"github.com/mesh-intelligence/stockroom/internal/tracker"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// ErrSyncInProgress is returned by operations that cannot be coalesced, such
// as restore, when another remote operation holds the lock.
var ErrSyncInProgress = errors.New("sync in progress")

// Coordinator states.
const (
	StateIdle    = "idle"
	StateSyncing = "syncing"
)

// Trigger names the reason a sync was started.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerPeriodic Trigger = "periodic"
	TriggerDebounce Trigger = "debounce"
)

// Result describes one SyncNow call.
type Result struct {
	AttemptID string
	Trigger   Trigger
	// Coalesced is set when another sync was already running.
	Coalesced bool
	// Anonymous is set when the identity disallows remote sync.
	Anonymous bool
	// Skipped is set when an automatic sync found nothing to do or was
	// paused after a rejection.
	Skipped bool
	Written []string
	Err     error
}

// Status is the snapshot published to subscribers.
type Status struct {
	State    string           `json:"state"`
	Record   types.SyncRecord `json:"record"`
	Degraded bool             `json:"degraded"`
	Paused   bool             `json:"paused"`
	Dirty    []string         `json:"dirty"`
	Interval time.Duration    `json:"interval"`
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	store    *store.Store
	tracker  *tracker.Tracker
	adapter  *sheets.Adapter
	identity types.IdentityProvider
	kv       types.KV
	docName  string
	log      logrus.FieldLogger
	now      func() time.Time
	newID    func() string

	// syncing is the mutual exclusion flag. It is taken before the first
	// remote call and released after the last one resolves.
	syncing atomic.Bool

	mu          sync.Mutex
	cfg         types.SyncConfig
	record      types.SyncRecord
	paused      bool
	subscribers map[int]func(Status)
	nextSub     int
	debounce    *time.Timer
	baseCtx     context.Context
	cancel      context.CancelFunc
	running     bool
	// epoch advances on Stop; debounced runs scheduled earlier are dropped.
	epoch uint64
	wg    sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithClock overrides the clock used for sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithAttemptIDs overrides attempt ID generation.
func WithAttemptIDs(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// New builds a coordinator and loads the persisted sync record. The
// coordinator subscribes to store mutations for debouncing.
func New(st *store.Store, adapter *sheets.Adapter, identity types.IdentityProvider, kv types.KV, cfg types.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Sync.Validate(); err != nil {
		return nil, err
	}
	discard := logging.Discard()
	c := &Coordinator{
		store:       st,
		tracker:     st.Tracker(),
		adapter:     adapter,
		identity:    identity,
		kv:          kv,
		docName:     cfg.Remote.DocumentName,
		cfg:         cfg.Sync,
		log:         discard,
		now:         time.Now,
		newID:       newAttemptID,
		subscribers: make(map[int]func(Status)),
		baseCtx:     context.Background(),
		record:      types.NeverSynced(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("module", "syncer")

	raw, ok, err := kv.Get(types.KeySyncRecord)
	if err != nil {
		return nil, fmt.Errorf("load sync record: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.record); err != nil {
			return nil, fmt.Errorf("decode sync record: %w", err)
		}
		c.paused = c.record.LastSyncStatus == types.SyncFailed && errorKindRejected(c.record.LastError)
	}

	st.OnChange(func(string) { c.Notify() })
	return c, nil
}

func newAttemptID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SyncNow runs a manual sync. It bypasses debounce, cadence and a rejection
// pause but not mutual exclusion. Failures are reported in the Result and
// the sync record; they never touch local data.
func (c *Coordinator) SyncNow(ctx context.Context) Result {
	return c.run(ctx, TriggerManual)
}

func (c *Coordinator) run(ctx context.Context, trigger Trigger) Result {
	res := Result{Trigger: trigger}
	if trigger != TriggerManual {
		c.mu.Lock()
		paused := c.paused
		c.mu.Unlock()
		if paused || len(c.tracker.DirtyCollections()) == 0 {
			res.Skipped = true
			return res
		}
	}

	if !c.syncing.CompareAndSwap(false, true) {
		res.Coalesced = true
		c.log.WithField("trigger", trigger).Debug("sync already running, coalesced")
		return res
	}
	defer func() {
		c.syncing.Store(false)
		c.publish()
	}()
	c.publish()

	id, err := c.identityOf(ctx)
	if err != nil {
		res.AttemptID = c.newID()
		res.Err = err
		c.finish(res)
		return res
	}
	if id.IsAnonymous {
		res.Anonymous = true
		return res
	}

	res.AttemptID = c.newID()
	log := c.log.WithFields(logrus.Fields{"attempt": res.AttemptID, "trigger": trigger})
	log.Info("sync started")

	binding, err := c.adapter.EnsureDocument(ctx, c.docName)
	if err != nil {
		res.Err = err
		c.finish(res)
		return res
	}

	// Generations are captured first so a mutation during a write keeps its
	// collection dirty.
	gens := c.tracker.Snapshot()
	dirty := make([]string, 0, len(gens))
	for name := range gens {
		dirty = append(dirty, name)
	}
	for _, name := range types.SortCollections(dirty) {
		entities, err := c.store.List(name)
		if err != nil {
			res.Err = err
			break
		}
		if err := c.adapter.WriteCollection(ctx, binding, name, entities); err != nil {
			res.Err = err
			break
		}
		if _, err := c.tracker.ClearIfUnchanged(name, gens[name]); err != nil {
			res.Err = err
			break
		}
		res.Written = append(res.Written, name)
		log.WithField("collection", name).Debug("collection synced")
	}
	c.finish(res)
	return res
}

func (c *Coordinator) identityOf(ctx context.Context) (types.Identity, error) {
	if c.identity == nil {
		return types.Identity{IsAnonymous: true}, nil
	}
	id, err := c.identity.Identity(ctx)
	if err != nil {
		var re *types.RemoteError
		if errors.As(err, &re) {
			return types.Identity{}, err
		}
		return types.Identity{}, types.Unavailable("identity", err)
	}
	return id, nil
}

// finish records the outcome of an attempt.
func (c *Coordinator) finish(res Result) {
	ts := c.now().UTC()
	c.mu.Lock()
	rec := types.SyncRecord{
		LastSyncTimestamp: &ts,
		AttemptID:         res.AttemptID,
		Written:           res.Written,
	}
	log := c.log.WithFields(logrus.Fields{"attempt": res.AttemptID, "trigger": res.Trigger})
	if res.Err == nil {
		rec.LastSyncStatus = types.SyncSuccess
		c.paused = false
	} else {
		rec.LastSyncStatus = types.SyncFailed
		rec.LastError = res.Err.Error()
		rec.ConsecutiveFailures = c.record.ConsecutiveFailures + 1
		if errors.Is(res.Err, types.ErrRemoteRejected) {
			c.paused = true
		}
	}
	c.record = rec
	degraded := rec.ConsecutiveFailures >= c.cfg.FailureThreshold
	c.mu.Unlock()

	if err := c.saveRecord(rec); err != nil {
		log.WithError(err).Error("persist sync record")
	}
	if res.Err != nil {
		log.WithError(res.Err).WithFields(logrus.Fields{
			"failures": rec.ConsecutiveFailures,
			"degraded": degraded,
		}).Warn("sync failed")
		return
	}
	log.WithField("written", res.Written).Info("sync succeeded")
}

func (c *Coordinator) saveRecord(rec types.SyncRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.kv.Set(types.KeySyncRecord, string(raw))
}

// errorKindRejected recognizes a persisted rejection message so a restart
// keeps automatic sync paused.
func errorKindRejected(msg string) bool {
	return strings.Contains(msg, types.ErrRemoteRejected.Error())
}

// Syncing reports whether a remote operation is in flight.
func (c *Coordinator) Syncing() bool { return c.syncing.Load() }

// Status returns the current snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	st := Status{
		State:    StateIdle,
		Record:   c.record,
		Paused:   c.paused,
		Degraded: c.record.ConsecutiveFailures >= c.cfg.FailureThreshold,
		Dirty:    c.tracker.DirtyCollections(),
		Interval: c.intervalLocked(),
	}
	if c.syncing.Load() {
		st.State = StateSyncing
	}
	return st
}

// Subscribe registers fn for status changes and returns a function that
// removes it. Callbacks run synchronously on the goroutine that changed
// state and must not block.
func (c *Coordinator) Subscribe(fn func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

func (c *Coordinator) publish() {
	c.mu.Lock()
	st := c.statusLocked()
	subs := make([]func(Status), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}
