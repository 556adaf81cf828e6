package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/logging"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Discovery scoring weights.
const (
	scoreOwned   = 100
	scoreMarker  = 50
	scoreRecency = 30
	scorePrivate = 20

	recencyWindow = 30 * 24 * time.Hour
	stageLimit    = 10
)

// Adapter translates collections to and from a bound remote document. The
// binding is persisted in the KV store under types.KeyBinding.
type Adapter struct {
	docs     Documents
	kv       types.KV
	identity types.IdentityProvider
	remote   types.RemoteConfig
	timeout  time.Duration
	credRef  string
	now      func() time.Time
	log      logrus.FieldLogger

	// mu serializes binding changes so concurrent EnsureDocument calls
	// cannot both create a document.
	mu sync.Mutex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Adapter) { a.log = log }
}

// WithIdentity supplies the identity used to derive naming patterns during
// discovery.
func WithIdentity(p types.IdentityProvider) Option {
	return func(a *Adapter) { a.identity = p }
}

// WithCredentialRef records ref in bindings created by this adapter.
func WithCredentialRef(ref string) Option {
	return func(a *Adapter) { a.credRef = ref }
}

// WithClock overrides the clock used for recency scoring.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New returns an adapter over docs. cfg supplies the document name, the
// discovery marker and the per-call timeout.
func New(docs Documents, kv types.KV, cfg types.Config, opts ...Option) *Adapter {
	discard := logging.Discard()
	a := &Adapter{
		docs:    docs,
		kv:      kv,
		remote:  cfg.Remote,
		timeout: cfg.Sync.Timeout,
		now:     time.Now,
		log:     discard,
	}
	if a.timeout <= 0 {
		a.timeout = types.DefaultSyncTimeout
	}
	if a.remote.Marker == "" {
		a.remote.Marker = types.DefaultMarker
	}
	if a.remote.DocumentName == "" {
		a.remote.DocumentName = types.DefaultDocumentName
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithField("module", "sheets")
	return a
}

// Binding returns the persisted binding; ok is false when none exists.
func (a *Adapter) Binding() (types.Binding, bool, error) {
	raw, ok, err := a.kv.Get(types.KeyBinding)
	if err != nil {
		return types.Binding{}, false, fmt.Errorf("load binding: %w", err)
	}
	if !ok || raw == "" {
		return types.Binding{}, false, nil
	}
	var b types.Binding
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return types.Binding{}, false, fmt.Errorf("decode binding: %w", err)
	}
	if b.IsZero() {
		return types.Binding{}, false, nil
	}
	return b, true, nil
}

func (a *Adapter) saveBinding(b types.Binding) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode binding: %w", err)
	}
	if err := a.kv.Set(types.KeyBinding, string(raw)); err != nil {
		return fmt.Errorf("persist binding: %w", err)
	}
	return nil
}

// EnsureDocument returns the existing binding unchanged, or discovers and
// binds the best-scored candidate document, or creates a new document when
// discovery finds nothing. A failed search returns an error rather than
// creating a possible duplicate.
func (a *Adapter) EnsureDocument(ctx context.Context, candidateName string) (types.Binding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok, err := a.Binding(); err != nil || ok {
		return b, err
	}

	candidates, err := a.discover(ctx)
	if err != nil {
		return types.Binding{}, err
	}
	if best, ok := a.pick(candidates); ok {
		b := types.Binding{DocumentID: best.ID, DocumentDisplayName: best.Name, AccessCredentialRef: a.credRef}
		if err := a.saveBinding(b); err != nil {
			return types.Binding{}, err
		}
		a.log.WithFields(logrus.Fields{"document": best.ID, "name": best.Name}).Info("bound existing document")
		return b, nil
	}
	return a.createLocked(ctx, candidateName)
}

// CreateDocument creates a new document and binds it, replacing any
// existing binding.
func (a *Adapter) CreateDocument(ctx context.Context, name string) (types.Binding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createLocked(ctx, name)
}

func (a *Adapter) createLocked(ctx context.Context, name string) (types.Binding, error) {
	if strings.TrimSpace(name) == "" {
		name = a.remote.DocumentName
	}
	var created Candidate
	err := a.call(ctx, "create document", func(ctx context.Context) error {
		var err error
		created, err = a.docs.Create(ctx, name, types.Collections)
		return err
	})
	if err != nil {
		return types.Binding{}, err
	}
	b := types.Binding{DocumentID: created.ID, DocumentDisplayName: name, AccessCredentialRef: a.credRef}
	if err := a.saveBinding(b); err != nil {
		return types.Binding{}, err
	}
	a.log.WithFields(logrus.Fields{"document": created.ID, "name": name}).Info("created document")
	return b, nil
}

// Disconnect forgets the binding. The remote document is left untouched.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.kv.Delete(types.KeyBinding); err != nil {
		return fmt.Errorf("remove binding: %w", err)
	}
	a.log.Info("disconnected document")
	return nil
}

// discover runs the search stages in priority order and merges results.
func (a *Adapter) discover(ctx context.Context) ([]Candidate, error) {
	marker := a.remote.Marker
	stages := []Query{
		{NameContains: marker, OwnedByMe: true, Limit: stageLimit},
	}
	if pattern := a.identityPattern(ctx); pattern != "" {
		stages = append(stages, Query{NameContains: pattern, Limit: stageLimit})
	}
	stages = append(stages,
		Query{FullText: marker, OrderByRecent: true, Limit: stageLimit},
		Query{NameContains: marker, SharedWithMe: true, Limit: stageLimit},
	)

	seen := make(map[string]bool)
	var out []Candidate
	for i, q := range stages {
		var found []Candidate
		err := a.call(ctx, "search documents", func(ctx context.Context) error {
			var err error
			found, err = a.docs.Search(ctx, q)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			if !seen[c.ID] {
				seen[c.ID] = true
				out = append(out, c)
			}
		}
		a.log.WithFields(logrus.Fields{"stage": i + 1, "found": len(found)}).Debug("discovery stage")
	}
	return out, nil
}

// identityPattern derives a document name fragment from the current identity:
// the local part of the email address, else the display name.
func (a *Adapter) identityPattern(ctx context.Context) string {
	if a.identity == nil {
		return ""
	}
	id, err := a.identity.Identity(ctx)
	if err != nil || id.IsAnonymous {
		return ""
	}
	if local, _, ok := strings.Cut(id.EmailAddress, "@"); ok && local != "" {
		return local
	}
	return strings.TrimSpace(id.DisplayName)
}

// Score rates a candidate for binding.
func (a *Adapter) Score(c Candidate) float64 {
	score := 0.0
	if c.OwnedByMe {
		score += scoreOwned
	}
	if strings.Contains(strings.ToLower(c.Name), strings.ToLower(a.remote.Marker)) {
		score += scoreMarker
	}
	if !c.ModifiedTime.IsZero() {
		age := a.now().Sub(c.ModifiedTime)
		if age < 0 {
			age = 0
		}
		if age < recencyWindow {
			score += scoreRecency * (1 - float64(age)/float64(recencyWindow))
		}
	}
	if !c.Shared {
		score += scorePrivate
	}
	return score
}

// pick returns the highest-scored candidate. Ties go to the most recently
// modified, then the lowest ID, so the choice is deterministic.
func (a *Adapter) pick(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	ranked := slices.Clone(candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := a.Score(ranked[i]), a.Score(ranked[j])
		if si != sj {
			return si > sj
		}
		if !ranked[i].ModifiedTime.Equal(ranked[j].ModifiedTime) {
			return ranked[i].ModifiedTime.After(ranked[j].ModifiedTime)
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked[0], true
}

// WriteCollection overwrites the collection's sheet with a header row and
// one row per entity, creating the sheet if needed.
func (a *Adapter) WriteCollection(ctx context.Context, b types.Binding, collection string, entities []types.Entity) error {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return err
	}
	columns := schema.Columns()
	rows := make([][]string, 0, len(entities)+1)
	rows = append(rows, columns)
	for _, e := range entities {
		rows = append(rows, e.Row(columns))
	}

	if err := a.ensureSheet(ctx, b, collection); err != nil {
		return err
	}
	if err := a.call(ctx, "clear "+collection, func(ctx context.Context) error {
		return a.docs.Clear(ctx, b.DocumentID, collection)
	}); err != nil {
		return err
	}
	if err := a.call(ctx, "write "+collection, func(ctx context.Context) error {
		return a.docs.Write(ctx, b.DocumentID, collection, rows)
	}); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"collection": collection, "rows": len(entities)}).Debug("collection written")
	return nil
}

func (a *Adapter) ensureSheet(ctx context.Context, b types.Binding, sheet string) error {
	var names []string
	if err := a.call(ctx, "list sheets", func(ctx context.Context) error {
		var err error
		names, err = a.docs.SheetNames(ctx, b.DocumentID)
		return err
	}); err != nil {
		return err
	}
	if slices.Contains(names, sheet) {
		return nil
	}
	return a.call(ctx, "add sheet "+sheet, func(ctx context.Context) error {
		return a.docs.AddSheet(ctx, b.DocumentID, sheet)
	})
}

// ReadCollection maps every row after the header into an entity keyed by
// header names. Short rows are padded with empty strings; fully blank rows
// are skipped. Values stay as cell text.
func (a *Adapter) ReadCollection(ctx context.Context, b types.Binding, collection string) ([]types.Entity, error) {
	if _, err := types.SchemaFor(collection); err != nil {
		return nil, err
	}
	var rows [][]string
	if err := a.call(ctx, "read "+collection, func(ctx context.Context) error {
		var err error
		rows, err = a.docs.Read(ctx, b.DocumentID, collection)
		return err
	}); err != nil {
		return nil, err
	}
	return ParseRows(collection, rows), nil
}

// ParseRows converts a header row plus data rows into entities.
func ParseRows(collection string, rows [][]string) []types.Entity {
	if len(rows) == 0 {
		return []types.Entity{}
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	out := make([]types.Entity, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		padded := make([]string, len(header))
		copy(padded, row)
		e := types.Entity{Collection: collection, Fields: make(types.Fields, len(header))}
		for i, h := range header {
			if h == "" {
				continue
			}
			if h == types.FieldID {
				e.ID = padded[i]
				continue
			}
			e.Fields[h] = padded[i]
		}
		out = append(out, e)
	}
	return out
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ClearAllCollections empties every sheet of the document, keeping the
// document and its sheets.
func (a *Adapter) ClearAllCollections(ctx context.Context, b types.Binding) error {
	var names []string
	if err := a.call(ctx, "list sheets", func(ctx context.Context) error {
		var err error
		names, err = a.docs.SheetNames(ctx, b.DocumentID)
		return err
	}); err != nil {
		return err
	}
	for _, name := range names {
		if err := a.call(ctx, "clear "+name, func(ctx context.Context) error {
			return a.docs.Clear(ctx, b.DocumentID, name)
		}); err != nil {
			return err
		}
	}
	a.log.WithField("document", b.DocumentID).Warn("cleared all remote sheets")
	return nil
}

// call runs fn under the per-call timeout. Deadlines and unclassified
// failures become RemoteUnavailable.
func (a *Adapter) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	err := fn(ctx)
	if err == nil {
		return nil
	}
	var re *types.RemoteError
	if errors.As(err, &re) {
		return err
	}
	return types.Unavailable(op, err)
}
