// Package setup implements first-time data entry: a linear wizard that
// stages draft entities and commits them to the store only on completion,
// and a workbook import path that shares the same validation.
package setup

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/logging"
	"github.com/mesh-intelligence/stockroom/internal/store"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Step is a wizard state.
type Step int

const (
	StepCompany Step = iota
	StepWarehouse
	StepSupplier
	StepCustomer
	StepCategory
	StepProduct
	StepCommitted
)

var stepNames = [...]string{"company", "warehouse", "supplier", "customer", "category", "product", "committed"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Collection returns the collection edited in this step, or "" for
// StepCommitted.
func (s Step) Collection() string {
	if s < StepCompany || s > StepProduct {
		return ""
	}
	return types.SourceCollections[s]
}

// Wizard errors.
var (
	ErrFirstStep    = errors.New("already at the first step")
	ErrLastStep     = errors.New("already at the last step, complete the wizard instead")
	ErrWizardClosed = errors.New("wizard is cancelled or committed")
)

// Wizard stages entities for every source collection. Nothing reaches the
// store until Complete. A Wizard is safe for concurrent use.
type Wizard struct {
	mu        sync.Mutex
	store     *store.Store
	log       logrus.FieldLogger
	sessionID string
	step      Step
	closed    bool
	draft     map[string][]types.Entity
	seq       map[string]int64
}

// NewWizard starts a session at StepCompany.
func NewWizard(st *store.Store, log logrus.FieldLogger) *Wizard {
	if log == nil {
		log = logging.Discard()
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	w := &Wizard{
		store:     st,
		sessionID: id.String(),
		draft:     make(map[string][]types.Entity),
		seq:       make(map[string]int64),
	}
	w.log = log.WithFields(logrus.Fields{"module": "setup", "session": w.sessionID})
	return w
}

// SessionID identifies this wizard run in logs.
func (w *Wizard) SessionID() string { return w.sessionID }

// Step returns the current state.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Next advances one step. Leaving a step never requires entries.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	if w.step >= StepProduct {
		return ErrLastStep
	}
	w.step++
	return nil
}

// Back returns to the previous step, keeping every draft.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	if w.step == StepCompany {
		return ErrFirstStep
	}
	w.step--
	return nil
}

// Cancel discards the whole draft.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = make(map[string][]types.Entity)
	w.closed = true
	w.log.Info("setup cancelled")
}

// Add stages a new entity in the current step's collection.
func (w *Wizard) Add(fields types.Fields) (types.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.Entity{}, ErrWizardClosed
	}
	return w.addLocked(w.step.Collection(), fields)
}

func (w *Wizard) addLocked(collection string, fields types.Fields) (types.Entity, error) {
	values, err := w.store.Validate(collection, fields, w.draft[collection])
	if err != nil {
		return types.Entity{}, err
	}
	e := types.Entity{ID: w.draftID(collection), Collection: collection, Fields: values}
	w.draft[collection] = append(w.draft[collection], e)
	return e.Clone(), nil
}

// draftIDs are placeholders for display; Complete assigns real identifiers.
func (w *Wizard) draftID(collection string) string {
	w.seq[collection]++
	return fmt.Sprintf("draft-%s-%d", collection, w.seq[collection])
}

// Edit replaces the fields of a staged entity.
func (w *Wizard) Edit(collection, id string, fields types.Fields) (types.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.Entity{}, ErrWizardClosed
	}
	list := w.draft[collection]
	idx := indexOf(list, id)
	if idx < 0 {
		return types.Entity{}, &types.NotFoundError{Collection: collection, ID: id}
	}
	others := make([]types.Entity, 0, len(list)-1)
	others = append(others, list[:idx]...)
	others = append(others, list[idx+1:]...)
	values, err := w.store.Validate(collection, fields, others)
	if err != nil {
		return types.Entity{}, err
	}
	list[idx] = types.Entity{ID: id, Collection: collection, Fields: values}
	return list[idx].Clone(), nil
}

// Remove drops a staged entity.
func (w *Wizard) Remove(collection, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	list := w.draft[collection]
	idx := indexOf(list, id)
	if idx < 0 {
		return &types.NotFoundError{Collection: collection, ID: id}
	}
	w.draft[collection] = append(list[:idx:idx], list[idx+1:]...)
	return nil
}

// Draft returns a copy of the staged entities of collection.
func (w *Wizard) Draft(collection string) []types.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return types.CloneAll(w.draft[collection])
}

// Complete commits the whole draft in one store batch, which assigns fresh
// identifiers, then clears the draft. It fails with IncompleteSetupError
// when no product is staged. If the batch is rejected nothing is written and
// the draft is left as it was, so it can be corrected and completed again.
func (w *Wizard) Complete() (map[string][]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWizardClosed
	}
	if len(w.draft[types.CollectionProducts]) == 0 {
		return nil, &types.IncompleteSetupError{Missing: []string{types.CollectionProducts}}
	}

	batch := make(map[string][]types.Fields, len(w.draft))
	for c, entities := range w.draft {
		for _, e := range entities {
			batch[c] = append(batch[c], e.Clone().Fields)
		}
	}
	created, err := w.store.CreateBatch(batch)
	if err != nil {
		w.log.WithError(err).Error("commit failed")
		return nil, fmt.Errorf("commit setup: %w", err)
	}
	w.draft = make(map[string][]types.Entity)
	w.step = StepCommitted
	w.closed = true
	w.log.WithField("created", counts(created)).Info("setup committed")
	return created, nil
}

func counts(m map[string][]string) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = len(v)
	}
	return out
}

func indexOf(entities []types.Entity, id string) int {
	for i, e := range entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}
