package syncer

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// RestoreResult lists what a restore replaced and what it left alone.
type RestoreResult struct {
	Restored []string
	// Skipped holds dirty local collections, which win over the remote copy
	// unless the restore is forced.
	Skipped []string
}

// Restore reads every collection from the bound document and replaces the
// local copies. Collections with unsynced local changes are kept unless
// force is set. It never creates or binds a document.
func (c *Coordinator) Restore(ctx context.Context, force bool) (RestoreResult, error) {
	var res RestoreResult
	release, err := c.acquire(ctx)
	if err != nil {
		return res, err
	}
	defer release()

	binding, ok, err := c.adapter.Binding()
	if err != nil {
		return res, err
	}
	if !ok {
		return res, types.ErrNoBinding
	}

	remote := make([][]types.Entity, len(types.Collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range types.Collections {
		g.Go(func() error {
			entities, err := c.adapter.ReadCollection(gctx, binding, name)
			if err != nil {
				return err
			}
			remote[i] = entities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	// Precedence is decided on the dirty set as it stood before any
	// replacement; regenerating opening stock may mark it dirty midway.
	dirty := make(map[string]bool)
	for _, name := range c.tracker.DirtyCollections() {
		dirty[name] = true
	}
	for i, name := range types.Collections {
		if dirty[name] && !force {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := c.store.Replace(name, remote[i]); err != nil {
			return res, err
		}
		res.Restored = append(res.Restored, name)
	}
	c.log.WithFields(logrus.Fields{
		"document": binding.DocumentID,
		"restored": res.Restored,
		"skipped":  res.Skipped,
		"force":    force,
	}).Info("restore finished")
	return res, nil
}

// ResetRemote empties every sheet of the bound document. The document itself
// is never deleted and the binding is kept.
func (c *Coordinator) ResetRemote(ctx context.Context) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	binding, ok, err := c.adapter.Binding()
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNoBinding
	}
	return c.adapter.ClearAllCollections(ctx, binding)
}

// acquire takes the mutual exclusion flag for a non-coalescing operation and
// refuses anonymous identities.
func (c *Coordinator) acquire(ctx context.Context) (func(), error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	release := func() {
		c.syncing.Store(false)
		c.publish()
	}
	c.publish()

	id, err := c.identityOf(ctx)
	if err != nil {
		release()
		return nil, err
	}
	if id.IsAnonymous {
		release()
		return nil, types.ErrAnonymous
	}
	return release, nil
}
