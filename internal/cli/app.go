package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/identity"
	"github.com/mesh-intelligence/stockroom/internal/kv"
	"github.com/mesh-intelligence/stockroom/internal/logging"
	"github.com/mesh-intelligence/stockroom/internal/sheets"
	"github.com/mesh-intelligence/stockroom/internal/store"
	"github.com/mesh-intelligence/stockroom/internal/syncer"
	"github.com/mesh-intelligence/stockroom/internal/tracker"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// app is the object graph behind one command invocation.
type app struct {
	settings  settings
	log       *logrus.Logger
	logCloser io.Closer
	kv        types.KV
	store     *store.Store
	identity  types.IdentityProvider
	anonymous bool
	adapter   *sheets.Adapter
	coord     *syncer.Coordinator
}

// openApp resolves configuration, opens local state and wires the remote
// side. Without a token the identity is anonymous and nothing is sent.
func openApp(ctx context.Context, f *rootFlags) (*app, error) {
	s, err := loadSettings(f)
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.New(s.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	a := &app{settings: s, log: log, logCloser: closer}

	a.kv, err = kv.Open(s.Store)
	if err != nil {
		a.Close()
		return nil, system(fmt.Errorf("open local state: %w", err))
	}
	tr, err := tracker.New(a.kv)
	if err != nil {
		a.Close()
		return nil, system(err)
	}
	a.store, err = store.New(a.kv, tr, store.WithLogger(log))
	if err != nil {
		a.Close()
		return nil, system(err)
	}

	var docs sheets.Documents
	adapterOpts := []sheets.Option{sheets.WithLogger(log)}
	a.identity, docs, err = connectRemote(ctx, s, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if docs == nil {
		a.anonymous = true
	} else {
		adapterOpts = append(adapterOpts, sheets.WithIdentity(a.identity), sheets.WithCredentialRef(s.TokenFile))
	}
	a.adapter = sheets.New(docs, a.kv, s.Store, adapterOpts...)

	a.coord, err = syncer.New(a.store, a.adapter, a.identity, a.kv, s.Store, syncer.WithLogger(log))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// connectRemote returns the identity and, for a signed-in user, the Google
// document service. A nil service means the anonymous identity.
func connectRemote(ctx context.Context, s settings, log logrus.FieldLogger) (types.IdentityProvider, sheets.Documents, error) {
	if s.Demo {
		return identity.Anonymous{}, nil, nil
	}
	ts, err := identity.LoadTokenSource(ctx, s.TokenFile, s.ClientFile)
	if errors.Is(err, identity.ErrNoToken) {
		log.WithField("token_file", s.TokenFile).Debug("no token, running local only")
		return identity.Anonymous{}, nil, nil
	}
	if err != nil {
		return nil, nil, system(err)
	}
	g, err := sheets.NewGoogle(ctx, ts)
	if err != nil {
		return nil, nil, system(err)
	}
	return identity.NewRemote(g.About), g, nil
}

// requireRemote fails for the anonymous identity before any remote call.
func (a *app) requireRemote() error {
	if a.anonymous {
		return fmt.Errorf("%w: sign in by saving a token at %s", types.ErrAnonymous, a.settings.TokenFile)
	}
	return nil
}

// Close stops background work and releases local state.
func (a *app) Close() error {
	var errs []error
	if a.coord != nil {
		a.coord.Stop()
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
