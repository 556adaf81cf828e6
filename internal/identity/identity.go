// Package identity supplies the identity descriptor behind the active
// credential and loads OAuth tokens for the Google client.
package identity

import (
	"context"
	"sync"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Anonymous is the demo identity. Remote sync is disabled for it.
type Anonymous struct{}

// Identity returns the anonymous descriptor.
func (Anonymous) Identity(context.Context) (types.Identity, error) {
	return types.Identity{DisplayName: "Demo", IsAnonymous: true}, nil
}

// Static returns a fixed identity, typically read from configuration.
type Static struct {
	Ident types.Identity
}

// Identity returns the configured descriptor.
func (s Static) Identity(context.Context) (types.Identity, error) {
	return s.Ident, nil
}

// AboutFunc fetches the display name and email of the token owner.
type AboutFunc func(ctx context.Context) (displayName, email string, err error)

// Remote asks the document service who the token belongs to. The result is
// cached after the first successful lookup.
type Remote struct {
	about  AboutFunc
	mu     sync.Mutex
	cached *types.Identity
}

// NewRemote wraps about, usually (*sheets.Google).About.
func NewRemote(about AboutFunc) *Remote {
	return &Remote{about: about}
}

// Identity returns the cached owner, fetching it on first use.
func (r *Remote) Identity(ctx context.Context) (types.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return *r.cached, nil
	}
	name, email, err := r.about(ctx)
	if err != nil {
		return types.Identity{}, err
	}
	id := types.Identity{DisplayName: name, EmailAddress: email}
	r.cached = &id
	return id, nil
}
