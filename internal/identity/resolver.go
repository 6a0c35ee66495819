// Package identity implements the Identity Resolver (C2): mapping an
// inbound request's api key, user id, session id, and optional global
// uid into a resolved identity tuple, minting local/session ids on
// first contact per spec.md §4.2.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// Resolved is the tuple every downstream stage receives.
type Resolved struct {
	Business    *model.Business
	UserID      string
	SessionID   string
	GlobalUID   string
	MintedUser  bool
	MintedSession bool
}

// Request carries the inbound identity fields, gathered by the
// orchestrator from headers and the request body.
type Request struct {
	APIKey    string
	Origin    string
	UserID    string
	SessionID string
	GlobalUID string
}

// Resolver resolves requests against the Persistence Layer.
type Resolver struct {
	store storage.Store
}

func New(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve implements spec.md §4.2's rules: unknown or missing api key
// is Unauthorized, an origin outside allowed_domains is Forbidden, a
// missing user_id or session_id is minted, and global_uid is only ever
// accepted, never synthesized.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolved, error) {
	biz, err := r.ResolveBusiness(ctx, req.APIKey, req.Origin)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{Business: biz, UserID: req.UserID, SessionID: req.SessionID, GlobalUID: req.GlobalUID}
	if resolved.UserID == "" {
		resolved.UserID = uuid.NewString()
		resolved.MintedUser = true
	}
	if resolved.SessionID == "" {
		resolved.SessionID = uuid.NewString()
		resolved.MintedSession = true
	}
	return resolved, nil
}

// ResolveBusiness implements the api-key/origin half of spec.md §4.2's
// rules, for endpoints that act on a tenant but carry no per-user
// identity of their own (e.g. the read-only dashboard and journey
// routes).
func (r *Resolver) ResolveBusiness(ctx context.Context, apiKey, origin string) (*model.Business, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing api key", model.ErrUnauthorized)
	}
	biz, err := r.store.GetBusinessByAPIKey(ctx, apiKey)
	if err != nil {
		if err == model.ErrNotFound {
			return nil, fmt.Errorf("%w: unknown api key", model.ErrUnauthorized)
		}
		return nil, err
	}
	if origin != "" && len(biz.AllowedDomains) > 0 && !originAllowed(origin, biz.AllowedDomains) {
		return nil, fmt.Errorf("%w: origin %q not allowed for business %q", model.ErrForbidden, origin, biz.BusinessID)
	}
	return biz, nil
}

func originAllowed(origin string, allowed []string) bool {
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
