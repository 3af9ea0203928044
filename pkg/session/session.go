// Package session resolves the identity carried by the ambient web session of
// an incoming request. Authentication itself (login, cookie issuance) lives
// in the surrounding application; this package only reads what it left
// behind: a redis-backed session cookie, or a signed token for clients that
// connect without a browser session.
package session

import (
	"context"
	"log/slog"
	"net/http"
)

// Identity is a resolved, authenticated user. Absence of an Identity (a nil
// pointer) means the request is anonymous; rejecting it is the authorizer's
// job, not ours.
type Identity struct {
	UserID int64
}

// Resolver extracts an identity from a request. Returning (nil, nil) means no
// identity was present, which is not an error.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Identity, error)
}

// Chain tries each resolver in order and returns the first identity found.
// Resolver errors are logged and treated as anonymous so that a broken
// session backend degrades to "unauthorized" rather than a 500.
type Chain struct {
	resolvers []Resolver
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, resolvers ...Resolver) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{resolvers: resolvers, logger: logger}
}

func (c *Chain) Resolve(ctx context.Context, r *http.Request) (*Identity, error) {
	for _, res := range c.resolvers {
		id, err := res.Resolve(ctx, r)
		if err != nil {
			c.logger.Warn("identity resolver failed", "err", err)
			continue
		}
		if id != nil {
			return id, nil
		}
	}
	return nil, nil
}
