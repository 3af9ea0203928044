// Package authz gates collaboration sessions. It is consulted at exactly two
// checkpoints: once when a connection is opened and once for every inbound
// update. Permissions are looked up fresh both times so that a role change
// (say, a manager removing a member) takes effect on the very next message
// rather than at the next reconnect.
package authz

import (
	"context"
	"log/slog"

	"github.com/tracksuite/collabsync/pkg/permission"
	"github.com/tracksuite/collabsync/pkg/session"
)

// Verdict is the outcome of an authorization checkpoint. Control flow is
// explicit: callers branch on Allowed/ReadOnly instead of catching errors.
type Verdict struct {
	Allowed  bool
	ReadOnly bool
	// Reason is set on rejection, for logs and the close frame.
	Reason string
}

func Allow(readOnly bool) Verdict {
	return Verdict{Allowed: true, ReadOnly: readOnly}
}

func Reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

type Authorizer struct {
	perms  permission.Oracle
	logger *slog.Logger
}

func New(perms permission.Oracle, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{perms: perms, logger: logger}
}

// AuthorizeConnect decides whether a new connection may attach to a document.
// A rejected connection must be terminated before any document state is
// touched or sent.
func (a *Authorizer) AuthorizeConnect(ctx context.Context, docID string, id *session.Identity) Verdict {
	return a.check(ctx, docID, id)
}

// AuthorizeMessage decides whether an inbound update may be applied. A
// rejection terminates the connection; a read-only verdict downgrades it and
// discards the triggering update.
func (a *Authorizer) AuthorizeMessage(ctx context.Context, docID string, id *session.Identity) Verdict {
	return a.check(ctx, docID, id)
}

func (a *Authorizer) check(ctx context.Context, docID string, id *session.Identity) Verdict {
	if id == nil {
		return Reject("no session")
	}
	// View is checked before edit so that edit permission never implicitly
	// grants access to a document the user may not see.
	canView, err := a.perms.CanView(ctx, id.UserID, docID)
	if err != nil {
		a.logger.Error("view permission lookup failed", "doc", docID, "user", id.UserID, "err", err)
		return Reject("permission lookup failed")
	}
	if !canView {
		return Reject("not a member of this document's project")
	}
	canEdit, err := a.perms.CanEdit(ctx, id.UserID, docID)
	if err != nil {
		// Fail closed on the weaker side: the user keeps their view access
		// but cannot write until the oracle recovers.
		a.logger.Error("edit permission lookup failed", "doc", docID, "user", id.UserID, "err", err)
		return Allow(true)
	}
	return Allow(!canEdit)
}
