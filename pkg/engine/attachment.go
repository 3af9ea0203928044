package engine

import (
	"context"
	"fmt"

	"github.com/tracksuite/collabsync/pkg/session"
)

// Attachment binds one connection to one resident document. HandleUpdate and
// Close are driven by the connection's read loop, one call at a time, which
// is what preserves per-connection ordering end to end.
type Attachment struct {
	engine   *Engine
	sess     *docSession
	conn     Conn
	identity *session.Identity
	readOnly bool
}

// ReadOnly reports whether the connection has been downgraded (or attached
// without edit permission). It only ever moves from false to true for the
// lifetime of the attachment.
func (a *Attachment) ReadOnly() bool {
	return a.readOnly
}

// HandleUpdate re-authorizes the caller and merges one binary update into the
// shared document, broadcasting it to every other attached connection.
//
// Returns ErrUnauthorized when the caller has lost view access; the update is
// discarded and the transport must terminate the connection. A lost edit
// permission downgrades the attachment to read-only starting with (and
// including) this update. Malformed payloads are dropped without affecting
// the connection or its peers.
func (a *Attachment) HandleUpdate(ctx context.Context, payload []byte) error {
	v := a.engine.auth.AuthorizeMessage(ctx, a.sess.id, a.identity)
	if !v.Allowed {
		return fmt.Errorf("%w: %s", ErrUnauthorized, v.Reason)
	}
	if v.ReadOnly || a.readOnly {
		if !a.readOnly {
			a.readOnly = true
			a.engine.logger.Info("connection downgraded to read-only", "doc", a.sess.id, "conn", a.conn.ID(), "user", a.identity.UserID)
		}
		a.engine.logger.Debug("discarding update from read-only connection", "doc", a.sess.id, "conn", a.conn.ID())
		return nil
	}

	if len(payload) == 0 {
		a.engine.logger.Debug("discarding empty update", "doc", a.sess.id, "conn", a.conn.ID())
		return nil
	}

	s := a.sess
	s.mu.Lock()
	if _, attached := s.conns[a.conn.ID()]; !attached {
		// Detached while the permission check was in flight; a removed
		// connection must never be resurrected.
		s.mu.Unlock()
		return nil
	}
	if err := s.doc.LoadIncremental(payload); err != nil {
		s.mu.Unlock()
		a.engine.logger.Warn("discarding malformed update", "doc", s.id, "conn", a.conn.ID(), "err", err)
		return nil
	}
	s.gen++
	peers := make([]Conn, 0, len(s.conns)-1)
	for id, c := range s.conns {
		if id != a.conn.ID() {
			peers = append(peers, c)
		}
	}
	s.mu.Unlock()

	for _, peer := range peers {
		if err := peer.Send(payload); err != nil {
			a.engine.logger.Warn("failed to broadcast update", "doc", s.id, "conn", peer.ID(), "err", err)
		}
	}
	return nil
}

// Close detaches the connection from the document's broadcast set. When it
// was the last one, the document is persisted and evicted.
func (a *Attachment) Close(ctx context.Context) {
	a.engine.detach(ctx, a.sess, a.conn)
}
