// Package engine owns the authoritative in-memory CRDT document for each
// document id and implements the convergence protocol: merge updates from
// writable connections, rebroadcast them to the other connections on the same
// document, and reconcile with the document store on load/save boundaries.
//
// There is exactly one resident document per id per process. A document is
// created when the first connection attaches (loading whatever the store has)
// and evicted once the last connection has detached and the final snapshot
// has been persisted. All merges for one document are serialized behind a
// per-document mutex; documents are independent of each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/tracksuite/collabsync/pkg/authz"
	"github.com/tracksuite/collabsync/pkg/docstore"
	"github.com/tracksuite/collabsync/pkg/session"
)

// ErrUnauthorized is returned from Connect and HandleUpdate when the
// authorizer rejects the caller. The transport must terminate the connection
// without sending any document data.
var ErrUnauthorized = errors.New("unauthorized")

const defaultSaveInterval = 5 * time.Second

// Conn is one client's live transport channel. Send must not block
// indefinitely; delivery is best-effort and a failed send to one connection
// never affects the others.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

// Authorizer is consulted synchronously at the two checkpoints of the session
// protocol: connection open and every inbound update.
type Authorizer interface {
	AuthorizeConnect(ctx context.Context, docID string, id *session.Identity) authz.Verdict
	AuthorizeMessage(ctx context.Context, docID string, id *session.Identity) authz.Verdict
}

type Config struct {
	Store      docstore.Store
	Authorizer Authorizer
	Logger     *slog.Logger
	// SaveInterval is the period of the background flush ticker. Defaults to
	// 5s.
	SaveInterval time.Duration
}

type Engine struct {
	store        docstore.Store
	auth         Authorizer
	logger       *slog.Logger
	saveInterval time.Duration

	mu   sync.Mutex
	docs map[string]*docSession
}

// docSession is the shared state for one document id. refs counts attached
// connections and is guarded by the engine mutex; everything else is guarded
// by the session's own mutex.
type docSession struct {
	id   string
	refs int

	mu       sync.Mutex
	doc      *automerge.Doc
	conns    map[string]Conn
	gen      uint64 // bumped for every applied update
	savedGen uint64 // gen at the last successful save
	saving   bool
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.SaveInterval
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	return &Engine{
		store:        cfg.Store,
		auth:         cfg.Authorizer,
		logger:       logger,
		saveInterval: interval,
		docs:         map[string]*docSession{},
	}
}

// Connect authorizes and attaches a connection to a document, loading the
// document into memory if it isn't resident yet. The connection receives the
// current full snapshot as its first message. Returns ErrUnauthorized without
// touching any document state when the caller may not view the document.
func (e *Engine) Connect(ctx context.Context, docID string, id *session.Identity, conn Conn) (*Attachment, error) {
	v := e.auth.AuthorizeConnect(ctx, docID, id)
	if !v.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, v.Reason)
	}

	s := e.acquire(docID)

	// The first attach loads under the session mutex, so any concurrent
	// attach or update for the same document queues here until the document
	// is ready.
	s.mu.Lock()
	if s.doc == nil {
		s.doc = e.loadDoc(ctx, docID)
	}
	s.conns[conn.ID()] = conn
	// The snapshot is enqueued before the mutex is released so that no
	// broadcast from a concurrent update can reach the connection first; Send
	// only queues, it never blocks on the transport.
	if err := conn.Send(s.doc.Save()); err != nil {
		e.logger.Warn("failed to send initial snapshot", "doc", docID, "conn", conn.ID(), "err", err)
	}
	s.mu.Unlock()
	e.logger.Info("connection attached", "doc", docID, "conn", conn.ID(), "user", id.UserID, "readOnly", v.ReadOnly)
	return &Attachment{engine: e, sess: s, conn: conn, identity: id, readOnly: v.ReadOnly}, nil
}

func (e *Engine) acquire(docID string) *docSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.docs[docID]
	if s == nil {
		s = &docSession{id: docID, conns: map[string]Conn{}}
		e.docs[docID] = s
	}
	s.refs++
	return s
}

// loadDoc fetches the persisted snapshot, degrading to an empty document on
// any failure. "No prior document" is the normal case for a fresh page and is
// logged at debug; an unreachable store or a corrupt snapshot is an error
// worth alerting on, but still must not refuse the connection.
func (e *Engine) loadDoc(ctx context.Context, docID string) *automerge.Doc {
	raw, err := e.store.Load(ctx, docID)
	if err != nil {
		e.logger.Error("failed to load document snapshot, starting empty", "doc", docID, "err", err)
		return automerge.New()
	}
	if raw == nil {
		e.logger.Debug("no stored snapshot, starting empty", "doc", docID)
		return automerge.New()
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		e.logger.Error("stored snapshot is corrupt, starting empty", "doc", docID, "err", err)
		return automerge.New()
	}
	return doc
}

func (e *Engine) detach(ctx context.Context, s *docSession, conn Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()

	e.mu.Lock()
	s.refs--
	last := s.refs == 0
	e.mu.Unlock()

	e.logger.Info("connection detached", "doc", s.id, "conn", conn.ID())
	if last {
		// Drain: persist the final snapshot before the document can be
		// evicted. If the save fails the document stays resident and the
		// flush ticker retries.
		e.flush(ctx, s)
		e.maybeEvict(s)
	}
}

// flush persists the current snapshot if the document has changed since the
// last successful save. The snapshot is captured under the session mutex but
// the store call runs outside it, so a slow or hung store never blocks
// incoming updates. Concurrent flushes of the same document collapse into
// one; generation counters make persistence last-snapshot-wins.
func (e *Engine) flush(ctx context.Context, s *docSession) {
	s.mu.Lock()
	if s.doc == nil || s.saving || s.gen == s.savedGen {
		s.mu.Unlock()
		return
	}
	s.saving = true
	gen := s.gen
	snapshot := s.doc.Save()
	s.mu.Unlock()

	err := e.store.Save(ctx, s.id, snapshot)

	s.mu.Lock()
	s.saving = false
	if err == nil && gen > s.savedGen {
		s.savedGen = gen
	}
	s.mu.Unlock()

	if err != nil {
		e.logger.Error("failed to persist document snapshot, will retry", "doc", s.id, "err", err)
	} else {
		e.logger.Debug("persisted document snapshot", "doc", s.id, "gen", gen)
	}
}

// maybeEvict discards the in-memory document once nothing references it and
// nothing is left to persist. An attach that raced in, an in-flight save, or
// unsaved changes all cancel the eviction.
func (e *Engine) maybeEvict(s *docSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs > 0 || s.saving || s.gen != s.savedGen {
		return
	}
	delete(e.docs, s.id)
	s.doc = nil
}

// Run drives the periodic persistence of dirty documents until ctx is
// cancelled, then makes a final sweep so a shutdown doesn't lose the last
// interval's edits.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.saveInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.flushAll(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.flushAll(flushCtx)
			cancel()
			return
		}
	}
}

func (e *Engine) flushAll(ctx context.Context) {
	e.mu.Lock()
	sessions := make([]*docSession, 0, len(e.docs))
	for _, s := range e.docs {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		e.flush(ctx, s)
		e.maybeEvict(s)
	}
}

// Authorizer exposes the engine's authorizer so that transports can gate
// non-sync routes (like snapshot downloads) with the same checkpoint logic.
func (e *Engine) Authorizer() Authorizer {
	return e.auth
}

// Snapshot returns the current serialized state of a document: the live
// in-memory state when resident, otherwise whatever the store has. Returns
// (nil, nil) for a document that has never been written.
func (e *Engine) Snapshot(ctx context.Context, docID string) ([]byte, error) {
	e.mu.Lock()
	s := e.docs[docID]
	e.mu.Unlock()
	if s != nil {
		s.mu.Lock()
		if s.doc != nil {
			raw := s.doc.Save()
			s.mu.Unlock()
			return raw, nil
		}
		s.mu.Unlock()
	}
	return e.store.Load(ctx, docID)
}
