// Package server exposes the sync engine over HTTP: a websocket channel per
// document for live collaboration, and a snapshot download route. The
// surrounding application's session cookie (or a signed token) identifies the
// caller; all authorization decisions are the engine's.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tracksuite/collabsync/pkg/engine"
	"github.com/tracksuite/collabsync/pkg/session"
)

// Close code sent when the authorizer rejects a connection or revokes access
// mid-session. 4000-4999 is the range reserved for applications.
const closeCodeUnauthorized = 4401

type Server struct {
	engine   *engine.Engine
	resolver session.Resolver
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(eng *engine.Engine, resolver session.Resolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   eng,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The session cookie or token authenticates the caller; the
			// browser origin does not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthz)
	r.Methods(http.MethodGet).Path("/documents/{document}").HandlerFunc(s.getDocument)
	r.Methods(http.MethodGet).Path("/collaboration/{document}").HandlerFunc(s.collaborate)
	return r
}

func (s *Server) healthz(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusNoContent)
}

// getDocument serves the latest snapshot of a document to any caller with
// view access. Useful for read-only rendering paths that don't need a live
// channel.
func (s *Server) getDocument(writer http.ResponseWriter, request *http.Request) {
	docID := mux.Vars(request)["document"]
	identity, err := s.resolver.Resolve(request.Context(), request)
	if err != nil {
		s.logger.Warn("failed to resolve identity", "err", err)
	}
	if v := s.engine.Authorizer().AuthorizeConnect(request.Context(), docID, identity); !v.Allowed {
		writer.WriteHeader(http.StatusForbidden)
		return
	}
	snapshot, err := s.engine.Snapshot(request.Context(), docID)
	if err != nil {
		s.logger.Error("failed to fetch snapshot", "doc", docID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	if snapshot == nil {
		writer.WriteHeader(http.StatusNoContent)
		return
	}
	writer.Header().Set("Content-Type", "application/octet-stream")
	if _, err := writer.Write(snapshot); err != nil {
		s.logger.Error("failed to write snapshot", "doc", docID, "err", err)
	}
}

// collaborate is the live sync channel. The handshake is authorized before
// any document data is written; a rejection is signalled with a close frame
// and nothing else.
func (s *Server) collaborate(writer http.ResponseWriter, request *http.Request) {
	docID := mux.Vars(request)["document"]
	identity, err := s.resolver.Resolve(request.Context(), request)
	if err != nil {
		s.logger.Warn("failed to resolve identity", "err", err)
	}

	ws, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	conn := newWSConn(ws, s.logger)
	defer conn.close()

	att, err := s.engine.Connect(request.Context(), docID, identity, conn)
	if err != nil {
		if errors.Is(err, engine.ErrUnauthorized) {
			s.logger.Info("rejected connection", "doc", docID, "err", err)
			conn.reject(err.Error())
		} else {
			s.logger.Error("failed to attach connection", "doc", docID, "err", err)
		}
		return
	}
	defer att.Close(request.Context())

	for {
		mt, payload, err := ws.ReadMessage()
		if err != nil {
			s.logger.Debug("connection closed", "doc", docID, "conn", conn.ID(), "err", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := att.HandleUpdate(request.Context(), payload); err != nil {
			if errors.Is(err, engine.ErrUnauthorized) {
				s.logger.Info("terminating connection", "doc", docID, "conn", conn.ID(), "err", err)
				conn.reject(err.Error())
			}
			return
		}
	}
}
