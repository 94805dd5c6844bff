// Package server exposes a coordinator over HTTP: WebSocket sync sessions
// on /ws and a small JSON API for documents.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/transport"
)

// Server routes HTTP requests to a coordinator.
type Server struct {
	base     context.Context
	coord    *engine.Coordinator
	session  transport.Config
	upgrader websocket.Upgrader
	accepted atomic.Int64
}

// New creates a server. Accepted sessions live until base ends or the
// coordinator closes. session is the template for accepted sessions.
func New(base context.Context, coord *engine.Coordinator, session transport.Config) *Server {
	if session.Site == "" {
		session.Site = coord.Site()
	}
	return &Server{
		base:    base,
		coord:   coord,
		session: session,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/docs/{docID}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/docs/{docID}", s.handleRegister).Methods(http.MethodPut)
	r.HandleFunc("/docs/{docID}/edits", s.handleEdit).Methods(http.MethodPost)
	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("sync server listening", "addr", addr, "site", s.coord.Site())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	cfg := s.session
	cfg.ID = fmt.Sprintf("%s-ws-%d", s.coord.Site(), s.accepted.Add(1))
	conn := transport.NewWebSocketConn(ws)
	session := transport.Accept(s.base, cfg, conn)
	if err := s.coord.AttachSession(session); err != nil {
		slog.Warn("rejecting connection", "remote", r.RemoteAddr, "error", err)
		session.Disconnect()
		return
	}
	slog.Info("client connected", "session", cfg.ID, "remote", r.RemoteAddr)
}

type healthResponse struct {
	Status    string `json:"status"`
	Site      string `json:"site"`
	Sessions  int    `json:"sessions"`
	Documents int    `json:"documents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Site:      s.coord.Site(),
		Sessions:  s.coord.SessionCount(),
		Documents: len(s.coord.Documents()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"documents": s.coord.Documents()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.coord.Info(r.Context(), mux.Vars(r)["docID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	if err := s.coord.RegisterDocument(r.Context(), docID); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.coord.Info(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var intent ir.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	op, err := s.coord.Edit(r.Context(), mux.Vars(r)["docID"], intent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps sync errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var serr *ir.SyncError
	if !errors.As(err, &serr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch serr.Code {
	case ir.ErrCodeUnknownDocument:
		status = http.StatusNotFound
	case ir.ErrCodePermissionDenied:
		status = http.StatusForbidden
	case ir.ErrCodeInvalidOperation:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorResponse{Code: string(serr.Code), Message: serr.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}
