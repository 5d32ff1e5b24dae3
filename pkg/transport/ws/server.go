// Package ws serves a sync engine over websocket sessions and a small REST
// API.
//
// A websocket session binds one user to one document: on connect the server
// sends the current content as a snapshot frame, then streams engine events
// for that document. Frames from the editor carry operations, undo and redo
// requests, and presence heartbeats. The REST surface mirrors the engine's
// management operations for non-interactive callers, and /metrics exposes
// the transport's Prometheus collectors.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/lifecycle"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/tandem/pkg/core"
	"github.com/aretw0/tandem/pkg/presence"
	"github.com/aretw0/tandem/pkg/wire"
)

// Config wires a Server to its collaborators.
type Config struct {
	// Engine is the sync engine to expose. Required.
	Engine *core.Engine

	// Presence tracks who is editing what. A tracker with the default TTL
	// is created when nil.
	Presence *presence.Tracker

	// Logger receives transport logs. Discards when nil.
	Logger *slog.Logger

	// Registry receives the transport metrics and backs /metrics. The
	// default Prometheus registry is used when nil.
	Registry *prometheus.Registry

	// CheckOrigin overrides the upgrader's origin policy. The default
	// accepts every origin, which suits a deployment behind a trusted
	// proxy.
	CheckOrigin func(*http.Request) bool
}

// Server is the HTTP front of the engine. It implements http.Handler.
type Server struct {
	engine   *core.Engine
	presence *presence.Tracker
	logger   *slog.Logger
	metrics  *Metrics
	hub      *hub
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer builds the routing table and registers the transport metrics.
func NewServer(config Config) (*Server, error) {
	if config.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if config.Presence == nil {
		config.Presence = presence.NewTracker(0)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	var (
		registerer     prometheus.Registerer = prometheus.DefaultRegisterer
		metricsHandler http.Handler          = promhttp.Handler()
	)
	if config.Registry != nil {
		registerer = config.Registry
		metricsHandler = promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{})
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		engine:   config.Engine,
		presence: config.Presence,
		logger:   config.Logger,
		metrics:  NewMetrics(registerer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	s.hub = newHub(s.logger, s.metrics)
	s.router = s.routes(metricsHandler)
	return s, nil
}

// Start pumps engine events into the websocket rooms until ctx ends. Serving
// HTTP without Start still works; sessions just never receive event frames.
func (s *Server) Start(ctx context.Context) error {
	events, err := s.engine.Watch(ctx, "**")
	if err != nil {
		return fmt.Errorf("failed to watch engine events: %w", err)
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				event := e
				s.metrics.EventsBroadcast.Inc()
				s.hub.broadcast(event.DocumentID, serverMessage{
					Type:       MsgEvent,
					DocumentID: event.DocumentID,
					Version:    event.Version,
					Event:      &event,
				})
			}
		}
	})
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws/{document}", s.handleWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/documents", s.handleCreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents", s.handleListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}", s.handleGetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}/operations", s.handleApplyOperations).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}/conflicts", s.handleConflicts).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}/undo", s.handleUndo).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/redo", s.handleRedo).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/branches", s.handleCreateBranch).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/branches", s.handleListBranches).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}/branches/{branch}/merge", s.handleMergeBranch).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/snapshots", s.handleCreateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/snapshots", s.handleListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}/snapshots/{snapshot}/restore", s.handleRestoreSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/documents/{document}/vector", s.handleVersionVector).Methods(http.MethodGet)
	api.HandleFunc("/documents/{document}/presence", s.handleGetPresence).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	return r
}

// handleWS upgrades the connection and runs the session. Validation happens
// before the upgrade so failures surface as plain HTTP statuses.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["document"]
	userID := r.URL.Query().Get("user")
	if userID == "" {
		s.respondJSON(w, http.StatusBadRequest,
			map[string]string{"error": "user query parameter is required"})
		return
	}

	doc, err := s.engine.GetDocument(r.Context(), docID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug("websocket upgrade failed", "document", docID, "error", err)
		return
	}

	c := &client{
		server: s,
		conn:   conn,
		docID:  docID,
		userID: userID,
		send:   make(chan serverMessage, sendBuffer),
	}

	s.hub.register(c)
	s.presence.Join(docID, userID, nil)
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveConnections.Inc()
	s.logger.Info("websocket session opened", "document", docID, "user", userID)

	// The snapshot frame goes out first; the buffer is empty so the send
	// cannot block.
	c.send <- serverMessage{
		Type:       MsgSnapshot,
		DocumentID: docID,
		Content:    doc.Content,
		Version:    doc.Version,
	}
	s.broadcastPresence(docID)

	go c.writePump()
	c.readPump(r.Context())
}

func (s *Server) disconnect(c *client) {
	s.hub.unregister(c)
	s.presence.Leave(c.docID, c.userID)
	s.metrics.ActiveConnections.Dec()
	s.logger.Info("websocket session closed", "document", c.docID, "user", c.userID)
	s.broadcastPresence(c.docID)
}

func (s *Server) broadcastPresence(docID string) {
	s.hub.broadcast(docID, serverMessage{
		Type:       MsgUsers,
		DocumentID: docID,
		Users:      s.presence.Active(docID),
	})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID        string `json:"id"`
		Content   string `json:"content"`
		CreatedBy string `json:"created_by"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" {
		s.respondJSON(w, http.StatusBadRequest,
			map[string]string{"error": "document id is required"})
		return
	}

	doc, err := s.engine.CreateDocument(r.Context(), body.ID, body.Content, body.CreatedBy)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"documents": s.engine.Documents(),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.GetDocument(r.Context(), mux.Vars(r)["document"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

// handleApplyOperations accepts a single operation object or a JSON array of
// operations. Arrays apply atomically through the engine's batch path.
func (s *Server) handleApplyOperations(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["document"]

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest,
			map[string]string{"error": fmt.Sprintf("failed to read request body: %v", err)})
		return
	}

	var conflicts []core.Conflict
	if isJSONArray(payload) {
		ops, err := wire.DecodeOperations(payload)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		conflicts, err = s.engine.ApplyBatch(r.Context(), docID, ops)
		if err != nil {
			s.respondError(w, err)
			return
		}
	} else {
		op, err := wire.DecodeOperation(payload)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		conflicts, err = s.engine.ApplyOperation(r.Context(), docID, op)
		if err != nil {
			s.respondError(w, err)
			return
		}
	}

	doc, err := s.engine.GetDocument(r.Context(), docID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"version":   doc.Version,
		"conflicts": conflicts,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondJSON(w, http.StatusBadRequest,
				map[string]string{"error": fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = n
	}

	ops, err := s.engine.GetHistory(r.Context(), mux.Vars(r)["document"], limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.engine.GetConflicts(r.Context(), mux.Vars(r)["document"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.handleHistoryStep(w, r, s.engine.Undo)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.handleHistoryStep(w, r, s.engine.Redo)
}

func (s *Server) handleHistoryStep(w http.ResponseWriter, r *http.Request,
	step func(context.Context, string, string) (*core.Operation, error)) {

	var body struct {
		UserID string `json:"user_id"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		s.respondJSON(w, http.StatusBadRequest,
			map[string]string{"error": "user_id is required"})
		return
	}

	op, err := step(r.Context(), mux.Vars(r)["document"], body.UserID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"operation": op})
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID        string `json:"id"`
		Source    string `json:"source"`
		CreatedBy string `json:"created_by"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" {
		s.respondJSON(w, http.StatusBadRequest,
			map[string]string{"error": "branch id is required"})
		return
	}

	branch, err := s.engine.CreateBranch(r.Context(), mux.Vars(r)["document"],
		body.ID, body.Source, body.CreatedBy)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, branch)
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.engine.GetBranches(r.Context(), mux.Vars(r)["document"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (s *Server) handleMergeBranch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var body struct {
		Target string `json:"target"`
	}
	// The merge body is optional; an empty target means the main line.
	if r.Body != nil && r.ContentLength != 0 {
		if !s.decodeBody(w, r, &body) {
			return
		}
	}

	conflicts, err := s.engine.MergeBranch(r.Context(), vars["document"],
		vars["branch"], body.Target)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string        `json:"id"`
		Metadata core.Metadata `json:"metadata"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	snapshot, err := s.engine.CreateSnapshot(r.Context(), mux.Vars(r)["document"],
		body.ID, body.Metadata)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.engine.GetSnapshots(r.Context(), mux.Vars(r)["document"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.engine.RestoreSnapshot(r.Context(), vars["document"], vars["snapshot"]); err != nil {
		s.respondError(w, err)
		return
	}
	doc, err := s.engine.GetDocument(r.Context(), vars["document"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleVersionVector(w http.ResponseWriter, r *http.Request) {
	vector, err := s.engine.GetVersionVector(r.Context(), mux.Vars(r)["document"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, vector)
}

func (s *Server) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["document"]

	if _, err := s.engine.GetDocument(r.Context(), docID); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"users": s.presence.Active(docID)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"documents": len(s.engine.Documents()),
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(v); err != nil {
		s.respondJSON(w, http.StatusBadRequest,
			map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

// statusForError maps engine sentinels onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound),
		errors.Is(err, core.ErrBranchNotFound),
		errors.Is(err, core.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDocumentExists),
		errors.Is(err, core.ErrBranchExists),
		errors.Is(err, core.ErrSnapshotExists),
		errors.Is(err, core.ErrBranchNotActive),
		errors.Is(err, core.ErrNothingToUndo),
		errors.Is(err, core.ErrNothingToRedo),
		errors.Is(err, core.ErrNoInverse):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, core.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isJSONArray(payload []byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
