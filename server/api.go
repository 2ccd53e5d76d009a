package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/persistence"
)

// APIServer exposes the turn engine over HTTP with SSE streaming.
type APIServer struct {
	Engine      *turn.Engine
	Registry    *framework.ToolRegistry
	Store       persistence.MessageStore
	Logger      *slog.Logger
	ChatTimeout time.Duration

	// sessions serialises runs per conversation.
	sessions sync.Map
}

// ChatRequest is the POST /api/chat payload.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionResponse carries a session id.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log().Info("API listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed API.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	return mux
}

func (s *APIServer) log() *slog.Logger {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "api")
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleTools(w http.ResponseWriter, r *http.Request) {
	var out []ToolInfo
	if s.Registry != nil {
		for _, tool := range s.Registry.All() {
			out = append(out, ToolInfo{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  framework.ParameterSchema(tool.Parameters()),
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, SessionResponse{SessionID: uuid.NewString()})
}

func (s *APIServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Store.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *APIServer) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	history, err := s.Store.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if history == nil {
		history = []framework.Interaction{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *APIServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Clear(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChat runs one user turn and streams engine events as SSE:
// `data: {"type":..,"content":..}` frames followed by `data: [DONE]`.
func (s *APIServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	prior, err := s.Store.History(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	lock := s.sessionLock(req.SessionID)
	if !lock.TryLock() {
		writeError(w, http.StatusConflict, fmt.Errorf("session %s already has a run in progress", req.SessionID))
		return
	}
	defer lock.Unlock()
	// Re-read under the lock so a run that just finished is included.
	if prior, err = s.Store.History(r.Context(), req.SessionID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", req.SessionID)
	w.WriteHeader(http.StatusOK)

	timeout := s.ChatTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(framework.WithConversationID(r.Context(), req.SessionID), timeout)
	defer cancel()

	history := framework.NewHistory(prior...)
	before := history.Len()
	for ev := range s.Engine.Stream(ctx, history, req.Message) {
		if err := writeSSE(w, ev); err != nil {
			s.log().Debug("client went away", "session", req.SessionID, "error", err)
			cancel()
			continue
		}
		flusher.Flush()
	}

	added := history.All()[before:]
	if err := s.Store.Append(context.WithoutCancel(ctx), req.SessionID, added...); err != nil {
		s.log().Error("persist session", "session", req.SessionID, "error", err)
		_ = writeSSE(w, turn.Event{Type: turn.EventError, Content: "failed to save conversation: " + err.Error()})
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *APIServer) sessionLock(id string) *sync.Mutex {
	v, _ := s.sessions.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func writeSSE(w http.ResponseWriter, ev turn.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func statusFor(err error) int {
	if errors.Is(err, persistence.ErrInvalidSessionID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
