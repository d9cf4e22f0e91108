package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/effective-security/agentloop/mcp/transport/sse"
	"github.com/effective-security/xlog"
)

// SessionIDHeader carries the session token on every call after initialize.
const SessionIDHeader = "Mcp-Session-Id"

// maxBodySize bounds the size of one posted JSON-RPC message.
const maxBodySize = 4 * 1024 * 1024

// Handler is the HTTP surface of the server: POST for JSON-RPC calls,
// GET with an event-stream accept header for the SSE subscription, and
// DELETE for explicit session termination.
type Handler struct {
	server   *Server
	endpoint string
}

// NewHandler creates an http.Handler serving the given endpoint path.
func NewHandler(server *Server, endpoint string) *Handler {
	return &Handler{
		server:   server,
		endpoint: endpoint,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleSSE(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		// The SSE endpoint event announces the POST URL with the
		// session token as a query parameter.
		sessionID = r.URL.Query().Get("session")
	}

	reply, session := h.server.HandleMessage(r.Context(), sessionID, body)
	if session != nil {
		w.Header().Set(SessionIDHeader, session.ID())
	}
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// handleSSE opens the event stream: the first event is `endpoint`,
// naming the URL with the session token to POST subsequent calls to.
// The connection stays open for server-initiated events until the
// client disconnects.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := sse.NewSSEServerTransport(h.endpoint, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	session := h.server.CreateSession(st.SessionID())
	if err := st.Start(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.ContextKV(r.Context(), xlog.DEBUG,
		"status", "sse_connected",
		"session", session.ID(),
	)

	<-r.Context().Done()
	_ = st.Close()
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	if err := h.server.TerminateSession(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
