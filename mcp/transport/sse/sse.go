// Package sse implements the server side of an SSE-based MCP transport.
// The server holds a long-lived event stream open towards the client and
// receives JSON-RPC messages on a separate POST endpoint announced in the
// initial `endpoint` event.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/agentloop/mcp", "sse")

// maxMessageSize bounds the size of a single posted JSON-RPC message.
const maxMessageSize = 4 * 1024 * 1024

// SSEServerTransport streams JSON-RPC messages to one client over SSE
// and accepts messages posted by that client via HandlePostMessage.
type SSEServerTransport struct {
	endpoint  string
	writer    http.ResponseWriter
	flusher   http.Flusher
	sessionID string

	mu             sync.Mutex
	started        bool
	closed         bool
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
}

// NewSSEServerTransport creates a server transport writing to w.
// The endpoint is the URL path clients should POST subsequent messages to;
// it is announced in the first event of the stream.
func NewSSEServerTransport(endpoint string, w http.ResponseWriter) (*SSEServerTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &SSEServerTransport{
		endpoint:  endpoint,
		writer:    w,
		flusher:   flusher,
		sessionID: uuid.New().String(),
	}, nil
}

// WithSessionID overrides the generated session id.
// Must be called before Start.
func (t *SSEServerTransport) WithSessionID(id string) *SSEServerTransport {
	t.sessionID = id
	return t
}

// SessionID returns the session id assigned to this connection.
func (t *SSEServerTransport) SessionID() string {
	return t.sessionID
}

// Start sets the SSE headers and emits the endpoint event carrying the
// POST URL with the session token. The connection stays open for
// subsequent message events until Close or context cancellation.
func (t *SSEServerTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("SSE transport already started")
	}
	t.started = true
	t.mu.Unlock()

	h := t.writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")

	_, err := fmt.Fprintf(t.writer, "event: endpoint\ndata: %s?session=%s\n\n", t.endpoint, t.sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to write endpoint event")
	}
	t.flusher.Flush()

	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()

	return nil
}

// Send writes a message event to the stream.
func (t *SSEServerTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || t.closed {
		return errors.New("not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	if _, err := fmt.Fprintf(t.writer, "event: message\ndata: %s\n\n", data); err != nil {
		return errors.Wrap(err, "failed to write message event")
	}
	t.flusher.Flush()
	return nil
}

// HandlePostMessage parses one JSON-RPC message posted by the client and
// dispatches it to the message handler. The body is limited to 4 MiB.
func (t *SSEServerTransport) HandlePostMessage(r *http.Request) error {
	if r.Method != http.MethodPost {
		return errors.Errorf("method not allowed: %s", r.Method)
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return errors.Errorf("unsupported Content type: %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		err = errors.Wrap(err, "failed to read request body")
		t.handleError(err)
		return err
	}
	if len(body) > maxMessageSize {
		err = errors.Errorf("message exceeds maximum size of %d bytes", maxMessageSize)
		t.handleError(err)
		return err
	}

	ctx := r.Context()

	// Requests and responses only: a message that parses as neither,
	// including a request with a non-numeric id, is rejected.
	var request transport.BaseJSONRPCRequest
	if err := json.Unmarshal(body, &request); err == nil {
		t.handleMessage(ctx, transport.NewBaseMessageRequest(&request))
		return nil
	}

	var response transport.BaseJSONRPCResponse
	if err := json.Unmarshal(body, &response); err == nil {
		t.handleMessage(ctx, transport.NewBaseMessageResponse(&response))
		return nil
	}

	err = errors.New("invalid message")
	logger.ContextKV(ctx, xlog.WARNING,
		"status", "invalid_message",
		"session", t.sessionID,
	)
	t.handleError(err)
	return err
}

// Close terminates the stream. Safe to call multiple times;
// the close handler fires once.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	handler := t.closeHandler
	t.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *SSEServerTransport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *SSEServerTransport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *SSEServerTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func (t *SSEServerTransport) handleMessage(ctx context.Context, message *transport.BaseJsonRpcMessage) {
	t.mu.Lock()
	handler := t.messageHandler
	t.mu.Unlock()

	if handler != nil {
		handler(ctx, message)
	}
}

func (t *SSEServerTransport) handleError(err error) {
	t.mu.Lock()
	handler := t.errorHandler
	t.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}

var _ transport.Transport = (*SSEServerTransport)(nil)
