// Package mcp implements a session-oriented JSON-RPC service exposing a
// tool registry over HTTP and SSE transports.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/chatmodel"
	"github.com/effective-security/agentloop/mcp/transport"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/pkg/metricskey"
	"github.com/effective-security/agentloop/tools"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/agentloop", "mcp")

// JSON-RPC methods handled by the server.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodShutdown   = "shutdown"

	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
)

// DefaultProtocolVersion is returned when the client requests a version
// the server does not support.
const DefaultProtocolVersion = "2025-03-26"

var supportedProtocolVersions = []string{
	"2024-11-05",
	DefaultProtocolVersion,
}

const (
	// DefaultIdleTimeout is how long a session may stay inactive before
	// the reaper removes it.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultReapInterval is how often the reaper scans for idle sessions.
	DefaultReapInterval = time.Minute
)

// RPCError is an error carrying a JSON-RPC error code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// NewRPCError creates an RPCError with the given code and message.
func NewRPCError(code int, format string, args ...any) *RPCError {
	return &RPCError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// RequestHandler processes one JSON-RPC request bound to a session.
// It is invoked with the session lock held, serializing calls within
// the session.
type RequestHandler func(ctx context.Context, session *Session, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInfo sets the implementation name and version reported
// in the initialize response.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.info = Implementation{Name: name, Version: version}
	}
}

// WithTenantID sets the tenant attached to the chat context of every
// tool execution.
func WithTenantID(tenantID string) ServerOption {
	return func(s *Server) {
		s.tenantID = tenantID
	}
}

// WithIdleTimeout sets the session idle timeout for the reaper.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithReapInterval sets how often the reaper scans for idle sessions.
func WithReapInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.reapInterval = d
	}
}

// WithPaginationLimit enables cursor pagination of tools/list with the
// given page size.
func WithPaginationLimit(limit int) ServerOption {
	return func(s *Server) {
		s.paginationLimit = &limit
	}
}

// Server dispatches JSON-RPC calls against one tool registry.
// The registry is bound at construction and treated as immutable, so
// tools/list is stable for the lifetime of the server.
type Server struct {
	registry *tools.Registry
	info     Implementation
	tenantID string

	idleTimeout     time.Duration
	reapInterval    time.Duration
	paginationLimit *int

	sessions *sessionStore

	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]func(ctx context.Context, session *Session, notification *transport.BaseJSONRPCNotification)
}

// NewServer creates a server bound to the given tool registry.
func NewServer(registry *tools.Registry, ops ...ServerOption) *Server {
	s := &Server{
		registry:     registry,
		info:         Implementation{Name: "agentloop", Version: "1.0.0"},
		tenantID:     "mcp",
		idleTimeout:  DefaultIdleTimeout,
		reapInterval: DefaultReapInterval,
	}
	for _, op := range ops {
		op(s)
	}

	s.sessions = newSessionStore(s.idleTimeout, s.reapInterval)

	s.requestHandlers = map[string]RequestHandler{
		MethodInitialize: s.handleInitialize,
		MethodPing:       s.handlePing,
		MethodToolsList:  s.handleListTools,
		MethodToolsCall:  s.handleToolCalls,
		MethodShutdown:   s.handleShutdown,
	}
	s.notificationHandlers = map[string]func(ctx context.Context, session *Session, notification *transport.BaseJSONRPCNotification){
		NotificationInitialized: s.handleInitialized,
		NotificationCancelled: func(ctx context.Context, _ *Session, notification *transport.BaseJSONRPCNotification) {
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "request_cancelled",
				"params", string(notification.Params),
			)
		},
	}
	return s
}

// SetRequestHandler registers a handler for an additional method.
// Must be called before the server starts receiving traffic.
func (s *Server) SetRequestHandler(method string, handler RequestHandler) {
	s.requestHandlers[method] = handler
}

// Start launches the idle session reaper.
func (s *Server) Start() {
	s.sessions.startReaper()
}

// Close stops the reaper and waits for it to exit.
func (s *Server) Close() error {
	s.sessions.stopReaper()
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// CreateSession registers a new session in the Created state under the
// given id, as when an SSE subscription is opened before initialize.
func (s *Server) CreateSession(id string) *Session {
	metricskey.StatsMcpSessionsCreated.IncrCounter(1, "sse")
	return s.sessions.create(id)
}

// TerminateSession invalidates the session id. Subsequent calls with
// that id fail with a session-not-found error.
func (s *Server) TerminateSession(id string) error {
	session, err := s.sessions.get(id)
	if err != nil {
		return err
	}
	session.mu.Lock()
	session.state = SessionStateShutdown
	session.mu.Unlock()
	s.sessions.delete(id)
	return nil
}

// HandleMessage processes one raw JSON-RPC message for the given session
// id. It returns the reply message, nil for notifications, and the
// session the call was bound to, if any.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, body []byte) (*transport.BaseJsonRpcMessage, *Session) {
	// A request is tried first so that a message carrying both method
	// and id resolves as a request.
	var request transport.BaseJSONRPCRequest
	if err := json.Unmarshal(body, &request); err == nil {
		return s.handleRequest(ctx, sessionID, &request)
	}

	var notification transport.BaseJSONRPCNotification
	if err := json.Unmarshal(body, &notification); err == nil {
		session, _ := s.sessions.get(sessionID)
		s.handleNotification(ctx, session, &notification)
		return nil, session
	}

	return transport.NewBaseMessageError(&transport.BaseJSONRPCError{
		Jsonrpc: "2.0",
		Error: transport.BaseJSONRPCErrorInner{
			Code:    transport.ErrCodeInvalidRequest,
			Message: "invalid request",
		},
	}), nil
}

func (s *Server) handleRequest(ctx context.Context, sessionID string, request *transport.BaseJSONRPCRequest) (*transport.BaseJsonRpcMessage, *Session) {
	started := time.Now()
	defer metricskey.PerfMcpRequest.MeasureSince(started, request.Method)

	handler, ok := s.requestHandlers[request.Method]
	if !ok {
		return s.errorMessage(request, NewRPCError(transport.ErrCodeMethodNotFound, "method not found: %s", request.Method)), nil
	}

	session, rpcErr := s.resolveSession(sessionID, request.Method)
	if rpcErr != nil {
		return s.errorMessage(request, rpcErr), nil
	}

	session.mu.Lock()
	session.lastActive = time.Now()
	result, err := s.invoke(ctx, handler, session, request)
	session.mu.Unlock()

	if err != nil {
		metricskey.StatsMcpRequestsFailed.IncrCounter(1, request.Method)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "request_failed",
			"method", request.Method,
			"session", session.id,
			"err", err.Error(),
		)
		return s.errorMessage(request, asRPCError(err)), session
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return s.errorMessage(request, NewRPCError(transport.ErrCodeInternalError, "failed to marshal result")), session
	}

	return transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
		Jsonrpc: "2.0",
		Id:      request.Id,
		Result:  raw,
	}), session
}

// invoke runs the handler with the session lock held, converting a
// panic into an internal error so the connection stays usable.
func (s *Server) invoke(ctx context.Context, handler RequestHandler, session *Session, request *transport.BaseJSONRPCRequest) (result transport.JsonRpcBody, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = NewRPCError(transport.ErrCodeInternalError, "internal error: %v", p)
		}
	}()
	return handler(ctx, session, request)
}

// resolveSession maps the session id to a live session. initialize
// creates a session when no id is supplied; every other method requires
// a live, initialized session.
func (s *Server) resolveSession(sessionID, method string) (*Session, *RPCError) {
	if sessionID == "" {
		if method != MethodInitialize {
			return nil, NewRPCError(transport.ErrCodeInvalidRequest, "missing session id")
		}
		metricskey.StatsMcpSessionsCreated.IncrCounter(1, "http")
		return s.sessions.create(uuid.New().String()), nil
	}

	session, err := s.sessions.get(sessionID)
	if err != nil {
		return nil, NewRPCError(transport.ErrCodeInvalidRequest, "session not found: %s", sessionID)
	}

	if method != MethodInitialize && session.State() == SessionStateCreated {
		return nil, NewRPCError(transport.ErrCodeInvalidRequest, "session not initialized: %s", sessionID)
	}
	return session, nil
}

func (s *Server) handleNotification(ctx context.Context, session *Session, notification *transport.BaseJSONRPCNotification) {
	handler, ok := s.notificationHandlers[notification.Method]
	if !ok {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "unhandled_notification",
			"method", notification.Method,
		)
		return
	}
	handler(ctx, session, notification)
}

func (s *Server) errorMessage(request *transport.BaseJSONRPCRequest, rpcErr *RPCError) *transport.BaseJsonRpcMessage {
	return transport.NewBaseMessageError(&transport.BaseJSONRPCError{
		Jsonrpc: "2.0",
		Id:      request.Id,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    rpcErr.Code,
			Message: rpcErr.Message,
		},
	})
}

func asRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewRPCError(transport.ErrCodeInternalError, "%s", err.Error())
}

// handleInitialize negotiates the protocol version and moves the
// session to the Initialized state. The requested version is echoed
// when supported; otherwise the server's default is returned.
func (s *Server) handleInitialize(ctx context.Context, session *Session, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	if session.state != SessionStateCreated {
		return nil, NewRPCError(transport.ErrCodeInvalidRequest, "session already initialized: %s", session.id)
	}

	var params InitializeParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, NewRPCError(transport.ErrCodeInvalidParams, "failed to unmarshal params: %s", err.Error())
		}
	}

	version := DefaultProtocolVersion
	if slices.Contains(supportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	session.state = SessionStateInitialized
	session.clientInfo = params.ClientInfo
	session.protocolVersion = version

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "session_initialized",
		"session", session.id,
		"client", params.ClientInfo.Name,
		"protocol_version", version,
	)

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: s.info,
		SessionID:  session.id,
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, session *Session, _ *transport.BaseJSONRPCNotification) {
	if session == nil {
		return
	}
	session.mu.Lock()
	if session.state == SessionStateInitialized {
		session.state = SessionStateActive
	}
	session.mu.Unlock()
}

func (s *Server) handlePing(_ context.Context, _ *Session, _ *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	return EmptyResult{}, nil
}

// handleListTools enumerates the registry in construction order.
// With a pagination limit set, the cursor is the base64 of the last
// tool name on the previous page.
func (s *Server) handleListTools(_ context.Context, _ *Session, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params ListToolsParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, NewRPCError(transport.ErrCodeInvalidParams, "failed to unmarshal params: %s", err.Error())
		}
	}

	defs := s.registry.Definitions()
	list := make([]ToolRetType, 0, len(defs))
	for _, def := range defs {
		description := def.Function.Description
		list = append(list, ToolRetType{
			Name:        def.Function.Name,
			Description: &description,
			InputSchema: def.Function.Parameters,
		})
	}

	start := 0
	if params.Cursor != nil {
		decoded, err := base64.StdEncoding.DecodeString(*params.Cursor)
		if err != nil {
			return nil, NewRPCError(transport.ErrCodeInvalidParams, "invalid cursor")
		}
		found := -1
		for i, tool := range list {
			if tool.Name == string(decoded) {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, NewRPCError(transport.ErrCodeInvalidParams, "invalid cursor")
		}
		start = found + 1
	}

	var nextCursor *string
	end := len(list)
	if s.paginationLimit != nil && start+*s.paginationLimit < end {
		end = start + *s.paginationLimit
		cursor := base64.StdEncoding.EncodeToString([]byte(list[end-1].Name))
		nextCursor = &cursor
	}

	return ToolsResponse{
		Tools:      list[start:end],
		NextCursor: nextCursor,
	}, nil
}

// handleToolCalls delegates to the registry executor, tagging the
// execution with the session's tenant and actor. Execution failures are
// reported as error-typed tool responses; only an unknown tool name is
// a JSON-RPC error.
func (s *Server) handleToolCalls(ctx context.Context, session *Session, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params CallToolParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, NewRPCError(transport.ErrCodeInvalidParams, "failed to unmarshal arguments: %s", err.Error())
		}
	}
	if params.Name == "" {
		return nil, NewRPCError(transport.ErrCodeInvalidParams, "tool name is required")
	}

	args := "{}"
	if len(params.Arguments) > 0 {
		args = string(params.Arguments)
	}

	chatCtx := chatmodel.NewChatContext(s.tenantID, session.id, nil)
	if session.clientInfo.Name != "" {
		chatCtx.SetMetadata("actor", session.clientInfo.Name)
	}
	ctx = chatmodel.WithChatContext(ctx, chatCtx)

	call := llms.ToolCall{
		ID:   uuid.New().String(),
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      params.Name,
			Arguments: args,
		},
	}

	res := s.registry.Execute(ctx, call)
	if errors.Is(res.Err, tools.ErrToolNotFound) {
		return nil, NewRPCError(transport.ErrCodeInvalidParams, "unknown tool: %s", params.Name)
	}

	resp := NewToolResponse(NewTextContent(res.Content))
	resp.IsError = res.IsError()
	return resp, nil
}

func (s *Server) handleShutdown(ctx context.Context, session *Session, _ *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	session.state = SessionStateShutdown
	s.sessions.delete(session.id)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "session_shutdown",
		"session", session.id,
	)
	return EmptyResult{}, nil
}
