package mcp

import "encoding/json"

// Implementation identifies a client or server implementation.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the `initialize` request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      Implementation  `json:"clientInfo"`
}

// ToolsCapability advertises the server's tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities advertises which protocol features the server supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeResult is the payload of the `initialize` response.
// SessionID is the opaque token the client must attach to every
// subsequent call.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	SessionID       string             `json:"sessionId"`
}

// ListToolsParams is the payload of the `tools/list` request.
type ListToolsParams struct {
	Cursor *string `json:"cursor,omitempty"`
}

// ToolRetType describes one tool in a `tools/list` response.
type ToolRetType struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	InputSchema any     `json:"inputSchema"`
}

// ToolsResponse is the payload of the `tools/list` response.
// Tools are listed in registry construction order; the order is stable
// across repeated calls within a session.
type ToolsResponse struct {
	Tools      []ToolRetType `json:"tools"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

// CallToolParams is the payload of the `tools/call` request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentType discriminates tool response content items.
type ContentType string

const (
	ContentTypeText ContentType = "text"
)

// Content is one item of a tool response.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// NewTextContent creates a text content item.
func NewTextContent(text string) *Content {
	return &Content{
		Type: ContentTypeText,
		Text: text,
	}
}

// ToolResponse is the payload of the `tools/call` response. A failed
// execution is reported with IsError set and the failure message in
// Content, not as a JSON-RPC error.
type ToolResponse struct {
	Content []*Content `json:"content"`
	IsError bool       `json:"isError,omitempty"`
}

// NewToolResponse creates a tool response with the given content items.
func NewToolResponse(content ...*Content) *ToolResponse {
	return &ToolResponse{
		Content: content,
	}
}

// EmptyResult is the payload of responses that carry no data.
type EmptyResult struct{}
