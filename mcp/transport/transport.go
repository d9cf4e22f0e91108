// Package transport defines the JSON-RPC message types and the Transport
// interface shared by the MCP server and its transports.
package transport

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// RequestId is a JSON-RPC request identifier. The protocol allows a
// number or a string; the received form is kept so responses echo the
// id exactly as the client sent it.
type RequestId struct {
	num      uint64
	str      string
	isString bool
}

// NewRequestId returns a numeric request id.
func NewRequestId(v uint64) RequestId {
	return RequestId{num: v}
}

// NewStringRequestId returns a string request id.
func NewStringRequestId(s string) RequestId {
	return RequestId{str: s, isString: true}
}

func (id RequestId) String() string {
	if id.isString {
		return id.str
	}
	return strconv.FormatUint(id.num, 10)
}

// MarshalJSON writes the id in the form it was received.
func (id RequestId) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

// UnmarshalJSON accepts a JSON number or string.
func (id *RequestId) UnmarshalJSON(data []byte) error {
	var num uint64
	if err := json.Unmarshal(data, &num); err == nil {
		*id = RequestId{num: num}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*id = RequestId{str: str, isString: true}
		return nil
	}
	return errors.Errorf("invalid request id: %s", string(data))
}

// JsonRpcBody is the payload of a JSON-RPC result.
type JsonRpcBody any

// BaseJSONRPCRequest is an incoming JSON-RPC request that expects a response.
type BaseJSONRPCRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Id      RequestId `json:"id"`
	// Params is kept raw, the handler for the method decodes it.
	Params json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON requires the jsonrpc, method and id fields to be present,
// so a notification or a response never deserializes as a request.
func (m *BaseJSONRPCRequest) UnmarshalJSON(data []byte) error {
	required := struct {
		Jsonrpc *string          `json:"jsonrpc"`
		Method  *string          `json:"method"`
		Id      *RequestId       `json:"id"`
		Params  *json.RawMessage `json:"params"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return errors.WithStack(err)
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc is required")
	}
	if required.Method == nil {
		return errors.New("field method is required")
	}
	if required.Id == nil {
		return errors.New("field id is required")
	}
	m.Jsonrpc = *required.Jsonrpc
	m.Method = *required.Method
	m.Id = *required.Id
	if required.Params != nil {
		m.Params = *required.Params
	}
	return nil
}

// BaseJSONRPCNotification is a one-way JSON-RPC message without an id.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON requires the jsonrpc and method fields to be present.
func (m *BaseJSONRPCNotification) UnmarshalJSON(data []byte) error {
	required := struct {
		Jsonrpc *string          `json:"jsonrpc"`
		Method  *string          `json:"method"`
		Params  *json.RawMessage `json:"params"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return errors.WithStack(err)
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc is required")
	}
	if required.Method == nil {
		return errors.New("field method is required")
	}
	m.Jsonrpc = *required.Jsonrpc
	m.Method = *required.Method
	if required.Params != nil {
		m.Params = *required.Params
	}
	return nil
}

// BaseJSONRPCResponse is a successful JSON-RPC response.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// UnmarshalJSON requires the jsonrpc, id and result fields to be present.
func (m *BaseJSONRPCResponse) UnmarshalJSON(data []byte) error {
	required := struct {
		Jsonrpc *string          `json:"jsonrpc"`
		Id      *RequestId       `json:"id"`
		Result  *json.RawMessage `json:"result"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return errors.WithStack(err)
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc is required")
	}
	if required.Id == nil {
		return errors.New("field id is required")
	}
	if required.Result == nil {
		return errors.New("field result is required")
	}
	m.Jsonrpc = *required.Jsonrpc
	m.Id = *required.Id
	m.Result = *required.Result
	return nil
}

// BaseJSONRPCErrorInner is the error object of a JSON-RPC error response.
type BaseJSONRPCErrorInner struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BaseJSONRPCError is a failed JSON-RPC response.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Id      RequestId             `json:"id"`
	Error   BaseJSONRPCErrorInner `json:"error"`
}

// UnmarshalJSON requires the jsonrpc, id and error fields to be present.
func (m *BaseJSONRPCError) UnmarshalJSON(data []byte) error {
	required := struct {
		Jsonrpc *string                `json:"jsonrpc"`
		Id      *RequestId             `json:"id"`
		Error   *BaseJSONRPCErrorInner `json:"error"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return errors.WithStack(err)
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc is required")
	}
	if required.Id == nil {
		return errors.New("field id is required")
	}
	if required.Error == nil {
		return errors.New("field error is required")
	}
	m.Jsonrpc = *required.Jsonrpc
	m.Id = *required.Id
	m.Error = *required.Error
	return nil
}

// BaseMessageType discriminates the variants of BaseJsonRpcMessage.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is a union over the four JSON-RPC message kinds.
// Exactly one of the pointer fields matching Type is set.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request into the message union.
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification into the message union.
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response into the message union.
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error response into the message union.
func NewBaseMessageError(errorResponse *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: errorResponse,
	}
}

// MessageID returns the id of the held message, or the zero id for
// notifications.
func (m *BaseJsonRpcMessage) MessageID() RequestId {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Id
	case BaseMessageTypeJSONRPCResponseType:
		return m.JsonRpcResponse.Id
	case BaseMessageTypeJSONRPCErrorType:
		return m.JsonRpcError.Id
	default:
		return RequestId{}
	}
}

// MarshalJSON serializes the held variant.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, errors.Errorf("unknown message type: %s", m.Type)
}

// UnmarshalJSON tries the variants in order: request, notification,
// response, error. The request variant is tried first so that a message
// carrying both method and id resolves as a request.
func (m *BaseJsonRpcMessage) UnmarshalJSON(data []byte) error {
	var request BaseJSONRPCRequest
	if err := json.Unmarshal(data, &request); err == nil {
		m.Type = BaseMessageTypeJSONRPCRequestType
		m.JsonRpcRequest = &request
		return nil
	}

	var notification BaseJSONRPCNotification
	if err := json.Unmarshal(data, &notification); err == nil {
		m.Type = BaseMessageTypeJSONRPCNotificationType
		m.JsonRpcNotification = &notification
		return nil
	}

	var response BaseJSONRPCResponse
	if err := json.Unmarshal(data, &response); err == nil {
		m.Type = BaseMessageTypeJSONRPCResponseType
		m.JsonRpcResponse = &response
		return nil
	}

	var errorResponse BaseJSONRPCError
	if err := json.Unmarshal(data, &errorResponse); err == nil {
		m.Type = BaseMessageTypeJSONRPCErrorType
		m.JsonRpcError = &errorResponse
		return nil
	}

	return errors.New("invalid jsonrpc message")
}

// Transport is a bidirectional JSON-RPC message channel.
type Transport interface {
	// Start begins processing messages, including any connection handshake.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC message (request, notification or response).
	Send(ctx context.Context, message *BaseJsonRpcMessage) error

	// Close closes the connection.
	Close() error

	// SetCloseHandler sets the callback for when the connection is closed
	// for any reason. This should be invoked when Close() is called as well.
	SetCloseHandler(handler func())

	// SetErrorHandler sets the callback for when an error occurs.
	// Note that errors are not necessarily fatal; they are used for
	// reporting any kind of exceptional condition out of band.
	SetErrorHandler(handler func(error))

	// SetMessageHandler sets the callback for when a message
	// (request, notification or response) is received over the connection.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}
