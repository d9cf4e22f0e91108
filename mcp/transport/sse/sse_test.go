package sse_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/effective-security/agentloop/mcp/transport"
	"github.com/effective-security/agentloop/mcp/transport/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSSEServerTransport(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		w := httptest.NewRecorder()
		st, err := sse.NewSSEServerTransport("/messages", w)
		require.NoError(t, err)
		assert.NotNil(t, st)
		assert.NotEmpty(t, st.SessionID())
		assert.Len(t, st.SessionID(), 36)
	})

	t.Run("writer without flusher", func(t *testing.T) {
		type nonFlusherWriter struct {
			http.ResponseWriter
		}
		w := &nonFlusherWriter{httptest.NewRecorder()}

		st, err := sse.NewSSEServerTransport("/messages", w)
		assert.Nil(t, st)
		assert.EqualError(t, err, "streaming not supported")
	})

	t.Run("unique session IDs", func(t *testing.T) {
		st1, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)
		st2, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)
		assert.NotEqual(t, st1.SessionID(), st2.SessionID())
	})
}

func TestSSEServerTransport_Start(t *testing.T) {
	t.Run("successful start", func(t *testing.T) {
		w := httptest.NewRecorder()
		st, err := sse.NewSSEServerTransport("/messages", w)
		require.NoError(t, err)

		err = st.Start(context.Background())
		require.NoError(t, err)

		headers := w.Header()
		assert.Equal(t, "text/event-stream", headers.Get("Content-Type"))
		assert.Equal(t, "no-cache", headers.Get("Cache-Control"))
		assert.Equal(t, "keep-alive", headers.Get("Connection"))
		assert.Equal(t, "*", headers.Get("Access-Control-Allow-Origin"))

		body := w.Body.String()
		assert.Contains(t, body, "event: endpoint")
		assert.Contains(t, body, "/messages?session=")
		assert.Contains(t, body, st.SessionID())
	})

	t.Run("start multiple times", func(t *testing.T) {
		w := httptest.NewRecorder()
		st, err := sse.NewSSEServerTransport("/messages", w)
		require.NoError(t, err)

		err = st.Start(context.Background())
		require.NoError(t, err)

		err = st.Start(context.Background())
		assert.EqualError(t, err, "SSE transport already started")
	})
}

func TestSSEServerTransport_HandlePostMessage(t *testing.T) {
	t.Run("request dispatched to handler", func(t *testing.T) {
		w := httptest.NewRecorder()
		st, err := sse.NewSSEServerTransport("/messages", w)
		require.NoError(t, err)

		var received *transport.BaseJsonRpcMessage
		st.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
			received = msg
		})

		request := transport.BaseJSONRPCRequest{
			Jsonrpc: "2.0",
			Method:  "tools/list",
			Id:      transport.NewRequestId(123),
		}
		body, err := json.Marshal(request)
		require.NoError(t, err)

		httpReq := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")

		err = st.HandlePostMessage(httpReq)
		require.NoError(t, err)

		require.NotNil(t, received)
		assert.Equal(t, transport.BaseMessageTypeJSONRPCRequestType, received.Type)
		assert.Equal(t, "tools/list", received.JsonRpcRequest.Method)
		assert.Equal(t, transport.NewRequestId(123), received.JsonRpcRequest.Id)
	})

	t.Run("invalid HTTP method", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		httpReq := httptest.NewRequest(http.MethodGet, "/messages", nil)
		httpReq.Header.Set("Content-Type", "application/json")

		err = st.HandlePostMessage(httpReq)
		assert.EqualError(t, err, "method not allowed: GET")
	})

	t.Run("unsupported content type", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		httpReq := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{}"))
		httpReq.Header.Set("Content-Type", "text/plain")

		err = st.HandlePostMessage(httpReq)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported Content type")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		var receivedErr error
		st.SetErrorHandler(func(err error) {
			receivedErr = err
		})

		httpReq := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("invalid json"))
		httpReq.Header.Set("Content-Type", "application/json")

		err = st.HandlePostMessage(httpReq)
		assert.EqualError(t, err, "invalid message")
		require.Error(t, receivedErr)
		assert.Contains(t, receivedErr.Error(), "invalid")
	})

	t.Run("request with string id", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		var received *transport.BaseJsonRpcMessage
		st.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
			received = msg
		})

		payload := `{"jsonrpc": "2.0", "method": "test", "id": "req-9"}`
		httpReq := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(payload))
		httpReq.Header.Set("Content-Type", "application/json")

		err = st.HandlePostMessage(httpReq)
		require.NoError(t, err)
		require.NotNil(t, received)
		assert.Equal(t, transport.NewStringRequestId("req-9"), received.JsonRpcRequest.Id)
	})

	t.Run("request with malformed id", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		malformed := `{"jsonrpc": "2.0", "method": "test", "id": [1]}`
		httpReq := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(malformed))
		httpReq.Header.Set("Content-Type", "application/json")

		err = st.HandlePostMessage(httpReq)
		assert.EqualError(t, err, "invalid message")
	})
}

func TestSSEServerTransport_Send(t *testing.T) {
	t.Run("successful send", func(t *testing.T) {
		w := httptest.NewRecorder()
		st, err := sse.NewSSEServerTransport("/messages", w)
		require.NoError(t, err)

		err = st.Start(context.Background())
		require.NoError(t, err)

		resultData, _ := json.Marshal(map[string]any{"status": "ok"})
		msg := transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      transport.NewRequestId(1),
			Result:  resultData,
		})

		err = st.Send(context.Background(), msg)
		require.NoError(t, err)

		body := w.Body.String()
		assert.Contains(t, body, "event: message")
		assert.Contains(t, body, `"result":{"status":"ok"}`)
	})

	t.Run("send without starting", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		msg := transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      transport.NewRequestId(1),
			Result:  []byte(`{"status":"ok"}`),
		})

		err = st.Send(context.Background(), msg)
		assert.EqualError(t, err, "not connected")
	})
}

func TestSSEServerTransport_Close(t *testing.T) {
	t.Run("close fires handler once", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)

		err = st.Start(context.Background())
		require.NoError(t, err)

		closeCount := 0
		st.SetCloseHandler(func() {
			closeCount++
		})

		require.NoError(t, st.Close())
		assert.Equal(t, 1, closeCount)

		require.NoError(t, st.Close())
		assert.Equal(t, 1, closeCount)
	})

	t.Run("close without starting", func(t *testing.T) {
		st, err := sse.NewSSEServerTransport("/messages", httptest.NewRecorder())
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})
}
