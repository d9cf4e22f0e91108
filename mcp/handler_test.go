package mcp_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/effective-security/agentloop/mcp"
	"github.com/effective-security/agentloop/mcp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPServer(t *testing.T) (*mcp.Server, *httptest.Server) {
	t.Helper()

	srv := mcp.NewServer(newTestRegistry(t))
	ts := httptest.NewServer(mcp.NewHandler(srv, "/mcp"))
	t.Cleanup(ts.Close)
	return srv, ts
}

func postRPC(t *testing.T, url, sessionID string, envelope any) (*http.Response, *transport.BaseJsonRpcMessage) {
	t.Helper()

	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(mcp.SessionIDHeader, sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if resp.StatusCode == http.StatusAccepted {
		return resp, nil
	}

	var msg transport.BaseJsonRpcMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	return resp, &msg
}

func Test_Handler_PostFlow(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t)

	resp, msg := postRPC(t, ts.URL+"/mcp", "", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": mcp.InitializeParams{
			ProtocolVersion: mcp.DefaultProtocolVersion,
			ClientInfo:      mcp.Implementation{Name: "http-client", Version: "1.0"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)

	var res mcp.InitializeResult
	require.NoError(t, json.Unmarshal(msg.JsonRpcResponse.Result, &res))
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, res.SessionID, resp.Header.Get(mcp.SessionIDHeader))

	// notification is accepted without a body
	resp, msg = postRPC(t, ts.URL+"/mcp", res.SessionID, map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Nil(t, msg)

	resp, msg = postRPC(t, ts.URL+"/mcp", res.SessionID, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "echo",
			"arguments": map[string]any{"text": "over http"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)

	var toolRes mcp.ToolResponse
	require.NoError(t, json.Unmarshal(msg.JsonRpcResponse.Result, &toolRes))
	assert.False(t, toolRes.IsError)
	require.Len(t, toolRes.Content, 1)
	assert.Contains(t, toolRes.Content[0].Text, "over http")
}

func Test_Handler_SSE(t *testing.T) {
	t.Parallel()

	srv, ts := newTestHTTPServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the first event names the POST endpoint with the session token
	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, "event: endpoint", scanner.Text())
	require.True(t, scanner.Scan())
	data := scanner.Text()
	require.True(t, strings.HasPrefix(data, "data: /mcp?session="), data)

	sessionID := strings.TrimPrefix(data, "data: /mcp?session=")
	assert.Equal(t, 1, srv.SessionCount())

	// the announced session accepts initialize via the query parameter
	resp2, err := http.Post(ts.URL+"/mcp?session="+sessionID, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var msg transport.BaseJsonRpcMessage
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&msg))
	require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)

	var res mcp.InitializeResult
	require.NoError(t, json.Unmarshal(msg.JsonRpcResponse.Result, &res))
	assert.Equal(t, sessionID, res.SessionID)
}

func Test_Handler_GetWithoutEventStream(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t)

	resp, err := http.Get(ts.URL + "/mcp")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func Test_Handler_Delete(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t)

	_, msg := postRPC(t, ts.URL+"/mcp", "", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]any{"protocolVersion": mcp.DefaultProtocolVersion},
	})
	require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)

	var res mcp.InitializeResult
	require.NoError(t, json.Unmarshal(msg.JsonRpcResponse.Result, &res))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(mcp.SessionIDHeader, res.SessionID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the deleted session id fails deterministically
	_, errMsg := postRPC(t, ts.URL+"/mcp", res.SessionID, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	require.Equal(t, transport.BaseMessageTypeJSONRPCErrorType, errMsg.Type)
	assert.Equal(t, transport.ErrCodeInvalidRequest, errMsg.JsonRpcError.Error.Code)
	assert.Contains(t, errMsg.JsonRpcError.Error.Message, "session not found")

	// deleting it again is a 404
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
