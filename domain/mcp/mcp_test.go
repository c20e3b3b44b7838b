package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmem/graphmem/pkg/apperror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestHandler(in string) (*StdioHandler, *bytes.Buffer) {
	out := &bytes.Buffer{}
	svc := NewService(nil, nil, testLogger())
	return NewStdioHandler(svc, testLogger(), strings.NewReader(in), out), out
}

func decodeResponses(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestStdio_InitializeHandshake(t *testing.T) {
	h, out := newTestHandler(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"0.1"}}}` + "\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n",
	)

	require.NoError(t, h.Run(context.Background()))

	responses := decodeResponses(t, out)
	require.Len(t, responses, 2)

	assert.Equal(t, "2.0", responses[0].JSONRPC)
	assert.Nil(t, responses[0].Error)
	init := responses[0].Result.(map[string]any)
	assert.Equal(t, "2025-06-18", init["protocolVersion"])

	assert.Nil(t, responses[1].Error)
	list := responses[1].Result.(map[string]any)
	tools := list["tools"].([]any)
	assert.Len(t, tools, 17)
}

func TestStdio_UnsupportedProtocolFallsBackToLatest(t *testing.T) {
	h, out := newTestHandler(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}` + "\n",
	)

	require.NoError(t, h.Run(context.Background()))

	responses := decodeResponses(t, out)
	require.Len(t, responses, 1)
	init := responses[0].Result.(map[string]any)
	assert.Equal(t, LatestProtocolVersion, init["protocolVersion"])
}

func TestStdio_ToolsListRequiresInitialize(t *testing.T) {
	h, out := newTestHandler(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")

	require.NoError(t, h.Run(context.Background()))

	responses := decodeResponses(t, out)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, ErrCodeInvalidRequest, responses[0].Error.Code)
}

func TestStdio_ParseError(t *testing.T) {
	h, out := newTestHandler("{not json}\n")

	require.NoError(t, h.Run(context.Background()))

	responses := decodeResponses(t, out)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, ErrCodeParseError, responses[0].Error.Code)
}

func TestStdio_MethodNotFound(t *testing.T) {
	h, out := newTestHandler(`{"jsonrpc":"2.0","id":7,"method":"resources/list"}` + "\n")

	require.NoError(t, h.Run(context.Background()))

	responses := decodeResponses(t, out)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, ErrCodeMethodNotFound, responses[0].Error.Code)
}

func TestStdio_NotificationsProduceNoOutput(t *testing.T) {
	h, out := newTestHandler(`{"jsonrpc":"2.0","method":"notifications/cancelled"}` + "\n")

	require.NoError(t, h.Run(context.Background()))
	assert.Empty(t, strings.TrimSpace(out.String()))
}

func TestStdio_ToolsCallMissingName(t *testing.T) {
	h, _ := newTestHandler("")
	h.initialized.Store(true)

	resp := h.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"arguments":{}}}`))

	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestStdio_Ping(t *testing.T) {
	h, _ := newTestHandler("")

	resp := h.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":9,"method":"ping"}`))

	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
}

func TestErrorToResponse_MapsApplicationCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid params", apperror.ErrInvalidParams, ErrCodeInvalidParams},
		{"not found", apperror.ErrEntityNotFound, ErrCodeNotFound},
		{"not current", apperror.ErrEntityNotCurrent, ErrCodeInvalidRequest},
		{"semantic unavailable", apperror.NewSemanticUnavailable("no_embeddings_available"), ErrCodeSemanticUnavailable},
		{"plain error", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := errorToResponse(json.RawMessage("1"), tt.err)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestErrorToResponse_CarriesFallbackReason(t *testing.T) {
	resp := errorToResponse(json.RawMessage("1"), apperror.NewSemanticUnavailable("query_embedding_failed"))

	require.NotNil(t, resp.Error)
	data := resp.Error.Data.(map[string]any)
	assert.Equal(t, "query_embedding_failed", data["fallbackReason"])
	assert.Equal(t, apperror.CodeSemanticUnavailable, data["code"])
}

func TestGetToolDefinitions_CoversAllTools(t *testing.T) {
	svc := NewService(nil, nil, testLogger())
	tools := svc.GetToolDefinitions()

	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
	}

	for _, expected := range []string{
		"create_entities", "add_observations", "delete_entities", "delete_observations",
		"create_relations", "get_relation", "update_relation", "delete_relations",
		"read_graph", "search_nodes", "open_nodes",
		"semantic_search", "get_entity_embedding",
		"get_entity_history", "get_relation_history", "get_graph_at_time", "get_decayed_graph",
	} {
		assert.True(t, names[expected], "missing tool %s", expected)
	}
	assert.Len(t, tools, 17)
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	_, err := svc.ExecuteTool(context.Background(), "explode", nil)

	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidParams, apperror.CodeOf(err))
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("2024-06-01T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	ts, err = parseTimestamp(float64(1717243200000))
	require.NoError(t, err)
	assert.Equal(t, int64(1717243200000), ts.UnixMilli())

	ts, err = parseTimestamp("1717243200000")
	require.NoError(t, err)
	assert.Equal(t, int64(1717243200000), ts.UnixMilli())

	// Not a clean integer: trailing garbage must not parse as a timestamp
	_, err = parseTimestamp("123abc")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidParams, apperror.CodeOf(err))

	_, err = parseTimestamp("-5")
	require.Error(t, err)

	_, err = parseTimestamp(true)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidParams, apperror.CodeOf(err))
}

func TestDecodeArgs(t *testing.T) {
	var params struct {
		Names []string `json:"names"`
		Limit int      `json:"limit"`
	}
	err := decodeArgs(map[string]any{"names": []any{"a", "b"}, "limit": float64(5)}, &params)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, params.Names)
	assert.Equal(t, 5, params.Limit)

	err = decodeArgs(map[string]any{"limit": "not-a-number"}, &params)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidParams, apperror.CodeOf(err))
}

func TestWrapResult_ProducesTextContent(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	result, err := svc.wrapResult(map[string]any{"now": time.Unix(0, 0).UTC()})

	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Contains(t, result.Content[0].Text, "1970-01-01")
}
