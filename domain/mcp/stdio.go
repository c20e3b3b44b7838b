package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/graphmem/graphmem/pkg/apperror"
	"github.com/graphmem/graphmem/pkg/logger"
)

const maxLineBytes = 16 * 1024 * 1024

// StdioHandler serves MCP over a line-delimited JSON-RPC stream. Requests
// arrive one per line on the reader; responses leave one per line on the
// writer. Logs must never touch the writer, it carries protocol frames only.
type StdioHandler struct {
	svc *Service
	log *slog.Logger

	in  io.Reader
	out io.Writer

	writeMu     sync.Mutex
	initialized atomic.Bool
}

// NewStdioHandler creates a handler bound to the given stream
func NewStdioHandler(svc *Service, log *slog.Logger, in io.Reader, out io.Writer) *StdioHandler {
	return &StdioHandler{
		svc: svc,
		log: log.With(logger.Scope("mcp.stdio")),
		in:  in,
		out: out,
	}
}

// Run reads requests until EOF or context cancellation
func (h *StdioHandler) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(h.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if resp := h.HandleLine(ctx, line); resp != nil {
			if err := h.write(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request stream: %w", err)
	}
	h.log.Info("request stream closed")
	return nil
}

// HandleLine processes one raw frame. A nil response means nothing should
// be written (notifications).
func (h *StdioHandler) HandleLine(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		h.log.Warn("unparseable frame", logger.Error(err))
		return NewErrorResponse(nil, ErrCodeParseError, "Parse error",
			map[string]string{"error": err.Error()})
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "Invalid request", nil)
	}

	if req.IsNotification() {
		h.handleNotification(&req)
		return nil
	}

	h.log.Debug("request received",
		slog.String("method", req.Method),
		slog.String("id", req.GetIDString()),
	)
	return h.routeMethod(ctx, &req)
}

func (h *StdioHandler) handleNotification(req *Request) {
	switch req.Method {
	case "notifications/initialized":
		h.log.Info("client initialized")
	default:
		h.log.Debug("ignoring notification", slog.String("method", req.Method))
	}
}

func (h *StdioHandler) routeMethod(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		return NewSuccessResponse(req.ID, map[string]any{})
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			"Method not found: "+req.Method, nil)
	}
}

func (h *StdioHandler) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams,
				"Invalid initialize params", map[string]string{"error": err.Error()})
		}
	}

	version := params.ProtocolVersion
	if !lo.Contains(SupportedProtocolVersions, version) {
		version = LatestProtocolVersion
	}

	h.initialized.Store(true)
	h.log.Info("session initialized",
		slog.String("client", params.ClientInfo.Name),
		slog.String("protocolVersion", version),
	)

	return NewSuccessResponse(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: ToolsCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo,
	})
}

func (h *StdioHandler) handleToolsList(req *Request) *Response {
	if !h.initialized.Load() {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest,
			"Client must call initialize before tools/list",
			map[string]string{"hint": "Call initialize method first"},
		)
	}
	return NewSuccessResponse(req.ID, ToolsListResult{Tools: h.svc.GetToolDefinitions()})
}

func (h *StdioHandler) handleToolsCall(ctx context.Context, req *Request) *Response {
	if !h.initialized.Load() {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest,
			"Client must call initialize before tools/call",
			map[string]string{"hint": "Call initialize method first"},
		)
	}

	var params ToolsCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams,
				"Invalid tools/call params", map[string]string{"error": err.Error()})
		}
	}
	if params.Name == "" {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams,
			"Missing required parameter: name",
			map[string]any{"required": []string{"name"}},
		)
	}

	result, err := h.svc.ExecuteTool(ctx, params.Name, params.Arguments)
	if err != nil {
		h.log.Error("tool execution failed",
			slog.String("tool", params.Name),
			logger.Error(err),
		)
		return errorToResponse(req.ID, err)
	}

	return NewSuccessResponse(req.ID, result)
}

// errorToResponse maps application errors to JSON-RPC error codes
func errorToResponse(id json.RawMessage, err error) *Response {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		return NewErrorResponse(id, ErrCodeInternalError, err.Error(), nil)
	}

	code := ErrCodeInternalError
	switch appErr.Code {
	case apperror.CodeInvalidParams:
		code = ErrCodeInvalidParams
	case apperror.CodeEntityNotFound:
		code = ErrCodeNotFound
	case apperror.CodeEntityNotCurrent:
		code = ErrCodeInvalidRequest
	case apperror.CodeSemanticUnavailable:
		code = ErrCodeSemanticUnavailable
	}

	data := map[string]any{"code": appErr.Code}
	for k, v := range appErr.Details {
		data[k] = v
	}
	return NewErrorResponse(id, code, appErr.Message, data)
}

func (h *StdioHandler) write(resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.out.Write(payload); err != nil {
		return err
	}
	_, err = h.out.Write([]byte("\n"))
	return err
}
