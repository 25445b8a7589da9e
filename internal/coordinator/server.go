package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

const argSessionID = "session_id"

// MCPServer exposes the orchestrator as MCP tools
type MCPServer struct {
	server      *server.MCPServer
	orch        *Orchestrator
	auditLogger *AuditLogger
}

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
}

// NewMCPServer creates and configures a new MCP server
func NewMCPServer(cfg Config, orch *Orchestrator, audit *AuditLogger) *MCPServer {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	if audit == nil {
		audit = NewAuditLogger(orch.logger)
	}

	ms := &MCPServer{
		server:      mcpServer,
		orch:        orch,
		auditLogger: audit,
	}
	ms.registerTools()
	return ms
}

// Server returns the underlying mcp-go server
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}

func sessionIDArg() mcp.ToolOption {
	return mcp.WithNumber(argSessionID,
		mcp.Required(),
		mcp.Description("Session id returned by "+config.ToolSessionNew),
	)
}

// registerTools registers all MCP tools with handlers
func (ms *MCPServer) registerTools() {
	ms.server.AddTool(mcp.NewTool(config.ToolSessionNew,
		mcp.WithDescription("Start a new compute session and return its id"),
	), ms.audited(config.ToolSessionNew, ms.handleNew))

	ms.server.AddTool(mcp.NewTool(config.ToolSessionExecute,
		mcp.WithDescription("Submit code to a session. Returns the exec id and running, enqueued or dead"),
		sessionIDArg(),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Source code to execute"),
		),
	), ms.audited(config.ToolSessionExecute, ms.handleExecute))

	ms.server.AddTool(mcp.NewTool(config.ToolSessionCells,
		mcp.WithDescription("List the cells of a session with their output"),
		sessionIDArg(),
	), ms.audited(config.ToolSessionCells, ms.handleCells))

	ms.server.AddTool(mcp.NewTool(config.ToolSessionInterrupt,
		mcp.WithDescription("Interrupt the cell a session is running"),
		sessionIDArg(),
	), ms.audited(config.ToolSessionInterrupt, ms.handleInterrupt))

	ms.server.AddTool(mcp.NewTool(config.ToolSessionKill,
		mcp.WithDescription("Kill a session's process; the session becomes dead"),
		sessionIDArg(),
	), ms.audited(config.ToolSessionKill, ms.handleKill))

	ms.server.AddTool(mcp.NewTool(config.ToolSessionList,
		mcp.WithDescription("List all sessions"),
	), ms.audited(config.ToolSessionList, ms.handleList))
}

// toolHandler returns the text result of a tool or an error shown to the caller
type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (string, int, error)

func (ms *MCPServer) audited(name string, h toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ms.auditLogger.LogToolCall(ctx, &AuditEntry{
			Timestamp: time.Now(),
			SessionID: NoExecID,
			ToolName:  name,
			Arguments: request.GetArguments(),
		})

		text, sessionID, err := h(ctx, request)
		if err != nil {
			ms.auditLogger.LogToolResult(ctx, &AuditEntry{
				SessionID: sessionID,
				ToolName:  name,
				ErrorMsg:  err.Error(),
			})
			return mcp.NewToolResultError(err.Error()), nil
		}

		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			SessionID: sessionID,
			ToolName:  name,
			Result:    text,
		})
		return mcp.NewToolResultText(text), nil
	}
}

func (ms *MCPServer) handleNew(ctx context.Context, _ mcp.CallToolRequest) (string, int, error) {
	id, err := ms.orch.NewSession(ctx)
	if err != nil {
		return "", NoExecID, fmt.Errorf("%s: %w", config.StatusFail, err)
	}
	return strconv.Itoa(id), id, nil
}

func (ms *MCPServer) handleExecute(ctx context.Context, request mcp.CallToolRequest) (string, int, error) {
	id, err := requireSessionID(request)
	if err != nil {
		return "", NoExecID, err
	}
	code, err := request.RequireString("code")
	if err != nil {
		return "", id, err
	}

	res, err := ms.orch.Submit(ctx, id, code)
	var dispatchErr *DispatchError
	if err != nil && !errors.As(err, &dispatchErr) {
		return "", id, err
	}
	return marshal(res, id)
}

func (ms *MCPServer) handleCells(ctx context.Context, request mcp.CallToolRequest) (string, int, error) {
	id, err := requireSessionID(request)
	if err != nil {
		return "", NoExecID, err
	}
	cells, err := ms.orch.Cells(ctx, id)
	if err != nil {
		return "", id, err
	}
	return marshal(cells, id)
}

func (ms *MCPServer) handleInterrupt(ctx context.Context, request mcp.CallToolRequest) (string, int, error) {
	id, err := requireSessionID(request)
	if err != nil {
		return "", NoExecID, err
	}
	if err := ms.orch.Interrupt(ctx, id); err != nil {
		return "", id, err
	}
	return config.StatusOK, id, nil
}

func (ms *MCPServer) handleKill(ctx context.Context, request mcp.CallToolRequest) (string, int, error) {
	id, err := requireSessionID(request)
	if err != nil {
		return "", NoExecID, err
	}
	if err := ms.orch.Kill(ctx, id); err != nil {
		return "", id, err
	}
	return config.StatusOK, id, nil
}

func (ms *MCPServer) handleList(ctx context.Context, _ mcp.CallToolRequest) (string, int, error) {
	sessions, err := ms.orch.ListSessions(ctx)
	if err != nil {
		return "", NoExecID, err
	}
	return marshal(sessions, NoExecID)
}

// requireSessionID reads the session id argument, which JSON clients send as a number
func requireSessionID(request mcp.CallToolRequest) (int, error) {
	val, ok := request.GetArguments()[argSessionID]
	if !ok {
		return NoExecID, fmt.Errorf("required argument %q not found", argSessionID)
	}
	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		id, err := strconv.Atoi(v)
		if err != nil {
			return NoExecID, fmt.Errorf("argument %q is not an integer: %w", argSessionID, err)
		}
		return id, nil
	default:
		return NoExecID, fmt.Errorf("argument %q has unsupported type %T", argSessionID, val)
	}
}

func marshal(v interface{}, sessionID int) (string, int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", sessionID, fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), sessionID, nil
}
