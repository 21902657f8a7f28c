package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/tools"
)

// MCP protocol structures
type MCPRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type MCPResponse struct {
	ID     string    `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *MCPError `json:"error,omitempty"`
}

type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type MCPTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

func mcpError(id string, code int, message string) MCPResponse {
	return MCPResponse{ID: id, Error: &MCPError{Code: code, Message: message}}
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusOK, mcpError(req.ID, codeParseError, "Parse error"))
		return
	}

	var response MCPResponse
	switch req.Method {
	case "tools/list":
		response = MCPResponse{ID: req.ID, Result: map[string]any{"tools": s.mcpTools()}}
	case "tools/call":
		response = s.handleToolCall(r, req)
	default:
		response = mcpError(req.ID, codeMethodNotFound, "Method not found")
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (s *Server) mcpTools() []MCPTool {
	specs := s.tools.Specs()
	out := make([]MCPTool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, MCPTool{Name: spec.Name, Description: spec.Description, InputSchema: spec.Parameters})
	}
	return out
}

func (s *Server) handleToolCall(r *http.Request, req MCPRequest) MCPResponse {
	name, ok := req.Params["name"].(string)
	if !ok || name == "" {
		return mcpError(req.ID, codeInvalidParams, "Invalid tool name")
	}
	arguments, _ := req.Params["arguments"].(map[string]any)

	out, err := s.tools.Call(r.Context(), name, arguments)
	if s.observer != nil {
		s.observer.ToolCalled(name, err)
	}
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return mcpError(req.ID, codeMethodNotFound, "Tool not found")
	case err != nil:
		s.logger.Warn("mcp tool call failed", zap.String("tool", name), zap.Error(err))
		return mcpError(req.ID, codeInternalError, err.Error())
	}

	text, ok := out.(string)
	if !ok {
		data, err := json.Marshal(out)
		if err != nil {
			return mcpError(req.ID, codeInternalError, "encoding tool result")
		}
		text = string(data)
	}
	return MCPResponse{ID: req.ID, Result: map[string]any{
		"content": []mcpContent{{Type: "text", Text: text}},
	}}
}
