package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"log/slog"

	"github.com/sna-ai/sna/internal/config"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/logging"
	"github.com/sna-ai/sna/internal/mcp"
)

// MCPServer serves the Model Context Protocol over HTTP.
type MCPServer struct {
	handler *mcp.Handler
	logger  *slog.Logger
}

// MCPRequest represents an MCP protocol request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP protocol response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}

	logger.Info("starting sna MCP server")

	// Connect to database
	dbURL, err := database.BuildDatabaseURL()
	if err != nil {
		logger.Error("failed to build database URL", "error", err)
		os.Exit(1)
	}

	dbCfg := database.DefaultConfig()
	dbCfg.URL = dbURL
	db, err := database.Connect(context.Background(), dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Create repositories
	tweetRepo := database.NewTweetRepository(db)
	summaryRepo := database.NewSummaryRepository(db)
	dedupRepo := database.NewDedupRepository(db)
	followRepo := database.NewFollowRepository(db)

	server := &MCPServer{
		handler: mcp.NewHandler(tweetRepo, summaryRepo, dedupRepo, followRepo, logger),
		logger:  logger,
	}

	// Setup HTTP routes
	mux := http.NewServeMux()

	// MCP protocol endpoint at /mcp
	mux.HandleFunc("/mcp", server.HandleMCPRequest)

	// Root endpoint proxies to /mcp for convenience
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			server.HandleMCPRequest(w, r)
		} else {
			http.NotFound(w, r)
		}
	})

	// Health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// MCP_PORT lets the gateway share a host with the REST server.
	port := os.Getenv("MCP_PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	logger.Info("MCP server listening", "port", port)
	if err := http.ListenAndServe(":"+port, enableCORS(mux)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// HandleMCPRequest handles MCP JSON-RPC requests
func (s *MCPServer) HandleMCPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, -32700, "Parse error: "+err.Error())
		return
	}

	s.logger.Info("MCP request received", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolCall(w, r, req)
	default:
		s.sendError(w, req.ID, -32601, "Method not found: "+req.Method)
	}
}

// handleInitialize handles MCP initialize request
func (s *MCPServer) handleInitialize(w http.ResponseWriter, req MCPRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "sna",
			"version": "1.0.0",
		},
	}

	s.sendResult(w, req.ID, result)
}

// handleToolsList returns available MCP tools
func (s *MCPServer) handleToolsList(w http.ResponseWriter, req MCPRequest) {
	result := map[string]interface{}{
		"tools": s.handler.Tools(),
	}

	s.sendResult(w, req.ID, result)
}

// handleToolCall handles MCP tool execution
func (s *MCPServer) handleToolCall(w http.ResponseWriter, r *http.Request, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(w, req.ID, -32602, "Invalid params: "+err.Error())
		return
	}

	result, err := s.handler.Call(r.Context(), params.Name, params.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, mcp.ErrUnknownTool):
			s.sendError(w, req.ID, -32601, err.Error())
		case errors.Is(err, mcp.ErrInvalidArguments):
			s.sendError(w, req.ID, -32602, err.Error())
		default:
			s.logger.Error("tool call failed", "tool", params.Name, "error", err)
			s.sendError(w, req.ID, -32603, "Query failed: "+err.Error())
		}
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.sendError(w, req.ID, -32603, "Internal error: "+err.Error())
		return
	}

	// Return tool result in MCP format
	toolResult := map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": string(resultJSON),
			},
		},
	}

	s.sendResult(w, req.ID, toolResult)
}

// sendResult sends a successful MCP response
func (s *MCPServer) sendResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// sendError sends an MCP error response
func (s *MCPServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // MCP uses 200 even for errors
	json.NewEncoder(w).Encode(resp)
}

// enableCORS adds CORS headers
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
