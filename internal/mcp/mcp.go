// Package mcp implements the Model Context Protocol server for Wellsight.
//
// The MCP server exposes the investigation pipeline through MCP resources
// and tools, allowing MCP-compatible AI agents to inspect and drive
// investigations alongside the HTTP dashboard.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/wellsight-ai/wellsight/internal/pipeline"
	"github.com/wellsight-ai/wellsight/internal/storage"
)

// Server wraps the MCP server with Wellsight's pipeline layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      *pipeline.Orchestrator
	db        *storage.DB
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(orch *pipeline.Orchestrator, db *storage.DB, logger *slog.Logger) *Server {
	s := &Server{
		orch:   orch,
		db:     db,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"wellsight",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// wellsight://investigations/open: investigations still in progress.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"wellsight://investigations/open",
			"Open Investigations",
			mcplib.WithResourceDescription("Investigations that have not yet produced a final report"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleOpenInvestigations,
	)

	// wellsight://investigations/{id}: full snapshot of one investigation.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"wellsight://investigations/{id}",
			"Investigation Snapshot",
			mcplib.WithTemplateDescription("Workflow position, accumulated step records, and report status for one investigation"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleInvestigationSnapshot,
	)
}

func (s *Server) registerTools() {
	// wellsight_snapshot: read-only view of an investigation.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellsight_snapshot",
			mcplib.WithDescription("Get the current state of an investigation: workflow position, completed step records, and report status"),
			mcplib.WithString("investigation_id", mcplib.Description("Investigation UUID"), mcplib.Required()),
		),
		s.handleSnapshot,
	)

	// wellsight_run_step: execute the current step automatically.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellsight_run_step",
			mcplib.WithDescription("Execute the current specialist step end-to-end via the remote gateway (automated mode only)"),
			mcplib.WithString("investigation_id", mcplib.Description("Investigation UUID"), mcplib.Required()),
		),
		s.handleRunStep,
	)

	// wellsight_submit_response: submit a curated response.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellsight_submit_response",
			mcplib.WithDescription("Submit a manually curated specialist response for the current step (interactive mode only)"),
			mcplib.WithString("investigation_id", mcplib.Description("Investigation UUID"), mcplib.Required()),
			mcplib.WithString("text", mcplib.Description("Response text for the current step"), mcplib.Required()),
		),
		s.handleSubmitResponse,
	)

	// wellsight_run_all: drive the whole pipeline to the final report.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellsight_run_all",
			mcplib.WithDescription("Run all remaining steps plus synthesis in one call (automated mode only). On failure, completed steps are preserved."),
			mcplib.WithString("investigation_id", mcplib.Description("Investigation UUID"), mcplib.Required()),
		),
		s.handleRunAll,
	)
}

func (s *Server) handleOpenInvestigations(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	open, err := s.db.ListOpenInvestigations(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list open investigations: %w", err)
	}

	data, err := json.MarshalIndent(open, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal investigations: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "wellsight://investigations/open",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleInvestigationSnapshot(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	var idStr string
	if _, err := fmt.Sscanf(uri, "wellsight://investigations/%s", &idStr); err != nil || idStr == "" {
		return nil, fmt.Errorf("mcp: invalid investigation URI: %s", uri)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid investigation id in URI: %s", idStr)
	}

	snap, err := s.orch.Snapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: load snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal snapshot: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSnapshot(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errResult := investigationID(request)
	if errResult != nil {
		return errResult, nil
	}

	snap, err := s.orch.Snapshot(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to load investigation: %v", err)), nil
	}

	return jsonResult(snap), nil
}

func (s *Server) handleRunStep(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errResult := investigationID(request)
	if errResult != nil {
		return errResult, nil
	}

	snap, err := s.orch.RunAutomatedStep(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("step execution failed: %v", err)), nil
	}

	return jsonResult(snap), nil
}

func (s *Server) handleSubmitResponse(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errResult := investigationID(request)
	if errResult != nil {
		return errResult, nil
	}
	text := request.GetString("text", "")
	if text == "" {
		return errorResult("text is required"), nil
	}

	snap, err := s.orch.SubmitInteractive(ctx, id, text)
	if err != nil {
		return errorResult(fmt.Sprintf("submit failed: %v", err)), nil
	}

	return jsonResult(snap), nil
}

func (s *Server) handleRunAll(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errResult := investigationID(request)
	if errResult != nil {
		return errResult, nil
	}

	snap, err := s.orch.RunAll(ctx, id)
	if err != nil {
		// Partial progress survives a mid-run failure; return the state
		// alongside the error so the caller can see how far it got.
		if snap.ID != uuid.Nil {
			s.logger.Warn("mcp: run-all stopped early", "investigation_id", id, "error", err)
		}
		return errorResult(fmt.Sprintf("run-all failed: %v", err)), nil
	}

	return jsonResult(snap), nil
}

func investigationID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	idStr := request.GetString("investigation_id", "")
	if idStr == "" {
		return uuid.Nil, errorResult("investigation_id is required")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, errorResult(fmt.Sprintf("invalid investigation_id: %s", idStr))
	}
	return id, nil
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
