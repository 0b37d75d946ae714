package gradeserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/chandraveshchaudhari/instantgrade/config"
	"github.com/chandraveshchaudhari/instantgrade/grader"
	"github.com/chandraveshchaudhari/instantgrade/notebook"
	"github.com/chandraveshchaudhari/instantgrade/sandbox"
)

// GradeServer represents the MCP grading server
type GradeServer struct {
	config    *config.Config
	logger    *zap.Logger
	coord     *grader.Coordinator
	mcpServer *server.MCPServer
}

// New creates a new GradeServer
func New(cfg *config.Config, logger *zap.Logger, coord *grader.Coordinator) (*GradeServer, error) {
	s := &GradeServer{
		config: cfg,
		logger: logger,
		coord:  coord,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.String("sandbox.image_name", s.config.Sandbox.ImageName),
		zap.Int("sandbox.max_wall_clock_sec", s.config.Sandbox.MaxWallClockSec),
		zap.Int("sandbox.max_cpu_seconds", s.config.Sandbox.MaxCPUSeconds),
		zap.String("sandbox.max_memory", s.config.Sandbox.MaxMemory),
		zap.String("sandbox.max_output", s.config.Sandbox.MaxOutput),
		zap.Bool("sandbox.enable_local_backend", s.config.Sandbox.EnableLocalBackend),
		zap.Int("grading.worker_count", s.config.Grading.WorkerCount),
		zap.Int("grading.retry_infrastructure_failures", s.config.Grading.RetryInfrastructureFailures),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("instantgrade", "A sandboxed notebook grading server")

	s.registerGradeSubmissionTool()
	s.registerGradeBatchTool()

	return s, nil
}

// registerGradeSubmissionTool registers the grade_submission tool
func (s *GradeServer) registerGradeSubmissionTool() {
	tool := mcp.Tool{
		Name:        "grade_submission",
		Description: "Execute one student notebook in a sandbox and grade it against a solution spec",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submission_id": map[string]any{
					"type":        "string",
					"description": "Opaque identifier for the submission (optional)",
				},
				"cells": map[string]any{
					"type":        "string",
					"description": "JSON array of notebook cells: [{index, source, kind}]",
				},
				"notebook": map[string]any{
					"type":        "string",
					"description": "Raw Jupyter .ipynb document, alternative to cells",
				},
				"solution": map[string]any{
					"type":        "string",
					"description": "Solution spec in YAML",
				},
				"workdir_tar": map[string]any{
					"type":        "string",
					"description": "Base64-encoded tar.gz of auxiliary data files (optional)",
				},
			},
			Required: []string{"solution"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGradeSubmission)
}

// registerGradeBatchTool registers the grade_batch tool
func (s *GradeServer) registerGradeBatchTool() {
	tool := mcp.Tool{
		Name:        "grade_batch",
		Description: "Execute and grade a batch of student notebooks against one solution spec",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submissions": map[string]any{
					"type":        "string",
					"description": "JSON array of submissions: [{id, cells: [{index, source, kind}]}]",
				},
				"solution": map[string]any{
					"type":        "string",
					"description": "Solution spec in YAML",
				},
				"workdir_tar": map[string]any{
					"type":        "string",
					"description": "Base64-encoded tar.gz of auxiliary data files shared by the batch (optional)",
				},
			},
			Required: []string{"submissions", "solution"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGradeBatch)
}

// handleGradeSubmission handles the grade_submission tool
func (s *GradeServer) handleGradeSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("grading requested")

	sub, err := s.decodeSubmission(request)
	if err != nil {
		return nil, err
	}

	spec, err := s.loadSolution(request)
	if err != nil {
		return nil, err
	}

	files, err := s.unpackWorkdir(request)
	if err != nil {
		return nil, err
	}

	s.logger.Info("grading submission",
		zap.String("submission", sub.ID),
		zap.String("assignment", spec.AssignmentID),
		zap.Int("cells", len(sub.Cells)),
		zap.Bool("has_workdir", len(files) > 0))

	report, err := s.coord.GradeOne(ctx, spec, sub, files)
	if err != nil {
		s.logger.Error("grading failed",
			zap.Error(err),
			zap.String("submission", sub.ID))
		return errorResult(fmt.Sprintf("Grading failed: %v", err)), nil
	}

	s.logger.Info("grading completed",
		zap.String("submission", sub.ID),
		zap.Float64("score", report.FinalScore),
		zap.String("fault", string(report.Fault)))

	return jsonResult(report)
}

// handleGradeBatch handles the grade_batch tool
func (s *GradeServer) handleGradeBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("batch grading requested")

	subsJSON, err := request.RequireString("submissions")
	if err != nil {
		return nil, fmt.Errorf("submissions parameter is required: %w", err)
	}
	var subs []*notebook.Submission
	if err := json.Unmarshal([]byte(subsJSON), &subs); err != nil {
		return nil, fmt.Errorf("failed to decode submissions: %w", err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("submissions must not be empty")
	}

	spec, err := s.loadSolution(request)
	if err != nil {
		return nil, err
	}

	files, err := s.unpackWorkdir(request)
	if err != nil {
		return nil, err
	}

	s.logger.Info("grading batch",
		zap.String("assignment", spec.AssignmentID),
		zap.Int("submissions", len(subs)))

	reports, err := s.coord.GradeBatch(ctx, spec, grader.Batch{
		Submissions: subs,
		Files:       files,
	})
	if err != nil && len(reports) == 0 {
		s.logger.Error("batch grading failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Grading failed: %v", err)), nil
	}

	s.logger.Info("batch grading completed",
		zap.Int("reports", len(reports)),
		zap.Bool("cancelled", err != nil))

	return jsonResult(reports)
}

// decodeSubmission accepts either pre-parsed cells or a raw .ipynb document.
func (s *GradeServer) decodeSubmission(request mcp.CallToolRequest) (*notebook.Submission, error) {
	id := request.GetString("submission_id", "submission")

	if cellsJSON := request.GetString("cells", ""); cellsJSON != "" {
		var cells []notebook.Cell
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return nil, fmt.Errorf("failed to decode cells: %w", err)
		}
		return &notebook.Submission{ID: id, Cells: cells}, nil
	}

	if ipynb := request.GetString("notebook", ""); ipynb != "" {
		sub, err := notebook.ParseNotebook(id, []byte(ipynb))
		if err != nil {
			return nil, fmt.Errorf("failed to parse notebook: %w", err)
		}
		return sub, nil
	}

	return nil, fmt.Errorf("one of cells or notebook is required")
}

// loadSolution parses the solution parameter into a validated spec.
func (s *GradeServer) loadSolution(request mcp.CallToolRequest) (*notebook.SolutionSpec, error) {
	solutionYAML, err := request.RequireString("solution")
	if err != nil {
		return nil, fmt.Errorf("solution parameter is required: %w", err)
	}
	spec, err := notebook.LoadSolutionSpec([]byte(solutionYAML))
	if err != nil {
		return nil, fmt.Errorf("invalid solution spec: %w", err)
	}
	return spec, nil
}

// unpackWorkdir decodes the optional workdir_tar parameter into workdir files.
func (s *GradeServer) unpackWorkdir(request mcp.CallToolRequest) (map[string][]byte, error) {
	tarB64 := request.GetString("workdir_tar", "")
	if tarB64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(tarB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workdir_tar: %w", err)
	}
	files, err := sandbox.UnpackArchive(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack workdir_tar: %w", err)
	}
	return files, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *GradeServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *GradeServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *GradeServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
