// Package gradeserver provides the Model Context Protocol (MCP) server implementation.
//
// The gradeserver package implements an MCP-compliant server that exposes
// grading as tools. It uses the mark3labs/mcp-go library to handle the
// protocol details and provides the grade_submission and grade_batch tools
// for sandboxed notebook grading.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := gradeserver.New(config, logger, coordinator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package gradeserver
