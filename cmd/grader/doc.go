// Package main is the entry point for the instantgrade MCP server.
//
// Instantgrade executes student notebook submissions inside isolated
// sandboxes, captures their structured outputs, and compares them against a
// reference solution under configurable tolerance rules. The server supports
// both stdio and HTTP transports and provides resource limits, network
// isolation, and path traversal protection for every sandbox.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
