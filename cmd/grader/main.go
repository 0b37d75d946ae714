package main

import (
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/chandraveshchaudhari/instantgrade/config"
	"github.com/chandraveshchaudhari/instantgrade/gradeserver"
	"github.com/chandraveshchaudhari/instantgrade/grader"
	"github.com/chandraveshchaudhari/instantgrade/logger"
	"github.com/chandraveshchaudhari/instantgrade/sandbox"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox orchestrator based on config
			func(cfg *config.Config, log *zap.Logger) (sandbox.Orchestrator, error) {
				opts := cfg.SandboxOptions()
				if os.Getenv("INSTANTGRADE_FORCE_REBUILD") != "" {
					opts.ForceRebuild = true
				}
				return sandbox.NewOrchestrator(log, opts)
			},

			// Grading coordinator
			func(cfg *config.Config, log *zap.Logger, orch sandbox.Orchestrator) *grader.Coordinator {
				return grader.New(log, orch, cfg.GraderConfig())
			},

			// MCP Server
			gradeserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *gradeserver.GradeServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
