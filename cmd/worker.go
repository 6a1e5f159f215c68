package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/infrastructure/sqlite"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tracing"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve tools over stdin/stdout (started by the supervisor)",
	Long: `Run as the agent worker: read tool:run messages from stdin and write one
tool:result per request to stdout, as newline-delimited JSON. Logs go to
stderr. The supervisor starts this command; running it by hand is useful
for piping requests in directly:

  echo '{"type":"tool:run","requestId":"1","tool":"echo","args":{"hi":1}}' | rinawarp worker`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	// stdout carries protocol messages, so logs go to stderr.
	log.InitWriter(os.Stderr, logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(cfg.Tracing.TracingConfig(tracing.RoleWorker))
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing(tp)

	deps := tools.Deps{
		Shell:        cfg.Worker.Shell,
		ShellTimeout: cfg.Worker.ShellTimeout,
	}
	db, err := sqlite.NewDB(cfg.Worker.DBPath)
	if err != nil {
		// Memory tools are left out rather than failing every tool.
		log.ErrorErr(log.CatDB, "Failed to open database, memory tools disabled", err, "path", cfg.Worker.DBPath)
	} else {
		defer func() { _ = db.Close() }()
		deps.Memory = tools.NewCachedMemory(db.MemoryRepository())
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, deps); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	server := worker.NewServer(worker.Config{
		Registry:    registry,
		Permissions: cfg.Worker.ToolPermissions(),
		Tracer:      tp.Tracer(),
	})
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func shutdownTracing(tp *tracing.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to flush traces", err)
	}
}
