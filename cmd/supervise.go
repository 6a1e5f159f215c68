package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/metrics"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/process"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/ui/status"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Start the worker and keep it running",
	Long: `Start the agent worker and restart it with exponential backoff whenever
it crashes (500ms, 1s, 2s, 4s, 8s, then 8s per attempt by default).

By default a console shows Agent Online/Offline, worker health and a feed
of every message. With --headless every message is written to stdout as
newline-delimited JSON instead and logs go to stderr.

Examples:
  rinawarp supervise
  rinawarp supervise --headless | jq .
  rinawarp supervise --metrics-addr localhost:9464`,
	RunE: runSupervise,
}

var (
	superviseHeadless    bool
	superviseMetricsAddr string
)

func init() {
	rootCmd.AddCommand(superviseCmd)

	superviseCmd.Flags().BoolVar(&superviseHeadless, "headless", false, "write messages to stdout instead of showing the console")
	superviseCmd.Flags().StringVar(&superviseMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address (overrides config)")
}

func runSupervise(_ *cobra.Command, _ []string) error {
	cleanup, err := initSuperviseLogging(superviseHeadless)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()

	metricsAddr := superviseMetricsAddr
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink supervisor.Sink
	if superviseHeadless {
		sink = ndjsonSink(os.Stdout)
	}
	a, err := newAgent(sink, metricsAddr != "")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			log.ErrorErr(log.CatSupervisor, "Error during shutdown", err)
		}
	}()

	if metricsAddr != "" {
		server := metrics.SetupEndpoint(metricsAddr, a.metrics, func() any { return a.sup.Health() })
		defer shutdownHTTP(server)
	}

	// Subscribe before Start so the console sees the first spawn.
	events := a.sup.Subscribe(ctx)
	logs := log.NewListener(ctx)

	if err := a.sup.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	if cfg.Supervisor.WatchEntry {
		w, err := startEntryWatcher(ctx, a)
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	if superviseHeadless {
		<-ctx.Done()
		log.Info(log.CatSupervisor, "Shutting down")
		return nil
	}

	model := status.New(ctx, a.sup, events, logs)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running console: %w", err)
	}
	return nil
}

// initSuperviseLogging logs to stderr when headless. The console tails the
// log broker, so with the console logs go to the debug file when enabled
// and are otherwise discarded after publishing.
func initSuperviseLogging(headless bool) (func(), error) {
	if headless {
		log.InitWriter(os.Stderr, logLevel())
		return func() {}, nil
	}
	if debugEnabled() {
		logPath := os.Getenv("RINAWARP_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.InitWithTeaLog(logPath, "rinawarp")
		if err != nil {
			return nil, err
		}
		log.Info(log.CatConfig, "rinawarp starting", "debug", true, "logPath", logPath)
		return cleanup, nil
	}
	log.InitWriter(io.Discard, logLevel())
	return func() {}, nil
}

// startEntryWatcher restarts the worker when its executable or env file
// changes.
func startEntryWatcher(ctx context.Context, a *agent) (*watcher.Watcher, error) {
	entry, err := workerEntry()
	if err != nil {
		return nil, fmt.Errorf("locating worker entry: %w", err)
	}
	if resolved, err := process.ResolveEntry(entry); err == nil {
		entry = resolved
	}
	paths := []string{entry}
	if cfg.Worker.EnvFile != "" {
		paths = append(paths, cfg.Worker.EnvFile)
	}

	w, err := watcher.New(watcher.Config{Paths: paths, DebounceDur: cfg.Supervisor.WatchDebounce})
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	changes, err := w.Start()
	if err != nil {
		return nil, fmt.Errorf("starting watcher: %w", err)
	}
	go watcher.RestartOnChange(ctx, changes, a.sup)
	return w, nil
}

func shutdownHTTP(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
