package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/presentation"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
)

var (
	callArgs         string
	callConversation string
	callTimeout      time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Start a worker, run one tool, and print the result",
	Long: `Start a worker, send a single tool:run, print the result as JSON, and
stop the worker. Exits non-zero when the tool fails or times out.

Examples:
  rinawarp call echo --args '{"hello":"world"}'
  rinawarp call memory.put --conversation c1 --args '{"key":"k","value":42}'
  rinawarp call sleep --args '{"ms":5000}' --timeout 1s`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&callArgs, "args", "a", "", "tool arguments as a JSON object")
	callCmd.Flags().StringVar(&callConversation, "conversation", "", "conversation id (default \"default\")")
	callCmd.Flags().DurationVarP(&callTimeout, "timeout", "t", 0, "request timeout (default from config)")
}

// errToolFailed makes the command exit non-zero after printing a result.
var errToolFailed = errors.New("tool call failed")

func runCall(cmd *cobra.Command, args []string) error {
	log.InitWriter(os.Stderr, logLevel())

	toolArgs, err := parseToolArgs(callArgs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := callOnce(ctx, supervisor.ToolRequest{
		Tool:           args[0],
		Args:           toolArgs,
		ConversationID: callConversation,
		Timeout:        callTimeout,
	})
	if err != nil {
		return err
	}

	if err := presentation.NewFormatter(cmd.OutOrStdout()).FormatResult(result); err != nil {
		return err
	}
	if !result.OK {
		return errToolFailed
	}
	return nil
}

func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	return args, nil
}

// callOnce runs req against a fresh worker. Tool failures and timeouts
// become a result with ok:false; only infrastructure failures are errors.
func callOnce(ctx context.Context, req supervisor.ToolRequest) (presentation.ResultDTO, error) {
	a, err := newAgent(nil, false)
	if err != nil {
		return presentation.ResultDTO{}, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			log.ErrorErr(log.CatSupervisor, "Error during shutdown", err)
		}
	}()

	if err := a.sup.Start(ctx); err != nil {
		return presentation.ResultDTO{}, fmt.Errorf("starting worker: %w", err)
	}

	payload, err := a.sup.RequestTool(ctx, req)
	result := presentation.ResultDTO{Tool: req.Tool, OK: err == nil, Payload: payload}

	var toolErr *supervisor.ToolError
	switch {
	case err == nil:
	case errors.As(err, &toolErr):
		result.Error = toolErr.Message
	case errors.Is(err, supervisor.ErrTimeout):
		result.Error = err.Error()
	default:
		return presentation.ResultDTO{}, err
	}
	return result, nil
}
