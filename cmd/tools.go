package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/presentation"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the worker provides",
	Long: `Start a worker, ask it for its tool list, and print it as JSON. Tools
whose permission is disabled in config are listed with "enabled": false.

Example:
  rinawarp tools | jq -r '.[] | select(.enabled) | .name'`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	log.InitWriter(os.Stderr, logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := callOnce(ctx, supervisor.ToolRequest{Tool: "tools.list"})
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("listing tools: %s", result.Error)
	}

	var listed struct {
		Tools []tools.Descriptor `json:"tools"`
	}
	if err := json.Unmarshal(result.Payload, &listed); err != nil {
		return fmt.Errorf("decoding tool list: %w", err)
	}

	dtos := presentation.FromDescriptors(listed.Tools, cfg.Worker.ToolPermissions())
	return presentation.NewFormatter(cmd.OutOrStdout()).FormatTools(dtos)
}
