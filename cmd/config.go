package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit the configuration",
	// The subcommands load the config themselves so a broken file can
	// still be repaired with "config set" or replaced with "config init".
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		path, _ := resolveConfigPath()
		fmt.Fprintln(cmd.OutOrStdout(), path)
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by config set",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, key := range config.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one value in the config file, keeping comments",
	Long: `Set one dotted key in the config file. The value is parsed as YAML, so
booleans, numbers, durations and lists keep their types. The file is only
written when the result is valid.

Examples:
  rinawarp config set supervisor.max_backoff 30s
  rinawarp config set worker.permissions.shell false
  rinawarp config set supervisor.args "[worker, --verbose]"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := resolveConfigPath()
		if path == "" {
			return fmt.Errorf("no config path: pass --config")
		}
		if err := config.SetValue(path, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", args[0], args[1], path)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := resolveConfigPath()
		if path == "" {
			return fmt.Errorf("no config path: pass --config")
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd, configPathCmd, configKeysCmd, configSetCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
