package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/config"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

const (
	// configEnv names the config file. The supervisor sets it for the
	// worker so both sides read the same file.
	configEnv       = "RINAWARP_CONFIG"
	envPrefix       = "RINAWARP"
	localConfigPath = ".rinawarp/config.yaml"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rinawarp",
	Short: "Supervise the RinaWarp agent worker",
	Long: `rinawarp runs the agent worker as a child process, routes tool requests
to it over newline-delimited JSON, and restarts it with exponential backoff
when it crashes.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return initConfig() },
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .rinawarp/config.yaml or ~/.config/rinawarp/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging (also RINAWARP_DEBUG)")
}

// userConfigPath returns ~/.config/rinawarp/config.yaml.
func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rinawarp", "config.yaml")
}

// resolveConfigPath picks the config file and reports whether it was
// named explicitly. Lookup order:
//  1. --config flag
//  2. RINAWARP_CONFIG
//  3. .rinawarp/config.yaml (current directory)
//  4. ~/.config/rinawarp/config.yaml (user config)
func resolveConfigPath() (string, bool) {
	if cfgFile != "" {
		return cfgFile, true
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, true
	}
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, false
	}
	return userConfigPath(), false
}

// initConfig reads the config file, if any, applies RINAWARP_* environment
// overrides (e.g. RINAWARP_WORKER_SHELL) and validates the result.
func initConfig() error {
	v := viper.GetViper()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range config.Keys() {
		_ = v.BindEnv(key)
	}

	path, explicit := resolveConfigPath()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded
	return nil
}

// configFileUsed returns the file the config was read from, or where a
// new one should be written.
func configFileUsed() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	path, _ := resolveConfigPath()
	return path
}

func debugEnabled() bool {
	return debugFlag || os.Getenv("RINAWARP_DEBUG") != ""
}

func logLevel() log.Level {
	if debugEnabled() {
		return log.LevelDebug
	}
	return log.ParseLevel(os.Getenv("RINAWARP_LOG_LEVEL"))
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteWorker runs the worker command regardless of the first argument.
// main calls it when the process was started by a supervisor.
func ExecuteWorker() error {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == workerCmd.Name() {
		args = args[1:]
	}
	rootCmd.SetArgs(append([]string{workerCmd.Name()}, args...))
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
