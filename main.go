// Package main is the entry point for the rinawarp agent supervisor.
package main

import (
	"fmt"
	"os"

	"github.com/Bigsgotchu/rinawarp-business-sub008/cmd"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	versionString := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	cmd.SetVersion(versionString)

	run := cmd.Execute
	if os.Getenv(supervisor.WorkerMarkerEnv) == "1" {
		run = cmd.ExecuteWorker
	}
	if err := run(); err != nil {
		os.Exit(1)
	}
}
