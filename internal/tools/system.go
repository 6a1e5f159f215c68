package tools

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

// SystemInfo reports host, CPU, memory and load figures.
func SystemInfo() Tool {
	return Tool{
		Name:        "system.info",
		Description: "Describe the host: OS, CPU count, memory and load",
		Permission:  PermProcess,
		Handler: func(ctx context.Context, call Call) (any, error) {
			info := map[string]any{
				"os":   runtime.GOOS,
				"arch": runtime.GOARCH,
				"pid":  os.Getpid(),
			}

			if h, err := host.InfoWithContext(ctx); err == nil {
				info["hostname"] = h.Hostname
				info["platform"] = h.Platform
				info["platformVersion"] = h.PlatformVersion
				info["kernelVersion"] = h.KernelVersion
				info["uptimeSeconds"] = h.Uptime
			} else {
				log.Debug(log.CatTool, "host info unavailable", "error", err)
			}

			if n, err := cpu.CountsWithContext(ctx, true); err == nil {
				info["cpus"] = n
			}

			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("read memory stats: %w", err)
			}
			info["memory"] = map[string]any{
				"total":       vm.Total,
				"available":   vm.Available,
				"usedPercent": vm.UsedPercent,
			}

			// Load averages are not available on every platform.
			if avg, err := load.AvgWithContext(ctx); err == nil {
				info["load"] = []float64{avg.Load1, avg.Load5, avg.Load15}
			}
			return info, nil
		},
	}
}

type processListArgs struct {
	Limit int    `json:"limit"`
	Name  string `json:"name"`
}

type processEntry struct {
	PID   int32  `json:"pid"`
	Name  string `json:"name"`
	RSS   uint64 `json:"rss"`
	Owner string `json:"owner,omitempty"`
}

const defaultProcessLimit = 50

// ProcessList lists running processes, largest resident memory first.
func ProcessList() Tool {
	return Tool{
		Name:        "process.list",
		Description: "List running processes by resident memory; filter with name, cap with limit",
		Permission:  PermProcess,
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args processListArgs
			if err := DecodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			if args.Limit <= 0 {
				args.Limit = defaultProcessLimit
			}

			procs, err := process.ProcessesWithContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("list processes: %w", err)
			}

			entries := make([]processEntry, 0, len(procs))
			for _, p := range procs {
				name, err := p.NameWithContext(ctx)
				if err != nil {
					// Exited while listing, or not ours to inspect.
					continue
				}
				if args.Name != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(args.Name)) {
					continue
				}
				e := processEntry{PID: p.Pid, Name: name}
				if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
					e.RSS = mi.RSS
				}
				if owner, err := p.UsernameWithContext(ctx); err == nil {
					e.Owner = owner
				}
				entries = append(entries, e)
			}

			slices.SortFunc(entries, func(a, b processEntry) int {
				switch {
				case a.RSS > b.RSS:
					return -1
				case a.RSS < b.RSS:
					return 1
				default:
					return int(a.PID - b.PID)
				}
			})
			total := len(entries)
			if len(entries) > args.Limit {
				entries = entries[:args.Limit]
			}
			return map[string]any{"total": total, "processes": entries}, nil
		},
	}
}
