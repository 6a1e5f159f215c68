package tools

import (
	"context"
	"time"
)

// Echo returns {"echoed": args.msg}.
func Echo() Tool {
	return Tool{
		Name:        "echo",
		Description: "Return the msg argument unchanged",
		Handler: func(ctx context.Context, call Call) (any, error) {
			return map[string]any{"echoed": call.Args["msg"]}, nil
		},
	}
}

type sleepArgs struct {
	Ms    int `json:"ms"`
	Value any `json:"value"`
}

// Sleep waits args.ms milliseconds, then returns {"slept": ms, "value": args.value}.
func Sleep() Tool {
	return Tool{
		Name:        "sleep",
		Description: "Wait for ms milliseconds and return value",
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args sleepArgs
			if err := DecodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			timer := time.NewTimer(time.Duration(args.Ms) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
				return map[string]any{"slept": args.Ms, "value": args.Value}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// List describes the tools in r.
func List(r *Registry) Tool {
	return Tool{
		Name:        "tools.list",
		Description: "List the tools this agent provides",
		Handler: func(ctx context.Context, call Call) (any, error) {
			return map[string]any{"tools": r.List()}, nil
		},
	}
}

// Deps are the collaborators the built-in tools need.
type Deps struct {
	// Shell runs shell.run commands, e.g. "/bin/sh".
	Shell string
	// ShellTimeout bounds every shell.run and git.status call.
	ShellTimeout time.Duration
	// Memory backs the memory.* tools. They are omitted when nil.
	Memory MemoryStore
}

// RegisterBuiltins registers every built-in tool on r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	builtins := []Tool{
		Echo(),
		Sleep(),
		List(r),
		SystemInfo(),
		ProcessList(),
		ShellRun(deps.Shell, deps.ShellTimeout),
		GitStatus(deps.ShellTimeout),
	}
	if deps.Memory != nil {
		builtins = append(builtins, MemoryTools(deps.Memory)...)
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
