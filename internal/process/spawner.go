package process

import (
	"context"
	"time"
)

// Spec describes the worker to launch.
type Spec struct {
	Entry string
	Args  []string
	Env   []string
	Dir   string
	// Grace overrides DefaultGracePeriod when positive.
	Grace time.Duration
}

// Spawner launches worker processes. The supervisor depends on this
// interface so tests can substitute in-memory handles.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// ExecSpawner launches real child processes through SpawnBuilder.
type ExecSpawner struct {
	// CommandFactory, when set, replaces exec.CommandContext.
	CommandFactory CommandFactoryFunc
}

// Spawn starts the worker described by spec.
func (s ExecSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	b := NewSpawnBuilder(ctx).
		WithExecutable(spec.Entry, spec.Args).
		WithEnv(spec.Env).
		WithWorkDir(spec.Dir)
	if spec.Grace > 0 {
		b = b.WithGracePeriod(spec.Grace)
	}
	if s.CommandFactory != nil {
		b = b.WithCommandFactory(s.CommandFactory)
	}
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	return p, nil
}
