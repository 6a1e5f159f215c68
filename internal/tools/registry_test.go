package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, call Call) (any, error) { return nil, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{Name: "b", Handler: noop}))
	require.NoError(t, r.Register(Tool{Name: "a", Description: "first", Permission: PermShell, Handler: noop}))

	tool, ok := r.Lookup("a")
	require.True(t, ok)
	require.Equal(t, PermShell, tool.Permission)

	_, ok = r.Lookup("nonexistent.tool")
	require.False(t, ok)

	require.Equal(t, []string{"a", "b"}, r.Names())
	require.Equal(t, []Descriptor{
		{Name: "a", Description: "first", Permission: PermShell},
		{Name: "b"},
	}, r.List())
}

func TestRegistry_RejectsInvalidTools(t *testing.T) {
	r := NewRegistry()
	require.ErrorContains(t, r.Register(Tool{Handler: noop}), "name is required")
	require.ErrorContains(t, r.Register(Tool{Name: "x"}), "handler is required")

	require.NoError(t, r.Register(Tool{Name: "x", Handler: noop}))
	require.ErrorContains(t, r.Register(Tool{Name: "x", Handler: noop}), "already registered")
	require.Panics(t, func() { r.MustRegister(Tool{Name: "x", Handler: noop}) })
}

func TestPermissions_Allows(t *testing.T) {
	perms := Permissions{PermShell: false, PermGit: true}

	require.True(t, perms.Allows(PermNone))
	require.True(t, perms.Allows(PermGit))
	require.False(t, perms.Allows(PermShell))
	require.False(t, perms.Allows(PermNetwork), "missing permissions are denied")
	require.True(t, AllPermissions().Allows(PermNetwork))

	require.Equal(t, "permission denied: shell", (&DeniedError{Permission: PermShell}).Error())
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, Deps{Memory: newFakeMemory()}))

	require.Equal(t, []string{
		"echo", "git.status", "memory.events", "memory.get", "memory.put",
		"process.list", "shell.run", "sleep", "system.info", "tools.list",
	}, r.Names())
}

func TestRegisterBuiltins_WithoutMemory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, Deps{}))

	_, ok := r.Lookup("memory.get")
	require.False(t, ok)
}
