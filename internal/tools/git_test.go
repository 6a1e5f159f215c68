package tools

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGitStatus(t *testing.T) {
	out := "## main...origin/main [ahead 2, behind 1]\n M cmd/root.go\n?? notes.txt\nA  internal/new.go\n"

	res := ParseGitStatus(out)
	require.Equal(t, "main", res.Branch)
	require.Equal(t, "origin/main", res.Upstream)
	require.Equal(t, 2, res.Ahead)
	require.Equal(t, 1, res.Behind)
	require.False(t, res.Clean)
	require.Equal(t, []GitChange{
		{Status: "M", Path: "cmd/root.go"},
		{Status: "??", Path: "notes.txt"},
		{Status: "A", Path: "internal/new.go"},
	}, res.Changes)
}

func TestParseGitStatus_CleanWithoutUpstream(t *testing.T) {
	res := ParseGitStatus("## feature\n")
	require.Equal(t, "feature", res.Branch)
	require.Empty(t, res.Upstream)
	require.True(t, res.Clean)
	require.NotNil(t, res.Changes)
}

func TestParseGitStatus_NoCommits(t *testing.T) {
	res := ParseGitStatus("## No commits yet on main\n")
	require.Equal(t, "main", res.Branch)
}

func TestGitStatus_FreshRepository(t *testing.T) {
	requireUnix(t)
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	require.NoError(t, exec.Command("git", "init", "-q", "-b", "main", dir).Run())

	got, err := call(t, GitStatus(0), map[string]any{"dir": dir})
	require.NoError(t, err)
	res := got.(GitStatusResult)
	require.Equal(t, "main", res.Branch)
	require.True(t, res.Clean)
}

func TestGitStatus_NotARepository(t *testing.T) {
	requireUnix(t)
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	_, err := call(t, GitStatus(0), map[string]any{"dir": t.TempDir()})
	require.ErrorContains(t, err, "git status")
}
