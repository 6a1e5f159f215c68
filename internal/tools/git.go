package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type gitStatusArgs struct {
	Dir string `json:"dir"`
}

// GitChange is one entry of `git status --porcelain`.
type GitChange struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// GitStatusResult is the payload of git.status.
type GitStatusResult struct {
	Branch   string      `json:"branch"`
	Upstream string      `json:"upstream,omitempty"`
	Ahead    int         `json:"ahead"`
	Behind   int         `json:"behind"`
	Clean    bool        `json:"clean"`
	Changes  []GitChange `json:"changes"`
}

// GitStatus reports the branch and working tree changes of args.dir.
func GitStatus(timeout time.Duration) Tool {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return Tool{
		Name:        "git.status",
		Description: "Show the current branch and uncommitted changes of a git repository",
		Permission:  PermGit,
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args gitStatusArgs
			if err := DecodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			res, err := runCommand(ctx, timeout, args.Dir, "git", "status", "--porcelain=v1", "--branch")
			if err != nil {
				return nil, err
			}
			if res.ExitCode != 0 {
				return nil, fmt.Errorf("git status: %s", strings.TrimSpace(res.Stderr))
			}
			return ParseGitStatus(res.Stdout), nil
		},
	}
}

// ParseGitStatus parses `git status --porcelain=v1 --branch` output.
func ParseGitStatus(out string) GitStatusResult {
	res := GitStatusResult{Changes: []GitChange{}}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if header, ok := strings.CutPrefix(line, "## "); ok {
			parseBranchHeader(header, &res)
			continue
		}
		if len(line) < 4 {
			continue
		}
		res.Changes = append(res.Changes, GitChange{
			Status: strings.TrimSpace(line[:2]),
			Path:   line[3:],
		})
	}
	res.Clean = len(res.Changes) == 0
	return res
}

// parseBranchHeader handles "main...origin/main [ahead 1, behind 2]",
// "main" and "No commits yet on main".
func parseBranchHeader(header string, res *GitStatusResult) {
	if rest, ok := strings.CutPrefix(header, "No commits yet on "); ok {
		res.Branch = rest
		return
	}

	track := ""
	if i := strings.Index(header, " ["); i >= 0 {
		track = strings.TrimSuffix(header[i+2:], "]")
		header = header[:i]
	}
	branch, upstream, _ := strings.Cut(header, "...")
	res.Branch = branch
	res.Upstream = upstream

	for _, part := range strings.Split(track, ", ") {
		var n int
		if _, err := fmt.Sscanf(part, "ahead %d", &n); err == nil {
			res.Ahead = n
		} else if _, err := fmt.Sscanf(part, "behind %d", &n); err == nil {
			res.Behind = n
		}
	}
}
