// Package git reads facts from local clones of watched projects.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner provides git command execution. Interface for testing.
type Runner interface {
	RunGit(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner implements Runner using exec.CommandContext.
type ExecRunner struct{}

func (r *ExecRunner) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Local answers questions about local repositories. Every method returns ""
// when git is missing, the path is not a repository, or the command fails:
// many users have no local clones and that is not an error.
type Local struct {
	runner Runner
	logger *slog.Logger
}

// NewLocal returns a Local using runner. A nil logger uses slog.Default().
func NewLocal(runner Runner, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{runner: runner, logger: logger}
}

// Output runs git in dir and returns trimmed stdout, or "" on any failure.
func (l *Local) Output(ctx context.Context, dir string, args ...string) string {
	if dir == "" {
		return ""
	}
	out, err := l.runner.RunGit(ctx, dir, args...)
	if err != nil {
		l.logger.Debug("git command failed", "dir", dir, "args", args, "error", err)
		return ""
	}
	return out
}

// CurrentBranch returns the checked-out branch in dir.
func (l *Local) CurrentBranch(ctx context.Context, dir string) string {
	b := l.Output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if b == "HEAD" {
		// detached
		return ""
	}
	return b
}

// LastCommitMessage returns the full message of HEAD in dir.
func (l *Local) LastCommitMessage(ctx context.Context, dir string) string {
	return l.Output(ctx, dir, "log", "-1", "--pretty=%B")
}
