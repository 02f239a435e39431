package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/storer"
)

// GitTools provides read-only inspection of the workspace git
// repository. Mutation (commit, push) stays with run_command so the
// model has to be explicit about it.
type GitTools struct {
	repoPath string
}

// NewGitTools creates git tools rooted at the given repository path.
// If the path is empty or not a git repository, the tools report that
// at call time rather than failing construction.
func NewGitTools(repoPath string) *GitTools {
	return &GitTools{repoPath: repoPath}
}

// Enabled returns true if a repository path is configured.
func (gt *GitTools) Enabled() bool {
	return gt.repoPath != ""
}

// open opens the repository, translating the not-a-repo error into
// something useful for the model.
func (gt *GitTools) open() (*git.Repository, error) {
	if gt.repoPath == "" {
		return nil, fmt.Errorf("git tools not configured")
	}
	repo, err := git.PlainOpen(gt.repoPath)
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, fmt.Errorf("%s is not a git repository", gt.repoPath)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// Status returns the current branch and working tree status.
func (gt *GitTools) Status(ctx context.Context) (string, error) {
	repo, err := gt.open()
	if err != nil {
		return "", err
	}

	var b strings.Builder

	head, err := repo.Head()
	if err == nil {
		b.WriteString(fmt.Sprintf("On branch %s (%s)\n", head.Name().Short(), head.Hash().String()[:8]))
	} else {
		b.WriteString("No commits yet\n")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("get working tree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}

	if status.IsClean() {
		b.WriteString("Working tree clean")
		return b.String(), nil
	}

	for path, st := range status {
		b.WriteString(fmt.Sprintf("%c%c %s\n", st.Staging, st.Worktree, path))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Log returns the most recent commits, newest first.
func (gt *GitTools) Log(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = 10
	}

	repo, err := gt.open()
	if err != nil {
		return "", err
	}

	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var b strings.Builder
	count := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if count >= limit {
			return storer.ErrStop
		}
		subject := c.Message
		if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
			subject = subject[:idx]
		}
		b.WriteString(fmt.Sprintf("%s %s (%s, %s)\n",
			c.Hash.String()[:8],
			subject,
			c.Author.Name,
			c.Author.When.Format("2006-01-02"),
		))
		count++
		return nil
	})
	if err != nil && err != storer.ErrStop {
		return "", fmt.Errorf("iterate log: %w", err)
	}

	if count == 0 {
		return "No commits yet", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Diff summarizes the changes between the working tree and HEAD.
func (gt *GitTools) Diff(ctx context.Context) (string, error) {
	repo, err := gt.open()
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("get working tree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}

	if status.IsClean() {
		return "No changes", nil
	}

	var b strings.Builder
	for path, st := range status {
		var verb string
		switch {
		case st.Worktree == git.Untracked:
			verb = "added (untracked)"
		case st.Worktree == git.Modified || st.Staging == git.Modified:
			verb = "modified"
		case st.Worktree == git.Deleted || st.Staging == git.Deleted:
			verb = "deleted"
		case st.Staging == git.Added:
			verb = "added (staged)"
		case st.Staging == git.Renamed:
			verb = "renamed"
		default:
			verb = "changed"
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", verb, path))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// SetGitTools registers the git inspection tools on the registry.
func (r *Registry) SetGitTools(gt *GitTools) {
	if gt == nil || !gt.Enabled() {
		return
	}

	r.Register(&Tool{
		Name:        "git_status",
		Description: "Show the current git branch and working tree status of the workspace repository.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return gt.Status(ctx)
		},
	})

	r.Register(&Tool{
		Name:        "git_log",
		Description: "Show recent commits in the workspace repository, newest first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of commits to show (default 10)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return gt.Log(ctx, intArg(args, "limit"))
		},
	})

	r.Register(&Tool{
		Name:        "git_diff",
		Description: "Summarize uncommitted changes in the workspace repository (file-level).",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return gt.Diff(ctx)
		},
	})
}
