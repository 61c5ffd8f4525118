// Package publish commits a digest on a dated branch and opens a pull
// request with the gh CLI.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/formatter"
)

var ErrBranchExists = errors.New("branch already exists on remote")

// Runner executes a command in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Request describes one digest to publish.
type Request struct {
	Date          time.Time
	DigestPath    string
	BriefingPath  string // empty when no briefing was written
	SeenPath      string // empty when the seen store is not a file
	DigestContent string
	ArticleCount  int
	FeedStats     map[string]bool
}

type Publisher struct {
	runner     Runner
	repoDir    string
	baseBranch string
	logger     *slog.Logger
}

func New(runner Runner, repoDir, baseBranch string, logger *slog.Logger) *Publisher {
	if runner == nil {
		runner = ExecRunner{}
	}
	if baseBranch == "" {
		baseBranch = "main"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{runner: runner, repoDir: repoDir, baseBranch: baseBranch, logger: logger}
}

// BranchName returns digest/YYYY-MM-DD.
func BranchName(date time.Time) string {
	return "digest/" + date.UTC().Format("2006-01-02")
}

// Publish opens the digest PR on digest/YYYY-MM-DD and returns its URL.
func (p *Publisher) Publish(ctx context.Context, req Request) (string, error) {
	dateStr := req.Date.UTC().Format("2006-01-02")
	paths := []string{req.DigestPath}
	for _, path := range []string{req.BriefingPath, req.SeenPath} {
		if path != "" {
			paths = append(paths, path)
		}
	}
	return p.Open(ctx, PullRequest{
		Branch: BranchName(req.Date),
		Title:  "Daily Digest / デイリーダイジェスト: " + dateStr,
		Body:   BuildBody(dateStr, req.ArticleCount, req.FeedStats, req.DigestContent),
		Commit: "Add daily digest for " + dateStr,
		Paths:  paths,
	})
}

// PullRequest is one branch carrying one commit.
type PullRequest struct {
	Branch string
	Title  string
	Body   string
	Commit string
	Paths  []string
}

// Open creates the branch, commits Paths, pushes and opens the PR. It
// returns the PR URL. The base branch is checked out again whatever happens
// after the new branch was created.
func (p *Publisher) Open(ctx context.Context, pr PullRequest) (url string, err error) {
	out, err := p.git(ctx, "ls-remote", "--heads", "origin", pr.Branch)
	if err != nil {
		return "", fmt.Errorf("failed to check remote branch: %w", err)
	}
	if strings.TrimSpace(out) != "" {
		p.logger.Warn("Branch already exists on remote, skipping", "branch", pr.Branch)
		return "", ErrBranchExists
	}

	if _, err := p.git(ctx, "checkout", "-b", pr.Branch); err != nil {
		return "", fmt.Errorf("failed to create branch: %w", err)
	}
	defer func() {
		if _, cerr := p.git(context.WithoutCancel(ctx), "checkout", p.baseBranch); cerr != nil {
			p.logger.Error("Failed to switch back to base branch", "branch", p.baseBranch, "error", cerr)
		}
	}()

	if _, err := p.git(ctx, append([]string{"add"}, pr.Paths...)...); err != nil {
		return "", fmt.Errorf("failed to stage files: %w", err)
	}

	if _, err := p.git(ctx, "commit", "-m", pr.Commit); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	if _, err := p.git(ctx, "push", "-u", "origin", pr.Branch); err != nil {
		return "", fmt.Errorf("failed to push: %w", err)
	}

	out, err = p.runner.Run(ctx, p.repoDir, "gh", "pr", "create",
		"--title", pr.Title,
		"--body", pr.Body,
		"--base", p.baseBranch,
		"--head", pr.Branch,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create PR: %w", err)
	}

	url = strings.TrimSpace(out)
	p.logger.Info("PR created", "url", url)
	return url, nil
}

func (p *Publisher) git(ctx context.Context, args ...string) (string, error) {
	p.logger.Debug("Running git", "args", strings.Join(args, " "))
	return p.runner.Run(ctx, p.repoDir, "git", args...)
}

// BuildBody renders the PR description.
func BuildBody(dateStr string, articleCount int, feedStats map[string]bool, digest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Daily News Digest / デイリーニュースダイジェスト - %s\n\n", dateStr)
	fmt.Fprintf(&b, "- **Articles / 記事数**: %d\n", articleCount)

	if len(feedStats) > 0 {
		ok, failed := formatter.FeedCounts(feedStats)
		fmt.Fprintf(&b, "- **Feeds / フィード**: %d succeeded, %d failed\n", ok, len(failed))
		if len(failed) > 0 {
			b.WriteString("\n### Failed feeds / 失敗したフィード\n")
			for _, name := range failed {
				fmt.Fprintf(&b, "- %s\n", name)
			}
		}
	}

	if digest != "" {
		b.WriteString("\n---\n\n")
		b.WriteString(strings.TrimRight(digest, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n---\n*Generated by the daily-briefing workflow*\n")
	return b.String()
}
