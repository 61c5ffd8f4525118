package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuhi-sa/daily-briefing/internal/papers"
	"github.com/yuhi-sa/daily-briefing/internal/publish"
	"github.com/yuhi-sa/daily-briefing/internal/retry"
	"github.com/yuhi-sa/daily-briefing/internal/seen"
	"github.com/yuhi-sa/daily-briefing/internal/summarizer"
)

// PaperResult describes what a paper run produced. Paper is nil when every
// candidate was already featured.
type PaperResult struct {
	Paper  *papers.Paper
	Pruned int
	Path   string
	PRURL  string
}

// RunPaper features one highly cited paper not shown in the retention
// window: search the day's topic, summarize, write and optionally publish.
func (a *App) RunPaper(ctx context.Context) (*PaperResult, error) {
	start := a.now()
	res, err := a.runPaper(ctx)
	a.metrics.RecordRunDuration(a.now().Sub(start))
	if err != nil {
		a.metrics.SetError(err.Error())
		a.logger.Error("Paper run failed", "error", err)
		return res, err
	}
	a.metrics.SetLastRun()
	return res, nil
}

func (a *App) runPaper(ctx context.Context) (*PaperResult, error) {
	cfg := a.cfg
	today := a.now().UTC()
	dateStr := today.Format("2006-01-02")
	res := &PaperResult{}

	catalog, err := papers.Load(cfg.PapersConfigPath)
	if err != nil {
		return res, fmt.Errorf("failed to load paper topics: %w", err)
	}

	backend, stagePath, err := OpenPaperBackend(cfg)
	if err != nil {
		return res, err
	}
	d := papers.NewDeduplicator(seen.Open(ctx, backend, a.logger), a.now)
	res.Pruned = d.Prune(catalog.WindowDays)

	retryCfg := retry.Config{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
		Backoff:     true,
	}
	topic := catalog.TopicFor(today)
	client := papers.NewClient(
		papers.WithBaseURL(cfg.SemanticScholarURL),
		papers.WithAPIKey(cfg.SemanticScholarAPIKey),
		papers.WithUserAgent(cfg.UserAgent),
		papers.WithHTTPClient(a.client),
		papers.WithRetry(retryCfg),
		papers.WithLogger(a.logger),
	)
	candidates, err := client.Search(ctx, topic, catalog.SearchLimit)
	if err != nil {
		return res, err
	}
	p, ok := d.FirstUnseen(candidates, catalog.MinCitations)
	if !ok {
		a.logger.Info("No unseen paper for today's topic", "topic", topic.Name, "candidates", len(candidates))
		return res, nil
	}
	res.Paper = &p
	a.logger.Info("Selected paper", "id", p.ID, "title", p.Title, "citations", p.CitationCount)

	llm, closer, err := summarizer.NewBackend(ctx, cfg)
	if err != nil {
		return res, fmt.Errorf("failed to create summarizer: %w", err)
	}
	if closer != nil {
		defer func() {
			if err := closer(); err != nil {
				a.logger.Warn("Failed to close summarizer", "error", err)
			}
		}()
	}
	summary := papers.NewSummarizer(llm, retryCfg, a.logger).Summarize(ctx, p)
	body := papers.FormatPRBody(p, summary, dateStr)

	if cfg.DryRun {
		a.logger.Info("Dry run, paper not written and seen papers not saved", "id", p.ID)
		fmt.Fprintln(a.out, body)
		return res, nil
	}

	res.Path, err = papers.Write(cfg.PapersDir, today, body)
	if err != nil {
		return res, err
	}
	d.MarkSeen(p.ID, p.Title)
	if err := d.Save(ctx); err != nil {
		return res, fmt.Errorf("failed to save seen papers: %w", err)
	}

	if cfg.CreatePR {
		paths := []string{res.Path}
		if stagePath != "" {
			paths = append(paths, stagePath)
		}
		pub := publish.New(a.runner, cfg.RepoDir, cfg.BaseBranch, a.logger)
		res.PRURL, err = pub.Open(ctx, publish.PullRequest{
			Branch: papers.BranchName(today),
			Title:  "Paper of the Day / 今日の論文: " + p.Title,
			Body:   body,
			Commit: "Add paper of the day for " + dateStr,
			Paths:  paths,
		})
		if err != nil && !errors.Is(err, publish.ErrBranchExists) {
			return res, fmt.Errorf("failed to publish paper: %w", err)
		}
	}
	return res, nil
}
