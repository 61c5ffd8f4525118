// Package app wires one daily digest run: fetch, dedup, summarize, render,
// persist and optionally publish.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/article"
	"github.com/yuhi-sa/daily-briefing/internal/config"
	"github.com/yuhi-sa/daily-briefing/internal/dedup"
	"github.com/yuhi-sa/daily-briefing/internal/feeds"
	"github.com/yuhi-sa/daily-briefing/internal/formatter"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/publish"
	"github.com/yuhi-sa/daily-briefing/internal/retry"
	"github.com/yuhi-sa/daily-briefing/internal/rss"
	"github.com/yuhi-sa/daily-briefing/internal/seen"
	"github.com/yuhi-sa/daily-briefing/internal/summarizer"
	"github.com/yuhi-sa/daily-briefing/internal/telegram"
)

// Result describes what a run produced.
type Result struct {
	Fetched      int
	New          int
	Pruned       int
	DigestPath   string
	BriefingPath string
	PRURL        string
	FeedStats    map[string]bool
}

// Notifier announces a written digest.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	runner   publish.Runner
	notifier Notifier
	client   *http.Client
	out      io.Writer
	now      func() time.Time
}

type Option func(*App)

func WithLogger(l *slog.Logger) Option     { return func(a *App) { a.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(a *App) { a.metrics = m } }
func WithRunner(r publish.Runner) Option    { return func(a *App) { a.runner = r } }
func WithHTTPClient(c *http.Client) Option  { return func(a *App) { a.client = c } }
func WithClock(now func() time.Time) Option { return func(a *App) { a.now = now } }
func WithNotifier(n Notifier) Option        { return func(a *App) { a.notifier = n } }

// WithOutput sets where a dry run prints the digest.
func WithOutput(w io.Writer) Option { return func(a *App) { a.out = w } }

func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.Global,
		runner:  publish.ExecRunner{},
		out:     os.Stdout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if a.notifier == nil && cfg.NotifyEnabled() {
		a.notifier = telegram.New(cfg.TelegramToken, cfg.TelegramChatID,
			telegram.WithHTTPClient(a.client),
			telegram.WithLogger(a.logger),
			telegram.WithRetry(retry.Config{
				MaxAttempts: cfg.RetryAttempts,
				Delay:       cfg.RetryDelay,
				Backoff:     true,
			}),
		)
	}
	return a
}

// Run executes one run with the global metrics and default logger.
func Run(ctx context.Context, cfg *config.Config) error {
	_, err := New(cfg).Run(ctx)
	return err
}

// Run executes the pipeline. Only catalogue, seen-store save, digest write and
// publish failures are returned; feed and summary failures degrade the digest.
func (a *App) Run(ctx context.Context) (*Result, error) {
	start := a.now()
	res, err := a.run(ctx)
	a.metrics.RecordRunDuration(a.now().Sub(start))
	if err != nil {
		a.metrics.SetError(err.Error())
		a.logger.Error("Run failed", "error", err)
		return res, err
	}
	a.metrics.SetLastRun()
	return res, nil
}

func (a *App) run(ctx context.Context) (*Result, error) {
	cfg := a.cfg
	today := a.now().UTC()
	res := &Result{}

	catalog, err := feeds.Load(cfg.FeedsConfigPath)
	if err != nil {
		return res, fmt.Errorf("failed to load feeds: %w", err)
	}
	a.logger.Info("Loaded feed catalogue", "feeds", len(catalog.Sources), "path", cfg.FeedsConfigPath)

	matcher, err := dedup.MatcherByName(cfg.DedupMatcher, dedup.MatcherConfig{
		RatioThreshold:   cfg.RatioThreshold,
		JaccardThreshold: cfg.JaccardThreshold,
		MinOverlap:       cfg.MinOverlap,
	})
	if err != nil {
		return res, err
	}

	backend, stagePath, err := OpenBackend(cfg)
	if err != nil {
		return res, err
	}

	fetcher := rss.NewFetcher(rss.Options{
		Client:      a.client,
		UserAgent:   cfg.UserAgent,
		Concurrency: cfg.FetchConcurrency,
		Timeout:     cfg.RequestTimeout * time.Duration(max(cfg.RetryAttempts, 1)),
		Retry: retry.Config{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     true,
		},
		Logger:  a.logger,
		Metrics: a.metrics,
		Now:     a.now,
	})
	fetched, stats := fetcher.FetchAll(ctx, catalog.Sources, catalog.MaxArticlesPerFeed, maxAge(cfg, catalog))
	res.Fetched = len(fetched)
	res.FeedStats = stats

	store := seen.Open(ctx, backend, a.logger)
	d := dedup.New(store,
		dedup.WithMatcher(matcher),
		dedup.WithClock(a.now),
		dedup.WithLogger(a.logger),
		dedup.WithMetrics(a.metrics),
	)
	res.Pruned = d.Prune(windowDays(cfg, catalog))
	fresh := d.FilterNew(fetched)
	res.New = len(fresh)

	var briefing string
	if len(fresh) > 0 {
		s, err := summarizer.New(ctx, cfg, a.logger, a.metrics)
		if err != nil {
			return res, fmt.Errorf("failed to create summarizer: %w", err)
		}
		fresh = s.Summarize(ctx, fresh)
		if cfg.Briefing {
			briefing = a.brief(ctx, s, fresh, today)
		}
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.logger.Warn("Failed to close summarizer", "error", err)
			}
		}
	}

	content := formatter.FormatDigest(fresh, today, stats)
	if cfg.DryRun {
		a.logger.Info("Dry run, digest not written and seen store not saved", "articles", len(fresh))
		fmt.Fprintln(a.out, content)
		if briefing != "" {
			fmt.Fprintln(a.out, briefing)
		}
		return res, nil
	}

	res.DigestPath, err = formatter.WriteDigest(cfg.DigestDir, today, content)
	if err != nil {
		return res, err
	}
	a.metrics.IncrementDigestsWritten()
	a.logger.Info("Digest written", "path", res.DigestPath, "articles", len(fresh))

	if briefing != "" {
		res.BriefingPath, err = formatter.WriteBriefing(cfg.DigestDir, today, briefing)
		if err != nil {
			return res, err
		}
		a.logger.Info("Briefing written", "path", res.BriefingPath)
	}

	if err := d.Save(ctx); err != nil {
		return res, fmt.Errorf("failed to save seen store: %w", err)
	}

	if cfg.CreatePR {
		pub := publish.New(a.runner, cfg.RepoDir, cfg.BaseBranch, a.logger)
		res.PRURL, err = pub.Publish(ctx, publish.Request{
			Date:          today,
			DigestPath:    res.DigestPath,
			BriefingPath:  res.BriefingPath,
			SeenPath:      stagePath,
			DigestContent: content,
			ArticleCount:  len(fresh),
			FeedStats:     stats,
		})
		switch {
		case errors.Is(err, publish.ErrBranchExists):
			// already published today; nothing to announce
			return res, nil
		case err != nil:
			return res, fmt.Errorf("failed to publish digest: %w", err)
		}
	}

	if a.notifier != nil {
		msg := telegram.DigestMessage(today, fresh, res.PRURL, stats)
		if err := a.notifier.SendMessage(ctx, msg); err != nil {
			a.logger.Warn("Failed to send notification", "error", err)
		}
	}
	return res, nil
}

// brief returns the formatted briefing, or "" when s cannot brief or the
// briefing failed. A briefing never fails the run.
func (a *App) brief(ctx context.Context, s summarizer.Summarizer, articles []article.Article, date time.Time) string {
	b, ok := s.(summarizer.Briefer)
	if !ok {
		a.logger.Info("Briefing needs an LLM summarizer, skipping", "summarizer", s.Name())
		return ""
	}
	text, err := b.Brief(ctx, articles, date)
	if err != nil {
		a.logger.Warn("Failed to generate briefing", "error", err)
		return ""
	}
	return formatter.FormatBriefing(text, date)
}

// OpenBackend builds the seen-store backend selected by cfg. stagePath is
// the file to commit alongside the digest, empty for database servers.
func OpenBackend(cfg *config.Config) (backend seen.Backend, stagePath string, err error) {
	return openSeenBackend(cfg, cfg.SeenPath, cfg.SeenTable)
}

// OpenPaperBackend is OpenBackend for featured papers.
func OpenPaperBackend(cfg *config.Config) (backend seen.Backend, stagePath string, err error) {
	return openSeenBackend(cfg, cfg.PapersSeenPath, cfg.PapersSeenTable)
}

func openSeenBackend(cfg *config.Config, path, table string) (seen.Backend, string, error) {
	switch cfg.SeenBackend {
	case "", "file":
		return seen.NewFileBackend(path), path, nil
	case "sqlite":
		b, err := seen.NewSQLiteBackend(path, table)
		if err != nil {
			return nil, "", fmt.Errorf("failed to configure sqlite seen store: %w", err)
		}
		return b, path, nil
	case "postgres":
		b, err := seen.NewPostgresBackend(cfg.SeenPostgresDSN, table)
		if err != nil {
			return nil, "", fmt.Errorf("failed to configure postgres seen store: %w", err)
		}
		return b, "", nil
	default:
		return nil, "", fmt.Errorf("%w: got %q", config.ErrInvalidSeenBackend, cfg.SeenBackend)
	}
}

func windowDays(cfg *config.Config, catalog *feeds.Catalog) int {
	if cfg.DedupWindowDays > 0 {
		return cfg.DedupWindowDays
	}
	return catalog.DedupWindowDays
}

func maxAge(cfg *config.Config, catalog *feeds.Catalog) time.Duration {
	hours := catalog.MaxAgeHours
	if cfg.MaxAgeHours > 0 {
		hours = cfg.MaxAgeHours
	}
	return time.Duration(hours) * time.Hour
}
