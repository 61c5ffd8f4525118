// Package rss fetches feeds concurrently and turns their entries into articles.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/yuhi-sa/daily-briefing/internal/article"
	"github.com/yuhi-sa/daily-briefing/internal/feeds"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/retry"
)

const (
	maxSummaryRunes = 500
	defaultTitle    = "No Title"
)

type Options struct {
	Client      *http.Client
	UserAgent   string
	Concurrency int
	Timeout     time.Duration // per feed, including retries
	Retry       retry.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Fetcher struct {
	opts Options
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{opts: opts}
}

// FetchAll fetches every source with at most Concurrency feeds in flight.
// Articles come back grouped in source order. stats maps each feed name to
// whether it produced at least one article. A failing feed never fails the batch.
func (f *Fetcher) FetchAll(ctx context.Context, sources []feeds.Source, defaultMax int, maxAge time.Duration) ([]article.Article, map[string]bool) {
	results := make([][]article.Article, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			items, err := f.FetchFeed(gctx, src, src.Limit(defaultMax), maxAge)
			if err != nil {
				f.opts.Logger.Warn("Failed to fetch feed", "feed", src.Name, "url", src.URL, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var all []article.Article
	stats := make(map[string]bool, len(sources))
	failed := 0
	for i, src := range sources {
		ok := len(results[i]) > 0
		stats[src.Name] = stats[src.Name] || ok
		if !ok {
			failed++
		}
		all = append(all, results[i]...)
	}

	if f.opts.Metrics != nil {
		f.opts.Metrics.AddArticlesFetched(len(all))
		f.opts.Metrics.AddFeedsFailed(failed)
	}
	f.opts.Logger.Info("Processed RSS feeds", "ok", len(sources)-failed, "total", len(sources), "articles", len(all))
	return all, stats
}

// FetchFeed downloads one feed and converts its first limit entries.
// maxAge > 0 drops entries published longer ago than that.
func (f *Fetcher) FetchFeed(ctx context.Context, src feeds.Source, limit int, maxAge time.Duration) ([]article.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = f.opts.Client
	parser.UserAgent = f.opts.UserAgent

	var feed *gofeed.Feed
	cfg := f.opts.Retry
	cfg.OnRetry = func(attempt int, err error) {
		f.opts.Logger.Debug("Retrying feed", "feed", src.Name, "attempt", attempt, "error", err)
	}
	err := retry.WithRetry(ctx, cfg, func(ctx context.Context) error {
		parsed, err := parser.ParseURLWithContext(src.URL, ctx)
		if err != nil {
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", src.Name, err)
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	now := f.opts.Now().UTC()
	articles := make([]article.Article, 0, len(items))
	for _, item := range items {
		published := publishedAt(item, now)
		if maxAge > 0 && now.Sub(published) > maxAge {
			continue
		}
		articles = append(articles, toArticle(item, src, published))
	}

	f.opts.Logger.Info("Fetched articles", "feed", src.Name, "count", len(articles))
	return articles, nil
}

func toArticle(item *gofeed.Item, src feeds.Source, published time.Time) article.Article {
	title := StripHTML(item.Title)
	if title == "" {
		title = defaultTitle
	}

	raw := item.Description
	if raw == "" {
		raw = item.Content
	}

	id := item.GUID
	if id == "" {
		id = item.Link
	}

	return article.Article{
		ID:                id,
		Title:             title,
		Link:              item.Link,
		Summary:           Truncate(StripHTML(raw), maxSummaryRunes),
		Published:         published,
		SourceName:        src.Name,
		Category:          src.Category,
		CategoryLocalized: src.CategoryLocalized,
	}
}

func publishedAt(item *gofeed.Item, now time.Time) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return now
	}
}

// StripHTML returns the text content of an HTML fragment with entities
// decoded and whitespace collapsed.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	text := s
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
		if err == nil {
			text = doc.Find("body").Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// Truncate cuts s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
