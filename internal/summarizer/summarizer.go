// Package summarizer rewrites article summaries as short Japanese digests.
//
// Passthrough keeps feed descriptions. LLM delegates to a Gemini or OpenAI
// backend; any per-article failure keeps that article's original summary.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/yuhi-sa/daily-briefing/internal/article"
	"github.com/yuhi-sa/daily-briefing/internal/cache"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/ratelimit"
	"github.com/yuhi-sa/daily-briefing/internal/retry"
	"github.com/yuhi-sa/daily-briefing/internal/scraper"
)

const (
	promptTemplate = "以下のニュース記事のタイトルと概要を読んで、日本語で1〜2文の簡潔な要約を書いてください。" +
		"要約のみを返してください。\n\n" +
		"タイトル: %s\n" +
		"概要: %s"

	maxPromptBodyRunes = 6000
)

type Summarizer interface {
	Summarize(ctx context.Context, articles []article.Article) []article.Article
	Name() string
}

// Passthrough keeps the feed-provided summaries.
type Passthrough struct {
	Logger *slog.Logger
}

var _ Summarizer = Passthrough{}

func (p Passthrough) Name() string { return "passthrough" }

func (p Passthrough) Summarize(_ context.Context, articles []article.Article) []article.Article {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Keeping original summaries", "articles", len(articles))
	return articles
}

// Backend produces one completion for a prompt.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// LLM summarizes articles one at a time through a Backend.
type LLM struct {
	backend     Backend
	limiter     *ratelimit.Limiter
	cache       *cache.Cache
	scraper     *scraper.Scraper
	scrapeLimit int
	briefMax    int
	retry       retry.Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	closer      func() error
}

var _ Summarizer = (*LLM)(nil)

type LLMOption func(*LLM)

func WithLimiter(l *ratelimit.Limiter) LLMOption { return func(s *LLM) { s.limiter = l } }
func WithCache(c *cache.Cache) LLMOption         { return func(s *LLM) { s.cache = c } }
func WithRetry(cfg retry.Config) LLMOption       { return func(s *LLM) { s.retry = cfg } }
func WithMetrics(m *metrics.Metrics) LLMOption   { return func(s *LLM) { s.metrics = m } }

func WithLogger(l *slog.Logger) LLMOption {
	return func(s *LLM) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScraper fetches article bodies (concurrency at a time) to give the
// model more than the feed description.
func WithScraper(sc *scraper.Scraper, concurrency int) LLMOption {
	return func(s *LLM) {
		s.scraper = sc
		s.scrapeLimit = concurrency
	}
}

// WithBriefingLimit caps how many articles a briefing covers.
func WithBriefingLimit(n int) LLMOption {
	return func(s *LLM) {
		if n > 0 {
			s.briefMax = n
		}
	}
}

func withCloser(fn func() error) LLMOption { return func(s *LLM) { s.closer = fn } }

func NewLLM(backend Backend, opts ...LLMOption) *LLM {
	s := &LLM{
		backend:  backend,
		briefMax: DefaultBriefingArticles,
		retry:    retry.Config{MaxAttempts: 1},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LLM) Name() string { return s.backend.Name() }

// Close releases the backend client, if it holds one.
func (s *LLM) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *LLM) Summarize(ctx context.Context, articles []article.Article) []article.Article {
	s.logger.Info("Summarizing articles in Japanese", "backend", s.backend.Name(), "articles", len(articles))

	var bodies map[string]string
	if s.scraper != nil && len(articles) > 0 {
		bodies = s.scraper.FullText(ctx, articles, s.scrapeLimit)
	}

	out := make([]article.Article, 0, len(articles))
	exhausted := false
	for _, a := range articles {
		if exhausted {
			out = append(out, a)
			continue
		}

		body := a.Summary
		if full, ok := bodies[a.Link]; ok && len(full) > len(body) {
			body = full
		}

		summary, err := s.summarizeOne(ctx, a.Title, body)
		switch {
		case err == nil:
			out = append(out, a.WithSummary(summary))
			if s.metrics != nil {
				s.metrics.IncrementSummaryOK()
			}
		case errors.Is(err, ratelimit.ErrBudgetExhausted):
			s.logger.Warn("LLM budget exhausted, keeping original summaries for the rest", "title", a.Title)
			exhausted = true
			out = append(out, a)
		default:
			s.logger.Warn("Fallback to original summary", "title", a.Title, "error", err)
			out = append(out, a)
			if s.metrics != nil {
				s.metrics.IncrementSummaryFailed()
			}
		}
	}
	return out
}

func (s *LLM) summarizeOne(ctx context.Context, title, body string) (string, error) {
	key := cache.Key(s.backend.Name(), title, body)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if s.limiter != nil {
				s.limiter.RecordCacheHit()
			}
			return v, nil
		}
	}

	text, err := s.complete(ctx, BuildPrompt(title, body))
	if err != nil {
		return "", err
	}

	summary := SanitizeSummary(text)
	if summary == "" {
		return "", fmt.Errorf("empty response from %s", s.backend.Name())
	}
	if s.cache != nil {
		s.cache.Set(key, summary)
	}
	return summary, nil
}

// complete spends one request from the budget and retries transient
// backend failures.
func (s *LLM) complete(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return "", err
		}
	}
	var text string
	err := retry.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		out, err := s.backend.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}

// BuildPrompt fills the Japanese summary prompt, cutting long bodies on a
// sentence boundary where one is near the limit.
func BuildPrompt(title, body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) > maxPromptBodyRunes {
		trimmed := string([]rune(body)[:maxPromptBodyRunes])
		if idx := strings.LastIndexAny(trimmed, ".。"); idx >= 0 && utf8.RuneCountInString(trimmed[:idx]) > maxPromptBodyRunes/5 {
			_, size := utf8.DecodeRuneInString(trimmed[idx:])
			trimmed = trimmed[:idx+size]
		}
		body = trimmed
	}
	return fmt.Sprintf(promptTemplate, title, body)
}
