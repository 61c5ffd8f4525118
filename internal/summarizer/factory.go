package summarizer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/yuhi-sa/daily-briefing/internal/cache"
	"github.com/yuhi-sa/daily-briefing/internal/config"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/ratelimit"
	"github.com/yuhi-sa/daily-briefing/internal/retry"
	"github.com/yuhi-sa/daily-briefing/internal/scraper"
)

// New picks the summarizer configured by cfg. Without an API key for the
// resolved provider it falls back to Passthrough. Callers should Close the
// result when it implements io.Closer.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (Summarizer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, closer, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		logger.Info("No LLM configured, using feed summaries")
		return Passthrough{Logger: logger}, nil
	}

	opts := []LLMOption{
		WithLogger(logger),
		WithMetrics(m),
		WithLimiter(ratelimit.New(cfg.LLMRequestsPerMin, cfg.MaxLLMRequests, logger)),
		WithCache(cache.New(0)),
		WithRetry(retry.Config{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     true,
		}),
		WithBriefingLimit(cfg.BriefingMaxArticles),
		withCloser(closer),
	}
	if cfg.ScrapeFullText {
		sc := scraper.New(&http.Client{Timeout: cfg.RequestTimeout}, cfg.UserAgent, logger)
		opts = append(opts, WithScraper(sc, cfg.ScrapeConcurrency))
	}

	logger.Info("Using LLM summarizer", "backend", backend.Name(), "budget", cfg.MaxLLMRequests)
	return NewLLM(backend, opts...), nil
}

// NewBackend returns the LLM backend for the resolved provider, or a nil
// Backend when its key is missing. closer releases the backend client and
// may be nil.
func NewBackend(ctx context.Context, cfg *config.Config) (backend Backend, closer func() error, err error) {
	switch cfg.SummarizerProvider() {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil, nil
		}
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, nil
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, &http.Client{Timeout: cfg.RequestTimeout}), nil, nil
	default:
		return nil, nil, nil
	}
}
