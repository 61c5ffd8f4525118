// Package config reads runtime settings from the environment.
// The feed catalogue itself lives in YAML and is loaded by package feeds.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingFeedsPath      = errors.New("FEEDS_CONFIG_PATH is required")
	ErrMissingDigestDir      = errors.New("DIGEST_DIR is required")
	ErrInvalidSeenBackend    = errors.New("SEEN_BACKEND must be one of: file, sqlite, postgres")
	ErrMissingPostgresDSN    = errors.New("SEEN_POSTGRES_DSN is required for the postgres backend")
	ErrInvalidMatcher        = errors.New("DEDUP_MATCHER must be one of: ratio, keyword, combined")
	ErrInvalidThreshold      = errors.New("dedup thresholds must be within [0, 1]")
	ErrInvalidMinOverlap     = errors.New("DEDUP_MIN_OVERLAP must be at least 1")
	ErrInvalidDedupWindow    = errors.New("DEDUP_WINDOW_DAYS must be between 0 and 3650")
	ErrInvalidSummarizer     = errors.New("SUMMARIZER must be one of: auto, none, gemini, openai")
	ErrMissingLLMKey         = errors.New("selected summarizer requires its API key")
	ErrInvalidConcurrency    = errors.New("concurrency settings must be at least 1")
	ErrInvalidRetryAttempts  = errors.New("RETRY_ATTEMPTS must be at least 1")
	ErrInvalidRequestTimeout = errors.New("REQUEST_TIMEOUT must be positive")
	ErrIncompleteTelegram    = errors.New("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	ErrInvalidBriefingLimit  = errors.New("BRIEFING_MAX_ARTICLES must be at least 1")
	ErrMissingPapersPath     = errors.New("PAPERS_CONFIG_PATH and PAPERS_DIR are required")
)

// MaxDedupWindowDays caps the retention window (ten years).
const MaxDedupWindowDays = 3650

type Config struct {
	// Inputs and outputs
	FeedsConfigPath string
	DigestDir       string
	RepoDir         string

	// Seen store
	SeenBackend     string // file | sqlite | postgres
	SeenPath        string // JSON file or SQLite database path
	SeenPostgresDSN string
	SeenTable       string

	// Dedup
	DedupMatcher     string // ratio | keyword | combined
	RatioThreshold   float64
	JaccardThreshold float64
	MinOverlap       int
	DedupWindowDays  int // 0 = use the catalogue setting
	MaxAgeHours      int // 0 = use the catalogue setting

	// Summarizer
	Summarizer        string // auto | none | gemini | openai
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	MaxLLMRequests    int // per run, 0 = unlimited
	LLMRequestsPerMin int
	ScrapeFullText    bool
	ScrapeConcurrency int

	// Briefing, written next to the digest when an LLM is configured
	Briefing            bool
	BriefingMaxArticles int

	// Paper of the day
	PapersConfigPath      string
	PapersDir             string
	PapersSeenPath        string // JSON file, or the SQLite database when SEEN_BACKEND=sqlite
	PapersSeenTable       string
	SemanticScholarURL    string
	SemanticScholarAPIKey string

	// Fetching
	FetchConcurrency int
	RequestTimeout   time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	UserAgent        string

	// Publishing
	DryRun     bool
	CreatePR   bool
	BaseBranch string

	// Notification, disabled unless both are set
	TelegramToken  string
	TelegramChatID string

	// App settings
	Debug       bool
	MonitorAddr string // empty disables the monitoring server
}

func Load() (*Config, error) {
	cfg := &Config{
		FeedsConfigPath:     "configs/feeds.yml",
		DigestDir:           "digests",
		RepoDir:             ".",
		SeenBackend:         "file",
		DedupMatcher:        "combined",
		RatioThreshold:      0.9,
		JaccardThreshold:    0.5,
		MinOverlap:          3,
		Summarizer:          "auto",
		GeminiModel:         "gemini-2.0-flash",
		OpenAIModel:         "gpt-4o-mini",
		MaxLLMRequests:      30,
		LLMRequestsPerMin:   15,
		ScrapeConcurrency:   4,
		BriefingMaxArticles: 15,
		PapersConfigPath:    "configs/papers.yml",
		PapersDir:           "papers",
		PapersSeenTable:     "seen_papers",
		SemanticScholarURL:  "https://api.semanticscholar.org",
		FetchConcurrency:    8,
		RequestTimeout:      30 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          2 * time.Second,
		UserAgent:           "daily-briefing/1.0 (+https://github.com/yuhi-sa/daily-briefing)",
		BaseBranch:          "main",
	}

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)
	cfg.DigestDir = getEnvOrDefault("DIGEST_DIR", cfg.DigestDir)
	cfg.RepoDir = getEnvOrDefault("REPO_DIR", cfg.RepoDir)

	cfg.SeenBackend = strings.ToLower(getEnvOrDefault("SEEN_BACKEND", cfg.SeenBackend))
	cfg.SeenPath = getEnvOrDefault("SEEN_DB_PATH", defaultSeenPath(cfg.SeenBackend))
	cfg.SeenPostgresDSN = os.Getenv("SEEN_POSTGRES_DSN")
	cfg.SeenTable = os.Getenv("SEEN_TABLE")

	cfg.DedupMatcher = strings.ToLower(getEnvOrDefault("DEDUP_MATCHER", cfg.DedupMatcher))
	cfg.RatioThreshold = getEnvFloatOrDefault("DEDUP_RATIO_THRESHOLD", cfg.RatioThreshold)
	cfg.JaccardThreshold = getEnvFloatOrDefault("DEDUP_JACCARD_THRESHOLD", cfg.JaccardThreshold)
	cfg.MinOverlap = getEnvIntOrDefault("DEDUP_MIN_OVERLAP", cfg.MinOverlap)
	cfg.DedupWindowDays = getEnvIntOrDefault("DEDUP_WINDOW_DAYS", 0)
	cfg.MaxAgeHours = getEnvIntOrDefault("MAX_AGE_HOURS", 0)

	cfg.Summarizer = strings.ToLower(getEnvOrDefault("SUMMARIZER", cfg.Summarizer))
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", cfg.GeminiModel)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.MaxLLMRequests = getEnvIntOrDefault("MAX_LLM_REQUESTS", cfg.MaxLLMRequests)
	cfg.LLMRequestsPerMin = getEnvIntOrDefault("LLM_REQUESTS_PER_MINUTE", cfg.LLMRequestsPerMin)
	cfg.ScrapeFullText = os.Getenv("SCRAPE_FULL_TEXT") == "true"
	cfg.ScrapeConcurrency = getEnvIntOrDefault("SCRAPE_CONCURRENCY", cfg.ScrapeConcurrency)

	cfg.Briefing = os.Getenv("BRIEFING") == "true"
	cfg.BriefingMaxArticles = getEnvIntOrDefault("BRIEFING_MAX_ARTICLES", cfg.BriefingMaxArticles)

	cfg.PapersConfigPath = getEnvOrDefault("PAPERS_CONFIG_PATH", cfg.PapersConfigPath)
	cfg.PapersDir = getEnvOrDefault("PAPERS_DIR", cfg.PapersDir)
	cfg.PapersSeenPath = getEnvOrDefault("PAPERS_SEEN_PATH", defaultPapersSeenPath(cfg))
	cfg.PapersSeenTable = getEnvOrDefault("PAPERS_SEEN_TABLE", cfg.PapersSeenTable)
	cfg.SemanticScholarURL = getEnvOrDefault("SEMANTIC_SCHOLAR_URL", cfg.SemanticScholarURL)
	cfg.SemanticScholarAPIKey = os.Getenv("SEMANTIC_SCHOLAR_API_KEY")

	cfg.FetchConcurrency = getEnvIntOrDefault("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.RequestTimeout = getEnvDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY", cfg.RetryDelay)
	cfg.UserAgent = getEnvOrDefault("USER_AGENT", cfg.UserAgent)

	cfg.DryRun = os.Getenv("DRY_RUN") == "true"
	cfg.CreatePR = os.Getenv("CREATE_PR") == "true"
	cfg.BaseBranch = getEnvOrDefault("BASE_BRANCH", cfg.BaseBranch)

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}
	cfg.MonitorAddr = os.Getenv("MONITOR_ADDR")

	return cfg, cfg.Validate()
}

func defaultSeenPath(backend string) string {
	if backend == "sqlite" {
		return "data/seen_articles.db"
	}
	return "data/seen_articles.json"
}

// Papers share the article database under SQLite and keep their own JSON
// file otherwise.
func defaultPapersSeenPath(cfg *Config) string {
	if cfg.SeenBackend == "sqlite" {
		return cfg.SeenPath
	}
	return "data/seen_papers.json"
}

// NotifyEnabled reports whether Telegram notification is configured.
func (c *Config) NotifyEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// SummarizerProvider resolves "auto" to the first provider with a key,
// or "none" when neither is configured.
func (c *Config) SummarizerProvider() string {
	if c.Summarizer != "auto" && c.Summarizer != "" {
		return c.Summarizer
	}
	switch {
	case c.GeminiAPIKey != "":
		return "gemini"
	case c.OpenAIAPIKey != "":
		return "openai"
	default:
		return "none"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.FeedsConfigPath == "" {
		return ErrMissingFeedsPath
	}
	if c.DigestDir == "" {
		return ErrMissingDigestDir
	}

	switch c.SeenBackend {
	case "file", "sqlite":
	case "postgres":
		if c.SeenPostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidSeenBackend, c.SeenBackend)
	}

	switch c.DedupMatcher {
	case "ratio", "keyword", "combined":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidMatcher, c.DedupMatcher)
	}
	if c.RatioThreshold < 0 || c.RatioThreshold > 1 || c.JaccardThreshold < 0 || c.JaccardThreshold > 1 {
		return ErrInvalidThreshold
	}
	if c.MinOverlap < 1 {
		return ErrInvalidMinOverlap
	}
	if c.DedupWindowDays < 0 || c.DedupWindowDays > MaxDedupWindowDays {
		return ErrInvalidDedupWindow
	}

	switch c.Summarizer {
	case "auto", "none":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingLLMKey)
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingLLMKey)
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidSummarizer, c.Summarizer)
	}

	if c.FetchConcurrency < 1 || c.ScrapeConcurrency < 1 || c.LLMRequestsPerMin < 1 {
		return ErrInvalidConcurrency
	}
	if c.RetryAttempts < 1 {
		return ErrInvalidRetryAttempts
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return ErrIncompleteTelegram
	}
	if c.BriefingMaxArticles < 1 {
		return ErrInvalidBriefingLimit
	}
	if c.PapersConfigPath == "" || c.PapersDir == "" {
		return ErrMissingPapersPath
	}
	return nil
}
