package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/config"
	"github.com/yuhi-sa/daily-briefing/internal/formatter"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/seen"
)

const techFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Tech</title>
<item>
  <title>Go 1.30 released with new generics features</title>
  <link>https://example.com/go-release?utm_source=rss</link>
  <description>&lt;p&gt;The Go team announced a release.&lt;/p&gt;</description>
  <pubDate>Sat, 01 Mar 2025 08:00:00 GMT</pubDate>
</item>
<item>
  <title>Kubernetes adds sidecar containers</title>
  <link>https://example.com/k8s</link>
  <description>Sidecars are now stable.</description>
  <pubDate>Sat, 01 Mar 2025 07:00:00 GMT</pubDate>
</item>
</channel></rss>`

const mirrorFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Mirror</title>
<item>
  <title>Go 1.30 released with new generics features</title>
  <link>https://www.example.com/go-release/</link>
  <description>Same story, other site.</description>
  <pubDate>Sat, 01 Mar 2025 09:00:00 GMT</pubDate>
</item>
</channel></rss>`

var (
	quiet   = slog.New(slog.NewTextHandler(io.Discard, nil))
	fixedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tech.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, techFeed)
	})
	mux.HandleFunc("/mirror.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, mirrorFeed)
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	dir := t.TempDir()
	catalog := fmt.Sprintf(`settings:
  max_articles_per_feed: 10
  dedup_window_days: 7
categories:
  - name: Engineering & Technology
    label_ja: エンジニアリング・技術
    feeds:
      - name: Tech
        url: %[1]s/tech.xml
      - name: Mirror
        url: %[1]s/mirror.xml
  - name: Infrastructure
    label_ja: インフラ
    feeds:
      - name: Broken
        url: %[1]s/broken.xml
`, srv.URL)
	path := filepath.Join(dir, "feeds.yml")
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	return &config.Config{
		FeedsConfigPath:   path,
		DigestDir:         filepath.Join(dir, "digests"),
		RepoDir:           dir,
		SeenBackend:       "file",
		SeenPath:          filepath.Join(dir, "data", "seen_articles.json"),
		DedupMatcher:      "combined",
		RatioThreshold:    0.9,
		JaccardThreshold:  0.5,
		MinOverlap:        3,
		Summarizer:        "none",
		FetchConcurrency:  2,
		RequestTimeout:    5 * time.Second,
		RetryAttempts:     1,
		LLMRequestsPerMin: 60,
		BaseBranch:        "main",
	}
}

func newApp(cfg *config.Config, m *metrics.Metrics, opts ...Option) *App {
	base := []Option{
		WithLogger(quiet),
		WithMetrics(m),
		WithClock(func() time.Time { return fixedAt }),
		WithOutput(io.Discard),
	}
	return New(cfg, append(base, opts...)...)
}

func TestRun_WritesDigestAndSavesStore(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv)
	m := metrics.New()

	res, err := newApp(cfg, m).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Fetched != 3 {
		t.Errorf("Fetched = %d, want 3", res.Fetched)
	}
	if res.New != 2 {
		t.Errorf("New = %d, want 2 (mirror is a duplicate)", res.New)
	}
	if res.FeedStats["Broken"] || !res.FeedStats["Tech"] {
		t.Errorf("FeedStats = %v", res.FeedStats)
	}

	digest, err := os.ReadFile(res.DigestPath)
	if err != nil {
		t.Fatalf("digest not written: %v", err)
	}
	for _, want := range []string{
		"## 2025-03-01",
		"## Engineering & Technology / エンジニアリング・技術",
		"### 1. Go 1.30 released with new generics features",
		"The Go team announced a release.",
		"*Feeds: 2 succeeded, 1 failed",
		"Broken",
	} {
		if !strings.Contains(string(digest), want) {
			t.Errorf("digest missing %q:\n%s", want, digest)
		}
	}

	store := seen.Open(context.Background(), seen.NewFileBackend(cfg.SeenPath), quiet)
	if !store.Contains("//example.com/go-release") || !store.Contains("//example.com/k8s") {
		t.Errorf("seen store = %v", store.Snapshot())
	}
	if got := store.Snapshot()["//example.com/k8s"].SeenAt; got != "2025-03-01T12:00:00Z" {
		t.Errorf("seen_at = %q", got)
	}

	if m.DuplicatesByURL != 1 || m.ArticlesAccepted != 2 || m.DigestsWritten != 1 || !m.Healthy() {
		t.Errorf("metrics = %v", m.GetStats())
	}

	// A second run the same day finds nothing new.
	res, err = newApp(cfg, m).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.New != 0 {
		t.Errorf("second run New = %d, want 0", res.New)
	}
	digest, _ = os.ReadFile(res.DigestPath)
	if !strings.Contains(string(digest), "No new articles today.") {
		t.Errorf("expected empty digest:\n%s", digest)
	}
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv)
	cfg.DryRun = true

	var out bytes.Buffer
	res, err := newApp(cfg, metrics.New(), WithOutput(&out)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.DigestPath != "" {
		t.Errorf("DigestPath = %q, want empty", res.DigestPath)
	}
	if !strings.Contains(out.String(), "Kubernetes adds sidecar containers") {
		t.Errorf("dry run output missing article:\n%s", out.String())
	}
	if _, err := os.Stat(cfg.SeenPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("seen store should not be written, stat err = %v", err)
	}
	if _, err := os.Stat(cfg.DigestDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("digest dir should not be created, stat err = %v", err)
	}
}

func TestRun_SQLiteBackend(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv)
	cfg.SeenBackend = "sqlite"
	cfg.SeenPath = filepath.Join(t.TempDir(), "seen.db")

	if _, err := newApp(cfg, metrics.New()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res, err := newApp(cfg, metrics.New()).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.New != 0 {
		t.Errorf("second run New = %d, want 0", res.New)
	}
}

type recordingRunner struct {
	commands []string
}

func (r *recordingRunner) Run(_ context.Context, _ string, name string, args ...string) (string, error) {
	r.commands = append(r.commands, name+" "+strings.Join(args, " "))
	if name == "gh" {
		return "https://github.com/yuhi-sa/daily-briefing/pull/1\n", nil
	}
	return "", nil
}

func TestRun_CreatesPullRequest(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv)
	cfg.CreatePR = true
	runner := &recordingRunner{}

	res, err := newApp(cfg, metrics.New(), WithRunner(runner)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PRURL != "https://github.com/yuhi-sa/daily-briefing/pull/1" {
		t.Errorf("PRURL = %q", res.PRURL)
	}
	wantAdd := "git add " + res.DigestPath + " " + cfg.SeenPath
	found := false
	for _, c := range runner.commands {
		if c == wantAdd {
			found = true
		}
	}
	if !found {
		t.Errorf("missing %q in %v", wantAdd, runner.commands)
	}
}

// llmServer answers chat completions: index lists for article selection, a
// briefing for briefing prompts and a fixed summary otherwise.
func llmServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		prompt := req.Messages[0].Content
		content := "要約です。"
		switch {
		case strings.Contains(prompt, "JSON配列"):
			content = "[1, 0]"
		case strings.Contains(prompt, "ブリーフィング"):
			content = "## 🛠️ テクノロジー\n\n- **Go 1.30**\nジェネリクスが拡張された。注目が集まっています。\n📎 [記事](https://example.com/go-release)\n"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_WritesBriefing(t *testing.T) {
	cfg := testConfig(t, feedServer(t))
	cfg.Summarizer = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = llmServer(t).URL
	cfg.Briefing = true
	cfg.BriefingMaxArticles = 5
	cfg.CreatePR = true
	runner := &recordingRunner{}

	res, err := newApp(cfg, metrics.New(), WithRunner(runner)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.BriefingPath == "" {
		t.Fatal("BriefingPath is empty")
	}
	data, err := os.ReadFile(res.BriefingPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	briefing := string(data)
	if !strings.HasPrefix(briefing, "# Daily Briefing") || !strings.Contains(briefing, "ジェネリクスが拡張された。") {
		t.Errorf("unexpected briefing:\n%s", briefing)
	}
	if strings.Contains(briefing, "注目が集まっています") {
		t.Errorf("filler survived post-processing:\n%s", briefing)
	}

	wantAdd := "git add " + res.DigestPath + " " + res.BriefingPath + " " + cfg.SeenPath
	found := false
	for _, c := range runner.commands {
		if c == wantAdd {
			found = true
		}
	}
	if !found {
		t.Errorf("missing %q in %v", wantAdd, runner.commands)
	}
}

func TestRun_BriefingSkippedWithoutLLM(t *testing.T) {
	cfg := testConfig(t, feedServer(t))
	cfg.Briefing = true

	res, err := newApp(cfg, metrics.New()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.BriefingPath != "" {
		t.Errorf("BriefingPath = %q, want empty", res.BriefingPath)
	}
	if _, err := os.Stat(formatter.BriefingPath(cfg.DigestDir, fixedAt)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("briefing should not be written, stat err = %v", err)
	}
}

func TestRun_SaveFailureAborts(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.SeenPath = filepath.Join(blocker, "seen.json")
	cfg.CreatePR = true
	runner := &recordingRunner{}
	m := metrics.New()

	if _, err := newApp(cfg, m, WithRunner(runner)).Run(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if len(runner.commands) != 0 {
		t.Errorf("publish should not run after a save failure: %v", runner.commands)
	}
	if m.Healthy() {
		t.Error("metrics should report unhealthy")
	}
}

func TestRun_MissingCatalog(t *testing.T) {
	cfg := testConfig(t, feedServer(t))
	cfg.FeedsConfigPath = filepath.Join(t.TempDir(), "missing.yml")
	m := metrics.New()

	if _, err := newApp(cfg, m).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.Healthy() || m.LastError == "" {
		t.Errorf("metrics = %v", m.GetStats())
	}
}

func TestOpenBackend(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.Config
		wantStage string
		wantErr   bool
	}{
		{"file", config.Config{SeenBackend: "file", SeenPath: "a.json"}, "a.json", false},
		{"default", config.Config{SeenPath: "a.json"}, "a.json", false},
		{"sqlite", config.Config{SeenBackend: "sqlite", SeenPath: "a.db"}, "a.db", false},
		{"postgres", config.Config{SeenBackend: "postgres", SeenPostgresDSN: "postgres://u:p@h/db"}, "", false},
		{"postgres without dsn", config.Config{SeenBackend: "postgres"}, "", true},
		{"bad table", config.Config{SeenBackend: "sqlite", SeenPath: "a.db", SeenTable: "x; drop"}, "", true},
		{"unknown", config.Config{SeenBackend: "redis"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, stage, err := OpenBackend(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenBackend() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (b == nil || stage != tt.wantStage) {
				t.Errorf("OpenBackend() = %v, %q", b, stage)
			}
		})
	}
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) SendMessage(_ context.Context, text string) error {
	f.messages = append(f.messages, text)
	return f.err
}

func TestRun_NotifiesAfterPublishing(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv)
	cfg.CreatePR = true
	n := &fakeNotifier{err: errors.New("telegram down")}

	_, err := newApp(cfg, metrics.New(), WithRunner(&recordingRunner{}), WithNotifier(n)).Run(context.Background())
	if err != nil {
		t.Fatalf("notification failure should not fail the run: %v", err)
	}
	if len(n.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(n.messages))
	}
	if !strings.Contains(n.messages[0], "pull/1") || !strings.Contains(n.messages[0], "<b>2</b> new articles") {
		t.Errorf("message = %s", n.messages[0])
	}
}

func TestRun_DryRunDoesNotNotify(t *testing.T) {
	cfg := testConfig(t, feedServer(t))
	cfg.DryRun = true
	n := &fakeNotifier{}

	if _, err := newApp(cfg, metrics.New(), WithNotifier(n)).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(n.messages) != 0 {
		t.Errorf("dry run sent %d messages", len(n.messages))
	}
}
