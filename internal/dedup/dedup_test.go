package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/article"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/seen"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func makeArticle(title, link string) article.Article {
	return article.Article{
		ID:                link,
		Title:             title,
		Link:              link,
		Summary:           "Summary",
		Published:         time.Now().UTC(),
		SourceName:        "Test",
		Category:          "Test",
		CategoryLocalized: "テスト",
	}
}

func newDedup(t *testing.T, opts ...Option) (*Deduplicator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seen_articles.json")
	store := seen.Open(context.Background(), seen.NewFileBackend(path), quiet)
	return New(store, append([]Option{WithLogger(quiet)}, opts...)...), path
}

func TestFilterNew(t *testing.T) {
	tests := []struct {
		name     string
		articles []article.Article
		want     int
	}{
		{
			name: "duplicate urls",
			articles: []article.Article{
				makeArticle("Article 1", "https://example.com/1"),
				makeArticle("Article 2", "https://example.com/1"),
			},
			want: 1,
		},
		{
			name: "tracking params and www",
			articles: []article.Article{
				makeArticle("Go 1.25 is out", "https://www.example.com/go?utm_source=rss"),
				makeArticle("Something else entirely", "https://example.com/go/"),
			},
			want: 1,
		},
		{
			name: "similar titles",
			articles: []article.Article{
				makeArticle("Breaking: Stock Market Crashes Today", "https://a.com/1"),
				makeArticle("Breaking: Stock Market Crashes Today!", "https://b.com/2"),
			},
			want: 1,
		},
		{
			name: "different articles",
			articles: []article.Article{
				makeArticle("Python 4.0 Released", "https://a.com/1"),
				makeArticle("Rust 2.0 Announced", "https://b.com/2"),
			},
			want: 2,
		},
		{
			name: "cross source keyword overlap",
			articles: []article.Article{
				makeArticle("Breaking: Critical CVE-2025-1234 Vulnerability Found in Apache Kafka", "https://reuters.com/kafka-vuln"),
				makeArticle("[Updated] Critical CVE-2025-1234 Vulnerability Discovered in Apache Kafka - Bloomberg", "https://bloomberg.com/kafka-vuln"),
			},
			want: 1,
		},
		{
			name: "different topics",
			articles: []article.Article{
				makeArticle("Google Releases New Kubernetes Security Patch v1.30", "https://a.com/k8s"),
				makeArticle("Microsoft Announces Azure Price Reductions for 2025", "https://b.com/azure"),
			},
			want: 2,
		},
		{
			name: "prefix and suffix noise",
			articles: []article.Article{
				makeArticle("Python 3.14 Released with Major Performance Improvements", "https://a.com/py1"),
				makeArticle("Breaking: Python 3.14 Released with Major Performance Improvements - Reuters", "https://b.com/py2"),
			},
			want: 1,
		},
		{
			name: "empty titles never match",
			articles: []article.Article{
				makeArticle("", "https://a.com/1"),
				makeArticle("", "https://b.com/2"),
			},
			want: 2,
		},
		{
			name:     "empty batch",
			articles: nil,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDedup(t)
			got := d.FilterNew(tt.articles)
			if len(got) != tt.want {
				t.Fatalf("FilterNew() kept %d, want %d", len(got), tt.want)
			}
			if len(got) > 0 && got[0].Title != tt.articles[0].Title {
				t.Errorf("first kept = %q, want the earliest article %q", got[0].Title, tt.articles[0].Title)
			}
		})
	}
}

func TestFilterNew_Persistence(t *testing.T) {
	d1, path := newDedup(t)
	articles := []article.Article{makeArticle("Article A", "https://example.com/a")}
	if got := d1.FilterNew(articles); len(got) != 1 {
		t.Fatalf("first run kept %d, want 1", len(got))
	}
	if err := d1.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store := seen.Open(context.Background(), seen.NewFileBackend(path), quiet)
	d2 := New(store, WithLogger(quiet))
	if got := d2.FilterNew(articles); len(got) != 0 {
		t.Errorf("second run kept %d, want 0", len(got))
	}
}

func TestFilterNew_StoredTitleBlocksNewURL(t *testing.T) {
	d, _ := newDedup(t)
	d.Store().Record("//old.example.com/story", "Stock Market Crashes Today", time.Now())

	got := d.FilterNew([]article.Article{makeArticle("Stock market crashes today", "https://new.example.com/other")})
	if len(got) != 0 {
		t.Errorf("expected title match against the store, kept %d", len(got))
	}
}

func TestFilterNew_EmptyLinkNotPersisted(t *testing.T) {
	d, _ := newDedup(t)
	got := d.FilterNew([]article.Article{
		makeArticle("Linkless announcement of a new Go release", ""),
		makeArticle("Linkless announcement of a new Go release!", "https://example.com/go"),
	})
	if len(got) != 1 {
		t.Fatalf("kept %d, want 1", len(got))
	}
	if d.Store().Len() != 0 {
		t.Errorf("article without link should not be stored, store has %d", d.Store().Len())
	}
}

func TestFilterNew_RecordsAcceptedWithClock(t *testing.T) {
	fixed := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	d, _ := newDedup(t, WithClock(func() time.Time { return fixed }))

	d.FilterNew([]article.Article{makeArticle("Hello", "https://www.example.com/hello/?utm_medium=x")})
	rec, ok := d.Store().Get("//example.com/hello")
	if !ok {
		t.Fatalf("expected record under normalized key, have %v", d.Store().Snapshot())
	}
	if rec.Title != "Hello" || rec.SeenAt != "2025-02-03T04:05:06Z" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestFilterNew_AtMostOneRecordPerKey(t *testing.T) {
	d, _ := newDedup(t, WithMatcher(RatioMatcher{Threshold: 1.1}))
	var batch []article.Article
	for i := 0; i < 20; i++ {
		link := fmt.Sprintf("https://example.com/%d?utm_source=feed%d", i%5, i)
		batch = append(batch, makeArticle(fmt.Sprintf("Title %d", i), link))
	}
	got := d.FilterNew(batch)
	if len(got) != 5 {
		t.Errorf("kept %d, want one per distinct URL (5)", len(got))
	}
	if d.Store().Len() != 5 {
		t.Errorf("store has %d entries, want 5", d.Store().Len())
	}
}

func TestFilterNew_Metrics(t *testing.T) {
	m := metrics.New()
	d, _ := newDedup(t, WithMetrics(m))
	d.FilterNew([]article.Article{
		makeArticle("Article 1", "https://example.com/1"),
		makeArticle("Article 2", "https://example.com/1"),
		makeArticle("Article 1", "https://example.com/3"),
		makeArticle("Unrelated headline about gardening", "https://example.com/4"),
	})
	if m.DuplicatesByURL != 1 || m.DuplicatesByTitle != 1 || m.ArticlesAccepted != 2 {
		t.Errorf("unexpected counters: %v", m.GetStats())
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	m := metrics.New()
	d, _ := newDedup(t, WithClock(func() time.Time { return now }), WithMetrics(m))
	d.Store().Record("//example.com/old", "Old", now.AddDate(0, 0, -10))
	d.Store().Record("//example.com/new", "New", now.AddDate(0, 0, -1))

	if removed := d.Prune(7); removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
	if d.Store().Contains("//example.com/old") {
		t.Error("old entry should be pruned")
	}
	if m.EntriesPruned != 1 {
		t.Errorf("EntriesPruned = %d, want 1", m.EntriesPruned)
	}
}

func TestNew_NilStore(t *testing.T) {
	d := New(nil, WithLogger(quiet))
	if got := d.FilterNew([]article.Article{makeArticle("A", "https://a.com")}); len(got) != 1 {
		t.Fatalf("kept %d, want 1", len(got))
	}
	if err := d.Save(context.Background()); err == nil {
		t.Error("expected Save to fail without a backend")
	}
}
