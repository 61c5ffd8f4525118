package papers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/retry"
)

const searchBody = `{"total": 3, "offset": 0, "data": [
  {"paperId": "p1", "title": "Less Cited", "abstract": "A.", "authors": [{"authorId": "1", "name": "Ann"}],
   "year": 2010, "citationCount": 120, "url": "https://www.semanticscholar.org/paper/p1", "openAccessPdf": null},
  {"paperId": "p2", "title": " Most Cited ", "abstract": null, "authors": [{"name": "Bob"}, {"name": "Cy"}],
   "year": null, "citationCount": 9000, "url": "https://www.semanticscholar.org/paper/p2",
   "openAccessPdf": {"url": "https://example.com/p2.pdf", "status": "GREEN"}},
  {"paperId": "", "title": "No id", "citationCount": 99999}
]}`

func searchClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetry(retry.Config{MaxAttempts: 3, Delay: time.Millisecond}),
		WithLogger(quiet),
	}
	return NewClient(append(base, opts...)...)
}

func TestSearch(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graph/v1/paper/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("query") + "|" + r.URL.Query().Get("limit")
		gotKey = r.Header.Get("x-api-key")
		if !strings.Contains(r.URL.Query().Get("fields"), "openAccessPdf") {
			t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	topic := Topic{Name: "distributed_systems", LabelJA: "大規模分散処理", Query: "distributed systems"}
	papers, err := searchClient(srv, WithAPIKey("s2-key")).Search(context.Background(), topic, 20)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotQuery != "distributed systems|20" || gotKey != "s2-key" {
		t.Errorf("request query=%q key=%q", gotQuery, gotKey)
	}
	if len(papers) != 2 {
		t.Fatalf("expected 2 papers, got %d: %+v", len(papers), papers)
	}

	top := papers[0]
	if top.ID != "p2" || top.Title != "Most Cited" || top.Year != 0 || top.Abstract != "" {
		t.Errorf("top paper = %+v", top)
	}
	if top.PDFURL != "https://example.com/p2.pdf" || strings.Join(top.Authors, ",") != "Bob,Cy" {
		t.Errorf("top paper links/authors = %+v", top)
	}
	if top.CategoryLocalized != "大規模分散処理" || papers[1].PDFURL != "" {
		t.Errorf("papers = %+v", papers)
	}
}

func TestSearch_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	if _, err := searchClient(srv).Search(context.Background(), Topic{Name: "t", Query: "q"}, 10); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := searchClient(srv).Search(context.Background(), Topic{Name: "t", Query: "q"}, 10)
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("Search() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestSearch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	if _, err := searchClient(srv).Search(context.Background(), Topic{Name: "t", Query: "q"}, 10); err == nil {
		t.Error("expected decode error")
	}
}
