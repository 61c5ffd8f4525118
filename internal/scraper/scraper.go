package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/yuhi-sa/daily-briefing/internal/article"
)

const (
	minParagraphLen = 40
	maxContentLen   = 1800
)

// Selectors tried in order; the first one yielding three paragraphs wins.
var contentSelectors = []string{
	"article p",
	".article-body p",
	".post-content p",
	".entry-content p",
	"main p",
	"#content p",
	"p",
}

var junkIndicators = []string{
	"cookie", "subscribe", "sign up", "newsletter", "advertisement",
	"all rights reserved", "privacy policy", "log in",
	"ログイン", "会員登録", "広告",
}

type Scraper struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

func New(client *http.Client, userAgent string, logger *slog.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{client: client, userAgent: userAgent, logger: logger}
}

// Extract fetches url and returns the main body text.
func (s *Scraper) Extract(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("error building request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error parsing HTML: %w", err)
	}

	content := ExtractContent(doc)
	if content == "" {
		return "", fmt.Errorf("no content found")
	}
	return content, nil
}

// ExtractContent collects body paragraphs, skipping boilerplate, and keeps
// whole paragraphs up to maxContentLen bytes.
func ExtractContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, aside").Remove()

	var paragraphs []string
	for _, selector := range contentSelectors {
		paragraphs = paragraphs[:0]
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := strings.Join(strings.Fields(sel.Text()), " ")
			if len(text) < minParagraphLen || isJunk(text) {
				return
			}
			paragraphs = append(paragraphs, text)
		})
		if len(paragraphs) >= 3 {
			break
		}
	}

	var b strings.Builder
	for _, p := range paragraphs {
		if b.Len() > 0 && b.Len()+len(p)+2 > maxContentLen {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return b.String()
}

func isJunk(text string) bool {
	lower := strings.ToLower(text)
	for _, indicator := range junkIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// FullText scrapes the body of every linked article, keyed by link.
// Failed or empty pages are left out.
func (s *Scraper) FullText(ctx context.Context, articles []article.Article, concurrency int) map[string]string {
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	texts := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, a := range articles {
		if a.Link == "" {
			continue
		}
		a := a
		g.Go(func() error {
			content, err := s.Extract(gctx, a.Link)
			if err != nil {
				s.logger.Debug("Can't get full content", "url", a.Link, "error", err)
				return nil
			}
			mu.Lock()
			texts[a.Link] = content
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Scraped full text", "requested", len(articles), "ok", len(texts))
	return texts
}
