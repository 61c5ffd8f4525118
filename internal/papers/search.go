package papers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/retry"
)

const (
	defaultSearchURL = "https://api.semanticscholar.org"
	searchFields     = "title,abstract,authors,year,citationCount,url,openAccessPdf"
	maxResponseBytes = 4 << 20
)

// Client searches the Semantic Scholar Graph API.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
	retry     retry.Config
	logger    *slog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithAPIKey(key string) Option         { return func(c *Client) { c.apiKey = key } }
func WithUserAgent(ua string) Option       { return func(c *Client) { c.userAgent = ua } }
func WithRetry(cfg retry.Config) Option    { return func(c *Client) { c.retry = cfg } }
func WithLogger(l *slog.Logger) Option     { return func(c *Client) { c.logger = l } }

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultSearchURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.Config{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Data []struct {
		PaperID  string `json:"paperId"`
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
		Authors  []struct {
			Name string `json:"name"`
		} `json:"authors"`
		Year          int    `json:"year"`
		CitationCount int    `json:"citationCount"`
		URL           string `json:"url"`
		OpenAccessPDF *struct {
			URL string `json:"url"`
		} `json:"openAccessPdf"`
	} `json:"data"`
}

// Search returns up to limit papers for topic, most cited first.
func (c *Client) Search(ctx context.Context, topic Topic, limit int) ([]Paper, error) {
	q := url.Values{}
	q.Set("query", topic.Query)
	q.Set("fields", searchFields)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/graph/v1/paper/search?" + q.Encode()

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Warn("Paper search failed, retrying", "topic", topic.Name, "attempt", attempt, "error", err)
	}
	var resp searchResponse
	err := retry.WithRetry(ctx, cfg, func(ctx context.Context) error {
		return c.get(ctx, endpoint, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search papers for %s: %w", topic.Name, err)
	}

	papers := make([]Paper, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.PaperID == "" || strings.TrimSpace(d.Title) == "" {
			continue
		}
		p := Paper{
			ID:                d.PaperID,
			Title:             strings.TrimSpace(d.Title),
			Abstract:          strings.TrimSpace(d.Abstract),
			Year:              d.Year,
			CitationCount:     d.CitationCount,
			URL:               d.URL,
			Category:          topic.Name,
			CategoryLocalized: topic.LabelJA,
		}
		for _, a := range d.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		if d.OpenAccessPDF != nil {
			p.PDFURL = d.OpenAccessPDF.URL
		}
		papers = append(papers, p)
	}
	sort.SliceStable(papers, func(i, j int) bool {
		return papers[i].CitationCount > papers[j].CitationCount
	})

	c.logger.Info("Searched papers", "topic", topic.Name, "results", len(papers))
	return papers, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out *searchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paper search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("paper search API error: status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	*out = searchResponse{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to decode paper search response: %w", err))
	}
	return nil
}
