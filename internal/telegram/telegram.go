// Package telegram announces a finished digest in a Telegram chat or channel.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuhi-sa/daily-briefing/internal/article"
	"github.com/yuhi-sa/daily-briefing/internal/formatter"
	"github.com/yuhi-sa/daily-briefing/internal/retry"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// Telegram rejects messages above 4096 characters.
	maxMessageRunes = 4000
)

type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	retry   retry.Config
	logger  *slog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option          { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithRetry(cfg retry.Config) Option    { return func(c *Client) { c.retry = cfg } }
func WithLogger(l *slog.Logger) Option     { return func(c *Client) { c.logger = l } }

func New(token, chatID string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		chatID:  chatID,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.Config{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage posts an HTML message without link previews. Client errors
// other than 429 are not retried.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Warn("Telegram send failed, retrying", "attempt", attempt, "error", err)
	}
	err = retry.WithRetry(ctx, cfg, func(ctx context.Context) error {
		return c.sendOnce(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	c.logger.Info("Message sent to Telegram", "chat", c.chatID)
	return nil
}

func (c *Client) sendOnce(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// the URL carries the bot token
		return fmt.Errorf("telegram request failed: %s", redact(err.Error(), c.token))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	err = fmt.Errorf("telegram API error: status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

// DigestMessage builds the announcement: article count, per-category counts
// in digest order, feed health and the PR link when there is one.
func DigestMessage(date time.Time, articles []article.Article, prURL string, feedStats map[string]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📰 <b>Daily News Digest / デイリーニュースダイジェスト</b>\n%s\n\n", date.UTC().Format("2006-01-02"))

	if len(articles) == 0 {
		b.WriteString("No new articles today. / 本日の新着記事はありません。\n")
	} else {
		fmt.Fprintf(&b, "<b>%d</b> new articles / 新着 %d件\n", len(articles), len(articles))
		var order []string
		counts := make(map[string]int)
		labels := make(map[string]string)
		for _, a := range articles {
			if _, ok := counts[a.Category]; !ok {
				order = append(order, a.Category)
				labels[a.Category] = a.CategoryLocalized
			}
			counts[a.Category]++
		}
		for _, cat := range order {
			name := cat
			if l := labels[cat]; l != "" && l != cat {
				name += " / " + l
			}
			fmt.Fprintf(&b, "• %s: %d\n", html.EscapeString(name), counts[cat])
		}
	}

	if len(feedStats) > 0 {
		ok, failed := formatter.FeedCounts(feedStats)
		fmt.Fprintf(&b, "\nFeeds: %d ok, %d failed\n", ok, len(failed))
	}
	if prURL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Review the pull request</a>\n", html.EscapeString(prURL))
	}

	msg := b.String()
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		msg = string([]rune(msg)[:maxMessageRunes-3]) + "..."
	}
	return msg
}
