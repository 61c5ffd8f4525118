// Package formatter renders the daily digest as bilingual Markdown.
package formatter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/yuhi-sa/daily-briefing/internal/article"
)

// MaxSummaryWidth is the display width a summary may take in the digest.
// East Asian wide characters count as two cells.
const MaxSummaryWidth = 600

const dateLayout = "2006-01-02"

type category struct {
	name     string
	label    string
	articles []article.Article
}

// FormatDigest renders articles grouped by category in first-seen order.
// feedStats maps a feed name to whether it produced articles; nil omits the
// feed line.
func FormatDigest(articles []article.Article, date time.Time, feedStats map[string]bool) string {
	var b strings.Builder

	b.WriteString("# Daily News Digest / デイリーニュースダイジェスト\n")
	fmt.Fprintf(&b, "## %s\n\n", date.UTC().Format(dateLayout))

	if len(articles) == 0 {
		b.WriteString("No new articles today. / 本日の新着記事はありません。\n")
		return b.String()
	}

	groups := groupByCategory(articles)
	for _, g := range groups {
		if g.label != "" && g.label != g.name {
			fmt.Fprintf(&b, "## %s / %s\n\n", g.name, g.label)
		} else {
			fmt.Fprintf(&b, "## %s\n\n", g.name)
		}

		for i, a := range g.articles {
			fmt.Fprintf(&b, "### %d. %s\n", i+1, a.Title)
			fmt.Fprintf(&b, "- **Source / ソース**: %s\n", a.SourceName)
			fmt.Fprintf(&b, "- **Published / 公開日時**: %s\n", a.Published.UTC().Format("2006-01-02 15:04 UTC"))
			fmt.Fprintf(&b, "- **Link / リンク**: %s\n", a.Link)
			if s := TruncateWidth(a.Summary, MaxSummaryWidth); s != "" {
				fmt.Fprintf(&b, "- **Summary / 概要**: %s\n", s)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("---\n")
	fmt.Fprintf(&b, "*%d articles from %d categories / %d件の記事、%dカテゴリ*\n",
		len(articles), len(groups), len(articles), len(groups))

	if len(feedStats) > 0 {
		ok, failed := FeedCounts(feedStats)
		fmt.Fprintf(&b, "*Feeds: %d succeeded, %d failed / フィード: %d件 成功、%d件 失敗*\n",
			ok, len(failed), ok, len(failed))
		if len(failed) > 0 {
			fmt.Fprintf(&b, "*Failed feeds / 失敗フィード: %s*\n", strings.Join(failed, ", "))
		}
	}

	return b.String()
}

// FeedCounts returns the number of successful feeds and the sorted names of
// the failed ones.
func FeedCounts(feedStats map[string]bool) (int, []string) {
	ok := 0
	var failed []string
	for name, success := range feedStats {
		if success {
			ok++
		} else {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return ok, failed
}

func groupByCategory(articles []article.Article) []*category {
	var groups []*category
	index := make(map[string]*category)
	for _, a := range articles {
		g, ok := index[a.Category]
		if !ok {
			g = &category{name: a.Category, label: a.CategoryLocalized}
			index[a.Category] = g
			groups = append(groups, g)
		}
		g.articles = append(g.articles, a)
	}
	return groups
}

// TruncateWidth shortens s to at most width display cells, ending with "...".
func TruncateWidth(s string, width int) string {
	s = strings.TrimSpace(s)
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

// DigestPath returns dir/YYYY-MM-DD.md.
func DigestPath(dir string, date time.Time) string {
	return filepath.Join(dir, date.UTC().Format(dateLayout)+".md")
}

// WriteDigest writes content to DigestPath(dir, date), creating dir.
func WriteDigest(dir string, date time.Time, content string) (string, error) {
	return write(dir, DigestPath(dir, date), content, "digest")
}

// FormatBriefing puts the briefing title and date above body.
func FormatBriefing(body string, date time.Time) string {
	return fmt.Sprintf("# Daily Briefing / デイリーブリーフィング\n## %s\n\n%s\n",
		date.UTC().Format(dateLayout), strings.TrimSpace(body))
}

// BriefingPath returns dir/YYYY-MM-DD-briefing.md.
func BriefingPath(dir string, date time.Time) string {
	return filepath.Join(dir, date.UTC().Format(dateLayout)+"-briefing.md")
}

// WriteBriefing writes content to BriefingPath(dir, date), creating dir.
func WriteBriefing(dir string, date time.Time, content string) (string, error) {
	return write(dir, BriefingPath(dir, date), content, "briefing")
}

func write(dir, path, content, what string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", what, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", what, err)
	}
	return path, nil
}
