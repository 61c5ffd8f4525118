package papers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// FormatPRBody renders the paper, its summary and links as Markdown. The PDF
// line only appears when an open-access copy exists.
func FormatPRBody(p Paper, summary, dateStr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 📄 今日の論文 / Paper of the Day - %s\n\n", dateStr)
	fmt.Fprintf(&b, "### %s\n\n", p.Title)
	fmt.Fprintf(&b, "- **著者 / Authors**: %s\n", AuthorList(p.Authors))
	fmt.Fprintf(&b, "- **発表年 / Year**: %s\n", YearLabel(p.Year))
	fmt.Fprintf(&b, "- **被引用数 / Citations**: %s\n", FormatCount(p.CitationCount))
	fmt.Fprintf(&b, "- **分野 / Field**: %s\n", p.CategoryLocalized)
	if p.URL != "" {
		fmt.Fprintf(&b, "- **Semantic Scholar**: %s\n", p.URL)
	}
	if p.PDFURL != "" {
		fmt.Fprintf(&b, "- **PDF**: %s\n", p.PDFURL)
	}

	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\n---\n*Generated by the daily-briefing workflow*\n")
	return b.String()
}

// BranchName returns paper/YYYY-MM-DD.
func BranchName(date time.Time) string {
	return "paper/" + date.UTC().Format(dateLayout)
}

// Path returns dir/YYYY-MM-DD.md.
func Path(dir string, date time.Time) string {
	return filepath.Join(dir, date.UTC().Format(dateLayout)+".md")
}

// Write stores content at Path(dir, date), creating dir.
func Write(dir string, date time.Time, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create papers directory: %w", err)
	}
	path := Path(dir, date)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write paper: %w", err)
	}
	return path, nil
}
