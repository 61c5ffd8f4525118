package papers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/yuhi-sa/daily-briefing/internal/retry"
)

const (
	summaryPromptTemplate = `あなたはコンピュータサイエンスの研究論文を解説する専門家です。
以下の論文について、日本語で構造化された要約を作成してください。

## 論文情報
- タイトル: %[1]s
- 著者: %[2]s
- 発表年: %[3]s
- 被引用数: %[4]s
- 分野: %[5]s

## アブストラクト
%[6]s

## 出力形式
以下の4つのセクションに分けて要約してください。各セクション3〜5文で簡潔に。

### 📖 背景と動機
この研究が取り組んだ問題と、なぜそれが重要だったのか。

### 🔬 手法・アプローチ
提案された手法やシステムの核心的なアイデア。

### 💡 主要な貢献
この論文が分野にもたらした具体的な成果や新規性。

### 🌍 影響と意義
この研究が後続の研究や実務に与えた影響。被引用数%[4]s件の理由。

要約のみを返してください。冒頭の挨拶や末尾の締め文は不要です。
`

	fallbackTemplate = `### 📖 背景と動機
%s

### 🔬 手法・アプローチ
詳細はアブストラクトを参照してください。

### 💡 主要な貢献
被引用数 %s 件の高インパクト論文です。

### 🌍 影響と意義
%s分野における重要な研究です。
`

	maxPromptAuthors      = 5
	fallbackAbstractRunes = 300
)

// Backend produces one completion for a prompt.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Summarizer writes the four-section Japanese summary of a paper.
type Summarizer struct {
	backend Backend
	retry   retry.Config
	logger  *slog.Logger
}

// NewSummarizer returns a Summarizer. A nil backend always uses the
// template summary.
func NewSummarizer(backend Backend, cfg retry.Config, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{backend: backend, retry: cfg, logger: logger}
}

// Summarize asks the model for a structured summary and falls back to the
// template on any failure.
func (s *Summarizer) Summarize(ctx context.Context, p Paper) string {
	if s.backend == nil {
		s.logger.Info("No LLM configured, using template summary", "paper", p.ID)
		return FallbackSummary(p)
	}

	var text string
	err := retry.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		out, err := s.backend.Complete(ctx, BuildPrompt(p))
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	})
	if err != nil || text == "" {
		s.logger.Warn("Paper summary failed, using template summary", "title", p.Title, "error", err)
		return FallbackSummary(p)
	}
	return text
}

// BuildPrompt fills the structured summary prompt for p.
func BuildPrompt(p Paper) string {
	abstract := p.Abstract
	if abstract == "" {
		abstract = fmt.Sprintf("(アブストラクト未登録。タイトル「%s」から内容を推測してください)", p.Title)
	}
	return fmt.Sprintf(summaryPromptTemplate,
		p.Title, AuthorList(p.Authors), YearLabel(p.Year), FormatCount(p.CitationCount), p.CategoryLocalized, abstract)
}

// FallbackSummary fills the four sections without a model.
func FallbackSummary(p Paper) string {
	background := p.Title
	if p.Abstract != "" {
		background = p.Abstract
		if utf8.RuneCountInString(background) > fallbackAbstractRunes {
			background = string([]rune(background)[:fallbackAbstractRunes]) + "..."
		}
	}
	return fmt.Sprintf(fallbackTemplate, background, FormatCount(p.CitationCount), p.CategoryLocalized)
}

// AuthorList joins the first five authors and counts the rest as 他N名.
func AuthorList(authors []string) string {
	if len(authors) == 0 {
		return "不明"
	}
	list := strings.Join(authors[:min(len(authors), maxPromptAuthors)], ", ")
	if extra := len(authors) - maxPromptAuthors; extra > 0 {
		list += fmt.Sprintf(" 他%d名", extra)
	}
	return list
}

func YearLabel(year int) string {
	if year <= 0 {
		return "不明"
	}
	return fmt.Sprint(year)
}

// FormatCount groups digits with commas: 25000 becomes 25,000.
func FormatCount(n int) string {
	return humanize.Comma(int64(n))
}
