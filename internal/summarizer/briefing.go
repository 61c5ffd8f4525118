package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/yuhi-sa/daily-briefing/internal/article"
)

// DefaultBriefingArticles is how many articles a briefing covers unless
// WithBriefingLimit says otherwise.
const DefaultBriefingArticles = 15

const (
	selectPromptTemplate = "あなたはソフトウェアエンジニア向けニュースの編集者です。" +
		"以下の記事から、読者にとって重要度の高いものを最大%d件選んでください。" +
		"選んだ記事の番号をJSON配列(例: [0, 3, 5])のみで返してください。\n\n%s"

	briefingPromptTemplate = "あなたはソフトウェアエンジニア向けのデイリーブリーフィングの編集者です。" +
		"%sのニュースから、以下の記事だけを使って日本語のブリーフィングを書いてください。\n\n" +
		"## 形式\n" +
		"次の見出しを使い、該当する記事がない見出しは省略してください。\n" +
		"## 🔥 本日のハイライト\n## 🛠️ テクノロジー\n## 🔒 セキュリティ\n## 📈 マーケット\n## 🔮 今後の注目\n\n" +
		"## ルール\n" +
		"- 各項目は「- **見出し**」で始め、1〜3文の事実と「📎 [記事](URL)」で終える。\n" +
		"- バージョン番号、日付、金額、割合など具体的な数値を優先する。\n" +
		"- 「注目が集まっています」「急務です」のような定型句や感想は書かない。\n" +
		"- 記事にない情報を補わない。\n\n" +
		"## 記事\n%s"

	selectSummaryRunes = 200

	dataShortageNotice = "- ⚠️ データ不足: 具体的な数値を含む記事がありませんでした。"
)

var ErrNothingToBrief = errors.New("no articles to brief")

// Briefer writes one cross-article briefing for a run.
type Briefer interface {
	Brief(ctx context.Context, articles []article.Article, date time.Time) (string, error)
}

var _ Briefer = (*LLM)(nil)

// Topics a reader of the briefing follows. arXiv listings outside them are
// not worth a model call.
var readerTopicsRe = regexp.MustCompile(`(?i)\b(?:` +
	`llms?|large language models?|language models?|transformers?|agents?|rag|retrieval-augmented|` +
	`code generation|software|programming|compilers?|program synthesis|` +
	`security|vulnerabilit(?:y|ies)|exploits?|zero-day|malware|intrusion|fuzzing|` +
	`kubernetes|containers?|microservices?|serverless|cloud|devops|` +
	`distributed systems?|databases?|storage systems?|operating systems?` +
	`)\b`)

// Sentences carrying any of these are filler and get dropped.
var bannedPhrases = []string{
	"注目が集まっています",
	"注目が集まる",
	"急務です",
	"急務となっています",
	"目が離せません",
	"動向が注目されます",
	"重要性が高まっています",
	"と言えるでしょう",
}

var (
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
	bareURLRe      = regexp.MustCompile(`https?://\S+`)
	multiSpaceRe   = regexp.MustCompile(`[ \t\x{3000}]{2,}`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	listMarkerRe   = regexp.MustCompile(`^\s*(?:[-*]|\d+\.)\s+`)
)

// IsRelevantForReader reports whether a is worth offering to the briefing.
// Only arXiv listings are filtered; everything else passes.
func IsRelevantForReader(a article.Article) bool {
	if !isArxiv(a.Link) {
		return true
	}
	return readerTopicsRe.MatchString(a.Title + " " + a.Summary)
}

func isArxiv(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "arxiv.org" || strings.HasSuffix(host, ".arxiv.org")
}

// SelectArticles asks the model which articles deserve the briefing, at most
// limit of them. Irrelevant arXiv listings are never offered. The returned
// indices point into articles, in the order the model gave them.
func (s *LLM) SelectArticles(ctx context.Context, articles []article.Article, limit int) ([]int, error) {
	offered := relevantIndices(articles)
	if len(offered) == 0 || limit < 1 {
		return nil, nil
	}

	var list strings.Builder
	for n, i := range offered {
		a := articles[i]
		fmt.Fprintf(&list, "[%d] %s (%s)\n%s\n\n", n, a.Title, a.SourceName, truncateRunes(a.Summary, selectSummaryRunes))
	}

	text, err := s.complete(ctx, fmt.Sprintf(selectPromptTemplate, limit, list.String()))
	if err != nil {
		return nil, err
	}
	picked, err := parseIndices(text)
	if err != nil {
		return nil, err
	}

	out := make([]int, 0, min(limit, len(picked)))
	taken := make(map[int]bool)
	for _, n := range picked {
		if n < 0 || n >= len(offered) || taken[n] {
			continue
		}
		taken[n] = true
		out = append(out, offered[n])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Brief writes the sectioned Japanese briefing for date. When selection
// fails the first relevant articles are used instead.
func (s *LLM) Brief(ctx context.Context, articles []article.Article, date time.Time) (string, error) {
	picked, err := s.SelectArticles(ctx, articles, s.briefMax)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		s.logger.Warn("Article selection failed, briefing the first relevant articles", "error", err)
		picked = relevantIndices(articles)
		picked = picked[:min(len(picked), s.briefMax)]
	}
	if len(picked) == 0 {
		return "", ErrNothingToBrief
	}

	var list strings.Builder
	for _, i := range picked {
		a := articles[i]
		fmt.Fprintf(&list, "- タイトル: %s\n  ソース: %s\n  URL: %s\n  概要: %s\n\n", a.Title, a.SourceName, a.Link, a.Summary)
	}
	prompt := fmt.Sprintf(briefingPromptTemplate, date.UTC().Format("2006-01-02"), list.String())

	text, err := s.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate briefing: %w", err)
	}
	out := PostProcessBriefing(text)
	if out == "" {
		return "", fmt.Errorf("empty briefing from %s", s.backend.Name())
	}
	s.logger.Info("Briefing generated", "backend", s.backend.Name(), "articles", len(picked))
	return out, nil
}

func relevantIndices(articles []article.Article) []int {
	var out []int
	for i, a := range articles {
		if IsRelevantForReader(a) {
			out = append(out, i)
		}
	}
	return out
}

// parseIndices reads the first JSON integer array in text.
func parseIndices(text string) ([]int, error) {
	start := strings.Index(text, "[")
	if start < 0 {
		return nil, fmt.Errorf("no index list in selection: %q", text)
	}
	end := strings.Index(text[start:], "]")
	if end < 0 {
		return nil, fmt.Errorf("unterminated index list in selection: %q", text)
	}
	var out []int
	if err := json.Unmarshal([]byte(text[start:start+end+1]), &out); err != nil {
		return nil, fmt.Errorf("bad index list in selection: %w", err)
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

type briefingSection struct {
	heading string // empty for text before the first "## "
	lines   []string
}

// PostProcessBriefing applies the deterministic quality rules to a model
// briefing: filler sentences are removed, sections without a link are
// dropped (except 今後の注目), market sections without any figure get a
// データ不足 notice and whitespace is tidied.
func PostProcessBriefing(text string) string {
	var out []string
	for _, sec := range splitSections(text) {
		lines := make([]string, 0, len(sec.lines))
		for _, line := range sec.lines {
			if cleaned, ok := dropFiller(line); ok {
				lines = append(lines, cleaned)
			}
		}

		if sec.heading != "" && !strings.Contains(sec.heading, "今後の注目") && !hasLink(lines) {
			continue
		}
		if isMarketSection(sec.heading) && !hasFigures(lines) {
			for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
				lines = lines[:len(lines)-1]
			}
			lines = append(lines, dataShortageNotice, "")
		}

		if sec.heading != "" {
			out = append(out, sec.heading)
		}
		out = append(out, lines...)
	}

	for i, line := range out {
		out[i] = strings.TrimRight(multiSpaceRe.ReplaceAllString(line, " "), " \t")
	}
	result := blankRunRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	result = strings.TrimSpace(result)
	if result == "" {
		return ""
	}
	return result + "\n"
}

func splitSections(text string) []briefingSection {
	var sections []briefingSection
	cur := briefingSection{}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "## ") {
			if cur.heading != "" || len(cur.lines) > 0 {
				sections = append(sections, cur)
			}
			cur = briefingSection{heading: line}
			continue
		}
		cur.lines = append(cur.lines, line)
	}
	if cur.heading != "" || len(cur.lines) > 0 {
		sections = append(sections, cur)
	}
	return sections
}

// dropFiller removes filler sentences from a body line. ok is false when
// nothing of the line is left.
func dropFiller(line string) (cleaned string, ok bool) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return line, true
	}
	marker := listMarkerRe.FindString(line)
	var kept strings.Builder
	removed := false
	for _, sentence := range splitSentences(line[len(marker):]) {
		if containsAny(sentence, bannedPhrases) {
			removed = true
			continue
		}
		kept.WriteString(sentence)
	}
	if !removed {
		return line, true
	}
	rest := strings.TrimSpace(kept.String())
	if rest == "" {
		return "", false
	}
	return marker + rest, true
}

// splitSentences cuts after each Japanese full stop, keeping the stop.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		switch r {
		case '。', '！', '？':
			end := i + utf8.RuneLen(r)
			out = append(out, s[start:end])
			start = end
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasLink(lines []string) bool {
	for _, line := range lines {
		if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
			return true
		}
	}
	return false
}

func isMarketSection(heading string) bool {
	return strings.Contains(heading, "マーケット") || strings.Contains(heading, "市場") ||
		strings.Contains(strings.ToLower(heading), "market")
}

// hasFigures reports whether the prose (links excluded) carries a number.
func hasFigures(lines []string) bool {
	for _, line := range lines {
		line = markdownLinkRe.ReplaceAllString(line, "")
		line = bareURLRe.ReplaceAllString(line, "")
		for _, r := range line {
			if unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}
