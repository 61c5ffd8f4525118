package summarizer

import (
	"regexp"
	"strings"
)

var (
	// (Note: ...) and [Note: ...] anywhere in the text.
	inlineDisclaimerRe = regexp.MustCompile(`(?i)[\(\[]\s*(?:note|disclaimer|注|注意)\s*[:：][^\)\]]*[\)\]]`)

	// A whole line that is only a disclaimer.
	lineDisclaimerRe = regexp.MustCompile(`(?i)^\s*(?:note|disclaimer|注|注意|※)\s*[:：]`)

	// Leading label the model sometimes echoes from the prompt.
	labelRe = regexp.MustCompile(`(?i)^\s*(?:要約|summary)\s*[:：]\s*`)
)

var quotePairs = [][2]string{
	{`"`, `"`},
	{"“", "”"},
	{"「", "」"},
	{"『", "』"},
	{"'", "'"},
}

// SanitizeSummary strips AI disclaimers, echoed labels, markdown emphasis and
// quotes wrapping the whole text, and joins the remaining lines.
func SanitizeSummary(s string) string {
	s = inlineDisclaimerRe.ReplaceAllString(s, "")

	var kept []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || lineDisclaimerRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	s = strings.Join(kept, " ")

	s = labelRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.Join(strings.Fields(s), " ")

	for _, q := range quotePairs {
		if len(s) <= len(q[0])+len(q[1]) || !strings.HasPrefix(s, q[0]) || !strings.HasSuffix(s, q[1]) {
			continue
		}
		inner := s[len(q[0]) : len(s)-len(q[1])]
		if !strings.Contains(inner, q[0]) && !strings.Contains(inner, q[1]) {
			s = strings.TrimSpace(inner)
		}
		break
	}
	return s
}
