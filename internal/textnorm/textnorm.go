// Package textnorm strips editorial noise from headlines and scores how close
// two headlines are.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Vocabulary holds the word lists used to clean titles.
type Vocabulary struct {
	StopWords      []string
	NoisePrefixes  []string // "Breaking:", "Update |", ...
	BracketTags    []string // "[Updated]", "[Video]", ...
	SourceSuffixes []string // "- Reuters", "| Bloomberg", ...
}

// DefaultVocabulary returns the English news vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		StopWords: []string{
			"a", "an", "the", "and", "or", "but", "in", "on", "at", "to", "for",
			"of", "with", "by", "from", "is", "are", "was", "were", "be", "been",
			"being", "have", "has", "had", "do", "does", "did", "will", "would",
			"could", "should", "may", "might", "shall", "can", "need", "must",
			"it", "its", "this", "that", "these", "those", "i", "you", "he", "she",
			"we", "they", "me", "him", "her", "us", "them", "my", "your", "his",
			"our", "their", "what", "which", "who", "whom", "how", "when", "where",
			"why", "not", "no", "nor", "so", "if", "then", "than", "too", "very",
			"just", "about", "above", "after", "before", "between", "into", "through",
			"during", "each", "few", "more", "most", "other", "some", "such", "only",
			"own", "same", "also", "as", "up", "out", "off", "over", "under", "again",
			"new", "says", "said", "report", "reports", "according", "via", "now",
			"here", "all", "any", "both", "every", "many", "much",
		},
		NoisePrefixes: []string{
			"breaking", "update", "updated", "exclusive", "opinion", "analysis",
			"report", "watch", "live", "developing", "just in", "alert",
		},
		BracketTags: []string{
			"updated", "update", "breaking", "exclusive", "live", "developing",
			"video", "podcast", "opinion",
		},
		SourceSuffixes: []string{
			"bloomberg", "reuters", "cnbc", "yahoo", "the verge", "ars technica",
			"techcrunch", "wired", "bbc", "cnn", "nyt", "wsj", "seeking alpha",
			"marketwatch", "investing.com", "the hacker news", "bleepingcomputer",
		},
	}
}

// Normalizer cleans titles and extracts keywords using a Vocabulary.
type Normalizer struct {
	stopWords map[string]struct{}
	bracketRe *regexp.Regexp
	prefixRe  *regexp.Regexp
	suffixRe  *regexp.Regexp
}

// New compiles a Normalizer. Empty lists disable the matching step.
func New(v Vocabulary) *Normalizer {
	n := &Normalizer{stopWords: make(map[string]struct{}, len(v.StopWords))}
	for _, w := range v.StopWords {
		n.stopWords[strings.ToLower(w)] = struct{}{}
	}
	if alt := alternation(v.BracketTags); alt != "" {
		n.bracketRe = regexp.MustCompile(`(?i)\[(?:` + alt + `)\]`)
	}
	if alt := alternation(v.NoisePrefixes); alt != "" {
		n.prefixRe = regexp.MustCompile(`(?i)^(?:` + alt + `)\s*[:|\-]\s*`)
	}
	if alt := alternation(v.SourceSuffixes); alt != "" {
		n.suffixRe = regexp.MustCompile(`(?i)\s*[-–—|]\s*(?:` + alt + `)\s*$`)
	}
	return n
}

// alternation quotes each phrase and lets inner spaces match any whitespace run.
func alternation(words []string) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		fields := strings.Fields(w)
		for i, f := range fields {
			fields[i] = regexp.QuoteMeta(f)
		}
		parts = append(parts, strings.Join(fields, `\s+`))
	}
	return strings.Join(parts, "|")
}

var defaultNormalizer = New(DefaultVocabulary())

// Default returns the shared Normalizer built from DefaultVocabulary.
func Default() *Normalizer {
	return defaultNormalizer
}

// NormalizeTitle uses the default vocabulary.
func NormalizeTitle(title string) string {
	return defaultNormalizer.NormalizeTitle(title)
}

// ExtractKeywords uses the default vocabulary.
func ExtractKeywords(title string) map[string]struct{} {
	return defaultNormalizer.ExtractKeywords(title)
}

// KeywordSimilarity uses the default vocabulary.
func KeywordSimilarity(a, b string) (float64, int) {
	return defaultNormalizer.KeywordSimilarity(a, b)
}

// NormalizeTitle removes bracket tags, noise prefixes and source suffixes,
// then punctuation, and returns the lowercased, space-collapsed result.
// Patterns run before punctuation stripping since they rely on delimiters.
func (n *Normalizer) NormalizeTitle(title string) string {
	text := title
	if n.bracketRe != nil {
		text = n.bracketRe.ReplaceAllString(text, "")
	}
	if n.prefixRe != nil {
		text = n.prefixRe.ReplaceAllString(text, "")
	}
	if n.suffixRe != nil {
		text = n.suffixRe.ReplaceAllString(text, "")
	}

	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)

	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// ExtractKeywords returns the set of normalized tokens longer than two
// characters that are not stop words.
func (n *Normalizer) ExtractKeywords(title string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, w := range strings.Fields(n.NormalizeTitle(title)) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := n.stopWords[w]; stop {
			continue
		}
		keywords[w] = struct{}{}
	}
	return keywords
}

// KeywordSimilarity returns the Jaccard index of the two keyword sets and the
// size of their intersection. Either set empty yields (0, 0).
func (n *Normalizer) KeywordSimilarity(a, b string) (float64, int) {
	kwA := n.ExtractKeywords(a)
	kwB := n.ExtractKeywords(b)
	if len(kwA) == 0 || len(kwB) == 0 {
		return 0, 0
	}

	overlap := 0
	for w := range kwA {
		if _, ok := kwB[w]; ok {
			overlap++
		}
	}
	union := len(kwA) + len(kwB) - overlap
	return float64(overlap) / float64(union), overlap
}

// Ratio is the SequenceMatcher similarity of a and b over characters:
// 2*M/T where M is the number of matched characters and T the total length.
// Two empty strings are identical (1.0).
func Ratio(a, b string) float64 {
	m := difflib.NewMatcher(chars(a), chars(b))
	return m.Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
