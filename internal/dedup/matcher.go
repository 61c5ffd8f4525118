package dedup

import (
	"fmt"
	"strings"

	"github.com/yuhi-sa/daily-briefing/internal/textnorm"
)

// Matcher decides whether a candidate title repeats an already seen one.
type Matcher interface {
	Duplicate(candidate, seen string) bool
	Name() string
}

// RatioMatcher compares raw titles case-insensitively by SequenceMatcher ratio.
type RatioMatcher struct {
	Threshold float64
}

var _ Matcher = RatioMatcher{}

func (m RatioMatcher) Name() string { return "ratio" }

func (m RatioMatcher) Duplicate(candidate, seen string) bool {
	if strings.TrimSpace(candidate) == "" || strings.TrimSpace(seen) == "" {
		return false
	}
	return textnorm.Ratio(strings.ToLower(candidate), strings.ToLower(seen)) >= m.Threshold
}

// KeywordMatcher compares normalized titles, then falls back to keyword overlap
// so the same story worded differently by two outlets still matches.
type KeywordMatcher struct {
	RatioThreshold   float64
	JaccardThreshold float64
	MinOverlap       int
	// Normalizer defaults to textnorm.Default().
	Normalizer *textnorm.Normalizer
}

var _ Matcher = KeywordMatcher{}

func (m KeywordMatcher) Name() string { return "keyword" }

func (m KeywordMatcher) Duplicate(candidate, seen string) bool {
	n := m.Normalizer
	if n == nil {
		n = textnorm.Default()
	}

	a := n.NormalizeTitle(candidate)
	b := n.NormalizeTitle(seen)
	if a == "" || b == "" {
		return false
	}
	if textnorm.Ratio(a, b) >= m.RatioThreshold {
		return true
	}

	jaccard, overlap := n.KeywordSimilarity(candidate, seen)
	return overlap >= m.MinOverlap && jaccard >= m.JaccardThreshold
}

// AnyMatcher reports a duplicate when any of its children does.
type AnyMatcher []Matcher

var _ Matcher = AnyMatcher{}

func (m AnyMatcher) Name() string {
	names := make([]string, 0, len(m))
	for _, child := range m {
		names = append(names, child.Name())
	}
	return "any(" + strings.Join(names, ",") + ")"
}

func (m AnyMatcher) Duplicate(candidate, seen string) bool {
	for _, child := range m {
		if child.Duplicate(candidate, seen) {
			return true
		}
	}
	return false
}

// MatcherConfig holds the thresholds used by MatcherByName.
type MatcherConfig struct {
	RatioThreshold   float64
	JaccardThreshold float64
	MinOverlap       int
}

// DefaultMatcherConfig returns the stock thresholds.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		RatioThreshold:   0.9,
		JaccardThreshold: 0.5,
		MinOverlap:       3,
	}
}

// DefaultMatcher combines the raw-ratio and keyword strategies.
func DefaultMatcher() Matcher {
	m, _ := MatcherByName("combined", DefaultMatcherConfig())
	return m
}

// MatcherByName builds "ratio", "keyword" or "combined" (also the empty name).
func MatcherByName(name string, cfg MatcherConfig) (Matcher, error) {
	ratio := RatioMatcher{Threshold: cfg.RatioThreshold}
	keyword := KeywordMatcher{
		RatioThreshold:   cfg.RatioThreshold,
		JaccardThreshold: cfg.JaccardThreshold,
		MinOverlap:       cfg.MinOverlap,
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ratio":
		return ratio, nil
	case "keyword":
		return keyword, nil
	case "", "combined", "any":
		return AnyMatcher{ratio, keyword}, nil
	default:
		return nil, fmt.Errorf("unknown dedup matcher %q", name)
	}
}
