// Package feeds loads the feed catalogue from YAML.
package feeds

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxArticlesPerFeed = 10
	DefaultDedupWindowDays    = 7
	MaxDedupWindowDays        = 3650
)

var (
	ErrInvalidMaxArticles = errors.New("max_articles_per_feed must be >= 1")
	ErrInvalidDedupWindow = errors.New("dedup_window_days must be between 1 and 3650")
	ErrInvalidMaxAge      = errors.New("max_age_hours must be >= 0")
	ErrNoFeeds            = errors.New("no feeds configured")
	ErrIncompleteFeed     = errors.New("feed requires name and url")
)

// Source is one feed with its category already resolved.
type Source struct {
	Name              string
	URL               string
	Category          string
	CategoryLocalized string
	MaxArticles       int // 0 = catalogue default
}

// Limit returns the per-feed cap, falling back to def.
func (s Source) Limit(def int) int {
	if s.MaxArticles > 0 {
		return s.MaxArticles
	}
	return def
}

type Catalog struct {
	MaxArticlesPerFeed int
	DedupWindowDays    int
	MaxAgeHours        int // 0 disables the age filter
	Sources            []Source
}

// fileConfig mirrors the YAML layout:
//
//	settings:
//	  max_articles_per_feed: 10
//	  dedup_window_days: 7
//	categories:
//	  - name: Tech
//	    label_ja: テクノロジー
//	    feeds:
//	      - name: Hacker News
//	        url: https://news.ycombinator.com/rss
type fileConfig struct {
	Settings struct {
		MaxArticlesPerFeed *int `yaml:"max_articles_per_feed"`
		DedupWindowDays    *int `yaml:"dedup_window_days"`
		MaxAgeHours        *int `yaml:"max_age_hours"`
	} `yaml:"settings"`
	Categories []struct {
		Name    string `yaml:"name"`
		LabelJA string `yaml:"label_ja"`
		Feeds   []struct {
			Name        string `yaml:"name"`
			URL         string `yaml:"url"`
			MaxArticles int    `yaml:"max_articles"`
		} `yaml:"feeds"`
	} `yaml:"categories"`
}

// Load reads and validates the catalogue at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds config: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML catalogue.
func Parse(data []byte) (*Catalog, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse feeds config: %w", err)
	}

	cat := &Catalog{
		MaxArticlesPerFeed: DefaultMaxArticlesPerFeed,
		DedupWindowDays:    DefaultDedupWindowDays,
	}
	if v := raw.Settings.MaxArticlesPerFeed; v != nil {
		cat.MaxArticlesPerFeed = *v
	}
	if v := raw.Settings.DedupWindowDays; v != nil {
		cat.DedupWindowDays = *v
	}
	if v := raw.Settings.MaxAgeHours; v != nil {
		cat.MaxAgeHours = *v
	}

	if cat.MaxArticlesPerFeed < 1 {
		return nil, ErrInvalidMaxArticles
	}
	if cat.DedupWindowDays < 1 || cat.DedupWindowDays > MaxDedupWindowDays {
		return nil, ErrInvalidDedupWindow
	}
	if cat.MaxAgeHours < 0 {
		return nil, ErrInvalidMaxAge
	}

	for _, c := range raw.Categories {
		label := c.LabelJA
		if label == "" {
			label = c.Name
		}
		for _, f := range c.Feeds {
			if f.Name == "" || f.URL == "" {
				return nil, fmt.Errorf("%w (category %q)", ErrIncompleteFeed, c.Name)
			}
			cat.Sources = append(cat.Sources, Source{
				Name:              f.Name,
				URL:               f.URL,
				Category:          c.Name,
				CategoryLocalized: label,
				MaxArticles:       f.MaxArticles,
			})
		}
	}

	if len(cat.Sources) == 0 {
		return nil, ErrNoFeeds
	}
	return cat, nil
}
