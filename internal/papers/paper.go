// Package papers picks one highly cited paper a day, summarizes it in
// Japanese and renders it for a pull request.
package papers

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWindowDays   = 90
	DefaultMinCitations = 100
	DefaultSearchLimit  = 50
)

var (
	ErrNoTopics        = errors.New("no paper topics configured")
	ErrIncompleteTopic = errors.New("paper topic requires name and query")
	ErrInvalidWindow   = errors.New("window_days must be between 1 and 3650")
)

// Paper is one search result.
type Paper struct {
	ID                string
	Title             string
	Abstract          string
	Authors           []string
	Year              int // 0 when unknown
	CitationCount     int
	URL               string
	PDFURL            string // empty when no open-access copy exists
	Category          string
	CategoryLocalized string
}

// Topic is one search the daily pick rotates through.
type Topic struct {
	Name    string
	LabelJA string
	Query   string
}

type Catalog struct {
	WindowDays   int
	MinCitations int
	SearchLimit  int
	Topics       []Topic
}

// TopicFor rotates through the topics by day of year.
func (c *Catalog) TopicFor(date time.Time) Topic {
	return c.Topics[date.UTC().YearDay()%len(c.Topics)]
}

// fileConfig mirrors the YAML layout:
//
//	settings:
//	  window_days: 90
//	  min_citations: 500
//	topics:
//	  - name: distributed_systems
//	    label_ja: 大規模分散処理
//	    query: distributed systems
type fileConfig struct {
	Settings struct {
		WindowDays   *int `yaml:"window_days"`
		MinCitations *int `yaml:"min_citations"`
		SearchLimit  *int `yaml:"search_limit"`
	} `yaml:"settings"`
	Topics []struct {
		Name    string `yaml:"name"`
		LabelJA string `yaml:"label_ja"`
		Query   string `yaml:"query"`
	} `yaml:"topics"`
}

// Load reads and validates the topic catalogue at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read paper topics: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse paper topics: %w", err)
	}

	cat := &Catalog{
		WindowDays:   DefaultWindowDays,
		MinCitations: DefaultMinCitations,
		SearchLimit:  DefaultSearchLimit,
	}
	if fc.Settings.WindowDays != nil {
		cat.WindowDays = *fc.Settings.WindowDays
	}
	if fc.Settings.MinCitations != nil {
		cat.MinCitations = max(*fc.Settings.MinCitations, 0)
	}
	if fc.Settings.SearchLimit != nil && *fc.Settings.SearchLimit > 0 {
		cat.SearchLimit = min(*fc.Settings.SearchLimit, 100)
	}
	if cat.WindowDays < 1 || cat.WindowDays > 3650 {
		return nil, ErrInvalidWindow
	}

	for _, t := range fc.Topics {
		if t.Name == "" || t.Query == "" {
			return nil, fmt.Errorf("%w: %q", ErrIncompleteTopic, t.Name)
		}
		label := t.LabelJA
		if label == "" {
			label = t.Name
		}
		cat.Topics = append(cat.Topics, Topic{Name: t.Name, LabelJA: label, Query: t.Query})
	}
	if len(cat.Topics) == 0 {
		return nil, ErrNoTopics
	}
	return cat, nil
}
