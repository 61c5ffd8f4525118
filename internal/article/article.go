package article

import "time"

// Article is a single normalized feed entry.
type Article struct {
	ID                string
	Title             string
	Link              string
	Summary           string
	Published         time.Time
	SourceName        string
	Category          string
	CategoryLocalized string // Japanese label of the category
}

// WithSummary returns a copy of the article with the summary replaced.
func (a Article) WithSummary(summary string) Article {
	a.Summary = summary
	return a
}
