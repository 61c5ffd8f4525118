// Package dedup filters a batch of fetched articles down to those not seen
// before, by canonical URL and by title similarity, and records the survivors
// in the seen store.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/article"
	"github.com/yuhi-sa/daily-briefing/internal/metrics"
	"github.com/yuhi-sa/daily-briefing/internal/seen"
	"github.com/yuhi-sa/daily-briefing/internal/urlnorm"
)

// Deduplicator is single-threaded; one run owns it.
type Deduplicator struct {
	store   *seen.Store
	matcher Matcher
	urls    *urlnorm.Normalizer
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Deduplicator)

func WithMatcher(m Matcher) Option {
	return func(d *Deduplicator) {
		if m != nil {
			d.matcher = m
		}
	}
}

func WithURLNormalizer(n *urlnorm.Normalizer) Option {
	return func(d *Deduplicator) {
		if n != nil {
			d.urls = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) {
		if now != nil {
			d.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Deduplicator) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deduplicator) {
		d.metrics = m
	}
}

// New wraps an already loaded store. A nil store gets an empty, unpersisted one.
func New(store *seen.Store, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		store:   store,
		matcher: DefaultMatcher(),
		urls:    urlnorm.Default(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.store == nil {
		d.store = seen.New(nil, d.logger)
	}
	return d
}

// FilterNew returns the articles of batch that are neither in the store nor
// similar to an earlier title (stored or accepted earlier in this batch).
// Accepted articles with a usable URL key are recorded in the store.
// Input order is preserved.
func (d *Deduplicator) FilterNew(batch []article.Article) []article.Article {
	titles := d.store.Titles()
	accepted := make([]article.Article, 0, len(batch))
	now := d.now()

	for _, a := range batch {
		key := d.urls.Normalize(a.Link)

		if key != "" && d.store.Contains(key) {
			d.logger.Debug("Duplicate by URL", "title", a.Title, "key", key)
			if d.metrics != nil {
				d.metrics.IncrementDuplicateURL()
			}
			continue
		}

		if match, ok := d.firstSimilar(a.Title, titles); ok {
			d.logger.Debug("Duplicate by title", "title", a.Title, "matches", match, "matcher", d.matcher.Name())
			if d.metrics != nil {
				d.metrics.IncrementDuplicateTitle()
			}
			continue
		}

		if key != "" {
			d.store.Record(key, a.Title, now)
		}
		titles = append(titles, a.Title)
		accepted = append(accepted, a)
		if d.metrics != nil {
			d.metrics.IncrementAccepted()
		}
	}

	d.logger.Info("Dedup finished", "in", len(batch), "new", len(accepted))
	return accepted
}

func (d *Deduplicator) firstSimilar(title string, titles []string) (string, bool) {
	if title == "" {
		return "", false
	}
	for _, t := range titles {
		if d.matcher.Duplicate(title, t) {
			return t, true
		}
	}
	return "", false
}

// Prune drops store entries older than windowDays.
func (d *Deduplicator) Prune(windowDays int) int {
	removed := d.store.Prune(windowDays, d.now())
	if d.metrics != nil {
		d.metrics.AddPruned(removed)
	}
	return removed
}

// Save persists the store.
func (d *Deduplicator) Save(ctx context.Context) error {
	return d.store.Save(ctx)
}

func (d *Deduplicator) Store() *seen.Store {
	return d.store
}
