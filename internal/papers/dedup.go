package papers

import (
	"context"
	"sort"
	"time"

	"github.com/yuhi-sa/daily-briefing/internal/seen"
)

// Deduplicator remembers which papers were already featured, keyed by paper
// ID. It shares the seen store format with articles.
type Deduplicator struct {
	store *seen.Store
	now   func() time.Time
}

// NewDeduplicator wraps a loaded store. A nil now uses time.Now.
func NewDeduplicator(store *seen.Store, now func() time.Time) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{store: store, now: now}
}

func (d *Deduplicator) IsSeen(id string) bool {
	return d.store.Contains(id)
}

// MarkSeen records id as featured now.
func (d *Deduplicator) MarkSeen(id, title string) {
	d.store.Record(id, title, d.now())
}

// SeenIDs returns every remembered paper ID, sorted.
func (d *Deduplicator) SeenIDs() []string {
	snap := d.store.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune forgets papers featured more than windowDays ago.
func (d *Deduplicator) Prune(windowDays int) int {
	return d.store.Prune(windowDays, d.now())
}

// FirstUnseen returns the first candidate not featured yet with at least
// minCitations citations.
func (d *Deduplicator) FirstUnseen(candidates []Paper, minCitations int) (Paper, bool) {
	for _, p := range candidates {
		if p.CitationCount >= minCitations && !d.IsSeen(p.ID) {
			return p, true
		}
	}
	return Paper{}, false
}

func (d *Deduplicator) Save(ctx context.Context) error {
	return d.store.Save(ctx)
}
