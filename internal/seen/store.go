// Package seen keeps the persistent record of articles already published,
// keyed by canonical URL, with time-window pruning.
//
// A Store is loaded once per run, mutated in memory and saved explicitly by
// the caller. Loading is lenient: a missing or damaged resource yields an
// empty store. Saving is strict: write failures are returned.
//
// A Store is not safe for concurrent use; one process owns it per run.
package seen

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"
)

// Record is what is remembered about an accepted article.
type Record struct {
	Title  string `json:"title"`
	SeenAt string `json:"seen_at"` // RFC 3339, UTC
}

// Time parses SeenAt. ok is false for missing or malformed timestamps.
func (r Record) Time() (time.Time, bool) {
	return parseSeenAt(r.SeenAt)
}

// Errors a Backend reports from Read. The Store treats each as "start empty".
var (
	ErrNotFound   = errors.New("seen store resource not found")
	ErrUnreadable = errors.New("seen store resource unreadable")
	ErrCorrupt    = errors.New("seen store resource corrupted")
	ErrUnexpected = errors.New("seen store resource has unexpected shape")
	errNilBackend = errors.New("seen store has no backend")
)

// Backend reads and writes the whole mapping at once.
type Backend interface {
	Read(ctx context.Context) (map[string]Record, error)
	// Write replaces the persisted mapping. Readers never observe a partial write.
	Write(ctx context.Context, records map[string]Record) error
	Location() string
}

// Store is the in-memory view of the seen mapping.
type Store struct {
	backend Backend
	records map[string]Record
	logger  *slog.Logger
}

// New returns an empty Store bound to backend. A nil logger uses slog.Default().
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		records: make(map[string]Record),
		logger:  logger,
	}
}

// Open builds a Store and loads it.
func Open(ctx context.Context, backend Backend, logger *slog.Logger) *Store {
	s := New(backend, logger)
	s.Load(ctx)
	return s
}

// Load replaces the in-memory mapping with the persisted one. It never fails:
// any problem is logged and the store starts empty.
func (s *Store) Load(ctx context.Context) {
	s.records = make(map[string]Record)
	if s.backend == nil {
		return
	}

	records, err := s.backend.Read(ctx)
	switch {
	case err == nil:
		s.records = records
		if s.records == nil {
			s.records = make(map[string]Record)
		}
		s.logger.Debug("Loaded seen store", "location", s.backend.Location(), "entries", len(s.records))
	case errors.Is(err, ErrNotFound):
		s.logger.Info("Seen store not found, starting empty", "location", s.backend.Location())
	case errors.Is(err, ErrCorrupt):
		s.logger.Warn("Corrupted seen store, starting fresh", "location", s.backend.Location(), "error", err)
	case errors.Is(err, ErrUnexpected):
		s.logger.Warn("Invalid seen store format, resetting", "location", s.backend.Location(), "error", err)
	default:
		s.logger.Warn("Cannot read seen store, starting fresh", "location", s.backend.Location(), "error", err)
	}
}

// Save persists the current mapping.
func (s *Store) Save(ctx context.Context) error {
	if s.backend == nil {
		return errNilBackend
	}
	if err := s.backend.Write(ctx, s.Snapshot()); err != nil {
		return err
	}
	s.logger.Debug("Saved seen store", "location", s.backend.Location(), "entries", len(s.records))
	return nil
}

// maxPruneDays keeps the cutoff date computable for absurd windows.
const maxPruneDays = 1 << 20

// Prune drops records older than windowDays relative to now, along with
// records whose timestamp is missing or unparsable. It returns how many were
// removed. Nothing is persisted until Save.
func (s *Store) Prune(windowDays int, now time.Time) int {
	cutoff := now.UTC().AddDate(0, 0, -min(windowDays, maxPruneDays))
	removed := 0
	for key, rec := range s.records {
		seenAt, ok := rec.Time()
		if !ok || seenAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Pruned old entries from seen store", "removed", removed, "window_days", windowDays)
	}
	return removed
}

// Contains reports whether key has a record.
func (s *Store) Contains(key string) bool {
	_, ok := s.records[key]
	return ok
}

// Get returns the record for key.
func (s *Store) Get(key string) (Record, bool) {
	rec, ok := s.records[key]
	return rec, ok
}

// Titles returns every stored title, ordered by key.
func (s *Store) Titles() []string {
	keys := s.keys()
	titles := make([]string, 0, len(keys))
	for _, k := range keys {
		titles = append(titles, s.records[k].Title)
	}
	return titles
}

// Record stores title under key with seen_at = now (UTC), replacing any
// previous record for the key.
func (s *Store) Record(key, title string, now time.Time) {
	s.records[key] = Record{
		Title:  title,
		SeenAt: formatSeenAt(now),
	}
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Snapshot returns a copy of the mapping.
func (s *Store) Snapshot() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Location describes where the store is persisted.
func (s *Store) Location() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.Location()
}

func (s *Store) keys() []string {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var seenAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseSeenAt(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range seenAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatSeenAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
