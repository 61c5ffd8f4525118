package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ArticlesFetched   int64
	FeedsFailed       int64
	DuplicatesByURL   int64
	DuplicatesByTitle int64
	ArticlesAccepted  int64
	EntriesPruned     int64
	SummariesOK       int64
	SummariesFailed   int64
	DigestsWritten    int64

	// Timings
	LastRunDuration    time.Duration
	AverageRunDuration time.Duration
	TotalRunDuration   time.Duration
	RunCount           int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

// New returns a zeroed, healthy Metrics. Tests use it instead of Global.
func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) AddArticlesFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesFetched += int64(n)
}

func (m *Metrics) AddFeedsFailed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedsFailed += int64(n)
}

func (m *Metrics) IncrementDuplicateURL() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesByURL++
}

func (m *Metrics) IncrementDuplicateTitle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesByTitle++
}

func (m *Metrics) IncrementAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesAccepted++
}

func (m *Metrics) AddPruned(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesPruned += int64(n)
}

func (m *Metrics) IncrementSummaryOK() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummariesOK++
}

func (m *Metrics) IncrementSummaryFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummariesFailed++
}

func (m *Metrics) IncrementDigestsWritten() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DigestsWritten++
}

func (m *Metrics) RecordRunDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastRunDuration = duration
	m.TotalRunDuration += duration
	m.RunCount++

	if m.RunCount > 0 {
		m.AverageRunDuration = m.TotalRunDuration / time.Duration(m.RunCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"articles_fetched":        m.ArticlesFetched,
		"feeds_failed":            m.FeedsFailed,
		"duplicates_by_url":       m.DuplicatesByURL,
		"duplicates_by_title":     m.DuplicatesByTitle,
		"articles_accepted":       m.ArticlesAccepted,
		"entries_pruned":          m.EntriesPruned,
		"summaries_ok":            m.SummariesOK,
		"summaries_failed":        m.SummariesFailed,
		"digests_written":         m.DigestsWritten,
		"last_run_duration_ms":    m.LastRunDuration.Milliseconds(),
		"average_run_duration_ms": m.AverageRunDuration.Milliseconds(),
		"last_run_time":           m.LastRunTime.Format(time.RFC3339),
		"last_error_time":         m.LastErrorTime.Format(time.RFC3339),
		"last_error":              m.LastError,
		"is_healthy":              m.IsHealthy,
	}
}
