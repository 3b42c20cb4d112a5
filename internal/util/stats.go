package util

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatsEnabled turns on collection of per-site request statistics
var StatsEnabled bool

// Metric is an aggregated timing for one named operation
type Metric struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	Last      time.Duration
}

// Average returns the mean duration of the metric
func (m *Metric) Average() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// StatsTracker records timings and counters keyed by name, e.g.
// "arabseed.fetch" or "mycima.blocked".
type StatsTracker struct {
	mu       sync.RWMutex
	metrics  map[string]*Metric
	counters map[string]*int64
	started  time.Time
}

var (
	globalStats     *StatsTracker
	globalStatsOnce sync.Once
)

// GetStats returns the global stats tracker
func GetStats() *StatsTracker {
	globalStatsOnce.Do(func() {
		globalStats = NewStatsTracker()
	})
	return globalStats
}

// NewStatsTracker creates an empty tracker
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		metrics:  make(map[string]*Metric),
		counters: make(map[string]*int64),
		started:  time.Now(),
	}
}

// Record adds one duration sample
func (st *StatsTracker) Record(name string, d time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	m, ok := st.metrics[name]
	if !ok {
		m = &Metric{Name: name}
		st.metrics[name] = m
	}
	m.Count++
	m.TotalTime += d
	m.Last = d
}

// Inc increments a named counter
func (st *StatsTracker) Inc(name string) {
	st.mu.Lock()
	c, ok := st.counters[name]
	if !ok {
		var v int64
		c = &v
		st.counters[name] = c
	}
	st.mu.Unlock()

	atomic.AddInt64(c, 1)
}

// Counter returns the current value of a counter
func (st *StatsTracker) Counter(name string) int64 {
	st.mu.RLock()
	defer st.mu.RUnlock()

	c, ok := st.counters[name]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(c)
}

// Metric returns a copy of the named metric
func (st *StatsTracker) Metric(name string) (Metric, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	m, ok := st.metrics[name]
	if !ok {
		return Metric{}, false
	}
	return *m, true
}

// Timer measures one operation
type Timer struct {
	name    string
	start   time.Time
	tracker *StatsTracker
}

// StartTimer starts a timer against the global tracker. It returns nil when
// stats are disabled; Stop on a nil timer is a no-op.
func StartTimer(name string) *Timer {
	if !StatsEnabled {
		return nil
	}
	return &Timer{name: name, start: time.Now(), tracker: GetStats()}
}

// Stop records the elapsed time
func (t *Timer) Stop() time.Duration {
	if t == nil {
		return 0
	}
	d := time.Since(t.start)
	t.tracker.Record(t.name, d)
	Debugf("[STATS] %s took %v", t.name, d)
	return d
}

// Count increments a global counter when stats are enabled
func Count(name string) {
	if StatsEnabled {
		GetStats().Inc(name)
	}
}

var (
	statsHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#4ECDC4")).
				Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	statsSlowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)
)

// Report renders the collected stats as a table
func (st *StatsTracker) Report() string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var b strings.Builder
	b.WriteString(statsHeaderStyle.Render(fmt.Sprintf("Request stats (%v)", time.Since(st.started).Round(time.Millisecond))))
	b.WriteString("\n")

	names := make([]string, 0, len(st.metrics))
	for name := range st.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := st.metrics[name]
		avg := m.Average()
		style := statsValueStyle
		if avg > 3*time.Second {
			style = statsSlowStyle
		}
		fmt.Fprintf(&b, "  %-28s %s\n", name, style.Render(fmt.Sprintf("n=%d avg=%v", m.Count, avg.Round(time.Millisecond))))
	}

	counters := make([]string, 0, len(st.counters))
	for name := range st.counters {
		counters = append(counters, name)
	}
	sort.Strings(counters)
	for _, name := range counters {
		fmt.Fprintf(&b, "  %-28s %s\n", name, statsValueStyle.Render(fmt.Sprintf("%d", atomic.LoadInt64(st.counters[name]))))
	}
	return b.String()
}
