package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultCategory is substituted for an empty/whitespace category (spec.md
// §4.5: "Category string is normalized: empty/whitespace → general").
const defaultCategory = "general"

func normalizeCategory(category string) string {
	trimmed := strings.TrimSpace(category)
	if trimmed == "" {
		return defaultCategory
	}
	return trimmed
}

var (
	promHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jarvis_cache_hits_total",
		Help: "Cache hits by category.",
	}, []string{"category"})
	promMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jarvis_cache_misses_total",
		Help: "Cache misses by category.",
	}, []string{"category"})
	promSets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jarvis_cache_sets_total",
		Help: "Cache sets by category.",
	}, []string{"category"})
	promDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jarvis_cache_deletes_total",
		Help: "Cache deletes by category.",
	}, []string{"category"})
	promErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jarvis_cache_errors_total",
		Help: "Cache backend errors by category.",
	}, []string{"category"})
)

// Metrics mirrors original_source/backend/cache/metrics.py's CacheMetrics:
// in-process counters plus per-category hit/miss maps, exposed in parallel
// to the package-level prometheus counters above.
type Metrics struct {
	mu sync.Mutex

	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	categoryHits   map[string]int64
	categoryMisses map[string]int64
}

// NewMetrics returns a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		categoryHits:   map[string]int64{},
		categoryMisses: map[string]int64{},
	}
}

func (m *Metrics) RecordHit(category string) {
	category = normalizeCategory(category)
	m.mu.Lock()
	m.Hits++
	m.categoryHits[category]++
	m.mu.Unlock()
	promHits.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordMiss(category string) {
	category = normalizeCategory(category)
	m.mu.Lock()
	m.Misses++
	m.categoryMisses[category]++
	m.mu.Unlock()
	promMisses.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordSet(category string) {
	category = normalizeCategory(category)
	m.mu.Lock()
	m.Sets++
	m.mu.Unlock()
	promSets.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordDelete(category string) {
	category = normalizeCategory(category)
	m.mu.Lock()
	m.Deletes++
	m.mu.Unlock()
	promDeletes.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordError(category string) {
	category = normalizeCategory(category)
	m.mu.Lock()
	m.Errors++
	m.mu.Unlock()
	promErrors.WithLabelValues(category).Inc()
}

// HitRate returns hits / (hits + misses), or 0 when there have been no
// lookups yet.
func (m *Metrics) HitRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Summary is the serializable snapshot returned by Summary().
type Summary struct {
	Hits           int64             `json:"hits"`
	Misses         int64             `json:"misses"`
	Sets           int64             `json:"sets"`
	Deletes        int64             `json:"deletes"`
	Errors         int64             `json:"errors"`
	HitRate        float64           `json:"hit_rate"`
	HitRatePercent string            `json:"hit_rate_percent"`
	CategoryHits   map[string]int64  `json:"category_hits"`
	CategoryMisses map[string]int64  `json:"category_misses"`
	Categories     []string          `json:"categories"`
}

// Summary snapshots all counters; categories are listed in sorted order
// (spec.md §4.5: "categories listed in sorted order").
func (m *Metrics) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]struct{}{}
	hits := map[string]int64{}
	misses := map[string]int64{}
	for cat, n := range m.categoryHits {
		hits[cat] = n
		seen[cat] = struct{}{}
	}
	for cat, n := range m.categoryMisses {
		misses[cat] = n
		seen[cat] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for cat := range seen {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	total := m.Hits + m.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(m.Hits) / float64(total)
	}

	return Summary{
		Hits:           m.Hits,
		Misses:         m.Misses,
		Sets:           m.Sets,
		Deletes:        m.Deletes,
		Errors:         m.Errors,
		HitRate:        rate,
		HitRatePercent: fmt.Sprintf("%.2f%%", rate*100),
		CategoryHits:   hits,
		CategoryMisses: misses,
		Categories:     categories,
	}
}
