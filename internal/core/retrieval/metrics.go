package retrieval

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/markdave123-py/policyqa/internal/models"
)

// MetricsSnapshot is the serving summary exposed to collaborators.
type MetricsSnapshot struct {
	Queries         int64   `json:"queries"`
	USDTotal        float64 `json:"usd_total"`
	P50Ms           float64 `json:"p50_ms"`
	P95Ms           float64 `json:"p95_ms"`
	LastIngestedKey string  `json:"last_ingested_key,omitempty"`
	ActiveSessions  int     `json:"active_sessions"`
}

// Metrics keeps query counters and a rolling latency window, and mirrors
// them into Prometheus collectors.
type Metrics struct {
	mu        sync.Mutex
	window    int
	latencies []float64
	next      int
	queries   int64
	usdTotal  float64

	queriesTotal prometheus.Counter
	costTotal    prometheus.Counter
	tokensTotal  *prometheus.CounterVec
	latency      prometheus.Histogram
	ungrounded   prometheus.Counter
	syncs        *prometheus.CounterVec
}

// NewMetrics registers its collectors on reg; a nil reg keeps them unregistered.
func NewMetrics(window int, reg prometheus.Registerer) *Metrics {
	if window <= 0 {
		window = 500
	}
	f := promauto.With(reg)
	return &Metrics{
		window:    window,
		latencies: make([]float64, 0, window),
		queriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "policyqa", Name: "queries_total",
			Help: "Questions answered.",
		}),
		costTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "policyqa", Name: "llm_cost_usd_total",
			Help: "Estimated language model spend in USD.",
		}),
		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyqa", Name: "llm_tokens_total",
			Help: "Language model tokens by direction.",
		}, []string{"direction"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "policyqa", Name: "llm_latency_seconds",
			Help:    "Language model call latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ungrounded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "policyqa", Name: "ungrounded_answers_total",
			Help: "Answers produced without any snippet above threshold.",
		}),
		syncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyqa", Name: "sync_checks_total",
			Help: "Ingestion checks run before answering, by action.",
		}, []string{"action"}),
	}
}

func (m *Metrics) ObserveQuery(latency time.Duration, usage models.Usage, grounded bool) {
	ms := float64(latency.Milliseconds())

	m.mu.Lock()
	m.queries++
	m.usdTotal += usage.USDTotal
	if len(m.latencies) < m.window {
		m.latencies = append(m.latencies, ms)
	} else {
		m.latencies[m.next] = ms
		m.next = (m.next + 1) % m.window
	}
	m.mu.Unlock()

	m.queriesTotal.Inc()
	m.costTotal.Add(usage.USDTotal)
	m.tokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	m.tokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	m.latency.Observe(latency.Seconds())
	if !grounded {
		m.ungrounded.Inc()
	}
}

func (m *Metrics) ObserveSync(action string) {
	m.syncs.WithLabelValues(action).Inc()
}

// Percentiles returns p50 and p95 over the rolling window in milliseconds.
func (m *Metrics) Percentiles() (p50, p95 float64) {
	m.mu.Lock()
	lats := append([]float64(nil), m.latencies...)
	m.mu.Unlock()
	return percentiles(lats)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	p50, p95 := m.Percentiles()
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Queries:  m.queries,
		USDTotal: round6(m.usdTotal),
		P50Ms:    p50,
		P95Ms:    p95,
	}
}

// percentiles uses the last sample as p95 until 20 samples exist.
func percentiles(lats []float64) (p50, p95 float64) {
	if len(lats) == 0 {
		return 0, 0
	}
	sort.Float64s(lats)
	p50 = lats[len(lats)/2]
	if len(lats) >= 20 {
		p95 = lats[int(float64(len(lats))*0.95)-1]
	} else {
		p95 = lats[len(lats)-1]
	}
	return p50, p95
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
