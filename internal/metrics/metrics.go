package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-streamproxy/internal/safeurl"
)

// Category labels what kind of payload a request carried.
type Category string

const (
	CategoryManifest Category = "manifest"
	CategorySegment  Category = "segment"
	CategorySubtitle Category = "subtitle"
)

type hostMetric struct {
	mu sync.Mutex

	requests int64
	errors   int64

	manifestRequests int64
	manifestErrors   int64
	segmentRequests  int64
	segmentErrors    int64

	manifestTimings *timingRing
	segmentTimings  *timingRing

	lastErrorCode int
	lastErrorTime time.Time
}

func newHostMetric() *hostMetric {
	return &hostMetric{
		manifestTimings: newTimingRing(),
		segmentTimings:  newTimingRing(),
	}
}

// Manager keeps per-host and global counters, updated on every terminated
// request, and exposes them both as a JSON snapshot and via Prometheus.
type Manager struct {
	logger zerolog.Logger

	hosts  *xsync.Map[string, *hostMetric]
	global *hostMetric

	registry     *prometheus.Registry
	promRequests *prometheus.CounterVec
	promErrors   *prometheus.CounterVec
	promDuration *prometheus.HistogramVec
}

func New() *Manager {
	registry := prometheus.NewRegistry()

	promRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamproxy",
		Name:      "requests_total",
		Help:      "Proxied requests by upstream host and category.",
	}, []string{"host", "category"})

	promErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamproxy",
		Name:      "errors_total",
		Help:      "Failed proxied requests by upstream host and category.",
	}, []string{"host", "category"})

	promDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamproxy",
		Name:      "request_duration_seconds",
		Help:      "Upstream request duration by category.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"category"})

	registry.MustRegister(promRequests, promErrors, promDuration)

	return &Manager{
		logger:       log.With().Str("module", "metrics").Logger(),
		hosts:        xsync.NewMap[string, *hostMetric](),
		global:       newHostMetric(),
		registry:     registry,
		promRequests: promRequests,
		promErrors:   promErrors,
		promDuration: promDuration,
	}
}

// Record accounts one terminated request and emits the structured request
// log line. The URL is sanitized before it reaches the log; full URLs with
// tokens are never logged.
func (m *Manager) Record(rawURL, host string, category Category, success bool, status int, duration time.Duration) {
	hm, _ := m.hosts.LoadOrStore(host, newHostMetric())

	for _, target := range []*hostMetric{hm, m.global} {
		target.record(category, success, status, duration)
	}

	m.promRequests.WithLabelValues(host, string(category)).Inc()
	if !success {
		m.promErrors.WithLabelValues(host, string(category)).Inc()
	}
	m.promDuration.WithLabelValues(string(category)).Observe(duration.Seconds())

	m.logger.Info().
		Str("url", safeurl.SanitizeForLogging(rawURL)).
		Str("host", host).
		Str("category", string(category)).
		Bool("success", success).
		Int("status", status).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("request")
}

func (h *hostMetric) record(category Category, success bool, status int, duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests++
	if !success {
		h.errors++
		h.lastErrorCode = status
		h.lastErrorTime = time.Now()
	}

	switch category {
	case CategoryManifest:
		h.manifestRequests++
		if !success {
			h.manifestErrors++
		}
		h.manifestTimings.push(duration)
	default:
		// subtitles flow through the byte-streaming path, count them there
		h.segmentRequests++
		if !success {
			h.segmentErrors++
		}
		h.segmentTimings.push(duration)
	}
}

// HostSnapshot is the consistent point-in-time view of one host's counters.
type HostSnapshot struct {
	Host             string    `json:"host,omitempty"`
	Requests         int64     `json:"requests"`
	Errors           int64     `json:"errors"`
	ManifestRequests int64     `json:"manifestRequests"`
	ManifestErrors   int64     `json:"manifestErrors"`
	SegmentRequests  int64     `json:"segmentRequests"`
	SegmentErrors    int64     `json:"segmentErrors"`
	ManifestMeanMs   float64   `json:"manifestMeanMs"`
	SegmentMeanMs    float64   `json:"segmentMeanMs"`
	SuccessRate      float64   `json:"successRate"`
	SegmentErrorRate float64   `json:"segmentErrorRate"`
	LastErrorCode    int       `json:"lastErrorCode,omitempty"`
	LastErrorTime    time.Time `json:"lastErrorTime,omitempty"`
}

func (h *hostMetric) snapshot(host string) HostSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := HostSnapshot{
		Host:             host,
		Requests:         h.requests,
		Errors:           h.errors,
		ManifestRequests: h.manifestRequests,
		ManifestErrors:   h.manifestErrors,
		SegmentRequests:  h.segmentRequests,
		SegmentErrors:    h.segmentErrors,
		ManifestMeanMs:   h.manifestTimings.mean(),
		SegmentMeanMs:    h.segmentTimings.mean(),
		LastErrorCode:    h.lastErrorCode,
		LastErrorTime:    h.lastErrorTime,
	}

	if h.requests > 0 {
		s.SuccessRate = percent(h.requests-h.errors, h.requests)
	}
	if h.segmentRequests > 0 {
		s.SegmentErrorRate = percent(h.segmentErrors, h.segmentRequests)
	}
	return s
}

// percent returns a/b as a percentage rounded to two decimals.
func percent(a, b int64) float64 {
	return math.Round(float64(a)/float64(b)*10000) / 100
}

// Snapshot returns the global aggregate and every per-host view.
type Snapshot struct {
	Global HostSnapshot   `json:"global"`
	Hosts  []HostSnapshot `json:"hosts"`
}

func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Global: m.global.snapshot(""),
	}

	m.hosts.Range(func(host string, hm *hostMetric) bool {
		s.Hosts = append(s.Hosts, hm.snapshot(host))
		return true
	})
	return s
}

// Reset clears every counter. Metrics are otherwise monotonic.
func (m *Manager) Reset() {
	m.hosts.Clear()

	g := m.global
	g.mu.Lock()
	g.requests, g.errors = 0, 0
	g.manifestRequests, g.manifestErrors = 0, 0
	g.segmentRequests, g.segmentErrors = 0, 0
	g.manifestTimings = newTimingRing()
	g.segmentTimings = newTimingRing()
	g.lastErrorCode, g.lastErrorTime = 0, time.Time{}
	g.mu.Unlock()

	m.promRequests.Reset()
	m.promErrors.Reset()
	m.promDuration.Reset()
}

// Handler exposes the Prometheus registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
