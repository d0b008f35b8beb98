package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PrometheusMetrics is a Metrics sink that registers counter, histogram, and
// gauge vectors lazily as new metric names are observed, keyed on the tag
// names attached to the first observation of that name. Safe for concurrent
// use.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a Metrics sink that registers its vectors
// with reg. Pass prometheus.DefaultRegisterer to expose metrics on the
// default /metrics handler.
func NewPrometheusMetrics(reg prometheus.Registerer) Metrics {
	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func tagNames(tags []string) []string {
	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

func tagValues(tags []string) []string {
	values := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		if i+1 < len(tags) {
			values = append(values, tags[i+1])
		} else {
			values = append(values, "")
		}
	}
	return values
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	cv, ok := m.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricName(name)}, tagNames(tags))
		m.registerer.MustRegister(cv)
		m.counters[name] = cv
	}
	m.mu.Unlock()
	cv.WithLabelValues(tagValues(tags)...).Add(value)
}

func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	hv, ok := m.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName(name),
			Buckets: prometheus.DefBuckets,
		}, tagNames(tags))
		m.registerer.MustRegister(hv)
		m.histograms[name] = hv
	}
	m.mu.Unlock()
	hv.WithLabelValues(tagValues(tags)...).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	gv, ok := m.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metricName(name)}, tagNames(tags))
		m.registerer.MustRegister(gv)
		m.gauges[name] = gv
	}
	m.mu.Unlock()
	gv.WithLabelValues(tagValues(tags)...).Set(value)
}

// metricName replaces dots with underscores since Prometheus metric names
// may not contain dots.
func metricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// PrometheusTracer adapts PrometheusMetrics-adjacent deployments that still
// want span semantics without a full tracing backend: it records span
// duration as a histogram on End and otherwise behaves like NoopTracer.
type PrometheusTracer struct {
	metrics *PrometheusMetrics
}

// NewPrometheusTracer constructs a Tracer that records span durations as
// Prometheus histograms, for deployments without an OTEL trace exporter.
func NewPrometheusTracer(m *PrometheusMetrics) Tracer {
	return &PrometheusTracer{metrics: m}
}

type prometheusSpan struct {
	metrics *PrometheusMetrics
	name    string
	start   time.Time
}

func (t *PrometheusTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, &prometheusSpan{metrics: t.metrics, name: name, start: time.Now()}
}

func (t *PrometheusTracer) Span(context.Context) Span {
	return &prometheusSpan{metrics: t.metrics, name: "unknown", start: time.Now()}
}

func (s *prometheusSpan) End(...trace.SpanEndOption) {
	s.metrics.RecordTimer("atomexec.span.duration", time.Since(s.start), "span", s.name)
}

func (s *prometheusSpan) AddEvent(string, ...any)                  {}
func (s *prometheusSpan) SetStatus(codes.Code, string)             {}
func (s *prometheusSpan) RecordError(error, ...trace.EventOption)  {}
