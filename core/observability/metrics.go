// Package observability holds the server's Prometheus collectors and
// renders them in the text exposition format.
package observability

import (
	"bytes"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/searchktools/tiny-server/core/http"
)

// MetricsConfig holds configuration for the server metrics.
type MetricsConfig struct {
	// Namespace is the prefix for all metrics (default: "tiny_server")
	Namespace string
	// Buckets defines the histogram buckets for request duration
	Buckets []float64
	// ProcessCollectors adds the Go runtime and process collectors.
	ProcessCollectors bool
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "tiny_server",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}
}

// Metrics holds the collectors on a private registry, so several servers
// can live in one process.
type Metrics struct {
	registry *prometheus.Registry
	cfg      MetricsConfig

	accepted       prometheus.Counter
	acceptErrors   prometheus.Counter
	protocolErrors prometheus.Counter
	writeErrors    prometheus.Counter
	panics         prometheus.Counter
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

// NewMetrics creates the collectors described by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "tiny_server"
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = DefaultMetricsConfig().Buckets
	}

	reg := prometheus.NewRegistry()
	if cfg.ProcessCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cfg:      cfg,
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted and queued for a worker.",
		}),
		acceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "accept_errors_total",
			Help:      "Accept calls that failed for a reason other than no pending connection.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections dropped because the request could not be parsed.",
		}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "write_errors_total",
			Help:      "Responses that could not be written to the connection.",
		}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "handler_panics_total",
			Help:      "Handlers that panicked while producing a response.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Requests routed, by method and response status.",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent in routing and the handler.",
			Buckets:   cfg.Buckets,
		}, []string{"method"}),
	}
}

// GaugeFunc registers a gauge whose value is sampled from fn on scrape.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.cfg.Namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ConnectionAccepted() { m.accepted.Inc() }
func (m *Metrics) AcceptError()        { m.acceptErrors.Inc() }
func (m *Metrics) ProtocolError()      { m.protocolErrors.Inc() }
func (m *Metrics) WriteError()         { m.writeErrors.Inc() }
func (m *Metrics) HandlerPanic()       { m.panics.Inc() }

// ObserveRequest records one routed request.
func (m *Metrics) ObserveRequest(method string, status http.StatusCode, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(int(status))).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Exposition gathers every collector and encodes the result in the
// Prometheus text format. It returns the body and its content type.
func (m *Metrics) Exposition() ([]byte, string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, "", err
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, "", err
		}
	}
	return buf.Bytes(), string(format), nil
}

// Handler serves the exposition as a route handler.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(*http.Request) *http.Response {
		body, contentType, err := m.Exposition()
		if err != nil {
			return http.NewResponse().
				WithStatus(http.StatusInternalServerError).
				WithString(err.Error())
		}
		return http.NewResponse().WithBytes(body, contentType)
	}
}
