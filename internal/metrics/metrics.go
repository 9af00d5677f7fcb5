package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector the server exposes on /metrics. Each server
// gets its own prometheus.Registry so tests can build many of them.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	PurchaseEntries     *prometheus.CounterVec
	LossValueCents      *prometheus.CounterVec
	Discrepancies       *prometheus.CounterVec
	NotificationsQueued *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	DashboardCache      *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grocerp_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grocerp_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		PurchaseEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grocerp_purchase_entries_total",
				Help: "Purchase entries by outcome (recorded, duplicate, rejected)",
			},
			[]string{"result"},
		),
		LossValueCents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grocerp_loss_value_cents_total",
				Help: "Value of written-off stock in cents by loss reason",
			},
			[]string{"reason"},
		),
		Discrepancies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grocerp_transfer_discrepancies_total",
				Help: "Stock transfer discrepancies by kind and event (opened, resolved)",
			},
			[]string{"kind", "event"},
		),
		NotificationsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grocerp_notifications_total",
				Help: "Notifications handed to the dispatcher by outcome",
			},
			[]string{"result"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grocerp_notification_queue_depth",
				Help: "Notifications waiting in the dispatcher queue",
			},
		),
		DashboardCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grocerp_dashboard_cache_total",
				Help: "Dashboard cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.HTTPRequests,
		r.HTTPDuration,
		r.PurchaseEntries,
		r.LossValueCents,
		r.Discrepancies,
		r.NotificationsQueued,
		r.QueueDepth,
		r.DashboardCache,
	)
	return r
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency. The route label is the
// first three path segments (/api/v1/<resource>) so ids do not explode
// cardinality.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := RouteLabel(req.URL.Path)
		r.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(rec.Status)).Inc()
		r.HTTPDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

func RouteLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (s *StatusRecorder) WriteHeader(status int) {
	s.Status = status
	s.ResponseWriter.WriteHeader(status)
}
