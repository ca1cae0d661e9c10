package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	promNamespace       = "routekeeper"
	promRouterSubsystem = "router"
	promScanSubsystem   = "scan"
)

// RouterMetrics implements the Prometheus metrics of the router. The
// methods of a nil *RouterMetrics are no-ops.
type RouterMetrics struct {
	activeRoutes prometheus.Gauge
	builds       *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	changes      *prometheus.CounterVec
	unrouted     prometheus.Counter
}

// NewRouterMetrics registers the router metrics in the registerer. When
// the registerer is nil, the metrics are created but not registered.
func NewRouterMetrics(reg prometheus.Registerer) *RouterMetrics {
	f := promauto.With(reg)
	return &RouterMetrics{
		activeRoutes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: promRouterSubsystem,
			Name:      "active_routes",
			Help:      "The number of the active routes.",
		}),
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promRouterSubsystem,
			Name:      "route_builds_total",
			Help:      "The total of the route builds by result.",
		}, []string{"result"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promRouterSubsystem,
			Name:      "route_rejections_total",
			Help:      "The total of the rejected route configurations, by reason.",
		}, []string{"reason"}),
		changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promScanSubsystem,
			Name:      "changes_total",
			Help:      "The total of the detected route file changes, by kind.",
		}, []string{"kind"}),
		unrouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promRouterSubsystem,
			Name:      "unrouted_requests_total",
			Help:      "The total of the requests that no active route accepted.",
		}),
	}
}

func (m *RouterMetrics) SetActiveRoutes(n int) {
	if m == nil {
		return
	}

	m.activeRoutes.Set(float64(n))
}

func (m *RouterMetrics) IncBuild(ok bool) {
	if m == nil {
		return
	}

	result := "success"
	if !ok {
		result = "failure"
	}

	m.builds.WithLabelValues(result).Inc()
}

func (m *RouterMetrics) IncRejected(reason string) {
	if m == nil {
		return
	}

	m.rejected.WithLabelValues(reason).Inc()
}

func (m *RouterMetrics) AddChanges(added, modified, removed int) {
	if m == nil {
		return
	}

	m.changes.WithLabelValues("added").Add(float64(added))
	m.changes.WithLabelValues("modified").Add(float64(modified))
	m.changes.WithLabelValues("removed").Add(float64(removed))
}

func (m *RouterMetrics) IncUnrouted() {
	if m == nil {
		return
	}

	m.unrouted.Inc()
}
