package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/zalando/routekeeper/filters"
)

const (
	KeyRequestsTotal  = "requests.total"
	KeyRequestsActive = "requests.active"
	KeyResponsesTotal = "responses.total"
	KeyResponses      = "responses."
	KeyResponseTime   = "responsetime"

	classInfo        = "info"
	classSuccess     = "success"
	classRedirect    = "redirect"
	classClientError = "clientError"
	classServerError = "serverError"
	classOther       = "other"
	classNull        = "null"
)

// DefaultPercentiles of the response times reported by the monitors.
var DefaultPercentiles = []float64{0.999, 0.9999, 0.99999}

var statusClasses = []string{
	classInfo, classSuccess, classRedirect, classClientError,
	classServerError, classOther, classNull,
}

// RouteMonitor measures the requests of a single route. It is used as the
// outermost filter of the route.
type RouteMonitor struct {
	reg         metrics.Registry
	total       metrics.Counter
	active      metrics.Counter
	responses   metrics.Counter
	classes     map[string]metrics.Counter
	timer       metrics.Timer
	percentiles []float64
	now         func() time.Time
}

type RequestStats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

type ResponseStats struct {
	Total       int64 `json:"total"`
	Info        int64 `json:"info"`
	Success     int64 `json:"success"`
	Redirect    int64 `json:"redirect"`
	ClientError int64 `json:"clientError"`
	ServerError int64 `json:"serverError"`
	Other       int64 `json:"other"`
	Null        int64 `json:"null"`
}

// ThroughputStats are in requests per second.
type ThroughputStats struct {
	Mean          float64 `json:"mean"`
	LastMinute    float64 `json:"lastMinute"`
	Last5Minutes  float64 `json:"last5Minutes"`
	Last15Minutes float64 `json:"last15Minutes"`
}

// ResponseTimeStats are in milliseconds.
type ResponseTimeStats struct {
	Mean              float64            `json:"mean"`
	Median            float64            `json:"median"`
	StandardDeviation float64            `json:"standardDeviation"`
	Percentiles       map[string]float64 `json:"percentiles"`
}

// MonitorSnapshot is the JSON document of the monitoring endpoint.
type MonitorSnapshot struct {
	Requests     RequestStats      `json:"requests"`
	Responses    ResponseStats     `json:"responses"`
	Throughput   ThroughputStats   `json:"throughput"`
	ResponseTime ResponseTimeStats `json:"responseTime"`
}

// NewRouteMonitor creates a monitor. When no percentiles are passed, the
// DefaultPercentiles are reported.
func NewRouteMonitor(percentiles []float64) *RouteMonitor {
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}

	m := &RouteMonitor{
		reg:         metrics.NewRegistry(),
		classes:     make(map[string]metrics.Counter),
		percentiles: append([]float64(nil), percentiles...),
		now:         time.Now,
	}

	m.total = m.reg.GetOrRegister(KeyRequestsTotal, metrics.NewCounter).(metrics.Counter)
	m.active = m.reg.GetOrRegister(KeyRequestsActive, metrics.NewCounter).(metrics.Counter)
	m.responses = m.reg.GetOrRegister(KeyResponsesTotal, metrics.NewCounter).(metrics.Counter)
	for _, c := range statusClasses {
		m.classes[c] = m.reg.GetOrRegister(KeyResponses+c, metrics.NewCounter).(metrics.Counter)
	}

	m.timer = m.reg.GetOrRegister(KeyResponseTime, func() metrics.Timer {
		return createTimer(newExpDecaySample())
	}).(metrics.Timer)

	return m
}

// Percentiles returns the reported percentiles.
func (m *RouteMonitor) Percentiles() []float64 {
	return append([]float64(nil), m.percentiles...)
}

func (m *RouteMonitor) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	start := m.now()
	m.total.Inc(1)
	m.active.Inc(1)

	rec := filters.NewRecorder(w)
	defer func() {
		m.active.Dec(1)
		m.responses.Inc(1)
		m.classes[statusClass(rec.Status())].Inc(1)
		m.timer.Update(m.now().Sub(start))
	}()

	next.ServeHTTP(rec, r)
}

// Snapshot returns the current values of the monitor.
func (m *RouteMonitor) Snapshot() MonitorSnapshot {
	t := m.timer.Snapshot()
	ps := t.Percentiles(append([]float64{0.5}, m.percentiles...))

	s := MonitorSnapshot{
		Requests: RequestStats{
			Total:  m.total.Snapshot().Count(),
			Active: m.active.Snapshot().Count(),
		},
		Responses: ResponseStats{
			Total:       m.responses.Snapshot().Count(),
			Info:        m.classes[classInfo].Snapshot().Count(),
			Success:     m.classes[classSuccess].Snapshot().Count(),
			Redirect:    m.classes[classRedirect].Snapshot().Count(),
			ClientError: m.classes[classClientError].Snapshot().Count(),
			ServerError: m.classes[classServerError].Snapshot().Count(),
			Other:       m.classes[classOther].Snapshot().Count(),
			Null:        m.classes[classNull].Snapshot().Count(),
		},
		Throughput: ThroughputStats{
			Mean:          t.RateMean(),
			LastMinute:    t.Rate1(),
			Last5Minutes:  t.Rate5(),
			Last15Minutes: t.Rate15(),
		},
		ResponseTime: ResponseTimeStats{
			Mean:              millis(t.Mean()),
			Median:            millis(ps[0]),
			StandardDeviation: millis(t.StdDev()),
			Percentiles:       make(map[string]float64, len(m.percentiles)),
		},
	}

	for i, p := range m.percentiles {
		s.ResponseTime.Percentiles[percentileKey(p)] = millis(ps[i+1])
	}

	return s
}

// ServeHTTP serves the snapshot of the monitor as JSON.
func (m *RouteMonitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(m.Snapshot())
}

// Close stops the rate measurement of the monitor.
func (m *RouteMonitor) Close() error {
	m.timer.Stop()
	m.reg.UnregisterAll()
	return nil
}
