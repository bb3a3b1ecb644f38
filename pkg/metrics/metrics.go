package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridspace/pkg/interfaces"
	"gridspace/pkg/types"
)

const namespace = "gridspace"

// Intent outcomes
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeLimited  = "rate_limited"
)

// Metrics holds every collector the server exports
// ARCHITECTURAL DISCOVERY: Collectors live on a private registry so tests and
// multiple servers in one process never collide on registration
type Metrics struct {
	registry *prometheus.Registry

	Connections      prometheus.Gauge
	Intents          *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	CleanupFailures  *prometheus.CounterVec
	PresenceEvents   *prometheus.CounterVec
	OccupiedCells    prometheus.Gauge
	StaleReleases    prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HubQueueRejected prometheus.Counter
}

var _ interfaces.PresenceObserver = (*Metrics)(nil)

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open real-time connections.",
		}),
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Real-time intents processed, by intent and outcome.",
		}, []string{"intent", "outcome"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast frames queued to subscribers or dropped on a full buffer.",
		}, []string{"result"}),
		CleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Disconnect cleanup steps that failed, by step.",
		}, []string{"step"}),
		PresenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "Committed presence changes, by event.",
		}, []string{"event"}),
		OccupiedCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupied_cells",
			Help:      "Cells currently held across all rooms.",
		}),
		StaleReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_releases_total",
			Help:      "Release intents for cells that were already free.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "REST requests served, by route and status code.",
		}, []string{"route", "code"}),
		HubQueueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_queue_rejected_total",
			Help:      "Intents dropped because the hub queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.Intents,
		m.Deliveries,
		m.CleanupFailures,
		m.PresenceEvents,
		m.OccupiedCells,
		m.StaleReleases,
		m.HTTPRequests,
		m.HubQueueRejected,
	)
	return m
}

// Handler exposes Prometheus metrics at /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Delivered records a broadcast outcome
func (m *Metrics) Delivered(sent, dropped int) {
	m.Deliveries.WithLabelValues("delivered").Add(float64(sent))
	m.Deliveries.WithLabelValues("dropped").Add(float64(dropped))
}

// UserJoined counts a room arrival
func (m *Metrics) UserJoined(roomID, username string) {
	m.PresenceEvents.WithLabelValues(types.EventUserJoined).Inc()
}

// UserLeft counts a room departure
func (m *Metrics) UserLeft(roomID, username string) {
	m.PresenceEvents.WithLabelValues(types.EventUserLeft).Inc()
}

// CellClaimed counts a newly held cell
func (m *Metrics) CellClaimed(roomID string, cell types.Cell) {
	m.PresenceEvents.WithLabelValues("cellClaimed").Inc()
	m.OccupiedCells.Inc()
}

// CellReleased counts a freed cell
func (m *Metrics) CellReleased(roomID string, cell types.Cell) {
	m.PresenceEvents.WithLabelValues("cellReleased").Inc()
	m.OccupiedCells.Dec()
}
