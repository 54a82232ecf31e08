package monitoring

import (
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	lifecycleTotal            *prometheus.CounterVec
	joinsTotal                *prometheus.CounterVec
	authFailuresTotal         *prometheus.CounterVec
	roleEventsTotal           *prometheus.CounterVec
	systemicInconsistencies   prometheus.Counter
	roomServiceErrorsTotal    *prometheus.CounterVec
	circuitBreakerTransitions *prometheus.CounterVec

	// Histograms
	roomServiceDuration *prometheus.HistogramVec

	// Gauges
	roomsActive prometheus.Gauge
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the service metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on /metrics.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		lifecycleTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nests_lifecycle_operations_total",
			Help: "Room lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		joinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nests_joins_total",
			Help: "Join attempts by path and outcome",
		}, []string{"path", "outcome"}),

		authFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nests_auth_failures_total",
			Help: "Rejected NIP-98 authorizations by reason",
		}, []string{"reason"}),

		roleEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nests_role_events_total",
			Help: "Ingested role events by kind and outcome",
		}, []string{"kind", "outcome"}),

		systemicInconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Name: "nests_systemic_inconsistency_total",
			Help: "Joins that failed while the directory reported the room active",
		}),

		roomServiceErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nests_room_service_errors_total",
			Help: "Failed media room service calls by operation",
		}, []string{"operation"}),

		circuitBreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nests_circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes by breaker and target state",
		}, []string{"breaker", "state"}),

		roomServiceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nests_room_service_call_duration_seconds",
			Help:    "Duration of media room service calls",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nests_rooms_active",
			Help: "Rooms present in the directory at the last sweep",
		}),
	}
}

func (p *PrometheusCollector) RecordLifecycle(op, outcome string) {
	p.lifecycleTotal.WithLabelValues(op, outcome).Inc()
}

func (p *PrometheusCollector) ObserveRoomServiceCall(op string, d time.Duration, err error) {
	p.roomServiceDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		p.roomServiceErrorsTotal.WithLabelValues(op).Inc()
	}
}

func (p *PrometheusCollector) RecordJoin(path, outcome string) {
	p.joinsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordSystemicInconsistency counts the event; the room id stays out of
// the labels to keep cardinality bounded.
func (p *PrometheusCollector) RecordSystemicInconsistency(roomID domain.RoomID) {
	p.systemicInconsistencies.Inc()
}

func (p *PrometheusCollector) RecordAuthFailure(reason string) {
	p.authFailuresTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordRoleEvent(kind domain.EventKind, outcome string) {
	p.roleEventsTotal.WithLabelValues(kind.String(), outcome).Inc()
}

func (p *PrometheusCollector) RecordCircuitBreakerTransition(breaker, state string) {
	p.circuitBreakerTransitions.WithLabelValues(breaker, state).Inc()
}

func (p *PrometheusCollector) SetRoomsActive(n int) {
	p.roomsActive.Set(float64(n))
}
