package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking core.
type BookingMetrics struct {
	createdTotal     prometheus.Counter
	conflictsTotal   prometheus.Counter
	busyTotal        prometheus.Counter
	transitionsTotal *prometheus.CounterVec
	queueCalledTotal prometheus.Counter
	lockWait         prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createdTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "created_total",
			Help:      "Bookings created",
		}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Booking attempts rejected because the slot was at capacity",
		}),
		busyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "busy_total",
			Help:      "Booking attempts rejected by date lock contention",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Applied booking status transitions",
		}, []string{"from", "to"}),
		queueCalledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "queue_called_total",
			Help:      "Queue call notifications raised",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "date_lock_wait_seconds",
			Help:      "Time spent inside the per-date critical section",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.createdTotal,
		m.conflictsTotal,
		m.busyTotal,
		m.transitionsTotal,
		m.queueCalledTotal,
		m.lockWait,
	)
	return m
}

func (m *BookingMetrics) ObserveCreated() {
	if m == nil {
		return
	}
	m.createdTotal.Inc()
}

func (m *BookingMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *BookingMetrics) ObserveBusy() {
	if m == nil {
		return
	}
	m.busyTotal.Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveQueueCalled() {
	if m == nil {
		return
	}
	m.queueCalledTotal.Inc()
}

func (m *BookingMetrics) ObserveLockHold(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}
