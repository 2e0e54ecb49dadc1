package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking sync engine.
type BookingMetrics struct {
	ingestTotal        *prometheus.CounterVec
	reservationTotal   *prometheus.CounterVec
	notificationTotal  *prometheus.CounterVec
	refreshLatency     *prometheus.HistogramVec
	ingestAlertTotal   prometheus.Counter
	dedupeShortCircuit prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theramatch",
			Subsystem: "booking",
			Name:      "webhook_ingest_total",
			Help:      "Total inbound provider webhook events",
		}, []string{"event_type", "status"}),
		reservationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theramatch",
			Subsystem: "booking",
			Name:      "reservation_total",
			Help:      "Total reservation attempts",
		}, []string{"outcome"}),
		notificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theramatch",
			Subsystem: "booking",
			Name:      "notification_total",
			Help:      "Total confirmation notification sends",
		}, []string{"recipient", "status"}),
		refreshLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "theramatch",
			Subsystem: "booking",
			Name:      "availability_refresh_seconds",
			Help:      "Latency of availability refreshes against the provider",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		ingestAlertTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "theramatch",
			Subsystem: "booking",
			Name:      "ingest_alert_total",
			Help:      "Total ingestion failure alerts raised",
		}),
		dedupeShortCircuit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "theramatch",
			Subsystem: "booking",
			Name:      "webhook_dedupe_total",
			Help:      "Webhook deliveries short-circuited by the dedupe guard",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.ingestTotal, m.reservationTotal, m.notificationTotal, m.refreshLatency, m.ingestAlertTotal, m.dedupeShortCircuit)
	return m
}

func (m *BookingMetrics) ObserveIngest(eventType, status string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(eventType, status).Inc()
}

func (m *BookingMetrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservationTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveNotification(recipient, status string) {
	if m == nil {
		return
	}
	m.notificationTotal.WithLabelValues(recipient, status).Inc()
}

func (m *BookingMetrics) ObserveRefreshLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.refreshLatency.WithLabelValues(status).Observe(seconds)
}

func (m *BookingMetrics) ObserveIngestAlert() {
	if m == nil {
		return
	}
	m.ingestAlertTotal.Inc()
}

func (m *BookingMetrics) ObserveDedupeShortCircuit() {
	if m == nil {
		return
	}
	m.dedupeShortCircuit.Inc()
}
