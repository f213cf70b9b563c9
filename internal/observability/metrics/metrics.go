package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulerMetrics exposes counters/histograms for the scheduling flows.
type SchedulerMetrics struct {
	resolutionsTotal *prometheus.CounterVec
	webhooksTotal    *prometheus.CounterVec
	matchLatency     *prometheus.HistogramVec
	reorderTotal     *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "slots",
			Name:      "resolutions_total",
			Help:      "Total slot resolutions by decision and outcome",
		}, []string{"decision", "status"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "gateway",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound gateway webhooks",
		}, []string{"status"}),
		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "matching",
			Name:      "match_latency_seconds",
			Help:      "Latency of availability match runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		reorderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "slots",
			Name:      "reorder_moves_total",
			Help:      "Total priority reorder moves by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.resolutionsTotal, m.webhooksTotal, m.matchLatency, m.reorderTotal)
	return m
}

func (m *SchedulerMetrics) ObserveResolution(decision, status string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(decision, status).Inc()
}

func (m *SchedulerMetrics) ObserveWebhook(status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(status).Inc()
}

func (m *SchedulerMetrics) ObserveMatchLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.matchLatency.WithLabelValues(status).Observe(seconds)
}

func (m *SchedulerMetrics) ObserveReorderMove(result string) {
	if m == nil {
		return
	}
	m.reorderTotal.WithLabelValues(result).Inc()
}
