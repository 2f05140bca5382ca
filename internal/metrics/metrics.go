package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics exposes counters/histograms for the booking and payment flows.
type WorkflowMetrics struct {
	appointmentTransitions *prometheus.CounterVec
	paymentTransitions     *prometheus.CounterVec
	notifications          *prometheus.CounterVec
	cascadeFailures        prometheus.Counter
	voiceOutcomes          *prometheus.CounterVec
	analysisLatency        prometheus.Histogram
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		appointmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status changes by resulting status",
		}, []string{"status"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Payment status changes by resulting status",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "notifications",
			Name:      "emitted_total",
			Help:      "Notification inserts by outcome",
		}, []string{"outcome"}),
		cascadeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "payments",
			Name:      "cascade_failures_total",
			Help:      "Appointment termination events the payment workflow failed to apply",
		}),
		voiceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "voice",
			Name:      "jobs_total",
			Help:      "Voice analysis job outcomes",
		}, []string{"outcome"}),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "therapy",
			Subsystem: "voice",
			Name:      "analysis_latency_seconds",
			Help:      "Latency of emotion analysis calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.appointmentTransitions,
		m.paymentTransitions,
		m.notifications,
		m.cascadeFailures,
		m.voiceOutcomes,
		m.analysisLatency,
	)
	return m
}

func (m *WorkflowMetrics) ObserveAppointmentTransition(status string) {
	if m == nil {
		return
	}
	m.appointmentTransitions.WithLabelValues(status).Inc()
}

func (m *WorkflowMetrics) ObservePaymentTransition(status string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(status).Inc()
}

func (m *WorkflowMetrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) ObserveCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailures.Inc()
}

// ObserveVoiceOutcome records analyzed, fallback, report_sent, report_failed or error.
func (m *WorkflowMetrics) ObserveVoiceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.voiceOutcomes.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) ObserveAnalysisLatency(seconds float64) {
	if m == nil {
		return
	}
	m.analysisLatency.Observe(seconds)
}
