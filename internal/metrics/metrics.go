package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	models "mentalmath/internal/models"
)

const namespace = "mentalmath"

// Metrics records drill activity. It satisfies game.Recorder.
type Metrics struct {
	registry          *prometheus.Registry
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	answers           *prometheus.CounterVec
	finalAccuracy     *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Drill sessions started, by operation.",
		}, []string{"operation"}),
		sessionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Drill sessions played through every round, by operation.",
		}, []string{"operation"}),
		answers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Submitted answers, by operation and correctness.",
		}, []string{"operation", "correct"}),
		finalAccuracy: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_accuracy_ratio",
			Help:      "Share of correct answers in completed sessions.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"operation"}),
	}
}

func (m *Metrics) SessionStarted(op models.Operation) {
	m.sessionsStarted.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) AnswerScored(op models.Operation, correct bool) {
	m.answers.WithLabelValues(string(op), strconv.FormatBool(correct)).Inc()
}

func (m *Metrics) SessionCompleted(op models.Operation, score, answered int) {
	m.sessionsCompleted.WithLabelValues(string(op)).Inc()
	if answered > 0 {
		m.finalAccuracy.WithLabelValues(string(op)).Observe(float64(score) / float64(answered))
	}
}

// TrackGauge exposes fn as a gauge sampled at scrape time.
func (m *Metrics) TrackGauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
