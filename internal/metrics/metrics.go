package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_attempt_starts_total",
			Help: "Attempt starts by outcome (ok, failed)",
		},
		[]string{"outcome"},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Attempt submissions by score source (server, local) or failure",
		},
		[]string{"source"},
	)

	Remediations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrong_question_remediations_total",
			Help: "Remediation answers by outcome (incorrect, confirmed, pending)",
		},
		[]string{"outcome"},
	)

	ListReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_list_reads_total",
			Help: "Cached course list reads by outcome",
		},
		[]string{"outcome"},
	)

	BackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Duration of REST backend calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation", "status"},
	)

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(AttemptStarts, Submissions, Remediations, ListReads, BackendDuration)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
