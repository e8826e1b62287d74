package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiderace_poll_attempts_total",
			Help: "Total product polling attempts",
		},
		[]string{"result"}, // inventory|empty|error|late|abandoned
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiderace_reservations_total",
			Help: "Total reservation requests by result and wave",
		},
		[]string{"result", "wave"},
	)

	RacesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiderace_races_total",
			Help: "Completed races by result",
		},
		[]string{"result"}, // reserved|unreserved|timeout
	)

	RaceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiderace_race_duration_seconds",
			Help:    "Time from polling start to last reservation outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(PollAttemptsTotal)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(RacesTotal)
	prometheus.MustRegister(RaceDuration)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
