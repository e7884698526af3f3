package services

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patent_refresh_total",
			Help: "Patent refreshes per user, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	patentsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patents_stored_total",
			Help: "Total number of patents written by successful refreshes.",
		},
	)
)

func init() {
	prometheus.MustRegister(refreshTotal, patentsStoredTotal)
}
