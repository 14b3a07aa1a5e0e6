package numbers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_numbers_claims_total",
			Help: "Claim attempts by outcome",
		},
		[]string{"outcome"},
	)
	sweepReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_numbers_sweep_released_total",
			Help: "Pending claims released by the expiry sweep",
		},
	)
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_numbers_transitions_total",
			Help: "Admin state transitions by target state",
		},
		[]string{"to"},
	)
)
