package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	// stateGauge exposes the current state per key (0 closed, 1 open, 2 half_open).
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "availability_breaker_state",
			Help: "Circuit breaker state per provider connection (0=closed, 1=open, 2=half_open).",
		},
		[]string{"key"},
	)

	// rejections counts calls short-circuited without reaching the provider.
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_breaker_rejections_total",
			Help: "Calls rejected by an open or half-open circuit breaker.",
		},
		[]string{"key"},
	)
)

func init() {
	prometheus.MustRegister(stateGauge, rejections)
}

func observeState(key string, s State) {
	stateGauge.WithLabelValues(key).Set(float64(s))
}
