package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveriesTotal counts deliveries by channel, event kind, and result.
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total notification deliveries by channel, kind, and result.",
		},
		[]string{"channel", "kind", "result"},
	)

	// retriesTotal counts chat delivery retry attempts.
	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_retries_total",
			Help: "Total chat delivery retry attempts.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveriesTotal, retriesTotal)
}
