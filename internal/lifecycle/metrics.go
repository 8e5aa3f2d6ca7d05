package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servingd",
			Subsystem: "lifecycle",
			Name:      "loads_total",
			Help:      "Servable load attempts by result",
		},
		[]string{"model", "result"},
	)

	unloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servingd",
			Subsystem: "lifecycle",
			Name:      "unloads_total",
			Help:      "Servable unload attempts by result",
		},
		[]string{"model", "result"},
	)

	versionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "servingd",
			Subsystem: "lifecycle",
			Name:      "versions",
			Help:      "Tracked versions per model and state",
		},
		[]string{"model", "state"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, unloadsTotal, versionsGauge)
}
