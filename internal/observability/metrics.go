package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "domain",
		Name:      "commands_total",
		Help:      "Number of domain operations handled, labeled by operation and result kind.",
	}, []string{"operation", "result"})

	mutationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "enrollment_service",
		Subsystem: "persistence",
		Name:      "last_mutation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed enrollment or activity change.",
	})

	successorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "scheduler",
		Name:      "recurring_successors_total",
		Help:      "Number of weekly successor activities spawned on completion.",
	})
)

func init() {
	prometheus.MustRegister(commandCounter, mutationGauge, successorCounter)
}

// RecordCommand counts a finished domain operation.
func RecordCommand(operation, result string) {
	commandCounter.WithLabelValues(operation, result).Inc()
}

// RecordMutation updates the mutation watermark gauge.
func RecordMutation(ts time.Time) {
	if ts.IsZero() {
		return
	}
	mutationGauge.Set(float64(ts.Unix()))
}

// RecordSuccessor counts a spawned recurring successor.
func RecordSuccessor() {
	successorCounter.Inc()
}
