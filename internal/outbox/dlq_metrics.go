package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Replay outcomes of a dead-lettered event.
const (
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeRetryLater  = "retry_scheduled"
	dlqOutcomeQuarantined = "quarantined"
)

var (
	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "dlq",
		Name:      "replays_total",
		Help:      "Dead-lettered events handled by the DLQ manager, by domain event type and outcome.",
	}, []string{"event_type", "outcome"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "enrollment_service",
		Subsystem: "dlq",
		Name:      "backlog_events",
		Help:      "Dead-lettered events still awaiting replay, by domain event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(dlqOutcomes, dlqBacklog)
}

// eventTypeLabel keeps label cardinality bounded to the catalogued event types.
func eventTypeLabel(eventType string) string {
	if _, ok := Lookup(eventType); ok {
		return eventType
	}
	return "unknown"
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomes.WithLabelValues(eventTypeLabel(entry.EventType), outcome).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `SELECT event_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY event_type`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[string]float64)
	for rows.Next() {
		var (
			eventType string
			count     int
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return
		}
		counts[eventTypeLabel(eventType)] += float64(count)
	}
	if rows.Err() != nil {
		return
	}

	dlqBacklog.Reset()
	for _, eventType := range catalogEventTypes() {
		dlqBacklog.WithLabelValues(eventType).Set(counts[eventType])
	}
	if unknown, ok := counts["unknown"]; ok {
		dlqBacklog.WithLabelValues("unknown").Set(unknown)
	}
}

func catalogEventTypes() []string {
	types := make([]string, 0, len(catalog))
	for eventType := range catalog {
		types = append(types, string(eventType))
	}
	return types
}
