package events

import "time"

// ActivityLifecycle tracks creation, edits and status transitions of a scheduled activity.
type ActivityLifecycle struct {
	ActivityID      string    `json:"activity_id"`
	TrainerID       string    `json:"trainer_id"`
	ActorID         string    `json:"actor_id"`
	Status          string    `json:"status"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
	MaxParticipants int       `json:"max_participants"`
	Recurring       bool      `json:"recurring"`
	PredecessorID   string    `json:"predecessor_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
