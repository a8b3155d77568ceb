// Package events defines the payloads published for enrollment and activity changes.
package events

import "time"

// EnrollmentChanged is emitted when a member joins or leaves an activity.
type EnrollmentChanged struct {
	ActivityID          string    `json:"activity_id"`
	UserID              string    `json:"user_id"`
	ActorID             string    `json:"actor_id"`
	CurrentParticipants int       `json:"current_participants"`
	MaxParticipants     int       `json:"max_participants"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// AttendanceMarked is emitted when an operator records attendance for a participant.
type AttendanceMarked struct {
	ActivityID     string    `json:"activity_id"`
	UserID         string    `json:"user_id"`
	ActorID        string    `json:"actor_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}
