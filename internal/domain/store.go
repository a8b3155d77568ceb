package domain

import (
	"context"
	"time"
)

// Store captures persistence of the activity/enrollment aggregate.
//
// WithinActivity is the transactional contract: fn runs against a locked view of one
// activity, and either every change it stages is committed or none is. Stores return
// ErrNotFound when the activity does not exist and ErrConcurrencyConflict when a
// conflicting writer won the race.
type Store interface {
	WithinActivity(ctx context.Context, activityID string, fn func(ActivityTx) error) error
	CreateActivities(ctx context.Context, activities []Activity, events []Event) error
	LoadDetail(ctx context.Context, activityID string) (*ActivityDetail, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, *Cursor, error)
	// ListDueActivityIDs returns ACTIVE activities whose scheduled end is at or before endedBefore.
	ListDueActivityIDs(ctx context.Context, endedBefore time.Time, limit int) ([]string, error)
}

// ActivityTx is the unit of work handed to Store.WithinActivity.
type ActivityTx interface {
	// Activity returns the locked snapshot loaded when the transaction started.
	Activity() Activity
	// Enrollment returns nil without error when the user is not enrolled.
	Enrollment(ctx context.Context, userID string) (*Enrollment, error)
	Enrollments(ctx context.Context) ([]Enrollment, error)
	InsertEnrollment(ctx context.Context, enrollment Enrollment) error
	UpdateEnrollment(ctx context.Context, enrollment Enrollment) error
	DeleteEnrollment(ctx context.Context, userID string) error
	// SaveActivity persists the activity if its Revision still matches the stored one.
	SaveActivity(ctx context.Context, activity Activity) error
	DeleteActivity(ctx context.Context) error
	CreateActivity(ctx context.Context, activity Activity) error
	RecordEvent(ctx context.Context, event Event) error
}

// EventType names an outbox event.
type EventType string

const (
	EventEnrollmentCreated   EventType = "enrollment.created"
	EventEnrollmentCancelled EventType = "enrollment.cancelled"
	EventAttendanceMarked    EventType = "attendance.marked"
	EventActivityCreated     EventType = "activity.created"
	EventActivityUpdated     EventType = "activity.updated"
	EventActivityCompleted   EventType = "activity.completed"
	EventActivityCancelled   EventType = "activity.cancelled"
	EventActivityDeleted     EventType = "activity.deleted"
)

// Event is a domain change recorded in the same transaction as the state it describes.
type Event struct {
	Type       EventType
	ActivityID string
	UserID     string
	OccurredAt time.Time
	Payload    any
}

// DetailCache is a read-through projection of ActivityDetail. It is never authoritative.
type DetailCache interface {
	Get(ctx context.Context, activityID string) (*ActivityDetail, error)
	Set(ctx context.Context, detail ActivityDetail) error
	Invalidate(ctx context.Context, activityID string) error
}

// NoopDetailCache disables caching.
type NoopDetailCache struct{}

// Get always misses.
func (NoopDetailCache) Get(context.Context, string) (*ActivityDetail, error) { return nil, nil }

// Set performs no action.
func (NoopDetailCache) Set(context.Context, ActivityDetail) error { return nil }

// Invalidate performs no action.
func (NoopDetailCache) Invalidate(context.Context, string) error { return nil }
