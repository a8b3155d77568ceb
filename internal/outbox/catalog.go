package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

const (
	// TopicEnrollments carries enrollment.created and enrollment.cancelled.
	TopicEnrollments = "enrollment_events"
	// TopicAttendance carries attendance.marked.
	TopicAttendance = "attendance_events"
	// TopicActivityLifecycle carries every activity.* event.
	TopicActivityLifecycle = "activity_lifecycle"
)

// Route describes where an event type is published and which schema validates it.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var catalog = map[domain.EventType]Route{
	domain.EventEnrollmentCreated:   enrollmentRoute,
	domain.EventEnrollmentCancelled: enrollmentRoute,
	domain.EventAttendanceMarked: {
		Topic:         TopicAttendance,
		SchemaSubject: TopicAttendance + "-value",
		Schema:        attendanceMarkedSchema,
	},
	domain.EventActivityCreated:   lifecycleRoute,
	domain.EventActivityUpdated:   lifecycleRoute,
	domain.EventActivityCompleted: lifecycleRoute,
	domain.EventActivityCancelled: lifecycleRoute,
	domain.EventActivityDeleted:   lifecycleRoute,
}

var (
	enrollmentRoute = Route{
		Topic:         TopicEnrollments,
		SchemaSubject: TopicEnrollments + "-value",
		Schema:        enrollmentChangedSchema,
	}
	lifecycleRoute = Route{
		Topic:         TopicActivityLifecycle,
		SchemaSubject: TopicActivityLifecycle + "-value",
		Schema:        activityLifecycleSchema,
	}
)

// Lookup returns the route registered for eventType.
func Lookup(eventType string) (Route, bool) {
	route, ok := catalog[domain.EventType(eventType)]
	return route, ok
}

// Enqueue records event in the outbox using the caller's transaction, so the event is
// published if and only if the state change it describes commits.
func Enqueue(ctx context.Context, tx pgx.Tx, event domain.Event) error {
	route, ok := catalog[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		"activity",
		event.ActivityID,
		string(event.Type),
		route.Topic,
		route.SchemaSubject,
		event.ActivityID,
		body,
	)
	return err
}

const enrollmentChangedSchema = `{
  "type": "object",
  "title": "EnrollmentChanged",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "actor_id": {"type": "string"},
    "current_participants": {"type": "integer", "minimum": 0},
    "max_participants": {"type": "integer", "minimum": 1},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "user_id", "actor_id", "current_participants", "max_participants", "occurred_at"],
  "additionalProperties": false
}`

const attendanceMarkedSchema = `{
  "type": "object",
  "title": "AttendanceMarked",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "actor_id": {"type": "string"},
    "previous_status": {"type": "string", "enum": ["PENDING", "PRESENT", "ABSENT", "LATE"]},
    "status": {"type": "string", "enum": ["PENDING", "PRESENT", "ABSENT", "LATE"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "user_id", "actor_id", "previous_status", "status", "occurred_at"],
  "additionalProperties": false
}`

const activityLifecycleSchema = `{
  "type": "object",
  "title": "ActivityLifecycle",
  "properties": {
    "activity_id": {"type": "string"},
    "trainer_id": {"type": "string"},
    "actor_id": {"type": "string"},
    "status": {"type": "string", "enum": ["ACTIVE", "COMPLETED", "CANCELLED"]},
    "start_at": {"type": "string", "format": "date-time"},
    "duration_minutes": {"type": "integer", "minimum": 1},
    "max_participants": {"type": "integer", "minimum": 1},
    "recurring": {"type": "boolean"},
    "predecessor_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "trainer_id", "actor_id", "status", "start_at", "duration_minutes", "max_participants", "recurring", "occurred_at"],
  "additionalProperties": false
}`
