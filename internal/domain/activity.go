package domain

import (
	"slices"
	"time"
)

// ActivityStatus is the lifecycle state of a scheduled activity.
type ActivityStatus string

const (
	ActivityStatusActive    ActivityStatus = "ACTIVE"
	ActivityStatusCompleted ActivityStatus = "COMPLETED"
	ActivityStatusCancelled ActivityStatus = "CANCELLED"
)

// Terminal reports whether no further enrollment or attendance change is allowed.
func (s ActivityStatus) Terminal() bool {
	return s == ActivityStatusCompleted || s == ActivityStatusCancelled
}

// Valid reports whether s is a known status.
func (s ActivityStatus) Valid() bool {
	switch s {
	case ActivityStatusActive, ActivityStatusCompleted, ActivityStatusCancelled:
		return true
	}
	return false
}

// Recurrence marks an activity as repeating weekly on the selected weekdays.
type Recurrence struct {
	Weekdays []time.Weekday
}

// IsEmpty reports whether the recurrence selects no weekday. A nil recurrence is empty.
func (r *Recurrence) IsEmpty() bool {
	return r == nil || len(r.Weekdays) == 0
}

// Normalized returns a copy with weekdays sorted and deduplicated, or nil when empty.
func (r *Recurrence) Normalized() *Recurrence {
	if r.IsEmpty() {
		return nil
	}
	days := make([]time.Weekday, 0, len(r.Weekdays))
	for _, day := range r.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			continue
		}
		if !slices.Contains(days, day) {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return nil
	}
	slices.Sort(days)
	return &Recurrence{Weekdays: days}
}

// Activity is one scheduled occurrence of a class.
type Activity struct {
	ID                  string
	Name                string
	Description         string
	Location            string
	TrainerID           string
	StartAt             time.Time
	DurationMinutes     int
	MaxParticipants     int
	CurrentParticipants int
	Status              ActivityStatus
	Recurrence          *Recurrence
	CreatedBy           string
	CreatedAt           time.Time
	LastModifiedAt      time.Time
	// Revision is bumped by stores on every successful save.
	Revision int64
}

// EndsAt returns the scheduled end of the activity.
func (a Activity) EndsAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// OpenAt reports whether enrollment and attendance may still change at now: the
// activity is ACTIVE and its scheduled end has not been reached.
func (a Activity) OpenAt(now time.Time) bool {
	return a.Status == ActivityStatusActive && now.Before(a.EndsAt())
}

// Clone returns a deep copy so that staged mutations never leak into shared state.
func (a Activity) Clone() Activity {
	if a.Recurrence != nil {
		a.Recurrence = &Recurrence{Weekdays: slices.Clone(a.Recurrence.Weekdays)}
	}
	return a
}

// AttendanceStatus is the attendance state of one participant for one occurrence.
type AttendanceStatus string

const (
	AttendancePending AttendanceStatus = "PENDING"
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
)

// Valid reports whether s is a known attendance status.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePending, AttendancePresent, AttendanceAbsent, AttendanceLate:
		return true
	}
	return false
}

// Enrollment links a member to an activity and carries the attendance state.
type Enrollment struct {
	ActivityID       string
	UserID           string
	AttendanceStatus AttendanceStatus
	EnrolledAt       time.Time
	MarkedBy         string
	MarkedAt         *time.Time
}

// ActivityDetail is the read projection of an activity with its participants.
type ActivityDetail struct {
	Activity    Activity
	Enrollments []Enrollment
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartAt time.Time
	ID      string
}

// ActivityFilter narrows activity listings. Zero values mean "no restriction".
type ActivityFilter struct {
	Status        ActivityStatus
	TrainerID     string
	ParticipantID string
	From          *time.Time
	To            *time.Time
	Cursor        *Cursor
	Limit         int
}
