package domain

import (
	"sort"
	"time"
)

// TransitionAttendance assigns a new attendance status. Any status may be assigned while
// the activity is still running; once it is completed or cancelled attendance is read-only.
func TransitionAttendance(activity Activity, enrollment Enrollment, to AttendanceStatus, actor Actor, now time.Time) (Enrollment, error) {
	if !to.Valid() {
		vErr := &ValidationError{}
		vErr.add("status", "must be one of PENDING, PRESENT, ABSENT, LATE")
		return Enrollment{}, vErr
	}
	if activity.Status != ActivityStatusActive {
		return Enrollment{}, ErrInvalidState
	}

	markedAt := now
	enrollment.AttendanceStatus = to
	enrollment.MarkedBy = actor.UserID
	enrollment.MarkedAt = &markedAt
	return enrollment, nil
}

// PendingQueue projects the enrollments still awaiting a PRESENT mark, oldest first.
// It is recomputed from the enrollment set on every call.
func PendingQueue(enrollments []Enrollment) []Enrollment {
	queue := make([]Enrollment, 0, len(enrollments))
	for _, enrollment := range enrollments {
		if enrollment.AttendanceStatus != AttendancePresent {
			queue = append(queue, enrollment)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].EnrolledAt.Equal(queue[j].EnrolledAt) {
			return queue[i].UserID < queue[j].UserID
		}
		return queue[i].EnrolledAt.Before(queue[j].EnrolledAt)
	})
	return queue
}
