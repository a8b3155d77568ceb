package api

import (
	"strings"
	"time"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Location           string    `json:"location"`
	TrainerID          string    `json:"trainer_id"`
	StartAt            time.Time `json:"start_at"`
	DurationMinutes    int       `json:"duration_minutes"`
	MaxParticipants    int       `json:"max_participants"`
	RecurrenceWeekdays []string  `json:"recurrence_weekdays,omitempty"`
}

// UpdateActivityRequest is the payload for PATCH /v1/activities/{id}. Absent fields are
// left unchanged; an empty recurrence_weekdays list removes the recurrence.
type UpdateActivityRequest struct {
	Name               *string    `json:"name,omitempty"`
	Description        *string    `json:"description,omitempty"`
	Location           *string    `json:"location,omitempty"`
	TrainerID          *string    `json:"trainer_id,omitempty"`
	StartAt            *time.Time `json:"start_at,omitempty"`
	DurationMinutes    *int       `json:"duration_minutes,omitempty"`
	MaxParticipants    *int       `json:"max_participants,omitempty"`
	RecurrenceWeekdays *[]string  `json:"recurrence_weekdays,omitempty"`
}

// EnrollRequest is the optional payload for POST /v1/activities/{id}/enrollments.
// An empty user_id enrolls the caller.
type EnrollRequest struct {
	UserID string `json:"user_id"`
}

// MarkAttendanceRequest is the payload for the attendance endpoint.
type MarkAttendanceRequest struct {
	Status string `json:"status"`
}

// ActivityView exposes an activity.
type ActivityView struct {
	ActivityID          string    `json:"activity_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	Location            string    `json:"location,omitempty"`
	TrainerID           string    `json:"trainer_id"`
	StartAt             time.Time `json:"start_at"`
	EndAt               time.Time `json:"end_at"`
	DurationMinutes     int       `json:"duration_minutes"`
	MaxParticipants     int       `json:"max_participants"`
	CurrentParticipants int       `json:"current_participants"`
	AvailableSlots      int       `json:"available_slots"`
	Status              string    `json:"status"`
	RecurrenceWeekdays  []string  `json:"recurrence_weekdays,omitempty"`
	CreatedBy           string    `json:"created_by,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	LastModifiedAt      time.Time `json:"last_modified_at"`
	Revision            int64     `json:"revision"`
}

// EnrollmentView exposes one enrollment with its attendance audit fields.
type EnrollmentView struct {
	ActivityID       string     `json:"activity_id"`
	UserID           string     `json:"user_id"`
	AttendanceStatus string     `json:"attendance_status"`
	EnrolledAt       time.Time  `json:"enrolled_at"`
	MarkedBy         string     `json:"marked_by,omitempty"`
	MarkedAt         *time.Time `json:"marked_at,omitempty"`
}

// ActivityDetailView is the activity with its enrollments.
type ActivityDetailView struct {
	Activity    ActivityView     `json:"activity"`
	Enrollments []EnrollmentView `json:"enrollments"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// CreateActivityResponse lists every occurrence created by one request.
type CreateActivityResponse struct {
	Items []ActivityView `json:"items"`
}

// CompleteActivityResponse carries the completed activity and, for recurring ones,
// the next weekly occurrence.
type CompleteActivityResponse struct {
	Activity  ActivityView  `json:"activity"`
	Successor *ActivityView `json:"successor,omitempty"`
}

// AttendanceQueueResponse lists enrollments still awaiting a PRESENT mark.
type AttendanceQueueResponse struct {
	Items []EnrollmentView `json:"items"`
}

func toActivityView(activity domain.Activity) ActivityView {
	view := ActivityView{
		ActivityID:          activity.ID,
		Name:                activity.Name,
		Description:         activity.Description,
		Location:            activity.Location,
		TrainerID:           activity.TrainerID,
		StartAt:             activity.StartAt,
		EndAt:               activity.EndsAt(),
		DurationMinutes:     activity.DurationMinutes,
		MaxParticipants:     activity.MaxParticipants,
		CurrentParticipants: activity.CurrentParticipants,
		AvailableSlots:      max(activity.MaxParticipants-activity.CurrentParticipants, 0),
		Status:              string(activity.Status),
		CreatedBy:           activity.CreatedBy,
		CreatedAt:           activity.CreatedAt,
		LastModifiedAt:      activity.LastModifiedAt,
		Revision:            activity.Revision,
	}
	if !activity.Recurrence.IsEmpty() {
		for _, day := range activity.Recurrence.Weekdays {
			view.RecurrenceWeekdays = append(view.RecurrenceWeekdays, strings.ToUpper(day.String()))
		}
	}
	return view
}

func toEnrollmentView(enrollment domain.Enrollment) EnrollmentView {
	return EnrollmentView{
		ActivityID:       enrollment.ActivityID,
		UserID:           enrollment.UserID,
		AttendanceStatus: string(enrollment.AttendanceStatus),
		EnrolledAt:       enrollment.EnrolledAt,
		MarkedBy:         enrollment.MarkedBy,
		MarkedAt:         enrollment.MarkedAt,
	}
}

func toDetailView(detail domain.ActivityDetail) ActivityDetailView {
	view := ActivityDetailView{
		Activity:    toActivityView(detail.Activity),
		Enrollments: make([]EnrollmentView, 0, len(detail.Enrollments)),
	}
	for _, enrollment := range detail.Enrollments {
		view.Enrollments = append(view.Enrollments, toEnrollmentView(enrollment))
	}
	return view
}

var weekdayNames = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

// parseWeekdays returns nil for an empty list.
func parseWeekdays(names []string) (*domain.Recurrence, error) {
	if len(names) == 0 {
		return nil, nil
	}
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			return nil, &domain.ValidationError{FieldErrors: map[string]string{
				"recurrence_weekdays": "unknown weekday " + name,
			}}
		}
		days = append(days, day)
	}
	return &domain.Recurrence{Weekdays: days}, nil
}
