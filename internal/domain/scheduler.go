package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/events"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/observability"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CreateActivityInput captures the payload from the API layer.
type CreateActivityInput struct {
	Name            string
	Description     string
	Location        string
	TrainerID       string
	StartAt         time.Time
	DurationMinutes int
	MaxParticipants int
	Recurrence      *Recurrence
}

// UpdateActivityInput carries a partial edit. Nil fields are left untouched.
type UpdateActivityInput struct {
	Name            *string
	Description     *string
	Location        *string
	TrainerID       *string
	StartAt         *time.Time
	DurationMinutes *int
	MaxParticipants *int
	Recurrence      *Recurrence
	ClearRecurrence bool
}

// CompletionResult is the outcome of completing an activity.
type CompletionResult struct {
	Activity  Activity
	Successor *Activity
}

// CreateActivity schedules a new activity. A recurrence produces one activity per
// selected weekday, each carrying the same recurrence.
func (s *Service) CreateActivity(ctx context.Context, input CreateActivityInput) (created []Activity, err error) {
	ctx, span := s.start(ctx, "create_activity", "")
	defer func() { err = s.finish(ctx, span, "create_activity", "", err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}

	input.Name = strings.TrimSpace(input.Name)
	input.TrainerID = strings.TrimSpace(input.TrainerID)
	if input.TrainerID == "" && actor.Role == RoleTrainer {
		input.TrainerID = actor.UserID
	}
	if actor.Role == RoleTrainer && input.TrainerID != actor.UserID {
		return nil, ErrForbidden
	}

	now := s.clock.Now()
	vErr := &ValidationError{}
	if input.Name == "" {
		vErr.add("name", "is required")
	}
	if input.TrainerID == "" {
		vErr.add("trainer_id", "is required")
	}
	validateSchedule(vErr, input.StartAt, input.DurationMinutes, input.MaxParticipants)
	if !input.StartAt.IsZero() && input.StartAt.Before(now) && !actor.IsAdmin() {
		vErr.add("start_at", "must be in the future")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	template := Activity{
		Name:            input.Name,
		Description:     strings.TrimSpace(input.Description),
		Location:        strings.TrimSpace(input.Location),
		TrainerID:       input.TrainerID,
		DurationMinutes: input.DurationMinutes,
		MaxParticipants: input.MaxParticipants,
		Status:          ActivityStatusActive,
		Recurrence:      input.Recurrence.Normalized(),
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
		LastModifiedAt:  now,
	}

	starts := []time.Time{input.StartAt.UTC()}
	if template.Recurrence != nil {
		starts = OccurrenceStarts(input.StartAt, template.Recurrence.Weekdays, s.location)
	}

	created = make([]Activity, 0, len(starts))
	recorded := make([]Event, 0, len(starts))
	for _, startAt := range starts {
		activity := template.Clone()
		activity.ID = s.newID()
		activity.StartAt = startAt
		created = append(created, activity)
		recorded = append(recorded, lifecycleEvent(EventActivityCreated, activity, actor, now, ""))
	}

	if err := s.store.CreateActivities(ctx, created, recorded); err != nil {
		return nil, err
	}
	observability.RecordMutation(now)
	return created, nil
}

// OccurrenceStarts places one occurrence per weekday at the first date on or after
// startAt's local date, keeping startAt's local wall-clock time. Results are UTC and
// follow the order of weekdays.
func OccurrenceStarts(startAt time.Time, weekdays []time.Weekday, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := startAt.In(loc)
	year, month, day := local.Date()
	starts := make([]time.Time, 0, len(weekdays))
	for _, weekday := range weekdays {
		offset := (int(weekday) - int(local.Weekday()) + 7) % 7
		next := time.Date(year, month, day+offset, local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
		starts = append(starts, next.UTC())
	}
	return starts
}

// NextWeeklyStart returns the start of the following weekly occurrence, keeping the
// local wall-clock time across daylight saving changes.
func NextWeeklyStart(startAt time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return startAt.In(loc).AddDate(0, 0, 7).UTC()
}

// UpdateActivity edits an ACTIVE activity.
func (s *Service) UpdateActivity(ctx context.Context, activityID string, input UpdateActivityInput) (updated Activity, err error) {
	ctx, span := s.start(ctx, "update_activity", activityID)
	defer func() { err = s.finish(ctx, span, "update_activity", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return Activity{}, err
	}
	if !actor.IsStaff() {
		return Activity{}, ErrForbidden
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !actor.CanManage(activity) {
			return ErrForbidden
		}
		if activity.Status != ActivityStatusActive {
			return ErrInvalidState
		}

		if input.TrainerID != nil {
			trainerID := strings.TrimSpace(*input.TrainerID)
			if trainerID != activity.TrainerID && !actor.IsAdmin() {
				return ErrForbidden
			}
			activity.TrainerID = trainerID
		}
		if input.Name != nil {
			activity.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			activity.Description = strings.TrimSpace(*input.Description)
		}
		if input.Location != nil {
			activity.Location = strings.TrimSpace(*input.Location)
		}
		if input.DurationMinutes != nil {
			activity.DurationMinutes = *input.DurationMinutes
		}
		if input.MaxParticipants != nil {
			activity.MaxParticipants = *input.MaxParticipants
		}
		switch {
		case input.ClearRecurrence:
			activity.Recurrence = nil
		case input.Recurrence != nil:
			activity.Recurrence = input.Recurrence.Normalized()
		}

		vErr := &ValidationError{}
		if input.StartAt != nil {
			activity.StartAt = input.StartAt.UTC()
			if activity.StartAt.Before(now) && !actor.IsAdmin() {
				vErr.add("start_at", "must be in the future")
			}
		}
		if activity.Name == "" {
			vErr.add("name", "is required")
		}
		if activity.TrainerID == "" {
			vErr.add("trainer_id", "is required")
		}
		validateSchedule(vErr, activity.StartAt, activity.DurationMinutes, activity.MaxParticipants)
		if activity.MaxParticipants > 0 && activity.MaxParticipants < activity.CurrentParticipants {
			vErr.add("max_participants", fmt.Sprintf("must be at least the current participant count (%d)", activity.CurrentParticipants))
		}
		if vErr.HasErrors() {
			return vErr
		}

		activity.LastModifiedAt = now
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		updated = activity
		return tx.RecordEvent(ctx, lifecycleEvent(EventActivityUpdated, activity, actor, now, ""))
	})
	if err != nil {
		return Activity{}, err
	}
	s.invalidate(ctx, activityID)
	return updated, nil
}

// DeleteActivity removes the activity and all of its enrollments.
func (s *Service) DeleteActivity(ctx context.Context, activityID string) (err error) {
	ctx, span := s.start(ctx, "delete_activity", activityID)
	defer func() { err = s.finish(ctx, span, "delete_activity", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return err
	}
	if !actor.IsStaff() {
		return ErrForbidden
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !actor.CanManage(activity) {
			return ErrForbidden
		}
		if err := tx.DeleteActivity(ctx); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, lifecycleEvent(EventActivityDeleted, activity, actor, now, ""))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, activityID)
	return nil
}

// CompleteActivity moves an ACTIVE activity to COMPLETED and, when it recurs, schedules
// the following week's occurrence.
func (s *Service) CompleteActivity(ctx context.Context, activityID string) (result CompletionResult, err error) {
	ctx, span := s.start(ctx, "complete_activity", activityID)
	defer func() { err = s.finish(ctx, span, "complete_activity", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return CompletionResult{}, err
	}
	if !actor.IsStaff() {
		return CompletionResult{}, ErrForbidden
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !actor.CanManage(activity) {
			return ErrForbidden
		}
		result, err = s.completeLocked(ctx, tx, actor, now)
		return err
	})
	if err != nil {
		return CompletionResult{}, err
	}
	s.invalidate(ctx, activityID)
	return result, nil
}

// completeLocked performs the ACTIVE to COMPLETED transition. Only a transaction that
// observes ACTIVE under the lock and wins the revision-guarded save spawns a successor.
func (s *Service) completeLocked(ctx context.Context, tx ActivityTx, actor Actor, now time.Time) (CompletionResult, error) {
	activity := tx.Activity()
	if activity.Status != ActivityStatusActive {
		return CompletionResult{}, ErrInvalidState
	}
	activity.Status = ActivityStatusCompleted
	activity.LastModifiedAt = now
	if err := tx.SaveActivity(ctx, activity); err != nil {
		return CompletionResult{}, err
	}
	if err := tx.RecordEvent(ctx, lifecycleEvent(EventActivityCompleted, activity, actor, now, "")); err != nil {
		return CompletionResult{}, err
	}

	result := CompletionResult{Activity: activity}
	if activity.Recurrence.IsEmpty() {
		return result, nil
	}

	successor := activity.Clone()
	successor.ID = s.newID()
	successor.StartAt = NextWeeklyStart(activity.StartAt, s.location)
	successor.CurrentParticipants = 0
	successor.Status = ActivityStatusActive
	successor.CreatedBy = actor.UserID
	successor.CreatedAt = now
	successor.LastModifiedAt = now
	successor.Revision = 0
	if err := tx.CreateActivity(ctx, successor); err != nil {
		return CompletionResult{}, err
	}
	if err := tx.RecordEvent(ctx, lifecycleEvent(EventActivityCreated, successor, actor, now, activity.ID)); err != nil {
		return CompletionResult{}, err
	}
	observability.RecordSuccessor()
	result.Successor = &successor
	return result, nil
}

// CancelActivity moves an ACTIVE activity to CANCELLED. Cancelling never schedules a successor.
func (s *Service) CancelActivity(ctx context.Context, activityID string) (cancelled Activity, err error) {
	ctx, span := s.start(ctx, "cancel_activity", activityID)
	defer func() { err = s.finish(ctx, span, "cancel_activity", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return Activity{}, err
	}
	if !actor.IsStaff() {
		return Activity{}, ErrForbidden
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !actor.CanManage(activity) {
			return ErrForbidden
		}
		if activity.Status != ActivityStatusActive {
			return ErrInvalidState
		}
		activity.Status = ActivityStatusCancelled
		activity.LastModifiedAt = now
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		cancelled = activity
		return tx.RecordEvent(ctx, lifecycleEvent(EventActivityCancelled, activity, actor, now, ""))
	})
	if err != nil {
		return Activity{}, err
	}
	s.invalidate(ctx, activityID)
	return cancelled, nil
}

// CompleteDueActivities completes up to limit ACTIVE activities that ended more than the
// auto-complete delay ago. Activities completed concurrently by someone else are skipped.
func (s *Service) CompleteDueActivities(ctx context.Context, limit int) (completed int, err error) {
	ctx, span := s.start(ctx, "complete_due_activities", "")
	defer func() { err = s.finish(ctx, span, "complete_due_activities", "", err) }()

	if limit <= 0 {
		limit = maxListLimit
	}
	now := s.clock.Now()
	ids, err := s.store.ListDueActivityIDs(ctx, now.Add(-s.autoCompleteDelay), limit)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		err := s.store.WithinActivity(ctx, id, func(tx ActivityTx) error {
			activity := tx.Activity()
			if activity.Status != ActivityStatusActive || activity.EndsAt().Add(s.autoCompleteDelay).After(now) {
				return errSkip
			}
			_, err := s.completeLocked(ctx, tx, SystemActor, now)
			return err
		})
		switch {
		case err == nil:
			completed++
			s.invalidate(ctx, id)
		case errors.Is(err, errSkip), errors.Is(err, ErrNotFound), errors.Is(err, ErrConcurrencyConflict):
			s.log(ctx).Debug("skipping due activity", "activity_id", id, "reason", err.Error())
		default:
			return completed, err
		}
	}
	return completed, nil
}

var errSkip = errors.New("activity no longer due")

// ListActivities returns activities matching filter ordered by start time.
func (s *Service) ListActivities(ctx context.Context, filter ActivityFilter) (activities []Activity, next *Cursor, err error) {
	ctx, span := s.start(ctx, "list_activities", "")
	defer func() { err = s.finish(ctx, span, "list_activities", "", err) }()

	if _, err := s.identity.CurrentActor(ctx); err != nil {
		return nil, nil, err
	}
	vErr := &ValidationError{}
	if filter.Status != "" && !filter.Status.Valid() {
		vErr.add("status", "must be one of ACTIVE, COMPLETED, CANCELLED")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		vErr.add("to", "must not be before from")
	}
	if vErr.HasErrors() {
		return nil, nil, vErr
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	activities, next, err = s.store.ListActivities(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	return activities, next, nil
}

func validateSchedule(vErr *ValidationError, startAt time.Time, durationMinutes, maxParticipants int) {
	if startAt.IsZero() {
		vErr.add("start_at", "is required")
	}
	if durationMinutes <= 0 {
		vErr.add("duration_minutes", "must be greater than zero")
	}
	if maxParticipants <= 0 {
		vErr.add("max_participants", "must be greater than zero")
	}
}

func lifecycleEvent(eventType EventType, activity Activity, actor Actor, now time.Time, predecessorID string) Event {
	return Event{
		Type:       eventType,
		ActivityID: activity.ID,
		OccurredAt: now,
		Payload: events.ActivityLifecycle{
			ActivityID:      activity.ID,
			TrainerID:       activity.TrainerID,
			ActorID:         actor.UserID,
			Status:          string(activity.Status),
			StartAt:         activity.StartAt,
			DurationMinutes: activity.DurationMinutes,
			MaxParticipants: activity.MaxParticipants,
			Recurring:       !activity.Recurrence.IsEmpty(),
			PredecessorID:   predecessorID,
			OccurredAt:      now,
		},
	}
}
