// Package domain defines the enrollment, attendance and scheduling rules of the activity service.
package domain

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/clock"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/events"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/logging"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/observability"
)

const tracerName = "github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"

// DefaultAutoCompleteDelay is how long after its scheduled end an activity is swept to
// COMPLETED. Enrollment and attendance close at the scheduled end regardless.
const DefaultAutoCompleteDelay time.Duration = 0

// Service orchestrates enrollment, attendance and activity lifecycle workflows.
type Service struct {
	store             Store
	members           MembershipRepository
	identity          IdentityProvider
	clock             clock.Clock
	newID             func() string
	cache             DetailCache
	logger            *slog.Logger
	tracer            trace.Tracer
	policy            WindowPolicy
	location          *time.Location
	autoCompleteDelay time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides activity identifier generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithDetailCache installs a read-through cache for activity details.
func WithDetailCache(cache DetailCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithPolicy sets the enroll/unenroll window cutoffs.
func WithPolicy(policy WindowPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithLocation sets the gym's local time zone, used to place recurring occurrences.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithAutoCompleteDelay sets the delay after an activity's end before the sweep completes it.
func WithAutoCompleteDelay(delay time.Duration) Option {
	return func(s *Service) {
		if delay >= 0 {
			s.autoCompleteDelay = delay
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, members MembershipRepository, identity IdentityProvider, opts ...Option) *Service {
	s := &Service{
		store:             store,
		members:           members,
		identity:          identity,
		clock:             clock.System,
		newID:             uuid.NewString,
		cache:             NoopDetailCache{},
		logger:            slog.Default(),
		tracer:            otel.Tracer(tracerName),
		policy:            WindowPolicy{RegistrationCutoffHours: 24, UnregistrationCutoffHours: 2},
		location:          time.UTC,
		autoCompleteDelay: DefaultAutoCompleteDelay,
	}
	if s.identity == nil {
		s.identity = ContextIdentity{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the window policy in effect.
func (s *Service) Policy() WindowPolicy { return s.policy }

// Enroll adds targetUserID to the activity. An empty targetUserID enrolls the caller.
func (s *Service) Enroll(ctx context.Context, activityID, targetUserID string) (enrollment Enrollment, err error) {
	ctx, span := s.start(ctx, "enroll", activityID)
	defer func() { err = s.finish(ctx, span, "enroll", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return Enrollment{}, err
	}
	targetUserID = resolveTarget(actor, targetUserID)
	if actor.UserID != targetUserID && !actor.IsStaff() {
		return Enrollment{}, ErrForbidden
	}

	// The membership snapshot is read before the activity row is locked so that a
	// transaction never waits on a second pooled connection while holding the lock.
	membership, err := s.members.GetEligibility(ctx, targetUserID)
	if err != nil {
		return Enrollment{}, unavailable(err)
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !activity.OpenAt(now) {
			return ErrInvalidState
		}
		existing, err := tx.Enrollment(ctx, targetUserID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyEnrolled
		}

		if verdict := EvaluateEligibility(membership, now); !verdict.Allowed {
			return &NotEligibleError{Reason: verdict.Reason}
		}
		if !CanEnroll(activity, now, s.policy.RegistrationCutoffHours) {
			return ErrOutsideWindow
		}
		if err := TryReserveSlot(&activity); err != nil {
			return err
		}

		activity.LastModifiedAt = now
		enrollment = Enrollment{
			ActivityID:       activity.ID,
			UserID:           targetUserID,
			AttendanceStatus: AttendancePending,
			EnrolledAt:       now,
		}
		if err := tx.InsertEnrollment(ctx, enrollment); err != nil {
			return err
		}
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, enrollmentEvent(EventEnrollmentCreated, activity, targetUserID, actor, now))
	})
	if err != nil {
		return Enrollment{}, err
	}
	s.invalidate(ctx, activityID)
	return enrollment, nil
}

// Unenroll removes targetUserID from the activity and frees the seat.
func (s *Service) Unenroll(ctx context.Context, activityID, targetUserID string) (err error) {
	ctx, span := s.start(ctx, "unenroll", activityID)
	defer func() { err = s.finish(ctx, span, "unenroll", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return err
	}
	targetUserID = resolveTarget(actor, targetUserID)
	if actor.UserID != targetUserID && !actor.IsStaff() {
		return ErrForbidden
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !activity.OpenAt(now) {
			return ErrInvalidState
		}
		existing, err := tx.Enrollment(ctx, targetUserID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		if !CanUnenroll(activity, now, s.policy.UnregistrationCutoffHours) {
			return ErrOutsideWindow
		}

		if err := tx.DeleteEnrollment(ctx, targetUserID); err != nil {
			return err
		}
		ReleaseSlot(&activity)
		activity.LastModifiedAt = now
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, enrollmentEvent(EventEnrollmentCancelled, activity, targetUserID, actor, now))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, activityID)
	return nil
}

// MarkAttendance records the attendance status of one participant.
func (s *Service) MarkAttendance(ctx context.Context, activityID, targetUserID string, status AttendanceStatus) (enrollment Enrollment, err error) {
	ctx, span := s.start(ctx, "mark_attendance", activityID)
	defer func() { err = s.finish(ctx, span, "mark_attendance", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return Enrollment{}, err
	}
	if !actor.IsStaff() {
		return Enrollment{}, ErrForbidden
	}
	status = AttendanceStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		vErr := &ValidationError{}
		vErr.add("status", "must be one of PENDING, PRESENT, ABSENT, LATE")
		return Enrollment{}, vErr
	}

	now := s.clock.Now()
	err = s.store.WithinActivity(ctx, activityID, func(tx ActivityTx) error {
		activity := tx.Activity()
		if !actor.CanManage(activity) {
			return ErrForbidden
		}
		if !activity.OpenAt(now) {
			return ErrInvalidState
		}
		existing, err := tx.Enrollment(ctx, targetUserID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}

		previous := existing.AttendanceStatus
		enrollment, err = TransitionAttendance(activity, *existing, status, actor, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, Event{
			Type:       EventAttendanceMarked,
			ActivityID: activity.ID,
			UserID:     targetUserID,
			OccurredAt: now,
			Payload: events.AttendanceMarked{
				ActivityID:     activity.ID,
				UserID:         targetUserID,
				ActorID:        actor.UserID,
				PreviousStatus: string(previous),
				Status:         string(enrollment.AttendanceStatus),
				OccurredAt:     now,
			},
		})
	})
	if err != nil {
		return Enrollment{}, err
	}
	s.invalidate(ctx, activityID)
	return enrollment, nil
}

// GetActivityDetail returns the activity together with its enrollments and attendance.
func (s *Service) GetActivityDetail(ctx context.Context, activityID string) (detail ActivityDetail, err error) {
	ctx, span := s.start(ctx, "get_activity_detail", activityID)
	defer func() { err = s.finish(ctx, span, "get_activity_detail", activityID, err) }()

	if _, err := s.identity.CurrentActor(ctx); err != nil {
		return ActivityDetail{}, err
	}
	return s.loadDetail(ctx, activityID)
}

// GetPendingAttendanceQueue lists the participants not yet marked PRESENT.
func (s *Service) GetPendingAttendanceQueue(ctx context.Context, activityID string) (queue []Enrollment, err error) {
	ctx, span := s.start(ctx, "get_attendance_queue", activityID)
	defer func() { err = s.finish(ctx, span, "get_attendance_queue", activityID, err) }()

	actor, err := s.identity.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	// The queue is recomputed from the store, never from the detail cache.
	detail, err := s.store.LoadDetail(ctx, activityID)
	if err != nil {
		return nil, unavailable(err)
	}
	if detail == nil {
		return nil, ErrNotFound
	}
	if !actor.CanManage(detail.Activity) {
		return nil, ErrForbidden
	}
	return PendingQueue(detail.Enrollments), nil
}

func (s *Service) loadDetail(ctx context.Context, activityID string) (ActivityDetail, error) {
	cached, err := s.cache.Get(ctx, activityID)
	if err != nil {
		s.log(ctx).Warn("detail cache read failed", "activity_id", activityID, "error", err)
	} else if cached != nil {
		return *cached, nil
	}

	detail, err := s.store.LoadDetail(ctx, activityID)
	if err != nil {
		return ActivityDetail{}, unavailable(err)
	}
	if detail == nil {
		return ActivityDetail{}, ErrNotFound
	}
	if err := s.cache.Set(ctx, *detail); err != nil {
		s.log(ctx).Warn("detail cache write failed", "activity_id", activityID, "error", err)
	}
	return *detail, nil
}

func (s *Service) invalidate(ctx context.Context, activityID string) {
	if err := s.cache.Invalidate(ctx, activityID); err != nil {
		s.log(ctx).Warn("detail cache invalidation failed", "activity_id", activityID, "error", err)
	}
	observability.RecordMutation(s.clock.Now())
}

func (s *Service) start(ctx context.Context, operation, activityID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "domain."+operation, trace.WithAttributes(attribute.String("activity.id", activityID)))
}

// finish records the outcome of an operation and normalises infrastructure errors.
func (s *Service) finish(ctx context.Context, span trace.Span, operation, activityID string, err error) error {
	defer span.End()

	err = unavailable(err)
	kind := ErrorKind(err)
	observability.RecordCommand(operation, kind)
	span.SetAttributes(attribute.String("result", kind))

	logger := s.log(ctx).With("operation", operation, "activity_id", activityID, "result", kind)
	switch {
	case err == nil:
		logger.Debug("operation completed")
	case IsBusinessError(err):
		logger.Info("operation rejected", "reason", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		logger.Warn("operation conflicted", "error", err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		logger.Error("operation failed", "error", err)
	}
	return err
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return s.logger
}

func resolveTarget(actor Actor, target string) string {
	if target = strings.TrimSpace(target); target == "" {
		return actor.UserID
	}
	return target
}

func enrollmentEvent(eventType EventType, activity Activity, userID string, actor Actor, now time.Time) Event {
	return Event{
		Type:       eventType,
		ActivityID: activity.ID,
		UserID:     userID,
		OccurredAt: now,
		Payload: events.EnrollmentChanged{
			ActivityID:          activity.ID,
			UserID:              userID,
			ActorID:             actor.UserID,
			CurrentParticipants: activity.CurrentParticipants,
			MaxParticipants:     activity.MaxParticipants,
			OccurredAt:          now,
		},
	}
}
