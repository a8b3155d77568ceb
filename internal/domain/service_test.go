package domain_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/clock"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/persistence/memory"
)

var monday = time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	members *memory.Memberships
	clock   *clock.Manual
	cache   *spyCache
	svc     *domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		members: memory.NewMemberships(),
		clock:   clock.NewManual(monday),
		cache:   newSpyCache(),
	}
	var seq atomic.Int64
	f.svc = domain.NewService(f.store, f.members, domain.ContextIdentity{},
		domain.WithClock(f.clock),
		domain.WithIDGenerator(func() string { return fmt.Sprintf("act-%d", seq.Add(1)) }),
		domain.WithPolicy(domain.WindowPolicy{RegistrationCutoffHours: 24, UnregistrationCutoffHours: 2}),
		domain.WithDetailCache(f.cache),
		domain.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

func as(role domain.Role, userID string) context.Context {
	return domain.ContextWithActor(context.Background(), domain.Actor{UserID: userID, Role: role})
}

// seed stores an ACTIVE activity owned by trainer-1 starting three hours from now.
func (f *fixture) seed(id string, mutate func(*domain.ActivityDetail)) {
	detail := domain.ActivityDetail{Activity: domain.Activity{
		ID:              id,
		Name:            "Functional",
		TrainerID:       "trainer-1",
		StartAt:         f.clock.Now().Add(3 * time.Hour),
		DurationMinutes: 60,
		MaxParticipants: 10,
		Status:          domain.ActivityStatusActive,
	}}
	if mutate != nil {
		mutate(&detail)
	}
	detail.Activity.CurrentParticipants = len(detail.Enrollments)
	f.store.Seed(detail)
}

func (f *fixture) activeMember(userID string) {
	f.members.Set(userID, domain.MembershipEligibility{MembershipStatus: domain.MembershipActive})
}

func (f *fixture) detail(t *testing.T, id string) *domain.ActivityDetail {
	t.Helper()
	detail, err := f.store.LoadDetail(context.Background(), id)
	require.NoError(t, err)
	return detail
}

func TestEnrollSelf(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)
	f.activeMember("u1")

	enrollment, err := f.svc.Enroll(as(domain.RoleClient, "u1"), "a1", "")
	require.NoError(t, err)
	require.Equal(t, domain.AttendancePending, enrollment.AttendanceStatus)
	require.Equal(t, monday, enrollment.EnrolledAt)

	detail := f.detail(t, "a1")
	require.Equal(t, 1, detail.Activity.CurrentParticipants)
	require.Len(t, detail.Enrollments, 1)

	events := f.store.Events()
	require.Len(t, events, 1)
	require.Equal(t, domain.EventEnrollmentCreated, events[0].Type)
	require.Equal(t, []string{"a1"}, f.cache.invalidated())
}

func TestEnrollAuthorization(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)
	f.activeMember("u2")

	_, err := f.svc.Enroll(as(domain.RoleClient, "u1"), "a1", "u2")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Enroll(context.Background(), "a1", "u2")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	// Any trainer may enroll a member, not only the owner.
	_, err = f.svc.Enroll(as(domain.RoleTrainer, "trainer-9"), "a1", "u2")
	require.NoError(t, err)
}

func TestEnrollFailures(t *testing.T) {
	f := newFixture(t)
	f.activeMember("u1")
	f.seed("completed", func(d *domain.ActivityDetail) { d.Activity.Status = domain.ActivityStatusCompleted })
	f.seed("far", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(24*time.Hour + time.Minute) })
	f.seed("started", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(-time.Minute) })
	f.seed("full", func(d *domain.ActivityDetail) {
		d.Activity.MaxParticipants = 1
		d.Enrollments = []domain.Enrollment{{UserID: "other", AttendanceStatus: domain.AttendancePending}}
	})
	f.seed("joined", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{{UserID: "u1", AttendanceStatus: domain.AttendancePresent}}
	})

	ctx := as(domain.RoleClient, "u1")
	cases := map[string]error{
		"missing":   domain.ErrNotFound,
		"completed": domain.ErrInvalidState,
		"far":       domain.ErrOutsideWindow,
		"started":   domain.ErrOutsideWindow,
		"full":      domain.ErrCapacityExceeded,
		"joined":    domain.ErrAlreadyEnrolled,
	}
	for id, want := range cases {
		t.Run(id, func(t *testing.T) {
			_, err := f.svc.Enroll(ctx, id, "u1")
			require.ErrorIs(t, err, want)
		})
	}

	full := f.detail(t, "full")
	require.Equal(t, 1, full.Activity.CurrentParticipants)
	require.EqualValues(t, 0, full.Activity.Revision)
	require.Empty(t, f.store.Events())
}

func TestEnrollWindowBoundary(t *testing.T) {
	f := newFixture(t)
	f.activeMember("u1")
	f.seed("edge", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(24 * time.Hour) })

	_, err := f.svc.Enroll(as(domain.RoleClient, "u1"), "edge", "")
	require.NoError(t, err)
}

func TestEnrollGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)
	fiveDaysAgo := monday.Add(-5 * 24 * time.Hour)
	twelveDaysAgo := monday.Add(-12 * 24 * time.Hour)
	f.members.Set("recent", domain.MembershipEligibility{MembershipStatus: domain.MembershipInactive, HasPendingPaymentUnderReview: true, LastPaymentAt: &fiveDaysAgo})
	f.members.Set("stale", domain.MembershipEligibility{MembershipStatus: domain.MembershipInactive, HasPendingPaymentUnderReview: true, LastPaymentAt: &twelveDaysAgo})

	_, err := f.svc.Enroll(as(domain.RoleClient, "recent"), "a1", "")
	require.NoError(t, err)

	_, err = f.svc.Enroll(as(domain.RoleClient, "stale"), "a1", "")
	require.ErrorIs(t, err, domain.ErrNotEligible)
	var notEligible *domain.NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	require.Equal(t, domain.ReasonGraceExpired, notEligible.Reason)

	_, err = f.svc.Enroll(as(domain.RoleClient, "unknown"), "a1", "")
	require.ErrorAs(t, err, &notEligible)
	require.Equal(t, domain.ReasonMembershipInactive, notEligible.Reason)

	require.Equal(t, 1, f.detail(t, "a1").Activity.CurrentParticipants)
}

func TestConcurrentEnrollAtLastSlot(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) { d.Activity.MaxParticipants = 1 })
	f.activeMember("user1")
	f.activeMember("user2")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, user := range []string{"user1", "user2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, results[i] = f.svc.Enroll(as(domain.RoleClient, user), "a1", "")
		}(i, user)
	}
	wg.Wait()

	var ok, full int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case err == domain.ErrCapacityExceeded:
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, full)

	detail := f.detail(t, "a1")
	require.Equal(t, 1, detail.Activity.CurrentParticipants)
	require.Len(t, detail.Enrollments, 1)
}

func TestCapacityInvariantAcrossEnrollAndUnenroll(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) { d.Activity.MaxParticipants = 3 })
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		f.activeMember(u)
	}
	staff := as(domain.RoleAdmin, "admin")

	steps := []struct {
		enroll bool
		user   string
	}{
		{true, "u1"}, {true, "u2"}, {true, "u3"}, {true, "u4"},
		{false, "u2"}, {true, "u4"}, {false, "u1"}, {false, "u1"}, {true, "u1"},
	}
	for _, step := range steps {
		if step.enroll {
			_, _ = f.svc.Enroll(staff, "a1", step.user)
		} else {
			_ = f.svc.Unenroll(staff, "a1", step.user)
		}
		detail := f.detail(t, "a1")
		require.Equal(t, len(detail.Enrollments), detail.Activity.CurrentParticipants)
		require.LessOrEqual(t, detail.Activity.CurrentParticipants, detail.Activity.MaxParticipants)
	}
	require.Equal(t, 3, f.detail(t, "a1").Activity.CurrentParticipants)
}

func TestUnenrollThenReenrollResetsAttendance(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)
	f.activeMember("u1")
	client := as(domain.RoleClient, "u1")

	_, err := f.svc.Enroll(client, "a1", "")
	require.NoError(t, err)
	_, err = f.svc.MarkAttendance(as(domain.RoleTrainer, "trainer-1"), "a1", "u1", domain.AttendancePresent)
	require.NoError(t, err)

	require.NoError(t, f.svc.Unenroll(client, "a1", ""))
	require.Zero(t, f.detail(t, "a1").Activity.CurrentParticipants)

	enrollment, err := f.svc.Enroll(client, "a1", "")
	require.NoError(t, err)
	require.Equal(t, domain.AttendancePending, enrollment.AttendanceStatus)

	detail := f.detail(t, "a1")
	require.Equal(t, 1, detail.Activity.CurrentParticipants)
	require.Equal(t, domain.AttendancePending, detail.Enrollments[0].AttendanceStatus)
}

func TestUnenrollFailures(t *testing.T) {
	f := newFixture(t)
	enrolled := func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{{UserID: "u1", AttendanceStatus: domain.AttendancePending}}
	}
	f.seed("soon", func(d *domain.ActivityDetail) {
		enrolled(d)
		d.Activity.StartAt = monday.Add(2*time.Hour - time.Minute)
	})
	f.seed("cancelled", func(d *domain.ActivityDetail) {
		enrolled(d)
		d.Activity.Status = domain.ActivityStatusCancelled
	})
	f.seed("empty", nil)

	client := as(domain.RoleClient, "u1")
	require.ErrorIs(t, f.svc.Unenroll(client, "soon", ""), domain.ErrOutsideWindow)
	require.ErrorIs(t, f.svc.Unenroll(client, "cancelled", ""), domain.ErrInvalidState)
	require.ErrorIs(t, f.svc.Unenroll(client, "empty", ""), domain.ErrNotFound)
	require.ErrorIs(t, f.svc.Unenroll(as(domain.RoleClient, "u2"), "soon", "u1"), domain.ErrForbidden)

	require.Equal(t, 1, f.detail(t, "soon").Activity.CurrentParticipants)
}

func TestMarkAttendanceAuthorization(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{{UserID: "u1", AttendanceStatus: domain.AttendancePending}}
	})

	_, err := f.svc.MarkAttendance(as(domain.RoleTrainer, "trainer-2"), "a1", "u1", domain.AttendancePresent)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.MarkAttendance(as(domain.RoleClient, "u1"), "a1", "u1", domain.AttendancePresent)
	require.ErrorIs(t, err, domain.ErrForbidden)

	enrollment, err := f.svc.MarkAttendance(as(domain.RoleAdmin, "admin"), "a1", "u1", "late")
	require.NoError(t, err)
	require.Equal(t, domain.AttendanceLate, enrollment.AttendanceStatus)
	require.Equal(t, "admin", enrollment.MarkedBy)

	_, err = f.svc.MarkAttendance(as(domain.RoleTrainer, "trainer-1"), "a1", "ghost", domain.AttendancePresent)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.MarkAttendance(as(domain.RoleTrainer, "trainer-1"), "a1", "u1", "MAYBE")
	require.Equal(t, "validation_failed", domain.ErrorKind(err))
}

func TestMarkAttendanceOnCompletedActivity(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Activity.Status = domain.ActivityStatusCompleted
		d.Enrollments = []domain.Enrollment{{UserID: "u1", AttendanceStatus: domain.AttendancePending}}
	})

	_, err := f.svc.MarkAttendance(as(domain.RoleTrainer, "trainer-1"), "a1", "u1", domain.AttendancePresent)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.Equal(t, domain.AttendancePending, f.detail(t, "a1").Enrollments[0].AttendanceStatus)
}

func TestPendingAttendanceQueue(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{
			{UserID: "u1", AttendanceStatus: domain.AttendancePending, EnrolledAt: monday.Add(-3 * time.Hour)},
			{UserID: "u2", AttendanceStatus: domain.AttendancePending, EnrolledAt: monday.Add(-2 * time.Hour)},
			{UserID: "u3", AttendanceStatus: domain.AttendancePending, EnrolledAt: monday.Add(-time.Hour)},
		}
	})
	trainer := as(domain.RoleTrainer, "trainer-1")

	_, err := f.svc.MarkAttendance(trainer, "a1", "u1", domain.AttendancePresent)
	require.NoError(t, err)
	_, err = f.svc.MarkAttendance(trainer, "a1", "u2", domain.AttendanceAbsent)
	require.NoError(t, err)

	queue, err := f.svc.GetPendingAttendanceQueue(trainer, "a1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	require.Equal(t, "u2", queue[0].UserID)
	require.Equal(t, "u3", queue[1].UserID)

	_, err = f.svc.GetPendingAttendanceQueue(as(domain.RoleTrainer, "trainer-2"), "a1")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.GetPendingAttendanceQueue(as(domain.RoleClient, "u1"), "a1")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestGetActivityDetailReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)
	ctx := as(domain.RoleClient, "u1")

	detail, err := f.svc.GetActivityDetail(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "a1", detail.Activity.ID)
	require.Equal(t, 1, f.cache.sets())

	_, err = f.svc.GetActivityDetail(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.sets())

	_, err = f.svc.GetActivityDetail(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateActivityRecurring(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

	created, err := f.svc.CreateActivity(as(domain.RoleTrainer, "trainer-1"), domain.CreateActivityInput{
		Name:            "Crossfit",
		StartAt:         start,
		DurationMinutes: 60,
		MaxParticipants: 12,
		Recurrence:      &domain.Recurrence{Weekdays: []time.Weekday{time.Wednesday, time.Monday, time.Wednesday}},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	require.Equal(t, start, created[0].StartAt)
	require.Equal(t, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), created[1].StartAt)
	for _, activity := range created {
		require.Equal(t, "trainer-1", activity.TrainerID)
		require.Equal(t, domain.ActivityStatusActive, activity.Status)
		require.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, activity.Recurrence.Weekdays)
		require.Equal(t, "trainer-1", activity.CreatedBy)
	}
	require.Len(t, f.store.Events(), 2)
}

func TestCreateActivityValidation(t *testing.T) {
	f := newFixture(t)
	past := monday.Add(-24 * time.Hour)

	_, err := f.svc.CreateActivity(as(domain.RoleTrainer, "trainer-1"), domain.CreateActivityInput{
		Name:    "Yoga",
		StartAt: past,
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.FieldErrors, "start_at")
	require.Contains(t, vErr.FieldErrors, "duration_minutes")
	require.Contains(t, vErr.FieldErrors, "max_participants")

	created, err := f.svc.CreateActivity(as(domain.RoleAdmin, "admin"), domain.CreateActivityInput{
		Name:            "Backfill",
		TrainerID:       "trainer-1",
		StartAt:         past,
		DurationMinutes: 45,
		MaxParticipants: 5,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	_, err = f.svc.CreateActivity(as(domain.RoleTrainer, "trainer-1"), domain.CreateActivityInput{
		Name: "Poach", TrainerID: "trainer-2", StartAt: monday.Add(time.Hour), DurationMinutes: 30, MaxParticipants: 3,
	})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreateActivity(as(domain.RoleClient, "u1"), domain.CreateActivityInput{Name: "Nope"})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCompleteRecurringSpawnsSingleSuccessor(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Activity.StartAt = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
		d.Activity.Recurrence = &domain.Recurrence{Weekdays: []time.Weekday{time.Monday}}
		d.Enrollments = []domain.Enrollment{{UserID: "u1", AttendanceStatus: domain.AttendancePresent}}
	})
	trainer := as(domain.RoleTrainer, "trainer-1")

	result, err := f.svc.CompleteActivity(trainer, "a1")
	require.NoError(t, err)
	require.Equal(t, domain.ActivityStatusCompleted, result.Activity.Status)
	require.NotNil(t, result.Successor)
	require.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), result.Successor.StartAt)

	successor := f.detail(t, result.Successor.ID)
	require.Equal(t, domain.ActivityStatusActive, successor.Activity.Status)
	require.Zero(t, successor.Activity.CurrentParticipants)
	require.Empty(t, successor.Enrollments)
	require.Equal(t, "Functional", successor.Activity.Name)
	require.Equal(t, "trainer-1", successor.Activity.TrainerID)
	require.Equal(t, []time.Weekday{time.Monday}, successor.Activity.Recurrence.Weekdays)

	_, err = f.svc.CompleteActivity(trainer, "a1")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	all, _, err := f.store.ListActivities(context.Background(), domain.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCompleteNonRecurringHasNoSuccessor(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)

	result, err := f.svc.CompleteActivity(as(domain.RoleAdmin, "admin"), "a1")
	require.NoError(t, err)
	require.Nil(t, result.Successor)

	_, err = f.svc.CompleteActivity(as(domain.RoleTrainer, "trainer-2"), "a1")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCancelBreaksRecurrenceChain(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Activity.Recurrence = &domain.Recurrence{Weekdays: []time.Weekday{time.Monday}}
	})

	cancelled, err := f.svc.CancelActivity(as(domain.RoleTrainer, "trainer-1"), "a1")
	require.NoError(t, err)
	require.Equal(t, domain.ActivityStatusCancelled, cancelled.Status)

	all, _, err := f.store.ListActivities(context.Background(), domain.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = f.svc.CancelActivity(as(domain.RoleTrainer, "trainer-1"), "a1")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestUpdateActivity(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{
			{UserID: "u1", AttendanceStatus: domain.AttendancePending},
			{UserID: "u2", AttendanceStatus: domain.AttendancePending},
		}
	})
	trainer := as(domain.RoleTrainer, "trainer-1")

	one := 1
	_, err := f.svc.UpdateActivity(trainer, "a1", domain.UpdateActivityInput{MaxParticipants: &one})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.FieldErrors, "max_participants")
	require.Equal(t, 10, f.detail(t, "a1").Activity.MaxParticipants)

	other := "trainer-2"
	_, err = f.svc.UpdateActivity(trainer, "a1", domain.UpdateActivityInput{TrainerID: &other})
	require.ErrorIs(t, err, domain.ErrForbidden)

	two := 2
	name := "Functional HIIT"
	updated, err := f.svc.UpdateActivity(trainer, "a1", domain.UpdateActivityInput{MaxParticipants: &two, Name: &name})
	require.NoError(t, err)
	require.Equal(t, 2, updated.MaxParticipants)
	require.Equal(t, "Functional HIIT", updated.Name)

	updated, err = f.svc.UpdateActivity(as(domain.RoleAdmin, "admin"), "a1", domain.UpdateActivityInput{TrainerID: &other})
	require.NoError(t, err)
	require.Equal(t, "trainer-2", updated.TrainerID)

	_, err = f.svc.UpdateActivity(trainer, "a1", domain.UpdateActivityInput{Name: &name})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateRejectsTerminalActivity(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) { d.Activity.Status = domain.ActivityStatusCompleted })

	name := "late edit"
	_, err := f.svc.UpdateActivity(as(domain.RoleAdmin, "admin"), "a1", domain.UpdateActivityInput{Name: &name})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDeleteActivity(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{{UserID: "u1", AttendanceStatus: domain.AttendancePending}}
	})

	require.ErrorIs(t, f.svc.DeleteActivity(as(domain.RoleClient, "u1"), "a1"), domain.ErrForbidden)
	require.NoError(t, f.svc.DeleteActivity(as(domain.RoleTrainer, "trainer-1"), "a1"))

	_, err := f.store.LoadDetail(context.Background(), "a1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteActivity(as(domain.RoleAdmin, "admin"), "a1"), domain.ErrNotFound)
}

func TestCompleteDueActivities(t *testing.T) {
	f := newFixture(t)
	f.seed("due", func(d *domain.ActivityDetail) {
		d.Activity.StartAt = monday.Add(-3 * time.Hour)
		d.Activity.Recurrence = &domain.Recurrence{Weekdays: []time.Weekday{time.Monday}}
	})
	f.seed("just-ended", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(-time.Hour) })
	f.seed("running", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(-30 * time.Minute) })
	f.seed("future", nil)

	completed, err := f.svc.CompleteDueActivities(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, completed)
	require.Equal(t, domain.ActivityStatusCompleted, f.detail(t, "due").Activity.Status)
	require.Equal(t, domain.ActivityStatusCompleted, f.detail(t, "just-ended").Activity.Status)
	require.Equal(t, domain.ActivityStatusActive, f.detail(t, "running").Activity.Status)

	active, _, err := f.store.ListActivities(context.Background(), domain.ActivityFilter{Status: domain.ActivityStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 3)

	completed, err = f.svc.CompleteDueActivities(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, completed)
}

func TestCompleteDueActivitiesHonoursDelay(t *testing.T) {
	f := newFixture(t)
	f.seed("ended-long-ago", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(-3 * time.Hour) })
	f.seed("ended-recently", func(d *domain.ActivityDetail) { d.Activity.StartAt = monday.Add(-90 * time.Minute) })
	svc := domain.NewService(f.store, f.members, domain.ContextIdentity{},
		domain.WithClock(f.clock),
		domain.WithAutoCompleteDelay(time.Hour),
		domain.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	completed, err := svc.CompleteDueActivities(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, completed)
	require.Equal(t, domain.ActivityStatusCompleted, f.detail(t, "ended-long-ago").Activity.Status)
	require.Equal(t, domain.ActivityStatusActive, f.detail(t, "ended-recently").Activity.Status)
}

func TestActivityClosesAtScheduledEnd(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{{ActivityID: "a1", UserID: "u1", AttendanceStatus: domain.AttendancePending, EnrolledAt: monday}}
	})
	f.activeMember("u2")
	svc := domain.NewService(f.store, f.members, domain.ContextIdentity{},
		domain.WithClock(f.clock),
		domain.WithPolicy(domain.WindowPolicy{}),
		domain.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	trainer := as(domain.RoleTrainer, "trainer-1")

	f.clock.Advance(3*time.Hour + 59*time.Minute)
	_, err := svc.MarkAttendance(trainer, "a1", "u1", domain.AttendancePresent)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = svc.MarkAttendance(trainer, "a1", "u1", domain.AttendanceAbsent)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(30 * time.Minute)
	_, err = svc.Enroll(as(domain.RoleClient, "u2"), "a1", "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.ErrorIs(t, svc.Unenroll(as(domain.RoleClient, "u1"), "a1", ""), domain.ErrInvalidState)

	detail := f.detail(t, "a1")
	require.Equal(t, 1, detail.Activity.CurrentParticipants)
	require.Equal(t, domain.AttendancePresent, detail.Enrollments[0].AttendanceStatus)

	completed, err := svc.CompleteDueActivities(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, completed)
	require.Equal(t, domain.ActivityStatusCompleted, f.detail(t, "a1").Activity.Status)
}

func TestListActivitiesValidatesFilter(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", nil)
	ctx := as(domain.RoleClient, "u1")

	activities, next, err := f.svc.ListActivities(ctx, domain.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Nil(t, next)

	_, _, err = f.svc.ListActivities(ctx, domain.ActivityFilter{Status: "PAUSED"})
	require.Equal(t, "validation_failed", domain.ErrorKind(err))
}

func TestPendingAttendanceQueueIgnoresStaleCache(t *testing.T) {
	f := newFixture(t)
	f.seed("a1", func(d *domain.ActivityDetail) {
		d.Enrollments = []domain.Enrollment{
			{UserID: "u1", AttendanceStatus: domain.AttendancePending, EnrolledAt: monday.Add(-2 * time.Hour)},
			{UserID: "u2", AttendanceStatus: domain.AttendancePending, EnrolledAt: monday.Add(-time.Hour)},
		}
	})
	trainer := as(domain.RoleTrainer, "trainer-1")

	// A reader that loaded before the mutation committed writes its copy back afterwards.
	stale, err := f.svc.GetActivityDetail(trainer, "a1")
	require.NoError(t, err)
	_, err = f.svc.MarkAttendance(trainer, "a1", "u1", domain.AttendancePresent)
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(context.Background(), stale))

	queue, err := f.svc.GetPendingAttendanceQueue(trainer, "a1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, "u2", queue[0].UserID)

	_, err = f.svc.GetPendingAttendanceQueue(trainer, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type spyCache struct {
	mu          sync.Mutex
	entries     map[string]domain.ActivityDetail
	setCount    int
	invalidates []string
}

func newSpyCache() *spyCache {
	return &spyCache{entries: make(map[string]domain.ActivityDetail)}
}

func (c *spyCache) Get(_ context.Context, id string) (*domain.ActivityDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	detail, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	return &detail, nil
}

func (c *spyCache) Set(_ context.Context, detail domain.ActivityDetail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[detail.Activity.ID] = detail
	c.setCount++
	return nil
}

func (c *spyCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidates = append(c.invalidates, id)
	return nil
}

func (c *spyCache) sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setCount
}

func (c *spyCache) invalidated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidates...)
}
