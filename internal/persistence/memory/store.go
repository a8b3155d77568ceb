// Package memory provides in-process implementations of the domain repositories for
// local development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// Store keeps activities and enrollments in memory. Writers to the same activity are
// serialised; changes staged inside WithinActivity are committed only when the callback
// succeeds.
type Store struct {
	mu          sync.RWMutex
	activities  map[string]domain.Activity
	enrollments map[string]map[string]domain.Enrollment
	events      []domain.Event

	locks sync.Map
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities:  make(map[string]domain.Activity),
		enrollments: make(map[string]map[string]domain.Enrollment),
	}
}

// Seed stores an activity and its enrollments as-is, replacing any previous state.
func (s *Store) Seed(detail domain.ActivityDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[detail.Activity.ID] = detail.Activity.Clone()
	set := make(map[string]domain.Enrollment, len(detail.Enrollments))
	for _, enrollment := range detail.Enrollments {
		enrollment.ActivityID = detail.Activity.ID
		set[enrollment.UserID] = enrollment
	}
	s.enrollments[detail.Activity.ID] = set
}

// Events returns the committed events in order.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// WithinActivity implements domain.Store.
func (s *Store) WithinActivity(ctx context.Context, activityID string, fn func(domain.ActivityTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(activityID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	activity, ok := s.activities[activityID]
	staged := make(map[string]domain.Enrollment, len(s.enrollments[activityID]))
	for userID, enrollment := range s.enrollments[activityID] {
		staged[userID] = enrollment
	}
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	tx := &activityTx{loaded: activity.Clone(), enrollments: staged}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *activityTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := tx.loaded.ID
	current, ok := s.activities[id]
	if !ok || current.Revision != tx.loaded.Revision {
		return domain.ErrConcurrencyConflict
	}
	for _, created := range tx.created {
		if _, exists := s.activities[created.ID]; exists {
			return fmt.Errorf("activity %s already exists", created.ID)
		}
	}

	switch {
	case tx.deleted:
		delete(s.activities, id)
		delete(s.enrollments, id)
	default:
		if tx.saved != nil {
			saved := *tx.saved
			if saved.CurrentParticipants > saved.MaxParticipants || saved.CurrentParticipants < 0 {
				return domain.ErrCapacityExceeded
			}
			saved.Revision = current.Revision + 1
			s.activities[id] = saved
		}
		s.enrollments[id] = tx.enrollments
	}
	for _, created := range tx.created {
		s.activities[created.ID] = created
		s.enrollments[created.ID] = make(map[string]domain.Enrollment)
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *Store) lockFor(activityID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(activityID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CreateActivities implements domain.Store.
func (s *Store) CreateActivities(ctx context.Context, activities []domain.Activity, events []domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, activity := range activities {
		if _, exists := s.activities[activity.ID]; exists {
			return fmt.Errorf("activity %s already exists", activity.ID)
		}
	}
	for _, activity := range activities {
		s.activities[activity.ID] = activity.Clone()
		s.enrollments[activity.ID] = make(map[string]domain.Enrollment)
	}
	s.events = append(s.events, events...)
	return nil
}

// LoadDetail implements domain.Store.
func (s *Store) LoadDetail(ctx context.Context, activityID string) (*domain.ActivityDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity, ok := s.activities[activityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	enrollments := make([]domain.Enrollment, 0, len(s.enrollments[activityID]))
	for _, enrollment := range s.enrollments[activityID] {
		enrollments = append(enrollments, enrollment)
	}
	sort.Slice(enrollments, func(i, j int) bool {
		if enrollments[i].EnrolledAt.Equal(enrollments[j].EnrolledAt) {
			return enrollments[i].UserID < enrollments[j].UserID
		}
		return enrollments[i].EnrolledAt.Before(enrollments[j].EnrolledAt)
	})
	return &domain.ActivityDetail{Activity: activity.Clone(), Enrollments: enrollments}, nil
}

// ListActivities implements domain.Store.
func (s *Store) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, *domain.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	matches := make([]domain.Activity, 0)
	for id, activity := range s.activities {
		if filter.Status != "" && activity.Status != filter.Status {
			continue
		}
		if filter.TrainerID != "" && activity.TrainerID != filter.TrainerID {
			continue
		}
		if filter.ParticipantID != "" {
			if _, enrolled := s.enrollments[id][filter.ParticipantID]; !enrolled {
				continue
			}
		}
		if filter.From != nil && activity.StartAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !activity.StartAt.Before(*filter.To) {
			continue
		}
		if filter.Cursor != nil && !after(activity, *filter.Cursor) {
			continue
		}
		matches = append(matches, activity.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return after(matches[j], domain.Cursor{StartAt: matches[i].StartAt, ID: matches[i].ID})
	})

	limit := filter.Limit
	if limit <= 0 || len(matches) <= limit {
		return matches, nil, nil
	}
	page := matches[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{StartAt: last.StartAt, ID: last.ID}, nil
}

// ListDueActivityIDs implements domain.Store.
func (s *Store) ListDueActivityIDs(ctx context.Context, endedBefore time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	due := make([]domain.Activity, 0)
	for _, activity := range s.activities {
		if activity.Status == domain.ActivityStatusActive && !activity.EndsAt().After(endedBefore) {
			due = append(due, activity)
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return after(due[j], domain.Cursor{StartAt: due[i].StartAt, ID: due[i].ID})
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, activity := range due {
		ids = append(ids, activity.ID)
	}
	return ids, nil
}

// after reports whether activity sorts strictly after the cursor position.
func after(activity domain.Activity, cursor domain.Cursor) bool {
	if activity.StartAt.Equal(cursor.StartAt) {
		return activity.ID > cursor.ID
	}
	return activity.StartAt.After(cursor.StartAt)
}

type activityTx struct {
	loaded      domain.Activity
	enrollments map[string]domain.Enrollment
	saved       *domain.Activity
	deleted     bool
	created     []domain.Activity
	events      []domain.Event
}

func (tx *activityTx) Activity() domain.Activity {
	return tx.loaded.Clone()
}

func (tx *activityTx) Enrollment(_ context.Context, userID string) (*domain.Enrollment, error) {
	enrollment, ok := tx.enrollments[userID]
	if !ok {
		return nil, nil
	}
	return &enrollment, nil
}

func (tx *activityTx) Enrollments(context.Context) ([]domain.Enrollment, error) {
	out := make([]domain.Enrollment, 0, len(tx.enrollments))
	for _, enrollment := range tx.enrollments {
		out = append(out, enrollment)
	}
	return out, nil
}

func (tx *activityTx) InsertEnrollment(_ context.Context, enrollment domain.Enrollment) error {
	if _, exists := tx.enrollments[enrollment.UserID]; exists {
		return domain.ErrAlreadyEnrolled
	}
	enrollment.ActivityID = tx.loaded.ID
	tx.enrollments[enrollment.UserID] = enrollment
	return nil
}

func (tx *activityTx) UpdateEnrollment(_ context.Context, enrollment domain.Enrollment) error {
	if _, exists := tx.enrollments[enrollment.UserID]; !exists {
		return domain.ErrNotFound
	}
	enrollment.ActivityID = tx.loaded.ID
	tx.enrollments[enrollment.UserID] = enrollment
	return nil
}

func (tx *activityTx) DeleteEnrollment(_ context.Context, userID string) error {
	if _, exists := tx.enrollments[userID]; !exists {
		return domain.ErrNotFound
	}
	delete(tx.enrollments, userID)
	return nil
}

func (tx *activityTx) SaveActivity(_ context.Context, activity domain.Activity) error {
	if activity.ID != tx.loaded.ID || activity.Revision != tx.loaded.Revision {
		return domain.ErrConcurrencyConflict
	}
	saved := activity.Clone()
	tx.saved = &saved
	return nil
}

func (tx *activityTx) DeleteActivity(context.Context) error {
	tx.deleted = true
	return nil
}

func (tx *activityTx) CreateActivity(_ context.Context, activity domain.Activity) error {
	tx.created = append(tx.created, activity.Clone())
	return nil
}

func (tx *activityTx) RecordEvent(_ context.Context, event domain.Event) error {
	tx.events = append(tx.events, event)
	return nil
}
