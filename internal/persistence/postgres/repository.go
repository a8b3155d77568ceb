// Package postgres implements the domain repositories on top of pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/outbox"
)

const activityColumns = `activity_id, name, description, location, trainer_id, start_at, duration_minutes,
        max_participants, current_participants, status, recurrence_weekdays, created_by, created_at,
        last_modified_at, revision`

const enrollmentColumns = `activity_id, user_id, attendance_status, enrolled_at, marked_by, marked_at`

// Repository provides Postgres-backed persistence for activities, enrollments and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithinActivity locks the activity row for the duration of fn. Errors returned by fn
// are passed through unchanged after the transaction is rolled back.
func (r *Repository) WithinActivity(ctx context.Context, activityID string, fn func(domain.ActivityTx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translate(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	activity, err := scanActivity(tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1 FOR UPDATE`, activityID))
	if err != nil {
		return translate(err)
	}

	if err = fn(&activityTx{tx: tx, loaded: activity}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// CreateActivities inserts new activities and their outbox events atomically.
func (r *Repository) CreateActivities(ctx context.Context, activities []domain.Activity, events []domain.Event) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return translate(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, activity := range activities {
		if err = insertActivity(ctx, tx, activity); err != nil {
			return translate(err)
		}
	}
	for _, event := range events {
		if err = outbox.Enqueue(ctx, tx, event); err != nil {
			return translate(err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// LoadDetail reads an activity and its enrollments from one consistent snapshot.
func (r *Repository) LoadDetail(ctx context.Context, activityID string) (*domain.ActivityDetail, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, translate(err)
	}
	defer tx.Rollback(ctx)

	activity, err := scanActivity(tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, activityID))
	if err != nil {
		return nil, translate(err)
	}
	enrollments, err := queryEnrollments(ctx, tx, activityID)
	if err != nil {
		return nil, translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translate(err)
	}
	return &domain.ActivityDetail{Activity: activity, Enrollments: enrollments}, nil
}

// ListActivities returns activities ordered by start time and identifier.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, *domain.Cursor, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		clauses = append(clauses, "a.status = "+arg(string(filter.Status)))
	}
	if filter.TrainerID != "" {
		clauses = append(clauses, "a.trainer_id = "+arg(filter.TrainerID))
	}
	if filter.ParticipantID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM enrollments e WHERE e.activity_id = a.activity_id AND e.user_id = "+arg(filter.ParticipantID)+")")
	}
	if filter.From != nil {
		clauses = append(clauses, "a.start_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "a.start_at < "+arg(*filter.To))
	}
	if filter.Cursor != nil {
		clauses = append(clauses, fmt.Sprintf("(a.start_at, a.activity_id) > (%s, %s)", arg(filter.Cursor.StartAt), arg(filter.Cursor.ID)))
	}

	query := `SELECT ` + prefixed("a.", activityColumns) + ` FROM activities a`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.start_at, a.activity_id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit+1)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, translate(err)
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, max(filter.Limit, 0))
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, nil, translate(err)
		}
		results = append(results, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, translate(err)
	}

	if filter.Limit <= 0 || len(results) <= filter.Limit {
		return results, nil, nil
	}
	results = results[:filter.Limit]
	last := results[len(results)-1]
	return results, &domain.Cursor{StartAt: last.StartAt, ID: last.ID}, nil
}

// ListDueActivityIDs implements domain.Store.
func (r *Repository) ListDueActivityIDs(ctx context.Context, endedBefore time.Time, limit int) ([]string, error) {
	const query = `SELECT activity_id FROM activities
        WHERE status = 'ACTIVE' AND start_at + make_interval(mins => duration_minutes) <= $1
        ORDER BY start_at, activity_id
        LIMIT $2`

	rows, err := r.pool.Query(ctx, query, endedBefore, limit)
	if err != nil {
		return nil, translate(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

type activityTx struct {
	tx     pgx.Tx
	loaded domain.Activity
}

func (t *activityTx) Activity() domain.Activity {
	return t.loaded.Clone()
}

func (t *activityTx) Enrollment(ctx context.Context, userID string) (*domain.Enrollment, error) {
	enrollment, err := scanEnrollment(t.tx.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE activity_id=$1 AND user_id=$2`, t.loaded.ID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return &enrollment, nil
}

func (t *activityTx) Enrollments(ctx context.Context) ([]domain.Enrollment, error) {
	enrollments, err := queryEnrollments(ctx, t.tx, t.loaded.ID)
	if err != nil {
		return nil, translate(err)
	}
	return enrollments, nil
}

func (t *activityTx) InsertEnrollment(ctx context.Context, enrollment domain.Enrollment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO enrollments (`+enrollmentColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		t.loaded.ID, enrollment.UserID, string(enrollment.AttendanceStatus), enrollment.EnrolledAt,
		nullIfEmpty(enrollment.MarkedBy), enrollment.MarkedAt,
	)
	return translate(err)
}

func (t *activityTx) UpdateEnrollment(ctx context.Context, enrollment domain.Enrollment) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE enrollments SET attendance_status=$3, marked_by=$4, marked_at=$5 WHERE activity_id=$1 AND user_id=$2`,
		t.loaded.ID, enrollment.UserID, string(enrollment.AttendanceStatus), nullIfEmpty(enrollment.MarkedBy), enrollment.MarkedAt,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *activityTx) DeleteEnrollment(ctx context.Context, userID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM enrollments WHERE activity_id=$1 AND user_id=$2`, t.loaded.ID, userID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveActivity applies a revision-guarded update; a lost race surfaces as ErrConcurrencyConflict.
func (t *activityTx) SaveActivity(ctx context.Context, activity domain.Activity) error {
	if activity.ID != t.loaded.ID {
		return fmt.Errorf("save activity %s inside transaction for %s", activity.ID, t.loaded.ID)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE activities
            SET name=$3, description=$4, location=$5, trainer_id=$6, start_at=$7, duration_minutes=$8,
                max_participants=$9, current_participants=$10, status=$11, recurrence_weekdays=$12,
                last_modified_at=$13, revision = revision + 1
          WHERE activity_id=$1 AND revision=$2`,
		activity.ID, activity.Revision,
		activity.Name, activity.Description, activity.Location, activity.TrainerID, activity.StartAt,
		activity.DurationMinutes, activity.MaxParticipants, activity.CurrentParticipants,
		string(activity.Status), weekdaysToArray(activity.Recurrence), activity.LastModifiedAt,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func (t *activityTx) DeleteActivity(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM activities WHERE activity_id=$1`, t.loaded.ID)
	return translate(err)
}

func (t *activityTx) CreateActivity(ctx context.Context, activity domain.Activity) error {
	return translate(insertActivity(ctx, t.tx, activity))
}

func (t *activityTx) RecordEvent(ctx context.Context, event domain.Event) error {
	return translate(outbox.Enqueue(ctx, t.tx, event))
}

func insertActivity(ctx context.Context, tx pgx.Tx, activity domain.Activity) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		activity.ID, activity.Name, activity.Description, activity.Location, activity.TrainerID,
		activity.StartAt, activity.DurationMinutes, activity.MaxParticipants, activity.CurrentParticipants,
		string(activity.Status), weekdaysToArray(activity.Recurrence), activity.CreatedBy,
		activity.CreatedAt, activity.LastModifiedAt, activity.Revision,
	)
	return err
}

func queryEnrollments(ctx context.Context, tx pgx.Tx, activityID string) ([]domain.Enrollment, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE activity_id=$1 ORDER BY enrolled_at, user_id`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollments := make([]domain.Enrollment, 0)
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (domain.Activity, error) {
	var (
		activity domain.Activity
		status   string
		weekdays []int16
	)
	if err := row.Scan(
		&activity.ID, &activity.Name, &activity.Description, &activity.Location, &activity.TrainerID,
		&activity.StartAt, &activity.DurationMinutes, &activity.MaxParticipants, &activity.CurrentParticipants,
		&status, &weekdays, &activity.CreatedBy, &activity.CreatedAt, &activity.LastModifiedAt, &activity.Revision,
	); err != nil {
		return domain.Activity{}, err
	}
	activity.Status = domain.ActivityStatus(status)
	activity.StartAt = activity.StartAt.UTC()
	activity.CreatedAt = activity.CreatedAt.UTC()
	activity.LastModifiedAt = activity.LastModifiedAt.UTC()
	activity.Recurrence = weekdaysFromArray(weekdays)
	return activity, nil
}

func scanEnrollment(row rowScanner) (domain.Enrollment, error) {
	var (
		enrollment domain.Enrollment
		status     string
		markedBy   *string
	)
	if err := row.Scan(&enrollment.ActivityID, &enrollment.UserID, &status, &enrollment.EnrolledAt, &markedBy, &enrollment.MarkedAt); err != nil {
		return domain.Enrollment{}, err
	}
	enrollment.AttendanceStatus = domain.AttendanceStatus(status)
	enrollment.EnrolledAt = enrollment.EnrolledAt.UTC()
	if markedBy != nil {
		enrollment.MarkedBy = *markedBy
	}
	if enrollment.MarkedAt != nil {
		markedAt := enrollment.MarkedAt.UTC()
		enrollment.MarkedAt = &markedAt
	}
	return enrollment, nil
}

func weekdaysToArray(recurrence *domain.Recurrence) []int16 {
	if recurrence.IsEmpty() {
		return nil
	}
	days := make([]int16, 0, len(recurrence.Weekdays))
	for _, day := range recurrence.Weekdays {
		days = append(days, int16(day))
	}
	return days
}

func weekdaysFromArray(days []int16) *domain.Recurrence {
	if len(days) == 0 {
		return nil
	}
	recurrence := &domain.Recurrence{Weekdays: make([]time.Weekday, 0, len(days))}
	for _, day := range days {
		recurrence.Weekdays = append(recurrence.Weekdays, time.Weekday(day))
	}
	return recurrence
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = prefix + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// translate maps driver errors onto the domain error taxonomy. Domain errors pass through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if domain.ErrorKind(err) != "unexpected" {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.TableName == "enrollments" {
				return domain.ErrAlreadyEnrolled
			}
		case "23514":
			if pgErr.ConstraintName == "activities_capacity_check" {
				return domain.ErrCapacityExceeded
			}
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}
