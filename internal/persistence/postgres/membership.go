package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// MembershipRepository reads the payment ledger's membership projection.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository constructs a MembershipRepository.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// GetEligibility implements domain.MembershipRepository. Users without a row are treated
// as INACTIVE with nothing under review.
func (r *MembershipRepository) GetEligibility(ctx context.Context, userID string) (domain.MembershipEligibility, error) {
	var (
		status   string
		eligible domain.MembershipEligibility
	)
	err := r.pool.QueryRow(ctx,
		`SELECT status, last_payment_at, pending_payment_under_review FROM memberships WHERE user_id=$1`, userID,
	).Scan(&status, &eligible.LastPaymentAt, &eligible.HasPendingPaymentUnderReview)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MembershipEligibility{MembershipStatus: domain.MembershipInactive}, nil
	}
	if err != nil {
		return domain.MembershipEligibility{}, translate(err)
	}
	eligible.MembershipStatus = domain.MembershipStatus(status)
	if eligible.LastPaymentAt != nil {
		paidAt := eligible.LastPaymentAt.UTC()
		eligible.LastPaymentAt = &paidAt
	}
	return eligible, nil
}

// UpsertMembership stores the projection for userID. The payment ledger owns this data;
// the service only writes it when seeding environments.
func (r *MembershipRepository) UpsertMembership(ctx context.Context, userID string, eligibility domain.MembershipEligibility) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO memberships (user_id, status, last_payment_at, pending_payment_under_review, updated_at)
         VALUES ($1,$2,$3,$4,$5)
         ON CONFLICT (user_id) DO UPDATE
            SET status = EXCLUDED.status,
                last_payment_at = EXCLUDED.last_payment_at,
                pending_payment_under_review = EXCLUDED.pending_payment_under_review,
                updated_at = EXCLUDED.updated_at`,
		userID, string(eligibility.MembershipStatus), eligibility.LastPaymentAt, eligibility.HasPendingPaymentUnderReview, time.Now().UTC(),
	)
	return translate(err)
}
