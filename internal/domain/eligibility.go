package domain

import (
	"context"
	"fmt"
	"time"
)

// MembershipStatus is the payment-ledger view of a membership.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "ACTIVE"
	MembershipInactive MembershipStatus = "INACTIVE"
)

// GracePeriodDays is how long after a payment still under review an inactive member
// may keep enrolling.
const GracePeriodDays = 10

// User-facing denial reasons.
const (
	ReasonMembershipInactive = "membership inactive, payment required"
	ReasonNoPaymentRecord    = "no payment record found"
	ReasonGraceExpired       = "grace period expired, payment still under review"
)

// MembershipEligibility is the read-only snapshot supplied by the payment ledger.
type MembershipEligibility struct {
	MembershipStatus             MembershipStatus
	LastPaymentAt                *time.Time
	HasPendingPaymentUnderReview bool
}

// MembershipRepository reads membership snapshots from the payment ledger.
type MembershipRepository interface {
	GetEligibility(ctx context.Context, userID string) (MembershipEligibility, error)
}

// Eligibility is the verdict of EvaluateEligibility.
type Eligibility struct {
	Allowed            bool
	Reason             string
	GraceDaysRemaining *int
}

// EvaluateEligibility decides whether a member may enroll given their membership
// snapshot. It has no side effects.
func EvaluateEligibility(membership MembershipEligibility, now time.Time) Eligibility {
	if membership.MembershipStatus == MembershipActive {
		return Eligibility{Allowed: true}
	}
	if !membership.HasPendingPaymentUnderReview {
		return Eligibility{Reason: ReasonMembershipInactive}
	}
	if membership.LastPaymentAt == nil {
		return Eligibility{Reason: ReasonNoPaymentRecord}
	}

	days := DaysSince(*membership.LastPaymentAt, now)
	if days > GracePeriodDays {
		return Eligibility{Reason: ReasonGraceExpired}
	}
	remaining := GracePeriodDays - days
	return Eligibility{
		Allowed:            true,
		Reason:             fmt.Sprintf("payment under review, %d grace days remaining", remaining),
		GraceDaysRemaining: &remaining,
	}
}

// DaysSince returns the number of whole days elapsed from since to now. A timestamp in
// the future counts as zero days.
func DaysSince(since, now time.Time) int {
	elapsed := now.Sub(since)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}
