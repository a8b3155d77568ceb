package memory

import (
	"context"
	"sync"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// Memberships is an in-memory payment ledger view. Unknown users are INACTIVE with no
// payment under review.
type Memberships struct {
	mu      sync.RWMutex
	members map[string]domain.MembershipEligibility
}

// NewMemberships constructs an empty ledger view.
func NewMemberships() *Memberships {
	return &Memberships{members: make(map[string]domain.MembershipEligibility)}
}

// Set records the membership snapshot for userID.
func (m *Memberships) Set(userID string, eligibility domain.MembershipEligibility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[userID] = eligibility
}

// GetEligibility implements domain.MembershipRepository.
func (m *Memberships) GetEligibility(ctx context.Context, userID string) (domain.MembershipEligibility, error) {
	if err := ctx.Err(); err != nil {
		return domain.MembershipEligibility{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	eligibility, ok := m.members[userID]
	if !ok {
		return domain.MembershipEligibility{MembershipStatus: domain.MembershipInactive}, nil
	}
	return eligibility, nil
}
