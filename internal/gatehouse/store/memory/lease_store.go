package memory

import (
	"context"
	"sync"

	"github.com/gatehouse/server/internal/gatehouse/store"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

// LeaseStore is an in-memory ledger for tests and dev environments.
type LeaseStore struct {
	mu     sync.RWMutex
	leases map[string]types.Lease // keyed by card number
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[string]types.Lease)}
}

func (s *LeaseStore) Insert(_ context.Context, l types.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.leases[l.CardNo]; exists {
		return store.ErrDuplicateCardNo
	}
	s.leases[l.CardNo] = l
	return nil
}

func (s *LeaseStore) FindByHolder(_ context.Context, holderID string) ([]types.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Lease
	for _, l := range s.leases {
		if l.HolderID == holderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *LeaseStore) DeleteByCardNo(_ context.Context, cardNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, cardNo)
	return nil
}

func (s *LeaseStore) All(_ context.Context) ([]types.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l)
	}
	return out, nil
}

// Has reports whether a ledger row exists for cardNo.  Test-only helper.
func (s *LeaseStore) Has(cardNo string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.leases[cardNo]
	return ok
}
