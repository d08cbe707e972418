package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gatehouse/server/internal/door"
	"github.com/gatehouse/server/internal/gatehouse/store"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

var (
	ErrInvalidGrantID  = errors.New("accessId is required")
	ErrInvalidHolderID = errors.New("userId is required")
	ErrInvalidPrefix   = errors.New("prefix must be 0-10 letters")

	// ErrCardCreation is returned when replicating a new card to the
	// doors fails on at least one of them.  The ledger row already
	// exists at that point; re-issuing for the same holder revokes it
	// and starts over.
	ErrCardCreation = errors.New("failed to create a timed access card")
)

// GrantService issues timed access cards: one live card per holder,
// replicated to every configured door, recorded in the lease ledger.
type GrantService struct {
	leases   store.LeaseStore
	doors    []door.Client
	validity time.Duration
	logger   *log.Logger

	// Test seams; default to time.Now and NewCardNumber.
	now       func() time.Time
	newCardNo func(prefix string) (string, error)
}

type GrantConfig struct {
	// Validity is the default card lifetime when the caller supplies no
	// override.
	Validity time.Duration
}

func NewGrantService(leases store.LeaseStore, doors []door.Client, cfg GrantConfig, logger *log.Logger) *GrantService {
	validity := cfg.Validity
	if validity <= 0 {
		validity = 3 * time.Minute
	}
	return &GrantService{
		leases:    leases,
		doors:     doors,
		validity:  validity,
		logger:    logger,
		now:       time.Now,
		newCardNo: NewCardNumber,
	}
}

// Issue creates a new timed access card for holderID.
//
// Any leases the holder already has are revoked first, each door handled
// independently so one dead door cannot keep the others from dropping the
// old card.  The new ledger row is inserted before any remote create call:
// a sweep running in between must find the row, or it would classify the
// half-created card as an orphan and delete it.
//
// A zero ttl means the configured default validity.
func (s *GrantService) Issue(ctx context.Context, grantID, holderID, prefix string, ttl time.Duration) (types.Lease, error) {
	grantID = strings.TrimSpace(grantID)
	holderID = strings.TrimSpace(holderID)

	if grantID == "" {
		return types.Lease{}, ErrInvalidGrantID
	}
	if holderID == "" {
		return types.Lease{}, ErrInvalidHolderID
	}

	cardNo, err := s.newCardNo(prefix)
	if err != nil {
		return types.Lease{}, err
	}

	if err := s.revokeHolder(ctx, holderID); err != nil {
		return types.Lease{}, err
	}

	if ttl <= 0 {
		ttl = s.validity
	}
	now := s.now().UTC()
	lease := types.Lease{
		CardNo:    cardNo,
		GrantID:   grantID,
		HolderID:  holderID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.leases.Insert(ctx, lease); err != nil {
		if errors.Is(err, store.ErrDuplicateCardNo) {
			// A collision means the generator misbehaved; do not
			// quietly retry with the same inputs.
			return types.Lease{}, fmt.Errorf("card number collision for %s: %w", cardNo, err)
		}
		return types.Lease{}, fmt.Errorf("insert lease: %w", err)
	}

	results := door.FanOutErr(ctx, s.doors, func(ctx context.Context, d door.Client) error {
		return d.CreateCard(ctx, cardNo)
	})
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			s.logger.Printf("[issue] create card %q on door %q: %v", cardNo, r.Door.Name(), r.Err)
			if firstErr == nil {
				firstErr = r.Err
			}
		}
	}
	if firstErr != nil {
		// The ledger row stays: the card may exist on some doors, and
		// the sweep only ever removes unwanted cards.  The caller
		// heals this by issuing again.
		return types.Lease{}, fmt.Errorf("%w: %v", ErrCardCreation, firstErr)
	}

	s.logger.Printf("[issue] created card %q for holder %q (grant %s), expires %s",
		cardNo, holderID, grantID, lease.ExpiresAt.Format(time.RFC3339))
	return lease, nil
}

// revokeHolder retires every lease the holder currently has.  Per lease and
// per door, the remote delete and the ledger delete form an independent
// pair: the first door to finish retires the row, a door that fails leaves
// its remote copy behind as an orphan for the sweep.
func (s *GrantService) revokeHolder(ctx context.Context, holderID string) error {
	existing, err := s.leases.FindByHolder(ctx, holderID)
	if err != nil {
		return fmt.Errorf("find leases for %s: %w", holderID, err)
	}
	if len(existing) == 0 {
		return nil
	}

	s.logger.Printf("[issue] revoking %d card(s) held by %q before granting a new one", len(existing), holderID)

	for _, lease := range existing {
		cardNo := lease.CardNo
		door.FanOutErr(ctx, s.doors, func(ctx context.Context, d door.Client) error {
			if err := d.DeleteCard(ctx, cardNo); err != nil {
				s.logger.Printf("[issue] revoke card %q on door %q: %v", cardNo, d.Name(), err)
				return err
			}
			if err := s.leases.DeleteByCardNo(ctx, cardNo); err != nil {
				s.logger.Printf("[issue] drop ledger row %q: %v", cardNo, err)
				return err
			}
			return nil
		})
	}
	return nil
}
