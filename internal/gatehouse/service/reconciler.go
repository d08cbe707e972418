package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gatehouse/server/internal/door"
	"github.com/gatehouse/server/internal/gatehouse/store"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

// Reconciler drives remote door state toward the ledger.  Doors forget,
// restart, and fail mid-operation, so every sweep re-derives the corrective
// actions from scratch: fetch what each door believes, diff it against the
// ledger, delete what should not be there.  The sweep removes unwanted
// cards; it never creates wanted ones.
type Reconciler struct {
	leases   store.LeaseStore
	doors    []door.Client
	interval time.Duration
	lookback time.Duration
	logger   *log.Logger

	// now is a test seam; defaults to time.Now.
	now func() time.Time

	inFlight atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type ReconcilerConfig struct {
	// Interval between scheduled sweeps.  Defaults to 15s.
	Interval time.Duration

	// Lookback bounds the usage-log query; the doors do not guarantee
	// retention beyond a window anyway.  Defaults to 1h.
	Lookback time.Duration
}

func NewReconciler(leases store.LeaseStore, doors []door.Client, cfg ReconcilerConfig, logger *log.Logger) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Reconciler{
		leases:   leases,
		doors:    doors,
		interval: interval,
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep loop.  An immediate verbose sweep runs on
// startup to clear any backlog, then sweeps repeat on the configured
// interval.  The loop exits when ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go r.loop(ctx)

	r.logger.Printf("reconciler started (interval=%s, lookback=%s, doors=%d)",
		r.interval, r.lookback, len(r.doors))
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	r.trySweep(ctx, true)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.trySweep(ctx, false)
		}
	}
}

// trySweep runs a sweep unless one is already in flight, in which case the
// tick is skipped.  On-demand Sweep calls bypass this guard; every
// corrective action is idempotent, so overlap is safe, just wasteful.
func (r *Reconciler) trySweep(ctx context.Context, verbose bool) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.logger.Printf("[sweep] previous sweep still running, skipping tick")
		return
	}
	defer r.inFlight.Store(false)

	if err := r.sweep(ctx, verbose); err != nil {
		r.logger.Printf("[sweep] %v", err)
	}
}

// Sweep runs one reconciliation pass immediately.  Per-door and per-card
// failures are logged and skipped; the only error returned is failing to
// read the ledger, without which no observation can be classified.
func (r *Reconciler) Sweep(ctx context.Context) error {
	return r.sweep(ctx, false)
}

// doorReport is what one door contributed to the current round.
type doorReport struct {
	cards  []string
	usedAt map[string]struct{} // card numbers seen in the usage log
}

func (r *Reconciler) sweep(ctx context.Context, verbose bool) error {
	now := r.now().UTC()

	// Ledger snapshot first: a card observed remotely is judged against
	// the ledger as it stood before the fetches.
	leases, err := r.leases.All(ctx)
	if err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	byCard := make(map[string]types.Lease, len(leases))
	for _, l := range leases {
		byCard[l.CardNo] = l
	}

	since := now.Add(-r.lookback)

	reports := door.FanOut(ctx, r.doors, func(ctx context.Context, d door.Client) (doorReport, error) {
		cards, err := d.ListCards(ctx)
		if err != nil {
			// No trustworthy card list, nothing to reconcile on
			// this door this round.
			return doorReport{}, err
		}

		rep := doorReport{cards: cards, usedAt: make(map[string]struct{})}

		events, err := d.ListUsageEvents(ctx, since, now)
		if err != nil {
			// The card list is still good; we just cannot apply
			// used-card retirement on this door this round.
			r.logger.Printf("[sweep] usage log from door %q: %v", d.Name(), err)
			return rep, nil
		}
		for _, e := range events {
			rep.usedAt[e.CardNo] = struct{}{}
		}
		return rep, nil
	})

	for _, rep := range reports {
		if rep.Err != nil {
			r.logger.Printf("[sweep] door %q not reporting, skipped: %v", rep.Door.Name(), rep.Err)
		}
	}

	// Corrective actions fan out per door; within a door they run in
	// order, which matches how slowly the hardware applies them anyway.
	door.FanOutErr(ctx, r.doors, func(ctx context.Context, d door.Client) error {
		for _, rep := range reports {
			if rep.Door != d || rep.Err != nil {
				continue
			}
			r.reconcileDoor(ctx, d, rep.Value, byCard, now, verbose)
		}
		return nil
	})

	return nil
}

// reconcileDoor classifies every card the door reported and applies the
// correction.  Order matters: orphan, then expired, then used-here.  A card
// both expired and used gets the global expiry treatment.
func (r *Reconciler) reconcileDoor(ctx context.Context, d door.Client, rep doorReport, byCard map[string]types.Lease, now time.Time, verbose bool) {
	for _, cardNo := range rep.cards {
		lease, known := byCard[cardNo]

		switch {
		case !known:
			// No ledger row: leftover from a failed revocation,
			// manual provisioning, or other drift.
			r.logger.Printf("[sweep] unknown card %q found on door %q, deleting", cardNo, d.Name())
			if err := d.DeleteCard(ctx, cardNo); err != nil {
				r.logger.Printf("[sweep] delete orphan %q on door %q: %v", cardNo, d.Name(), err)
			}

		case lease.Expired(now):
			r.logger.Printf("[sweep] card %q on door %q has expired, deleting", cardNo, d.Name())
			if err := d.DeleteCard(ctx, cardNo); err != nil {
				r.logger.Printf("[sweep] delete expired %q on door %q: %v", cardNo, d.Name(), err)
			}
			// Ledger row goes after the remote delete was attempted.
			// Another door may already have retired it; the delete
			// is idempotent.
			if err := r.leases.DeleteByCardNo(ctx, cardNo); err != nil {
				r.logger.Printf("[sweep] drop ledger row %q: %v", cardNo, err)
			}

		case hasUse(rep, cardNo):
			// Used at this door: retire the card here only.  The
			// lease stays valid and the card stays on the other
			// doors, so one card admits one entry per gate.
			r.logger.Printf("[sweep] card %q already used at door %q, deleting there", cardNo, d.Name())
			if err := d.DeleteCard(ctx, cardNo); err != nil {
				r.logger.Printf("[sweep] delete used %q on door %q: %v", cardNo, d.Name(), err)
			}

		default:
			if verbose {
				r.logger.Printf("[sweep] grant %q on door %q is still active", lease.GrantID, d.Name())
			}
		}
	}
}

func hasUse(rep doorReport, cardNo string) bool {
	_, ok := rep.usedAt[cardNo]
	return ok
}
