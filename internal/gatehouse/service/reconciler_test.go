package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatehouse/server/internal/door"
	"github.com/gatehouse/server/internal/gatehouse/service"
	"github.com/gatehouse/server/internal/gatehouse/store/memory"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

func newTestReconciler(leases *memory.LeaseStore, doors ...door.Client) *service.Reconciler {
	return service.NewReconciler(leases, doors, service.ReconcilerConfig{
		Interval: 10 * time.Millisecond,
		Lookback: time.Hour,
	}, testLogger())
}

func activeLease(cardNo, holder string) types.Lease {
	now := time.Now().UTC()
	return types.Lease{
		CardNo:    cardNo,
		GrantID:   "grant-" + cardNo,
		HolderID:  holder,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func expiredLease(cardNo, holder string) types.Lease {
	l := activeLease(cardNo, holder)
	l.CreatedAt = l.CreatedAt.Add(-2 * time.Hour)
	l.ExpiresAt = l.ExpiresAt.Add(-2 * time.Hour)
	return l
}

func TestSweep_RemovesOrphan(t *testing.T) {
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")
	d1.Plant("G-strayCard12345")

	rec := newTestReconciler(leases, d1)
	if err := rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has("G-strayCard12345") {
		t.Error("orphaned card should be deleted from the door")
	}
	if all, _ := leases.All(context.Background()); len(all) != 0 {
		t.Error("orphan handling must not mutate the ledger")
	}
}

func TestSweep_ExpiryConvergence(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")

	l := expiredLease("G-expired123456", "holder-1")
	if err := leases.Insert(ctx, l); err != nil {
		t.Fatal(err)
	}
	d1.Plant(l.CardNo)
	d2.Plant(l.CardNo)

	rec := newTestReconciler(leases, d1, d2)
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has(l.CardNo) || d2.Has(l.CardNo) {
		t.Error("expired card should be deleted from every door")
	}
	if leases.Has(l.CardNo) {
		t.Error("expired lease should be deleted from the ledger")
	}
}

func TestSweep_UsageIsPerDoor(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")

	l := activeLease("G-usedOnce1234567", "holder-1")
	if err := leases.Insert(ctx, l); err != nil {
		t.Fatal(err)
	}
	d1.Plant(l.CardNo)
	d2.Plant(l.CardNo)

	if !d1.Present(l.CardNo, time.Now()) {
		t.Fatal("Present should accept a planted card")
	}

	rec := newTestReconciler(leases, d1, d2)
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has(l.CardNo) {
		t.Error("used card should be retired from the door it was used at")
	}
	if !d2.Has(l.CardNo) {
		t.Error("used card must stay on the doors it was not used at")
	}
	if !leases.Has(l.CardNo) {
		t.Error("usage at one door must not retire the lease")
	}
}

// A card both expired and used gets the global expiry treatment: remote
// copies removed everywhere and the ledger row retired.
func TestSweep_ExpiryBeatsUsage(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")

	l := expiredLease("G-expiredUsed1234", "holder-1")
	if err := leases.Insert(ctx, l); err != nil {
		t.Fatal(err)
	}
	d1.Plant(l.CardNo)
	d1.Present(l.CardNo, time.Now())

	rec := newTestReconciler(leases, d1)
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has(l.CardNo) {
		t.Error("card should be deleted")
	}
	if leases.Has(l.CardNo) {
		t.Error("expiry takes precedence: ledger row should be gone")
	}
}

// A door that cannot report its card list is skipped for the round; its
// state is neither trusted nor touched, and convergence resumes once it
// reports again.
func TestSweep_SkipsUnreachableDoor(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")

	l := expiredLease("G-halfGone1234567", "holder-1")
	if err := leases.Insert(ctx, l); err != nil {
		t.Fatal(err)
	}
	d1.Plant(l.CardNo)
	d2.Plant(l.CardNo)
	d1.FailList(errors.New("device offline"))

	rec := newTestReconciler(leases, d1, d2)
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !d1.Has(l.CardNo) {
		t.Error("unreachable door must not be touched")
	}
	if d2.Has(l.CardNo) {
		t.Error("reachable door should converge")
	}
	// The reachable door already retired the ledger row, so the copy on
	// the failed door is now an orphan.
	if leases.Has(l.CardNo) {
		t.Error("ledger row should be gone once any door processed expiry")
	}

	d1.FailList(nil)
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if d1.Has(l.CardNo) {
		t.Error("recovered door should shed the orphan on the next sweep")
	}
}

// A failed usage-log query only disables used-card retirement for that door
// and that round; the card list is still reconciled.
func TestSweep_UsageLogFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")

	l := activeLease("G-stillActive1234", "holder-1")
	if err := leases.Insert(ctx, l); err != nil {
		t.Fatal(err)
	}
	d1.Plant(l.CardNo)
	d1.Plant("G-orphan987654321")
	d1.Present(l.CardNo, time.Now())
	d1.FailEvents(errors.New("log query failed"))

	rec := newTestReconciler(leases, d1)
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has("G-orphan987654321") {
		t.Error("orphan removal should still run when the usage log fails")
	}
	if !d1.Has(l.CardNo) {
		t.Error("used card must not be retired on a failed usage-log read")
	}
}

func TestSweep_UsageOutsideLookbackIgnored(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")

	l := activeLease("G-oldSwipe1234567", "holder-1")
	if err := leases.Insert(ctx, l); err != nil {
		t.Fatal(err)
	}
	d1.Plant(l.CardNo)
	d1.Present(l.CardNo, time.Now().Add(-2*time.Hour))

	rec := newTestReconciler(leases, d1) // 1h lookback
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !d1.Has(l.CardNo) {
		t.Error("a swipe outside the lookback window must not retire the card")
	}
}

func TestReconciler_LoopConverges(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")
	d1.Plant("G-strayCard12345")

	rec := newTestReconciler(leases, d1)
	rec.Start(ctx)
	defer rec.Stop()

	deadline := time.Now().Add(time.Second)
	for d1.Has("G-strayCard12345") {
		if time.Now().After(deadline) {
			t.Fatal("loop did not remove the orphan within a second")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// End to end: issue with a short validity, wait past it, sweep once.
func TestIssueThenExpiry_EndToEnd(t *testing.T) {
	ctx := context.Background()
	leases := memory.NewLeaseStore()
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")
	doors := []door.Client{d1, d2}

	svc := service.NewGrantService(leases, doors, service.GrantConfig{Validity: time.Minute}, testLogger())
	rec := service.NewReconciler(leases, doors, service.ReconcilerConfig{}, testLogger())

	lease, err := svc.Issue(ctx, "grant-1", "holder-1", "user", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !d1.Has(lease.CardNo) || !d2.Has(lease.CardNo) {
		t.Fatal("card should be on both doors immediately after issue")
	}

	time.Sleep(150 * time.Millisecond)

	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has(lease.CardNo) || d2.Has(lease.CardNo) {
		t.Error("expired card should be gone from both doors")
	}
	if leases.Has(lease.CardNo) {
		t.Error("expired lease should be gone from the ledger")
	}
}
