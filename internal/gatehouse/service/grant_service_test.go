package service_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/gatehouse/server/internal/door"
	"github.com/gatehouse/server/internal/gatehouse/service"
	"github.com/gatehouse/server/internal/gatehouse/store/memory"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestGrantService builds a GrantService over the in-memory ledger and
// the given doors, returning the ledger so tests can inspect it.
func newTestGrantService(doors ...door.Client) (*service.GrantService, *memory.LeaseStore) {
	leases := memory.NewLeaseStore()
	svc := service.NewGrantService(leases, doors, service.GrantConfig{Validity: time.Minute}, testLogger())
	return svc, leases
}

func TestIssue_ReplicatesToAllDoors(t *testing.T) {
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")
	svc, leases := newTestGrantService(d1, d2)

	lease, err := svc.Issue(context.Background(), "grant-1", "holder-1", "user", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !d1.Has(lease.CardNo) || !d2.Has(lease.CardNo) {
		t.Errorf("card %q not present on all doors", lease.CardNo)
	}
	if !leases.Has(lease.CardNo) {
		t.Errorf("card %q missing from ledger", lease.CardNo)
	}
	if !lease.ExpiresAt.After(lease.CreatedAt) {
		t.Errorf("expiry %v not after creation %v", lease.ExpiresAt, lease.CreatedAt)
	}
}

func TestIssue_OneActiveLeasePerHolder(t *testing.T) {
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")
	svc, leases := newTestGrantService(d1, d2)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "grant-1", "holder-1", "", 0)
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, err := svc.Issue(ctx, "grant-2", "holder-1", "", 0)
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	if d1.Has(first.CardNo) || d2.Has(first.CardNo) {
		t.Errorf("revoked card %q still on a door", first.CardNo)
	}
	if leases.Has(first.CardNo) {
		t.Errorf("revoked card %q still in ledger", first.CardNo)
	}
	if !d1.Has(second.CardNo) || !d2.Has(second.CardNo) {
		t.Errorf("new card %q not present on all doors", second.CardNo)
	}

	held, err := leases.FindByHolder(ctx, "holder-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(held) != 1 {
		t.Fatalf("holder has %d leases, want 1", len(held))
	}
}

func TestIssue_DistinctHoldersKeepTheirCards(t *testing.T) {
	d1 := door.NewMemoryDoor("door-1")
	svc, _ := newTestGrantService(d1)
	ctx := context.Background()

	a, err := svc.Issue(ctx, "grant-a", "holder-a", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Issue(ctx, "grant-b", "holder-b", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	if !d1.Has(a.CardNo) || !d1.Has(b.CardNo) {
		t.Error("each holder should keep an active card")
	}
}

// One door failing its delete must not keep the other doors from revoking,
// and the leftover remote copy must fall to the next sweep as an orphan.
func TestIssue_RevocationSurvivesSingleDoorFailure(t *testing.T) {
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")
	svc, leases := newTestGrantService(d1, d2)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "grant-1", "holder-1", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	d1.FailDelete(errors.New("device offline"))
	second, err := svc.Issue(ctx, "grant-2", "holder-1", "", 0)
	if err != nil {
		t.Fatalf("second Issue despite one dead door: %v", err)
	}

	if d2.Has(first.CardNo) {
		t.Error("healthy door should have dropped the old card")
	}
	if leases.Has(first.CardNo) {
		t.Error("old ledger row should be gone")
	}
	if !d1.Has(first.CardNo) {
		t.Fatal("expected the failed door to still hold the orphaned card")
	}

	// The sweep is the backstop for the orphan left on the failed door.
	d1.FailDelete(nil)
	rec := service.NewReconciler(leases, []door.Client{d1, d2}, service.ReconcilerConfig{}, testLogger())
	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if d1.Has(first.CardNo) {
		t.Error("sweep should have removed the orphaned card")
	}
	if !d1.Has(second.CardNo) || !d2.Has(second.CardNo) {
		t.Error("sweep must not touch the live card")
	}
}

func TestIssue_CreateFailureSurfacesAndKeepsLedgerRow(t *testing.T) {
	d1 := door.NewMemoryDoor("door-1")
	d2 := door.NewMemoryDoor("door-2")
	d2.FailCreate(errors.New("device offline"))
	svc, leases := newTestGrantService(d1, d2)

	_, err := svc.Issue(context.Background(), "grant-1", "holder-1", "", 0)
	if !errors.Is(err, service.ErrCardCreation) {
		t.Fatalf("got %v, want ErrCardCreation", err)
	}

	// The row stays for caller-driven re-issue; the sweep cannot create
	// the missing remote copies.
	held, findErr := leases.FindByHolder(context.Background(), "holder-1")
	if findErr != nil {
		t.Fatal(findErr)
	}
	if len(held) != 1 {
		t.Fatalf("ledger has %d rows for holder, want 1 (partial replication kept)", len(held))
	}
	if !d1.Has(held[0].CardNo) {
		t.Error("healthy door should hold the partially replicated card")
	}
}

// ledgerCheckingDoor fails CreateCard unless the ledger row already exists,
// pinning the insert-before-replicate ordering.
type ledgerCheckingDoor struct {
	*door.MemoryDoor
	leases *memory.LeaseStore
}

func (d *ledgerCheckingDoor) CreateCard(ctx context.Context, cardNo string) error {
	if !d.leases.Has(cardNo) {
		return errors.New("remote create before ledger insert")
	}
	return d.MemoryDoor.CreateCard(ctx, cardNo)
}

func TestIssue_LedgerInsertPrecedesRemoteCreate(t *testing.T) {
	leases := memory.NewLeaseStore()
	d := &ledgerCheckingDoor{MemoryDoor: door.NewMemoryDoor("door-1"), leases: leases}
	svc := service.NewGrantService(leases, []door.Client{d}, service.GrantConfig{Validity: time.Minute}, testLogger())

	if _, err := svc.Issue(context.Background(), "grant-1", "holder-1", "", 0); err != nil {
		t.Fatalf("Issue: %v", err)
	}
}

func TestIssue_Validation(t *testing.T) {
	d1 := door.NewMemoryDoor("door-1")
	svc, leases := newTestGrantService(d1)
	ctx := context.Background()

	cases := []struct {
		name    string
		grantID string
		holder  string
		prefix  string
		want    error
	}{
		{"missing grant id", "", "holder-1", "", service.ErrInvalidGrantID},
		{"missing holder", "grant-1", "", "", service.ErrInvalidHolderID},
		{"prefix too long", "grant-1", "holder-1", "abcdefghijk", service.ErrInvalidPrefix},
		{"prefix not alphabetic", "grant-1", "holder-1", "user1", service.ErrInvalidPrefix},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Issue(ctx, tc.grantID, tc.holder, tc.prefix, 0)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}

	all, err := leases.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("validation failures must not write the ledger, found %d rows", len(all))
	}
	if cards, _ := d1.ListCards(ctx); len(cards) != 0 {
		t.Errorf("validation failures must not touch doors, found %d cards", len(cards))
	}
}
