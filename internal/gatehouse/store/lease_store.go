package store

import (
	"context"
	"errors"

	"github.com/gatehouse/server/internal/gatehouse/types"
)

// ErrDuplicateCardNo is returned by Insert when the card number already has
// a ledger row.  The generator's suffixes make this effectively impossible,
// so hitting it indicates a generation fault and is fatal to the issuance.
var ErrDuplicateCardNo = errors.New("card number already leased")

// LeaseStore is the durable ledger of active leases.  All mutations are
// point operations by primary key; DeleteByCardNo is idempotent because the
// grant path and the reconciliation sweep may both retire the same row.
type LeaseStore interface {
	Insert(ctx context.Context, l types.Lease) error
	FindByHolder(ctx context.Context, holderID string) ([]types.Lease, error)
	DeleteByCardNo(ctx context.Context, cardNo string) error
	All(ctx context.Context) ([]types.Lease, error)
}
