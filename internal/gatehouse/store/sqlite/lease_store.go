package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/gatehouse/server/internal/db"
	"github.com/gatehouse/server/internal/gatehouse/store"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

type LeaseStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLeaseStore(db *sql.DB, writer *dbpkg.Worker) *LeaseStore {
	return &LeaseStore{db: db, writer: writer}
}

func (s *LeaseStore) Insert(ctx context.Context, l types.Lease) error {
	cardNo := strings.TrimSpace(l.CardNo)
	if cardNo == "" {
		return fmt.Errorf("Insert: empty card number")
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Collision detection is explicit rather than relying on the
		// driver's constraint error text.
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT card_no FROM leases WHERE card_no = ?;`, cardNo,
		).Scan(&existing)
		if err == nil {
			return store.ErrDuplicateCardNo
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("Insert check %s: %w", cardNo, err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO leases(card_no, grant_id, holder_id, created_at_ms, expires_at_ms)
VALUES (?, ?, ?, ?, ?);
`,
			cardNo, l.GrantID, l.HolderID,
			l.CreatedAt.UTC().UnixMilli(), l.ExpiresAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Insert %s: %w", cardNo, err)
		}
		return nil
	})
}

func (s *LeaseStore) FindByHolder(ctx context.Context, holderID string) ([]types.Lease, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT card_no, grant_id, holder_id, created_at_ms, expires_at_ms
FROM leases WHERE holder_id = ?;
`, holderID)
	if err != nil {
		return nil, fmt.Errorf("FindByHolder %s: %w", holderID, err)
	}
	defer rows.Close()
	return scanLeases(rows)
}

// DeleteByCardNo removes the ledger row if present.  Deleting an absent row
// is a no-op, not an error.
func (s *LeaseStore) DeleteByCardNo(ctx context.Context, cardNo string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM leases WHERE card_no = ?;`, cardNo,
		); err != nil {
			return fmt.Errorf("DeleteByCardNo %s: %w", cardNo, err)
		}
		return nil
	})
}

func (s *LeaseStore) All(ctx context.Context) ([]types.Lease, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT card_no, grant_id, holder_id, created_at_ms, expires_at_ms
FROM leases;
`)
	if err != nil {
		return nil, fmt.Errorf("All: %w", err)
	}
	defer rows.Close()
	return scanLeases(rows)
}

func scanLeases(rows *sql.Rows) ([]types.Lease, error) {
	var out []types.Lease
	for rows.Next() {
		var l types.Lease
		var createdMs, expiresMs int64
		if err := rows.Scan(&l.CardNo, &l.GrantID, &l.HolderID, &createdMs, &expiresMs); err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		l.CreatedAt = time.UnixMilli(createdMs).UTC()
		l.ExpiresAt = time.UnixMilli(expiresMs).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}
